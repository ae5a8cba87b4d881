package trace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/mesh/clog"
)

func newTracedEngine(t *testing.T) (*gin.Engine, Tracer, *recordingExporter) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tr, exp := newTestTracer(t)

	r := gin.New()
	r.Use(GinMiddleware(tr))
	r.GET("/users/:id", func(c *gin.Context) {
		span, ok := SpanFromContext(c.Request.Context())
		if !ok {
			c.Status(http.StatusTeapot)
			return
		}
		traceID, spanID, _ := clog.TraceFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"span_id":     span.SpanID,
			"log_trace":   traceID,
			"log_span":    spanID,
			"fwd_span":    c.GetHeader(HeaderSpanID),
			"fwd_parent":  c.GetHeader(HeaderParentSpanID),
			"traceparent": c.GetHeader(HeaderTraceparent),
		})
	})
	r.GET("/boom", func(c *gin.Context) {
		c.Status(http.StatusBadGateway)
	})
	return r, tr, exp
}

func TestGinMiddlewareStartsTrace(t *testing.T) {
	r, _, exp := newTracedEngine(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/7", nil))
	require.Equal(t, http.StatusOK, w.Code)

	traces := exp.exported()
	require.Len(t, traces, 1)
	span := traces[0].Spans[0]
	assert.Equal(t, "GET /users/7", span.OperationName)
	assert.Equal(t, "200", span.Tags["http.status_code"])
	assert.Equal(t, "/users/:id", span.Tags["http.route"])
	assert.Equal(t, StatusOK, span.Status)

	assert.Equal(t, span.TraceID, w.Header().Get(HeaderTraceID))
	assert.Equal(t, span.SpanID, w.Header().Get(HeaderSpanID))
	assert.Contains(t, w.Body.String(), span.TraceID, "clog 应能读取 trace 字段")
}

func TestGinMiddlewareJoinsUpstream(t *testing.T) {
	r, _, exp := newTracedEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/users/7", nil)
	req.Header.Set("X-Trace-Id", "4bf92f3577b34da6a3ce929d0e0e4736")
	req.Header.Set("X-Span-Id", "00f067aa0ba902b7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	traces := exp.exported()
	require.Len(t, traces, 1)
	span := traces[0].Spans[0]
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", traces[0].TraceID)
	assert.Equal(t, "00f067aa0ba902b7", span.ParentSpanID)

	// 下游看到的是本地 Span
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, span.SpanID, body["fwd_span"])
	assert.Equal(t, "00f067aa0ba902b7", body["fwd_parent"])
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-"+span.SpanID+"-01", body["traceparent"])
}

func TestGinMiddlewareMarksServerErrors(t *testing.T) {
	r, _, exp := newTracedEngine(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	traces := exp.exported()
	require.Len(t, traces, 1)
	assert.Equal(t, StatusError, traces[0].Status)
	assert.Equal(t, "http status 502", traces[0].Spans[0].Error)
}

func TestSpanContextHelpers(t *testing.T) {
	_, ok := SpanFromContext(context.Background())
	assert.False(t, ok)
	assert.Equal(t, context.Background(), ContextWithSpan(context.Background(), nil))

	carrier := HeaderCarrier(http.Header{"X-Trace-Id": {"a", "b"}, "Empty": {}})
	assert.Equal(t, map[string]string{"x-trace-id": "a"}, carrier)
}
