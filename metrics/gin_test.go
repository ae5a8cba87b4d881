package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGinHTTPMiddlewareRouteLabel(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name        string
		method      string
		path        string
		wantRoute   string
		wantOutcome string
		wantClass   string
	}{
		{name: "route template", method: http.MethodGet, path: "/_mesh/services/user-service/instances",
			wantRoute: "/_mesh/services/:name/instances", wantOutcome: OutcomeSuccess, wantClass: "2xx"},
		{name: "gateway override", method: http.MethodPost, path: "/api/users/42",
			wantRoute: "/api/users/*", wantOutcome: OutcomeError, wantClass: "5xx"},
		{name: "unmatched", method: http.MethodGet, path: "/scan/0x41414141",
			wantRoute: UnknownRoute, wantOutcome: OutcomeError, wantClass: "4xx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meter, err := New(&Config{Enabled: true, ServiceName: "meshd"})
			require.NoError(t, err)
			defer func() { _ = meter.Shutdown(context.Background()) }()

			httpMetrics, err := NewHTTPServerMetrics(meter, "meshd")
			require.NoError(t, err)

			router := gin.New()
			router.Use(GinHTTPMiddleware(httpMetrics))
			router.GET("/_mesh/services/:name/instances", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"instances": []any{}})
			})
			router.NoRoute(func(c *gin.Context) {
				if c.Request.Method == http.MethodPost {
					c.Set(RouteKey, "/api/users/*")
					c.Status(http.StatusBadGateway)
					return
				}
				c.Status(http.StatusNotFound)
			})

			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))

			w := httptest.NewRecorder()
			meter.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			body := w.Body.String()
			assert.Contains(t, body, MetricHTTPRequestsTotal)
			assert.Contains(t, body, `route="`+tt.wantRoute+`"`)
			assert.Contains(t, body, `outcome="`+tt.wantOutcome+`"`)
			assert.Contains(t, body, `status_class="`+tt.wantClass+`"`)
			assert.NotContains(t, body, tt.path)
		})
	}
}

func TestGinHTTPMiddlewareNilMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(GinHTTPMiddleware(nil))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, "pong", w.Body.String())
}
