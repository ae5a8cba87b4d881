package trace

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/mesh/clog"
)

type spanContextKey struct{}

// ContextWithSpan 将 Span 放入 Context，同时写入 clog 的 trace 字段
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	if span == nil {
		return ctx
	}
	ctx = clog.ContextWithTrace(ctx, span.TraceID, span.SpanID)
	return context.WithValue(ctx, spanContextKey{}, span)
}

// SpanFromContext 读取 ContextWithSpan 写入的 Span
func SpanFromContext(ctx context.Context) (*Span, bool) {
	if ctx == nil {
		return nil, false
	}
	span, ok := ctx.Value(spanContextKey{}).(*Span)
	return span, ok
}

// HeaderCarrier 将 http.Header 转为小写键的 carrier，多值只取第一个
func HeaderCarrier(h http.Header) map[string]string {
	carrier := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			carrier[strings.ToLower(k)] = v[0]
		}
	}
	return carrier
}

// GinMiddleware 为每个请求创建 Span：
// 请求头带有上下文时加入上游 Trace；请求头中的传播字段被替换为新 Span，
// 经网关转发时下游成为它的子调用；响应头回写 x-trace-id 与 x-span-id；
// 5xx 或 handler 记录的错误会把 Span 标记为失败。
func GinMiddleware(tr Tracer, opts ...SpanOption) gin.HandlerFunc {
	return func(c *gin.Context) {
		operation := c.Request.Method + " " + c.Request.URL.Path
		spanOpts := append([]SpanOption{
			WithTag("http.method", c.Request.Method),
			WithTag("http.path", c.Request.URL.Path),
		}, opts...)
		if sc, ok := tr.Extract(FormatHTTPHeaders, HeaderCarrier(c.Request.Header)); ok {
			spanOpts = append(spanOpts, WithRemoteParent(*sc))
		}

		span := tr.StartSpan(operation, spanOpts...)
		c.Request = c.Request.WithContext(ContextWithSpan(c.Request.Context(), span))
		rewritePropagation(c.Request.Header, span)
		c.Header(HeaderTraceID, span.TraceID)
		c.Header(HeaderSpanID, span.SpanID)

		c.Next()

		status := c.Writer.Status()
		finishOpts := []SpanOption{WithTag("http.status_code", strconv.Itoa(status))}
		if route := c.FullPath(); route != "" {
			finishOpts = append(finishOpts, WithTag("http.route", route))
		}
		switch {
		case len(c.Errors) > 0:
			finishOpts = append(finishOpts, WithError(c.Errors.Last().Err))
		case status >= http.StatusInternalServerError:
			finishOpts = append(finishOpts, WithError(fmt.Errorf("http status %d", status)))
		}
		// Reset 之后 Span 可能已不存在
		_ = tr.FinishSpan(span.SpanID, finishOpts...)
	}
}

// rewritePropagation 用新 Span 覆盖请求头中的传播字段
func rewritePropagation(h http.Header, span *Span) {
	carrier := make(map[string]string, 4)
	if err := Inject(span.Context(), FormatHTTPHeaders, carrier); err != nil {
		return
	}
	h.Del(HeaderParentSpanID)
	for k, v := range carrier {
		h.Set(k, v)
	}
}
