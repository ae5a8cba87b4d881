package clog

import (
	"context"
	"log/slog"
	"strings"

	oteltrace "go.opentelemetry.io/otel/trace"
)

// NamespaceKey 是日志中命名空间的字段名
const NamespaceKey = "namespace"

type traceContextKey struct{}

type traceContext struct {
	traceID string
	spanID  string
}

// ContextWithTrace 把当前请求的 trace_id / span_id 放入 Context，
// 配合 WithTraceContext 使用。
func ContextWithTrace(ctx context.Context, traceID, spanID string) context.Context {
	return context.WithValue(ctx, traceContextKey{}, traceContext{traceID: traceID, spanID: spanID})
}

// TraceFromContext 读取 ContextWithTrace 写入的值
func TraceFromContext(ctx context.Context) (traceID, spanID string, ok bool) {
	if ctx == nil {
		return "", "", false
	}
	tc, ok := ctx.Value(traceContextKey{}).(traceContext)
	if !ok {
		return "", "", false
	}
	return tc.traceID, tc.spanID, true
}

func extractContextFields(ctx context.Context, o *options, attrs *[]slog.Attr) {
	if ctx == nil || o == nil {
		return
	}

	if o.enableTraceExtraction {
		if traceID, spanID, ok := TraceFromContext(ctx); ok {
			*attrs = append(*attrs, slog.String("trace_id", traceID), slog.String("span_id", spanID))
		} else if sc := oteltrace.SpanContextFromContext(ctx); sc.IsValid() {
			*attrs = append(*attrs,
				slog.String("trace_id", sc.TraceID().String()),
				slog.String("span_id", sc.SpanID().String()),
			)
		}
	}

	for _, cf := range o.contextFields {
		if val := ctx.Value(cf.Key); val != nil {
			*attrs = append(*attrs, slog.Any(cf.FieldName, val))
		}
	}
}

func addNamespaceFields(o *options, attrs *[]slog.Attr) {
	if o == nil || len(o.namespaceParts) == 0 {
		return
	}
	*attrs = append(*attrs, slog.String(NamespaceKey, strings.Join(o.namespaceParts, ".")))
}
