package trace

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/mesh/xerrors"
)

// Format 传播格式
type Format string

const (
	// FormatHTTPHeaders 使用 x-trace-id / x-span-id / x-parent-span-id，同时写入 W3C traceparent
	FormatHTTPHeaders Format = "http_headers"
	// FormatTextMap 使用 traceId / spanId / parentSpanId
	FormatTextMap Format = "text_map"
)

// HTTP 头键，均为小写
const (
	HeaderTraceID      = "x-trace-id"
	HeaderSpanID       = "x-span-id"
	HeaderParentSpanID = "x-parent-span-id"
	HeaderTraceparent  = "traceparent"
)

// 文本键
const (
	KeyTraceID      = "traceId"
	KeySpanID       = "spanId"
	KeyParentSpanID = "parentSpanId"
)

var w3c = propagation.TraceContext{}

type formatKeys struct {
	trace, span, parent string
}

func keysFor(format Format) (formatKeys, bool) {
	switch format {
	case FormatHTTPHeaders:
		return formatKeys{HeaderTraceID, HeaderSpanID, HeaderParentSpanID}, true
	case FormatTextMap:
		return formatKeys{KeyTraceID, KeySpanID, KeyParentSpanID}, true
	}
	return formatKeys{}, false
}

func (t *tracer) Inject(span *Span, format Format, carrier map[string]string) error {
	if span == nil {
		return xerrors.Wrap(ErrInvalidSpan, "span is nil")
	}
	return Inject(span.Context(), format, carrier)
}

func (t *tracer) Extract(format Format, carrier map[string]string) (*SpanContext, bool) {
	return Extract(format, carrier)
}

// Inject 将上下文写入 carrier，没有父 Span 时不写 parent 键
func Inject(sc SpanContext, format Format, carrier map[string]string) error {
	keys, ok := keysFor(format)
	if !ok {
		return xerrors.Wrapf(ErrUnsupportedFormat, "format %q", format)
	}
	if !validID(sc.TraceID, 32) || !validID(sc.SpanID, 16) {
		return xerrors.Wrapf(ErrInvalidSpan, "trace %q span %q", sc.TraceID, sc.SpanID)
	}

	carrier[keys.trace] = sc.TraceID
	carrier[keys.span] = sc.SpanID
	if sc.ParentSpanID != "" {
		carrier[keys.parent] = sc.ParentSpanID
	} else {
		delete(carrier, keys.parent)
	}

	if format == FormatHTTPHeaders {
		if otelSC, ok := toOTel(sc); ok {
			w3c.Inject(oteltrace.ContextWithSpanContext(context.Background(), otelSC), propagation.MapCarrier(carrier))
		}
	}
	return nil
}

// Extract 从 carrier 读取上下文；HTTP 头格式优先使用 x- 键，缺失时回退到 traceparent
func Extract(format Format, carrier map[string]string) (*SpanContext, bool) {
	keys, ok := keysFor(format)
	if !ok || carrier == nil {
		return nil, false
	}

	sc := &SpanContext{
		TraceID:      carrier[keys.trace],
		SpanID:       carrier[keys.span],
		ParentSpanID: carrier[keys.parent],
	}
	if validID(sc.TraceID, 32) && validID(sc.SpanID, 16) {
		if sc.ParentSpanID != "" && !validID(sc.ParentSpanID, 16) {
			sc.ParentSpanID = ""
		}
		return sc, true
	}

	if format != FormatHTTPHeaders {
		return nil, false
	}
	remote := oteltrace.SpanContextFromContext(w3c.Extract(context.Background(), propagation.MapCarrier(carrier)))
	if !remote.IsValid() {
		return nil, false
	}
	return &SpanContext{TraceID: remote.TraceID().String(), SpanID: remote.SpanID().String()}, true
}

func toOTel(sc SpanContext) (oteltrace.SpanContext, bool) {
	traceID, err := oteltrace.TraceIDFromHex(sc.TraceID)
	if err != nil {
		return oteltrace.SpanContext{}, false
	}
	spanID, err := oteltrace.SpanIDFromHex(sc.SpanID)
	if err != nil {
		return oteltrace.SpanContext{}, false
	}
	return oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: oteltrace.FlagsSampled,
		Remote:     true,
	}), true
}
