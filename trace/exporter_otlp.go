package trace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/mesh/xerrors"
)

// instrumentationName 导出 Span 的 instrumentation scope
const instrumentationName = "github.com/ceyewan/mesh/trace"

type otlpExporter struct {
	exporter sdktrace.SpanExporter
}

// NewOTLPExporter 把完成的 Trace 转换为 OpenTelemetry Span 交给 SpanExporter。
// 每个 Span 使用自己服务名对应的 Resource。Shutdown 会关闭传入的 SpanExporter。
func NewOTLPExporter(exporter sdktrace.SpanExporter) Exporter {
	return &otlpExporter{exporter: exporter}
}

// NewOTLPGRPCExporter 连接 OTLP gRPC collector（Tempo / Jaeger 等）
func NewOTLPGRPCExporter(ctx context.Context, cfg *OTLPConfig) (Exporter, error) {
	if cfg == nil {
		cfg = DefaultOTLPConfig()
	}
	if cfg.Endpoint == "" {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "otlp endpoint is required")
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.Timeout))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "create otlp exporter")
	}
	return NewOTLPExporter(exporter), nil
}

func (e *otlpExporter) Export(ctx context.Context, trace *CompletedTrace) error {
	spans, err := toReadOnlySpans(trace)
	if err != nil {
		return err
	}
	if err := e.exporter.ExportSpans(ctx, spans); err != nil {
		return xerrors.Wrapf(err, "export trace %s", trace.TraceID)
	}
	return nil
}

func (e *otlpExporter) Shutdown(ctx context.Context) error {
	return e.exporter.Shutdown(ctx)
}

// toReadOnlySpans 保留原 trace / span id 重放为 ReadOnlySpan。
// ReadOnlySpan 含未导出方法无法在包外实现，SpanStub.Snapshot 是 SDK 提供的公开构造方式。
func toReadOnlySpans(trace *CompletedTrace) ([]sdktrace.ReadOnlySpan, error) {
	traceID, err := oteltrace.TraceIDFromHex(trace.TraceID)
	if err != nil {
		return nil, xerrors.Wrapf(ErrInvalidSpan, "trace id %q", trace.TraceID)
	}

	resources := make(map[string]*resource.Resource)
	stubs := make(tracetest.SpanStubs, 0, len(trace.Spans))
	for _, s := range trace.Spans {
		spanID, err := oteltrace.SpanIDFromHex(s.SpanID)
		if err != nil {
			return nil, xerrors.Wrapf(ErrInvalidSpan, "span id %q", s.SpanID)
		}

		res, ok := resources[s.ServiceName]
		if !ok {
			res = resource.NewSchemaless(semconv.ServiceNameKey.String(s.ServiceName))
			resources[s.ServiceName] = res
		}

		stub := tracetest.SpanStub{
			Name: s.OperationName,
			SpanContext: oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
				TraceID:    traceID,
				SpanID:     spanID,
				TraceFlags: oteltrace.FlagsSampled,
			}),
			SpanKind:   oteltrace.SpanKindInternal,
			StartTime:  s.StartTime,
			EndTime:    s.EndTime,
			Attributes: toAttributes(s.Tags),
			Status:     sdktrace.Status{Code: codes.Ok},
			Resource:   res,
		}
		if parentID, err := oteltrace.SpanIDFromHex(s.ParentSpanID); err == nil {
			stub.Parent = oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
				TraceID:    traceID,
				SpanID:     parentID,
				TraceFlags: oteltrace.FlagsSampled,
			})
		} else {
			stub.SpanKind = oteltrace.SpanKindServer
		}
		if s.Status == StatusError {
			stub.Status = sdktrace.Status{Code: codes.Error, Description: s.Error}
		}
		for _, l := range s.Logs {
			stub.Events = append(stub.Events, sdktrace.Event{
				Name:       l.Message,
				Time:       l.Time,
				Attributes: toAttributes(l.Fields),
			})
		}
		stub.InstrumentationScope.Name = instrumentationName
		stubs = append(stubs, stub)
	}
	return stubs.Snapshots(), nil
}

func toAttributes(m map[string]string) []attribute.KeyValue {
	if len(m) == 0 {
		return nil
	}
	attrs := make([]attribute.KeyValue, 0, len(m))
	for k, v := range m {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}
