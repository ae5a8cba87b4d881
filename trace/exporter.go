package trace

import (
	"context"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/xerrors"
)

// Exporter 接收已完成的 Trace。
//
// Export 在 FinishSpan 的调用方 goroutine 中同步执行，受 Config.ExportTimeout 约束；
// 返回错误只会被记录，Trace 仍然会被移除。
type Exporter interface {
	Export(ctx context.Context, trace *CompletedTrace) error
	Shutdown(ctx context.Context) error
}

type discardExporter struct{}

func (discardExporter) Export(context.Context, *CompletedTrace) error { return nil }
func (discardExporter) Shutdown(context.Context) error                { return nil }

// ============================================================================
// 组合导出
// ============================================================================

type multiExporter []Exporter

// NewMultiExporter 依次导出到所有目标，任一失败不影响其他目标
func NewMultiExporter(exporters ...Exporter) Exporter {
	var m multiExporter
	for _, e := range exporters {
		if e != nil {
			m = append(m, e)
		}
	}
	return m
}

func (m multiExporter) Export(ctx context.Context, trace *CompletedTrace) error {
	errs := make([]error, 0, len(m))
	for _, e := range m {
		errs = append(errs, e.Export(ctx, trace))
	}
	return xerrors.Combine(errs...)
}

func (m multiExporter) Shutdown(ctx context.Context) error {
	errs := make([]error, 0, len(m))
	for _, e := range m {
		errs = append(errs, e.Shutdown(ctx))
	}
	return xerrors.Combine(errs...)
}

// ============================================================================
// 日志导出
// ============================================================================

type logExporter struct {
	logger clog.Logger
}

// NewLogExporter 每条完成的 Trace 输出一行摘要日志
func NewLogExporter(logger clog.Logger) Exporter {
	if logger == nil {
		logger = clog.Discard()
	}
	return &logExporter{logger: logger.WithNamespace("export")}
}

func (e *logExporter) Export(ctx context.Context, trace *CompletedTrace) error {
	fields := []clog.Field{
		clog.String("trace_id", trace.TraceID),
		clog.String("status", string(trace.Status)),
		clog.Int("spans", len(trace.Spans)),
		clog.Duration("duration", trace.Duration),
		clog.Strings("services", buildServiceMap(trace.Spans).names()),
	}
	if root := trace.Root(); root != nil {
		fields = append(fields, clog.String("operation", root.OperationName))
	}
	if trace.Status == StatusError {
		e.logger.WarnContext(ctx, "trace completed", fields...)
		return nil
	}
	e.logger.InfoContext(ctx, "trace completed", fields...)
	return nil
}

func (e *logExporter) Shutdown(context.Context) error { return nil }

// ============================================================================
// 编码
// ============================================================================

// EncodeTrace 使用 msgpack 编码，NATS / Redis / Kafka 导出共用
func EncodeTrace(trace *CompletedTrace) ([]byte, error) {
	data, err := msgpack.Marshal(trace)
	if err != nil {
		return nil, xerrors.Wrapf(err, "encode trace %s", trace.TraceID)
	}
	return data, nil
}

// DecodeTrace EncodeTrace 的逆操作，供消费端使用
func DecodeTrace(data []byte) (*CompletedTrace, error) {
	var trace CompletedTrace
	if err := msgpack.Unmarshal(data, &trace); err != nil {
		return nil, xerrors.Wrap(err, "decode trace")
	}
	// 旧格式省略空 tags，统一还原为空 map
	for _, span := range trace.Spans {
		if span != nil && span.Tags == nil {
			span.Tags = map[string]string{}
		}
	}
	return &trace, nil
}
