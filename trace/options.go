package trace

import (
	"time"

	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/metrics"
)

// Option 组件初始化选项函数
type Option func(*options)

type options struct {
	logger   clog.Logger
	meter    metrics.Meter
	exporter Exporter
	clock    func() time.Time
}

// WithLogger 设置 Logger，自动追加 "trace" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("trace")
		}
	}
}

// WithMeter 设置指标 Meter
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithExporter 设置 Trace 完成后的导出目标，多个目标使用 NewMultiExporter
func WithExporter(e Exporter) Option {
	return func(o *options) {
		if e != nil {
			o.exporter = e
		}
	}
}

// WithClock 注入时间源
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// ============================================================================
// Span 选项
// ============================================================================

// SpanOption 创建和结束 Span 时的选项
type SpanOption func(*spanOptions)

type spanOptions struct {
	service      string
	tags         map[string]string
	logs         []LogRecord
	err          error
	remoteParent *SpanContext
}

func applySpanOptions(opts []SpanOption) *spanOptions {
	so := &spanOptions{}
	for _, opt := range opts {
		opt(so)
	}
	return so
}

// WithService 显式指定 Span 的服务标识，覆盖追踪器配置
func WithService(name string) SpanOption {
	return func(o *spanOptions) {
		o.service = name
	}
}

// WithTags 设置标签，结束 Span 时与已有标签合并
func WithTags(tags map[string]string) SpanOption {
	return func(o *spanOptions) {
		if o.tags == nil {
			o.tags = make(map[string]string, len(tags))
		}
		for k, v := range tags {
			o.tags[k] = v
		}
	}
}

// WithTag 设置单个标签
func WithTag(key, value string) SpanOption {
	return WithTags(map[string]string{key: value})
}

// WithLogs 追加日志记录
func WithLogs(logs ...LogRecord) SpanOption {
	return func(o *spanOptions) {
		o.logs = append(o.logs, logs...)
	}
}

// WithError 结束 Span 时标记为错误
func WithError(err error) SpanOption {
	return func(o *spanOptions) {
		o.err = err
	}
}

// WithRemoteParent 以提取到的远端上下文作为父 Span，新 Span 加入远端 Trace
func WithRemoteParent(sc SpanContext) SpanOption {
	return func(o *spanOptions) {
		o.remoteParent = &sc
	}
}
