package clog

import "io"

// ContextField 定义从 Context 中提取字段的规则
type ContextField struct {
	Key       any    // Context 中存储的键
	FieldName string // 日志中的字段名
}

// Option 函数式选项，用于配置 Logger 实例
type Option func(*options)

type options struct {
	namespaceParts        []string
	contextFields         []ContextField
	writer                io.Writer
	enableTraceExtraction bool
}

// WithNamespace 设置日志命名空间，多级命名空间以 "." 连接
//
//	clog.WithNamespace("mesh", "gateway") // namespace=mesh.gateway
func WithNamespace(parts ...string) Option {
	return func(o *options) {
		o.namespaceParts = append(o.namespaceParts, parts...)
	}
}

// WithContextField 添加自定义的 Context 字段提取规则
func WithContextField(key any, fieldName string) Option {
	return func(o *options) {
		o.contextFields = append(o.contextFields, ContextField{Key: key, FieldName: fieldName})
	}
}

// WithTraceContext 开启 trace_id / span_id 自动提取。
//
// 优先读取 ContextWithTrace 写入的值，其次读取 OpenTelemetry 的 SpanContext。
func WithTraceContext() Option {
	return func(o *options) {
		o.enableTraceExtraction = true
	}
}

// WithWriter 将日志写入指定 writer，覆盖 Config.Output。主要用于测试捕获输出。
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

func applyOptions(opts ...Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
