package bootstrap

import (
	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/trace"
)

// Option App 选项
type Option func(*options)

type options struct {
	logger    clog.Logger
	exporters []trace.Exporter
}

// WithLogger 使用外部 Logger，忽略配置中的 log 段
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithExporter 追加 Trace 导出器，与配置中的导出目标同时生效
func WithExporter(e trace.Exporter) Option {
	return func(o *options) {
		if e != nil {
			o.exporters = append(o.exporters, e)
		}
	}
}
