package breaker

import (
	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/metrics"
)

// Option 组件初始化选项函数
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
}

// WithLogger 设置 Logger，自动追加 "breaker" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("breaker")
		}
	}
}

// WithMeter 设置指标 Meter，记录状态变更与拒绝次数
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		o.meter = meter
	}
}
