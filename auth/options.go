package auth

import (
	"time"

	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/metrics"
)

// Option 组件初始化选项函数
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
	clock  func() time.Time
}

// WithLogger 注入日志记录器，自动添加 "auth" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("auth")
		}
	}
}

// WithMeter 注入指标 Meter
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithClock 注入时间源，签发与过期校验共用
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}
