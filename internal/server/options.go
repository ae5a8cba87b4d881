package server

import (
	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/metrics"
)

// Option 服务选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
}

// WithLogger 设置 Logger，自动追加 "server" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("server")
		}
	}
}

// WithMeter 设置指标 Meter，用于 HTTP RED 指标
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}
