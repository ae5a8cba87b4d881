package registry

import (
	"math/rand/v2"
	"time"

	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/metrics"
)

// Option 组件初始化选项函数
type Option func(*options)

// options 选项结构
type options struct {
	logger clog.Logger
	meter  metrics.Meter
	prober Prober
	clock  func() time.Time
	source rand.Source
}

// WithLogger 注入日志记录器
// 组件内部会自动追加 "registry" namespace
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("registry")
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

// WithProber 替换默认的 HTTP / gRPC 健康探测器
func WithProber(p Prober) Option {
	return func(o *options) {
		if p != nil {
			o.prober = p
		}
	}
}

// WithClock 注入时间源，测试中用于推进心跳与过期判断
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithRand 注入随机源，影响 weighted 与 random 策略
func WithRand(src rand.Source) Option {
	return func(o *options) {
		if src != nil {
			o.source = src
		}
	}
}
