package gateway

import (
	"github.com/go-resty/resty/v2"

	"github.com/ceyewan/mesh/breaker"
	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/metrics"
)

// Option 组件初始化选项函数
type Option func(*options)

type options struct {
	logger        clog.Logger
	meter         metrics.Meter
	authenticator Authenticator
	breaker       breaker.Breaker
	client        *resty.Client
}

// WithLogger 设置 Logger，自动追加 "gateway" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("gateway")
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

// WithAuthenticator 设置认证，未设置时所有请求直接放行
func WithAuthenticator(a Authenticator) Option {
	return func(o *options) {
		o.authenticator = a
	}
}

// WithBreaker 使用外部创建的熔断器，未设置时按默认配置创建
func WithBreaker(b breaker.Breaker) Option {
	return func(o *options) {
		if b != nil {
			o.breaker = b
		}
	}
}

// WithHTTPClient 替换转发使用的 resty 客户端
func WithHTTPClient(c *resty.Client) Option {
	return func(o *options) {
		if c != nil {
			o.client = c
		}
	}
}
