// Package breaker 提供按 key 隔离的熔断器，网关以路由路径作为 key 使用。
//
// 基于 sony/gobreaker 实现，状态机：
//
//	closed --连续失败 >= FailureThreshold--> open
//	open   --经过 ResetTimeout-->            half-open（只放行一个试探请求）
//	half-open --试探成功--> closed
//	half-open --试探失败--> open（重新计时）
//
// 基本使用：
//
//	brk, _ := breaker.New(&breaker.Config{FailureThreshold: 5, ResetTimeout: 30 * time.Second},
//		breaker.WithLogger(logger), breaker.WithMeter(meter))
//
//	brk.Configure("/api/orders/*", &breaker.Config{FailureThreshold: 1, ResetTimeout: time.Minute})
//	resp, err := brk.Execute(ctx, "/api/orders/*", func() (any, error) {
//		return client.Do(req)
//	})
//	if errors.Is(err, breaker.ErrOpenState) {
//		// 熔断中，未发起调用
//	}
package breaker

import (
	"context"
	"time"

	"github.com/ceyewan/mesh/clog"
)

// ========================================
// 接口定义
// ========================================

// Breaker 熔断器核心接口
type Breaker interface {
	// Execute 执行受熔断保护的函数。fn 返回非 nil 错误计为一次失败；
	// 熔断打开或半开试探名额已占用时直接返回 ErrOpenState，不调用 fn。
	Execute(ctx context.Context, key string, fn func() (any, error)) (any, error)

	// Configure 为 key 设置独立配置，已存在的熔断器被丢弃并按新配置重建
	Configure(key string, cfg *Config) error

	// Remove 丢弃 key 对应的熔断器及其配置
	Remove(key string)

	// State 获取指定键的熔断器状态，未创建过的 key 视为 closed
	State(key string) (State, error)

	// Reset 丢弃所有熔断器和按 key 配置
	Reset()
}

// State 熔断器状态
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ========================================
// 配置定义
// ========================================

// Config 熔断器配置
type Config struct {
	// FailureThreshold 连续失败多少次后打开（默认：5）
	FailureThreshold uint32 `json:"failure_threshold" yaml:"failure_threshold" mapstructure:"failure_threshold"`

	// ResetTimeout 打开状态持续时间，之后进入半开（默认：60s）
	ResetTimeout time.Duration `json:"reset_timeout" yaml:"reset_timeout" mapstructure:"reset_timeout"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{FailureThreshold: 5, ResetTimeout: 60 * time.Second}
}

func (c *Config) setDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
}

// ========================================
// 工厂函数
// ========================================

// New 创建熔断器实例，cfg 为未单独 Configure 的 key 提供默认配置
func New(cfg *Config, opts ...Option) (Breaker, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	c := *cfg
	c.setDefaults()

	opt := options{logger: clog.Discard()}
	for _, o := range opts {
		o(&opt)
	}

	return newBreaker(&c, opt)
}
