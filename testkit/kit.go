// Package testkit 提供测试共用的依赖：日志、指标、唯一 id，以及基于 testcontainers 的
// NATS / Redis / Kafka 连接。容器测试在 -short 或 Docker 不可用时跳过。
package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/metrics"
)

// Kit 包含通用的测试依赖
type Kit struct {
	Ctx    context.Context
	Logger clog.Logger
	Meter  metrics.Meter
}

// NewKit 返回一个包含默认依赖的测试工具包，Meter 在测试结束时关闭
func NewKit(t *testing.T) *Kit {
	t.Helper()
	meter := NewMeter()
	t.Cleanup(func() { _ = meter.Shutdown(context.Background()) })
	return &Kit{
		Ctx:    context.Background(),
		Logger: NewLogger(),
		Meter:  meter,
	}
}

// NewLogger 返回开发格式的 debug 级别 logger
func NewLogger() clog.Logger {
	logger, err := clog.New(clog.NewDevDefaultConfig("mesh"))
	if err != nil {
		return clog.Discard()
	}
	return logger
}

// NewMeter 返回启用但不监听端口的 meter，可通过 Handler() 抓取
func NewMeter() metrics.Meter {
	meter, err := metrics.New(&metrics.Config{Enabled: true, ServiceName: "test"})
	if err != nil {
		return metrics.Discard()
	}
	return meter
}

// NewContext 返回带超时的测试上下文，测试结束时取消
func NewContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// NewID 返回 8 位唯一 id，用于 subject、stream、topic 后缀
func NewID() string {
	return uuid.New().String()[0:8]
}
