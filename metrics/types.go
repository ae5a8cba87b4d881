// Package metrics 为 mesh 提供统一的指标收集能力。
//
// 基于 OpenTelemetry metric SDK，通过 Prometheus exporter 暴露。每个 Meter 持有独立的
// prometheus.Registry，Handler 只输出本 Meter 的指标，测试之间互不干扰。
//
//	meter, _ := metrics.New(&metrics.Config{Enabled: true, ServiceName: "meshd", Addr: ":9090"})
//	defer meter.Shutdown(ctx)
//
//	probes, _ := meter.Counter("registry_probes_total", "Health probes executed.")
//	probes.Inc(ctx, metrics.L("service", "user-service"), metrics.L("outcome", "success"))
package metrics

import (
	"context"
	"net/http"
)

// Counter 计数器，只增不减
type Counter interface {
	Inc(ctx context.Context, labels ...Label)
	Add(ctx context.Context, val float64, labels ...Label)
}

// Gauge 仪表盘，记录可增减的瞬时值
type Gauge interface {
	Set(ctx context.Context, val float64, labels ...Label)
	Inc(ctx context.Context, labels ...Label)
	Dec(ctx context.Context, labels ...Label)
}

// Histogram 直方图，记录值的分布
type Histogram interface {
	Record(ctx context.Context, val float64, labels ...Label)
}

// Meter 指标创建工厂，创建的指标可并发使用
type Meter interface {
	Counter(name string, desc string, opts ...MetricOption) (Counter, error)
	Gauge(name string, desc string, opts ...MetricOption) (Gauge, error)
	Histogram(name string, desc string, opts ...MetricOption) (Histogram, error)

	// Handler 返回 Prometheus 文本格式的抓取处理器
	Handler() http.Handler

	// Shutdown 停止抓取服务并刷新指标
	Shutdown(ctx context.Context) error
}

// MetricOption 指标配置选项
type MetricOption func(*MetricOptions)

// MetricOptions 指标选项
type MetricOptions struct {
	Unit    string
	Buckets []float64
}

// WithUnit 设置指标单位，建议使用 UCUM 代码，例如 "s"、"By"
func WithUnit(unit string) MetricOption {
	return func(o *MetricOptions) {
		o.Unit = unit
	}
}

// WithBuckets 设置直方图桶边界，仅对 Histogram 生效
func WithBuckets(buckets []float64) MetricOption {
	return func(o *MetricOptions) {
		o.Buckets = append([]float64(nil), buckets...)
	}
}
