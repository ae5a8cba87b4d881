package connector

import (
	"context"

	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/metrics"
)

// Option 连接器选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
}

// WithLogger 设置 Logger，自动追加 "connector" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("connector")
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

func applyOptions(opts []Option) options {
	o := options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// 指标名称与标签
const (
	MetricConnects = "connector_connects_total"
	MetricHealthy  = "connector_healthy"

	LabelConnector = "connector"
	LabelKind      = "kind"
	LabelOutcome   = "outcome"
)

// instruments 各连接器共用的连接指标
type instruments struct {
	kind, name string
	connects   metrics.Counter
	healthy    metrics.Gauge
}

func newInstruments(meter metrics.Meter, kind, name string) (*instruments, error) {
	connects, err := meter.Counter(MetricConnects, "Connection attempts by outcome.")
	if err != nil {
		return nil, err
	}
	healthy, err := meter.Gauge(MetricHealthy, "1 when the last connect or health check succeeded.")
	if err != nil {
		return nil, err
	}
	return &instruments{kind: kind, name: name, connects: connects, healthy: healthy}, nil
}

func (i *instruments) connected(ctx context.Context, err error) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
	}
	i.connects.Inc(ctx,
		metrics.L(LabelKind, i.kind),
		metrics.L(LabelConnector, i.name),
		metrics.L(LabelOutcome, outcome))
	i.setHealthy(ctx, err == nil)
}

func (i *instruments) setHealthy(ctx context.Context, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	i.healthy.Set(ctx, v, metrics.L(LabelKind, i.kind), metrics.L(LabelConnector, i.name))
}
