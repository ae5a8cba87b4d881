package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/xerrors"
)

// ============================================================================
// 工厂函数
// ============================================================================

// New 创建 Meter 实例
func New(cfg *Config, opts ...Option) (Meter, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "metrics config is required")
	}
	if !cfg.Enabled {
		return Discard(), nil
	}
	cfg.setDefaults()

	o := &options{logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	res := resource.NewWithAttributes("",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.Version),
	)

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, xerrors.Wrap(err, "create prometheus exporter")
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)

	if cfg.EnableRuntime {
		if err := otelruntime.Start(otelruntime.WithMeterProvider(mp)); err != nil {
			return nil, xerrors.Wrap(err, "start runtime metrics")
		}
	}

	m := &meterImpl{
		meter:    mp.Meter("github.com/ceyewan/mesh"),
		provider: mp,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		logger:   o.logger,
	}

	if cfg.Addr != "" {
		if err := m.serve(cfg.Addr, cfg.Path); err != nil {
			_ = mp.Shutdown(context.Background())
			return nil, err
		}
	}
	return m, nil
}

// Must 类似 New，但出错时 panic，仅用于初始化阶段
func Must(cfg *Config, opts ...Option) Meter {
	return xerrors.Must(New(cfg, opts...))
}

// ============================================================================
// Meter 实现
// ============================================================================

type meterImpl struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
	handler  http.Handler
	logger   clog.Logger
	server   *http.Server
}

// serve 同步完成监听，端口冲突在 New 中直接返回
func (m *meterImpl) serve(addr, path string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return xerrors.Wrapf(err, "listen metrics addr %s", addr)
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.handler)
	m.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	m.logger.Info("prometheus metrics server started", clog.String("addr", ln.Addr().String()), clog.String("path", path))
	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("prometheus metrics server stopped", clog.Error(err))
		}
	}()
	return nil
}

func (m *meterImpl) Counter(name string, desc string, opts ...MetricOption) (Counter, error) {
	mo := applyMetricOptions(opts)
	otelOpts := []metric.Float64CounterOption{metric.WithDescription(desc)}
	if mo.Unit != "" {
		otelOpts = append(otelOpts, metric.WithUnit(mo.Unit))
	}
	c, err := m.meter.Float64Counter(name, otelOpts...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "create counter %s", name)
	}
	return &counterImpl{c: c}, nil
}

func (m *meterImpl) Gauge(name string, desc string, opts ...MetricOption) (Gauge, error) {
	mo := applyMetricOptions(opts)
	otelOpts := []metric.Float64GaugeOption{metric.WithDescription(desc)}
	if mo.Unit != "" {
		otelOpts = append(otelOpts, metric.WithUnit(mo.Unit))
	}
	g, err := m.meter.Float64Gauge(name, otelOpts...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "create gauge %s", name)
	}
	return &gaugeImpl{g: g, values: make(map[string]float64)}, nil
}

func (m *meterImpl) Histogram(name string, desc string, opts ...MetricOption) (Histogram, error) {
	mo := applyMetricOptions(opts)
	otelOpts := []metric.Float64HistogramOption{metric.WithDescription(desc)}
	if mo.Unit != "" {
		otelOpts = append(otelOpts, metric.WithUnit(mo.Unit))
	}
	if len(mo.Buckets) > 0 {
		otelOpts = append(otelOpts, metric.WithExplicitBucketBoundaries(mo.Buckets...))
	}
	h, err := m.meter.Float64Histogram(name, otelOpts...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "create histogram %s", name)
	}
	return &histogramImpl{h: h}, nil
}

func (m *meterImpl) Handler() http.Handler {
	return m.handler
}

func (m *meterImpl) Shutdown(ctx context.Context) error {
	var serverErr error
	if m.server != nil {
		serverErr = m.server.Shutdown(ctx)
	}
	return xerrors.Combine(serverErr, m.provider.Shutdown(ctx))
}

// ============================================================================
// Counter / Gauge / Histogram 实现
// ============================================================================

type counterImpl struct {
	c metric.Float64Counter
}

func (c *counterImpl) Inc(ctx context.Context, labels ...Label) {
	c.c.Add(ctx, 1, metric.WithAttributes(toAttributes(labels)...))
}

func (c *counterImpl) Add(ctx context.Context, val float64, labels ...Label) {
	if val < 0 {
		return
	}
	c.c.Add(ctx, val, metric.WithAttributes(toAttributes(labels)...))
}

// gaugeImpl 按标签组合记住当前值，支持 Inc / Dec
type gaugeImpl struct {
	g      metric.Float64Gauge
	mu     sync.Mutex
	values map[string]float64
}

func (g *gaugeImpl) Set(ctx context.Context, val float64, labels ...Label) {
	g.mu.Lock()
	g.values[labelKey(labels)] = val
	g.mu.Unlock()
	g.g.Record(ctx, val, metric.WithAttributes(toAttributes(labels)...))
}

func (g *gaugeImpl) Inc(ctx context.Context, labels ...Label) {
	g.adjust(ctx, 1, labels)
}

func (g *gaugeImpl) Dec(ctx context.Context, labels ...Label) {
	g.adjust(ctx, -1, labels)
}

func (g *gaugeImpl) adjust(ctx context.Context, delta float64, labels []Label) {
	key := labelKey(labels)
	g.mu.Lock()
	g.values[key] += delta
	val := g.values[key]
	g.mu.Unlock()
	g.g.Record(ctx, val, metric.WithAttributes(toAttributes(labels)...))
}

type histogramImpl struct {
	h metric.Float64Histogram
}

func (h *histogramImpl) Record(ctx context.Context, val float64, labels ...Label) {
	h.h.Record(ctx, val, metric.WithAttributes(toAttributes(labels)...))
}

// ============================================================================
// noop 实现
// ============================================================================

// Discard 返回一个所有操作都是空操作的 Meter
func Discard() Meter {
	return noopMeter{}
}

type noopMeter struct{}

func (noopMeter) Counter(string, string, ...MetricOption) (Counter, error) {
	return noopInstrument{}, nil
}

func (noopMeter) Gauge(string, string, ...MetricOption) (Gauge, error) {
	return noopInstrument{}, nil
}

func (noopMeter) Histogram(string, string, ...MetricOption) (Histogram, error) {
	return noopInstrument{}, nil
}

func (noopMeter) Handler() http.Handler {
	return http.NotFoundHandler()
}

func (noopMeter) Shutdown(context.Context) error { return nil }

type noopInstrument struct{}

func (noopInstrument) Inc(context.Context, ...Label)             {}
func (noopInstrument) Dec(context.Context, ...Label)             {}
func (noopInstrument) Add(context.Context, float64, ...Label)    {}
func (noopInstrument) Set(context.Context, float64, ...Label)    {}
func (noopInstrument) Record(context.Context, float64, ...Label) {}

// ============================================================================
// 辅助函数
// ============================================================================

func applyMetricOptions(opts []MetricOption) *MetricOptions {
	mo := &MetricOptions{}
	for _, o := range opts {
		o(mo)
	}
	return mo
}

func toAttributes(labels []Label) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	attrs := make([]attribute.KeyValue, len(labels))
	for i, l := range labels {
		attrs[i] = attribute.String(l.Key, l.Value)
	}
	return attrs
}

func labelKey(labels []Label) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = l.Key + "=" + l.Value
	}
	return strings.Join(parts, "|")
}
