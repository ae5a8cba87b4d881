package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ceyewan/mesh/xerrors"
)

const (
	MetricHTTPRequestsTotal   = "mesh_http_requests_total"
	MetricHTTPDurationSeconds = "mesh_http_request_duration_seconds"
)

var defaultHTTPDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// HTTPServerMetrics 入口 HTTP 流量的 RED 指标。
// 管理接口和网关 catch-all 共用这一组指标，网关流量的 route 标签是路由规则路径。
type HTTPServerMetrics struct {
	service      string
	requestTotal Counter
	duration     Histogram
}

// NewHTTPServerMetrics 在 m 上注册请求计数与耗时直方图
func NewHTTPServerMetrics(m Meter, service string) (*HTTPServerMetrics, error) {
	if m == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "meter is nil")
	}

	service = strings.TrimSpace(service)
	if service == "" {
		service = "unknown"
	}

	counter, err := m.Counter(MetricHTTPRequestsTotal, "Total number of inbound HTTP requests.")
	if err != nil {
		return nil, xerrors.Wrap(err, "create http request counter")
	}
	duration, err := m.Histogram(MetricHTTPDurationSeconds, "Inbound HTTP request duration in seconds.",
		WithUnit("s"), WithBuckets(defaultHTTPDurationBuckets))
	if err != nil {
		return nil, xerrors.Wrap(err, "create http request duration histogram")
	}

	return &HTTPServerMetrics{
		service:      service,
		requestTotal: counter,
		duration:     duration,
	}, nil
}

// Observe 记录一次请求
func (m *HTTPServerMetrics) Observe(ctx context.Context, method string, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	if route = strings.TrimSpace(route); route == "" {
		route = UnknownRoute
	}

	labels := []Label{
		L(LabelService, m.service),
		L(LabelOperation, OperationHTTPServer),
		L(LabelMethod, method),
		L(LabelRoute, route),
		L(LabelStatusClass, HTTPStatusClass(status)),
		L(LabelOutcome, HTTPOutcome(status)),
	}
	m.requestTotal.Inc(ctx, labels...)
	m.duration.Record(ctx, duration.Seconds(), labels...)
}
