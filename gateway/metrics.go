package gateway

// 指标名称
const (
	MetricRequestsTotal    = "gateway_requests_total"
	MetricUpstreamDuration = "gateway_upstream_duration_seconds"
)

// UnmatchedRoute 未命中路由时的 route 标签值
const UnmatchedRoute = "unmatched"
