package registry

// 指标名称
const (
	MetricInstances    = "registry_instances"
	MetricProbesTotal  = "registry_probes_total"
	MetricExpiredTotal = "registry_expired_total"
)

// 指标标签
const (
	LabelService = "service"
	LabelStatus  = "status"
	LabelOutcome = "outcome"
)
