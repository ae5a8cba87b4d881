package breaker

const (
	// MetricStateChanges 状态变更次数 (Counter)
	MetricStateChanges = "breaker_state_changes_total"

	// MetricRejectsTotal 熔断拒绝的请求数 (Counter)
	MetricRejectsTotal = "breaker_rejects_total"

	LabelKey       = "key"
	LabelFromState = "from_state"
	LabelToState   = "to_state"
)
