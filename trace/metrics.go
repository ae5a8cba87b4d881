package trace

// 指标名称
const (
	MetricSpansStarted   = "trace_spans_started_total"
	MetricTracesExported = "trace_traces_exported_total"
	MetricLiveTraces     = "trace_live_traces"
)

// 指标标签
const (
	LabelService = "service"
	LabelStatus  = "status"
	LabelOutcome = "outcome"
)
