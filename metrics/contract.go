package metrics

import "strconv"

// 常见的标签
const (
	LabelService     = "service"
	LabelOperation   = "operation"
	LabelMethod      = "method"
	LabelRoute       = "route"
	LabelStatusClass = "status_class"
	LabelOutcome     = "outcome"
)

const OperationHTTPServer = "http.server"

// 常见的结果
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// UnknownRoute 未命中路由时的统一标签值
const UnknownRoute = "unknown"

// HTTPStatusClass 返回 HTTP 状态类标签值：1xx/2xx/3xx/4xx/5xx/unknown
func HTTPStatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// HTTPOutcome 将 HTTP 状态码映射到结果
func HTTPOutcome(status int) string {
	if status >= 200 && status < 400 {
		return OutcomeSuccess
	}
	return OutcomeError
}
