package auth

// 指标名称
const (
	// MetricTokensGenerated Token 签发计数
	MetricTokensGenerated = "auth_tokens_generated_total"

	// MetricTokensValidated Token 验证计数，标签: status, error_type
	MetricTokensValidated = "auth_tokens_validated_total"
)

// 指标标签
const (
	LabelStatus    = "status"
	LabelErrorType = "error_type"
)
