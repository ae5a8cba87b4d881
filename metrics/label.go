package metrics

// Label 指标标签
//
// 标签值应保持低基数：路由模板而不是原始 URL，服务名而不是实例 ID。
type Label struct {
	Key   string
	Value string
}

// L 便捷构造函数
//
//	counter.Inc(ctx, metrics.L("route", "/api/users/*"))
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}
