package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
)

// RouteKey 是 gin.Context 中覆盖 route 标签的键。
//
// 网关 catch-all 请求没有 gin 路由模板，由网关写入命中的路由规则路径。
const RouteKey = "metrics.route"

// GinHTTPMiddleware 返回记录 HTTP RED 指标的 Gin 中间件，httpMetrics 为 nil 时直接放行
func GinHTTPMiddleware(httpMetrics *HTTPServerMetrics) gin.HandlerFunc {
	if httpMetrics == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		httpMetrics.Observe(c.Request.Context(), c.Request.Method, routeLabel(c), c.Writer.Status(), time.Since(start))
	}
}

// routeLabel 优先取 RouteKey，其次 gin 路由模板。
// 两者都没有时由 Observe 收敛为 UnknownRoute，原始 URL 不进入标签。
func routeLabel(c *gin.Context) string {
	if route := c.GetString(RouteKey); route != "" {
		return route
	}
	return c.FullPath()
}
