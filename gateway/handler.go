package gateway

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/metrics"
)

// 不回写给客户端的响应头，由 gin 重新计算
var skipResponseHeaders = map[string]struct{}{
	"content-length":    {},
	"transfer-encoding": {},
	"connection":        {},
}

// Handler 将 gin 请求转换为 Request，并写回 Response
func (g *gateway) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := &Request{
			Method:  c.Request.Method,
			Path:    c.Request.URL.Path,
			Query:   c.Request.URL.RawQuery,
			Headers: flattenHeader(c.Request.Header),
		}
		if c.Request.Host != "" {
			req.Headers["host"] = c.Request.Host
		}
		if c.Request.Body != nil {
			body, err := io.ReadAll(c.Request.Body)
			if err != nil {
				g.logger.WarnContext(c.Request.Context(), "read request body failed", clog.Error(err))
				writeResponse(c, errorResponse(http.StatusBadRequest, MsgBadRequest))
				return
			}
			if len(body) > 0 {
				req.Body = body
			}
		}

		resp, route := g.handle(c.Request.Context(), req)
		g.requests.Inc(c.Request.Context(),
			metrics.L(metrics.LabelRoute, route),
			metrics.L(metrics.LabelStatusClass, metrics.HTTPStatusClass(resp.Status)),
			metrics.L(metrics.LabelOutcome, metrics.HTTPOutcome(resp.Status)))
		c.Set(metrics.RouteKey, route)
		writeResponse(c, resp)
	}
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return out
}

func writeResponse(c *gin.Context, resp *Response) {
	contentType := ""
	for k, v := range resp.Headers {
		if _, skip := skipResponseHeaders[k]; skip {
			continue
		}
		if k == "content-type" {
			contentType = v
			continue
		}
		c.Header(k, v)
	}

	switch body := resp.Body.(type) {
	case nil:
		c.Status(resp.Status)
	case string:
		if contentType == "" {
			contentType = "text/plain; charset=utf-8"
		}
		c.Data(resp.Status, contentType, []byte(body))
	case []byte:
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Data(resp.Status, contentType, body)
	default:
		c.JSON(resp.Status, body)
	}
}
