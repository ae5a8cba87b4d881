package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ceyewan/mesh/metrics"
	"github.com/ceyewan/mesh/registry"
	"github.com/ceyewan/mesh/xerrors"
)

// hopHeaders 不透传的请求头，host 另行处理
var hopHeaders = map[string]struct{}{
	"connection":        {},
	"content-length":    {},
	"keep-alive":        {},
	"transfer-encoding": {},
	"upgrade":           {},
	"te":                {},
}

// newForwardClient 转发客户端：不重试，不跟随重定向，GET 也透传请求体，Host 头写回 http.Request.Host
func newForwardClient() *resty.Client {
	return resty.New().
		SetRetryCount(0).
		SetAllowGetMethodPayload(true).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		})).
		SetPreRequestHook(func(_ *resty.Client, r *http.Request) error {
			if host := r.Header.Get("Host"); host != "" {
				r.Host = host
				r.Header.Del("Host")
			}
			return nil
		})
}

// forward 只有网络错误或超时返回 error，上游的任何 HTTP 状态都是成功
func (g *gateway) forward(ctx context.Context, route *compiledRoute, inst *registry.ServiceInstance, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout(route))
	defer cancel()

	r := g.client.R().SetContext(ctx)
	for k, v := range req.Headers {
		k = strings.ToLower(k)
		if _, hop := hopHeaders[k]; hop {
			continue
		}
		if k == "host" && !route.PreserveHost {
			continue
		}
		r.SetHeader(k, v)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	target := upstreamURL(inst, route.upstreamPath(req.Path), req.Query)
	start := time.Now()
	resp, err := r.Execute(strings.ToUpper(req.Method), target)
	g.upstream.Record(ctx, time.Since(start).Seconds(), metrics.L(metrics.LabelRoute, route.Path))
	if err != nil {
		return nil, xerrors.Wrapf(err, "%s %s", req.Method, target)
	}
	return translateResponse(resp), nil
}

func upstreamURL(inst *registry.ServiceInstance, path, query string) string {
	scheme := "http"
	if inst.Protocol == "https" {
		scheme = "https"
	}
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(net.JoinHostPort(inst.Host, strconv.Itoa(inst.Port)))
	b.WriteString(path)
	if query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}
	return b.String()
}

// translateResponse JSON 响应解析为结构化值，解析失败退回原始文本
func translateResponse(resp *resty.Response) *Response {
	headers := make(map[string]string, len(resp.Header()))
	for k, v := range resp.Header() {
		headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}

	raw := resp.Body()
	var body any = string(raw)
	if strings.Contains(strings.ToLower(headers["content-type"]), "json") && len(raw) > 0 {
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err == nil {
			body = parsed
		}
	}
	return &Response{Status: resp.StatusCode(), Body: body, Headers: headers}
}
