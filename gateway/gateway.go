// Package gateway 提供 API 网关：路由匹配、认证门禁、限流、服务发现、熔断保护与请求转发。
//
// 请求处理顺序：
//
//	路由解析（最长匹配，按方法过滤）  未命中 → 404 路由未找到
//	认证（免认证前缀除外）            失败   → 401 未授权访问
//	路由限流                          超限   → 429 请求过于频繁
//	服务发现                          无实例 → 503 服务不可用
//	熔断检查                          打开   → 503 服务熔断中（不发起调用）
//	转发                              网络错误或超时 → 502 网关错误，计一次熔断失败
//
// 上游返回任意 HTTP 状态码都视为转发成功，原样透传。
//
// 基本使用：
//
//	gw, _ := gateway.New(reg, &gateway.Config{DefaultTimeout: 10 * time.Second},
//		gateway.WithLogger(logger), gateway.WithMeter(meter), gateway.WithAuthenticator(authn))
//	_ = gw.AddRoute(gateway.Route{Path: "/api/users/*", ServiceName: "user-service", StripPath: true})
//
//	engine.NoRoute(gw.Handler())
package gateway

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"

	"github.com/ceyewan/mesh/breaker"
	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/metrics"
	"github.com/ceyewan/mesh/registry"
	"github.com/ceyewan/mesh/xerrors"
)

// ============================================================================
// 接口定义
// ============================================================================

// Gateway API 网关
type Gateway interface {
	// HandleRequest 处理一个请求，错误以 {error: <文案>} 响应体返回，不返回 Go error
	HandleRequest(ctx context.Context, req *Request) *Response

	// AddRoute 添加路由，同路径的路由被替换且熔断状态重置
	AddRoute(route Route) error

	// RemoveRoute 删除路由及其熔断器，路由不存在时返回 false
	RemoveRoute(path string) bool

	// Routes 返回当前路由表，按路径排序
	Routes() []Route

	// SetRoutes 整体替换路由表，规则未变化的路由保留限流与熔断状态
	SetRoutes(routes []Route) error

	// BreakerState 查询路由熔断状态，未配置熔断或不存在的路由返回 closed
	BreakerState(path string) breaker.State

	// Reset 清空路由表与所有熔断器
	Reset()

	// Handler 返回 gin 适配器，通常挂在 NoRoute 上
	Handler() gin.HandlerFunc
}

// Discovery 服务发现，registry.Registry 满足该接口
type Discovery interface {
	Discover(name string) (*registry.ServiceInstance, bool)
}

// Authenticator 认证门禁，返回非 nil 错误表示拒绝
type Authenticator interface {
	Authenticate(ctx context.Context, headers map[string]string) error
}

// AuthenticatorFunc 函数适配器
type AuthenticatorFunc func(ctx context.Context, headers map[string]string) error

func (f AuthenticatorFunc) Authenticate(ctx context.Context, headers map[string]string) error {
	return f(ctx, headers)
}

// Request 网关入站请求，Headers 的键为小写
type Request struct {
	Method  string
	Path    string
	Query   string // 原始查询串，不含 ?
	Headers map[string]string
	Body    any // string / []byte 原样转发，其它类型序列化为 JSON
}

// Response 网关响应。Body 为解析后的 JSON 值或原始文本。
type Response struct {
	Status  int               `json:"status"`
	Body    any               `json:"body"`
	Headers map[string]string `json:"headers"`
}

func errorResponse(status int, msg string) *Response {
	return &Response{
		Status:  status,
		Body:    map[string]any{"error": msg},
		Headers: map[string]string{"content-type": "application/json; charset=utf-8"},
	}
}

// ============================================================================
// 实现
// ============================================================================

type gateway struct {
	cfg       Config
	discovery Discovery
	authn     Authenticator
	breaker   breaker.Breaker
	client    *resty.Client
	logger    clog.Logger

	requests metrics.Counter
	upstream metrics.Histogram

	mu    sync.Mutex // 串行化路由表变更
	table atomic.Pointer[routeTable]
}

// New 创建网关
func New(discovery Discovery, cfg *Config, opts ...Option) (Gateway, error) {
	if discovery == nil {
		return nil, ErrDiscoveryRequired
	}
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	c.setDefaults()

	o := options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.breaker == nil {
		b, err := breaker.New(breaker.DefaultConfig(), breaker.WithLogger(o.logger), breaker.WithMeter(o.meter))
		if err != nil {
			return nil, err
		}
		o.breaker = b
	}
	if o.client == nil {
		o.client = newForwardClient()
	}

	g := &gateway{
		cfg:       c,
		discovery: discovery,
		authn:     o.authenticator,
		breaker:   o.breaker,
		client:    o.client,
		logger:    o.logger,
	}

	var err error
	if g.requests, err = o.meter.Counter(MetricRequestsTotal, "Requests handled by the gateway."); err != nil {
		return nil, err
	}
	if g.upstream, err = o.meter.Histogram(MetricUpstreamDuration, "Upstream forwarding latency.",
		metrics.WithUnit("s"),
		metrics.WithBuckets([]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30})); err != nil {
		return nil, err
	}

	g.table.Store(newRouteTable(nil, c.RouteCacheSize))
	if err := g.SetRoutes(c.Routes); err != nil {
		return nil, err
	}

	g.logger.Info("api gateway created",
		clog.Int("routes", len(c.Routes)),
		clog.Duration("default_timeout", c.DefaultTimeout),
		clog.Strings("auth_exempt_prefixes", c.AuthExemptPrefixes))
	return g, nil
}

func (g *gateway) HandleRequest(ctx context.Context, req *Request) *Response {
	resp, route := g.handle(ctx, req)
	g.requests.Inc(ctx,
		metrics.L(metrics.LabelRoute, route),
		metrics.L(metrics.LabelStatusClass, metrics.HTTPStatusClass(resp.Status)),
		metrics.L(metrics.LabelOutcome, metrics.HTTPOutcome(resp.Status)))
	return resp
}

// handle 返回响应与用于指标的路由标签
func (g *gateway) handle(ctx context.Context, req *Request) (*Response, string) {
	method := strings.ToUpper(req.Method)
	route := g.table.Load().resolve(method, req.Path)
	if route == nil {
		g.logger.DebugContext(ctx, "no route matched", clog.String("method", method), clog.String("path", req.Path))
		return errorResponse(404, MsgRouteNotFound), UnmatchedRoute
	}
	logger := g.logger.With(clog.String("route", route.Path), clog.String("service_name", route.ServiceName))

	if g.authn != nil && !g.exempt(req.Path) {
		if err := g.authn.Authenticate(ctx, req.Headers); err != nil {
			logger.InfoContext(ctx, "request rejected by authenticator", clog.String("path", req.Path), clog.Error(err))
			return errorResponse(401, MsgUnauthorized), route.Path
		}
	}

	if route.limiter != nil && !route.limiter.Allow() {
		logger.DebugContext(ctx, "request rate limited")
		return errorResponse(429, MsgTooManyRequests), route.Path
	}

	inst, ok := g.discovery.Discover(route.ServiceName)
	if !ok {
		logger.WarnContext(ctx, "no healthy instance for route")
		return errorResponse(503, MsgServiceUnavailable), route.Path
	}

	call := func() (any, error) {
		return g.forward(ctx, route, inst, req)
	}
	var (
		result any
		err    error
	)
	// 只有配置了熔断的路由才经过熔断器
	if route.CircuitBreaker == nil {
		result, err = call()
	} else {
		result, err = g.breaker.Execute(ctx, route.Path, call)
	}
	if xerrors.Is(err, breaker.ErrOpenState) {
		logger.WarnContext(ctx, "circuit open, request short-circuited")
		return errorResponse(503, MsgCircuitOpen), route.Path
	}
	if err != nil {
		logger.ErrorContext(ctx, "forward failed",
			clog.String("instance_id", inst.ID),
			clog.String("upstream", inst.Host),
			clog.Error(err))
		return errorResponse(502, MsgBadGateway), route.Path
	}
	return result.(*Response), route.Path
}

func (g *gateway) exempt(path string) bool {
	for _, prefix := range g.cfg.AuthExemptPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *gateway) timeout(route *compiledRoute) time.Duration {
	if route.Timeout > 0 {
		return route.Timeout
	}
	return g.cfg.DefaultTimeout
}

// ============================================================================
// 路由表管理
// ============================================================================

func (g *gateway) AddRoute(route Route) error {
	compiled, err := compileRoute(route)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	current := g.table.Load()
	routes := make([]*compiledRoute, 0, len(current.byPath)+1)
	for path, r := range current.byPath {
		if path != compiled.Path {
			routes = append(routes, r)
		}
	}
	routes = append(routes, compiled)

	if err := g.resetBreaker(compiled); err != nil {
		return err
	}
	g.table.Store(newRouteTable(routes, g.cfg.RouteCacheSize))

	g.logger.Info("route added",
		clog.String("route", compiled.Path),
		clog.String("service_name", compiled.ServiceName),
		clog.Bool("replaced", current.byPath[compiled.Path] != nil))
	return nil
}

func (g *gateway) RemoveRoute(path string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	current := g.table.Load()
	if _, ok := current.byPath[path]; !ok {
		return false
	}

	routes := make([]*compiledRoute, 0, len(current.byPath))
	for p, r := range current.byPath {
		if p != path {
			routes = append(routes, r)
		}
	}
	g.table.Store(newRouteTable(routes, g.cfg.RouteCacheSize))
	g.breaker.Remove(path)

	g.logger.Info("route removed", clog.String("route", path))
	return true
}

func (g *gateway) Routes() []Route {
	return g.table.Load().list()
}

func (g *gateway) SetRoutes(routes []Route) error {
	compiled := make([]*compiledRoute, 0, len(routes))
	seen := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		c, err := compileRoute(r)
		if err != nil {
			return err
		}
		if _, dup := seen[c.Path]; dup {
			return xerrors.Wrapf(ErrInvalidRoute, "duplicate route path %s", c.Path)
		}
		seen[c.Path] = struct{}{}
		compiled = append(compiled, c)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	current := g.table.Load()

	kept, changed := 0, 0
	for i, c := range compiled {
		if old, ok := current.byPath[c.Path]; ok && old.sameRule(c) {
			compiled[i] = old
			kept++
			continue
		}
		if err := g.resetBreaker(c); err != nil {
			return err
		}
		changed++
	}
	removed := 0
	for path := range current.byPath {
		if _, ok := seen[path]; !ok {
			g.breaker.Remove(path)
			removed++
		}
	}
	g.table.Store(newRouteTable(compiled, g.cfg.RouteCacheSize))

	if kept+changed+removed > 0 {
		g.logger.Info("route table replaced",
			clog.Int("kept", kept),
			clog.Int("changed", changed),
			clog.Int("removed", removed))
	}
	return nil
}

// resetBreaker 按路由配置重建熔断器，未配置时丢弃旧熔断器
func (g *gateway) resetBreaker(route *compiledRoute) error {
	if route.CircuitBreaker == nil {
		g.breaker.Remove(route.Path)
		return nil
	}
	return g.breaker.Configure(route.Path, route.CircuitBreaker)
}

func (g *gateway) BreakerState(path string) breaker.State {
	route, ok := g.table.Load().byPath[path]
	if !ok || route.CircuitBreaker == nil {
		return breaker.StateClosed
	}
	state, err := g.breaker.State(path)
	if err != nil {
		return breaker.StateClosed
	}
	return state
}

func (g *gateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.table.Store(newRouteTable(nil, g.cfg.RouteCacheSize))
	g.breaker.Reset()
	g.logger.Info("gateway reset")
}
