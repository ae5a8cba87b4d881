package gateway

import (
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/maypok86/otter/v2"
	"golang.org/x/time/rate"

	"github.com/ceyewan/mesh/xerrors"
)

// compiledRoute 路由规则的运行时形式
type compiledRoute struct {
	Route
	prefix   string // 去掉 * 后的前缀，精确路由为完整路径
	wildcard bool
	methods  map[string]struct{}
	limiter  *rate.Limiter
}

func compileRoute(r Route) (*compiledRoute, error) {
	switch {
	case r.Path == "" || !strings.HasPrefix(r.Path, "/"):
		return nil, xerrors.Wrapf(ErrInvalidRoute, "path %q must start with /", r.Path)
	case strings.Contains(strings.TrimSuffix(r.Path, "*"), "*"):
		return nil, xerrors.Wrapf(ErrInvalidRoute, "path %q: * is only allowed at the end", r.Path)
	case r.ServiceName == "":
		return nil, xerrors.Wrapf(ErrInvalidRoute, "route %s: service_name is required", r.Path)
	case r.Timeout < 0:
		return nil, xerrors.Wrapf(ErrInvalidRoute, "route %s: negative timeout", r.Path)
	}

	c := &compiledRoute{Route: r}
	c.Route.Methods = nil
	c.prefix, c.wildcard = strings.CutSuffix(r.Path, "*")

	if len(r.Methods) > 0 {
		c.methods = make(map[string]struct{}, len(r.Methods))
		for _, m := range r.Methods {
			m = strings.ToUpper(strings.TrimSpace(m))
			if m == "" {
				continue
			}
			c.methods[m] = struct{}{}
			c.Route.Methods = append(c.Route.Methods, m)
		}
	}

	if r.CircuitBreaker != nil {
		cb := *r.CircuitBreaker
		c.Route.CircuitBreaker = &cb
	}

	if rl := r.RateLimit; rl != nil {
		if rl.RequestsPerSecond <= 0 || rl.Burst < 0 {
			return nil, xerrors.Wrapf(ErrInvalidRoute, "route %s: invalid rate limit", r.Path)
		}
		limit := *rl
		if limit.Burst == 0 {
			limit.Burst = int(math.Ceil(limit.RequestsPerSecond))
		}
		c.Route.RateLimit = &limit
		c.limiter = rate.NewLimiter(rate.Limit(limit.RequestsPerSecond), limit.Burst)
	}
	return c, nil
}

// clone 返回不与路由表共享指针字段的副本
func (c *compiledRoute) clone() Route {
	r := c.Route
	r.Methods = slices.Clone(c.Route.Methods)
	if c.CircuitBreaker != nil {
		cb := *c.CircuitBreaker
		r.CircuitBreaker = &cb
	}
	if c.RateLimit != nil {
		rl := *c.RateLimit
		r.RateLimit = &rl
	}
	return r
}

func (c *compiledRoute) allows(method string) bool {
	if c.methods == nil {
		return true
	}
	_, ok := c.methods[method]
	return ok
}

func (c *compiledRoute) matches(path string) bool {
	if !c.wildcard {
		return path == c.prefix
	}
	return strings.HasPrefix(path, c.prefix)
}

// upstreamPath 计算转发路径
func (c *compiledRoute) upstreamPath(path string) string {
	if !c.StripPath {
		return path
	}
	if !c.wildcard {
		return "/"
	}
	rest := strings.TrimPrefix(path, strings.TrimSuffix(c.prefix, "/"))
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return rest
}

// sameRule 规则完全一致时沿用原有的限流器与熔断状态
func (c *compiledRoute) sameRule(other *compiledRoute) bool {
	a, b := c.Route, other.Route
	return a.Path == b.Path &&
		a.ServiceName == b.ServiceName &&
		slices.Equal(a.Methods, b.Methods) &&
		a.StripPath == b.StripPath &&
		a.PreserveHost == b.PreserveHost &&
		a.Timeout == b.Timeout &&
		equalPtr(a.CircuitBreaker, b.CircuitBreaker) &&
		equalPtr(a.RateLimit, b.RateLimit)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ============================================================================
// 路由表
// ============================================================================

// resolution 缓存值，route 为 nil 表示未命中
type resolution struct {
	route *compiledRoute
}

// routeTable 不可变路由表，每次变更整体替换，解析缓存随表一起丢弃
type routeTable struct {
	routes []*compiledRoute // 按匹配优先级排序
	byPath map[string]*compiledRoute
	cache  *otter.Cache[string, resolution]
}

func newRouteTable(routes []*compiledRoute, cacheSize int) *routeTable {
	sorted := slices.Clone(routes)
	// 前缀越长越优先，长度相同时精确路由优先
	sort.SliceStable(sorted, func(i, j int) bool {
		if len(sorted[i].prefix) != len(sorted[j].prefix) {
			return len(sorted[i].prefix) > len(sorted[j].prefix)
		}
		return !sorted[i].wildcard && sorted[j].wildcard
	})

	byPath := make(map[string]*compiledRoute, len(routes))
	for _, r := range routes {
		byPath[r.Path] = r
	}

	return &routeTable{
		routes: sorted,
		byPath: byPath,
		cache:  otter.Must(&otter.Options[string, resolution]{MaximumSize: cacheSize}),
	}
}

// resolve 返回最长匹配且允许该方法的路由
func (t *routeTable) resolve(method, path string) *compiledRoute {
	key := method + " " + path
	if res, ok := t.cache.GetIfPresent(key); ok {
		return res.route
	}

	var found *compiledRoute
	for _, r := range t.routes {
		if r.allows(method) && r.matches(path) {
			found = r
			break
		}
	}
	t.cache.Set(key, resolution{route: found})
	return found
}

// list 按注册路径排序返回路由规则副本
func (t *routeTable) list() []Route {
	out := make([]Route, 0, len(t.byPath))
	for _, r := range t.byPath {
		out = append(out, r.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (t *routeTable) compiled() []*compiledRoute {
	out := make([]*compiledRoute, 0, len(t.byPath))
	for _, r := range t.byPath {
		out = append(out, r)
	}
	return out
}
