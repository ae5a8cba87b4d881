package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/mesh/breaker"
)

func mustCompile(t *testing.T, r Route) *compiledRoute {
	t.Helper()
	c, err := compileRoute(r)
	require.NoError(t, err)
	return c
}

func TestCompileRouteValidation(t *testing.T) {
	tests := []struct {
		name  string
		route Route
	}{
		{name: "empty path", route: Route{ServiceName: "s"}},
		{name: "relative path", route: Route{Path: "api/*", ServiceName: "s"}},
		{name: "inner wildcard", route: Route{Path: "/api/*/users", ServiceName: "s"}},
		{name: "missing service", route: Route{Path: "/api/*"}},
		{name: "negative timeout", route: Route{Path: "/api/*", ServiceName: "s", Timeout: -time.Second}},
		{name: "bad rate limit", route: Route{Path: "/api/*", ServiceName: "s", RateLimit: &RateLimit{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileRoute(tt.route)
			assert.ErrorIs(t, err, ErrInvalidRoute)
		})
	}
}

func TestCompileRouteNormalizes(t *testing.T) {
	c := mustCompile(t, Route{
		Path:        "/api/*",
		ServiceName: "s",
		Methods:     []string{"get", " Post "},
		RateLimit:   &RateLimit{RequestsPerSecond: 2.5},
	})
	assert.Equal(t, []string{"GET", "POST"}, c.Methods)
	assert.True(t, c.allows("POST"))
	assert.False(t, c.allows("DELETE"))
	assert.Equal(t, 3, c.RateLimit.Burst, "burst 默认取速率向上取整")
	assert.NotNil(t, c.limiter)
}

func TestRouteMatching(t *testing.T) {
	prefix := mustCompile(t, Route{Path: "/api/users/*", ServiceName: "s"})
	assert.True(t, prefix.matches("/api/users/42"))
	assert.True(t, prefix.matches("/api/users/"))
	assert.False(t, prefix.matches("/api/users"))
	assert.False(t, prefix.matches("/api/usersx"))
	assert.False(t, prefix.matches("/api/orders"))

	exact := mustCompile(t, Route{Path: "/healthz", ServiceName: "s"})
	assert.True(t, exact.matches("/healthz"))
	assert.False(t, exact.matches("/healthz/live"))

	root := mustCompile(t, Route{Path: "/*", ServiceName: "s"})
	assert.True(t, root.matches("/anything/at/all"))
}

func TestUpstreamPath(t *testing.T) {
	tests := []struct {
		route Route
		in    string
		want  string
	}{
		{Route{Path: "/api/users/*", StripPath: true}, "/api/users/42", "/42"},
		{Route{Path: "/api/users/*", StripPath: true}, "/api/users/", "/"},
		{Route{Path: "/api/users/*", StripPath: false}, "/api/users/42", "/api/users/42"},
		{Route{Path: "/api*", StripPath: true}, "/apiv2/x", "/v2/x"},
		{Route{Path: "/login", StripPath: true}, "/login", "/"},
	}
	for _, tt := range tests {
		tt.route.ServiceName = "s"
		c := mustCompile(t, tt.route)
		assert.Equal(t, tt.want, c.upstreamPath(tt.in), "%s -> %s", tt.route.Path, tt.in)
	}
}

func TestRouteTableLongestMatch(t *testing.T) {
	table := newRouteTable([]*compiledRoute{
		mustCompile(t, Route{Path: "/*", ServiceName: "root"}),
		mustCompile(t, Route{Path: "/api/*", ServiceName: "api"}),
		mustCompile(t, Route{Path: "/api/users/*", ServiceName: "users", Methods: []string{"GET"}}),
		mustCompile(t, Route{Path: "/api/users*", ServiceName: "users-prefix"}),
		mustCompile(t, Route{Path: "/api/users", ServiceName: "users-exact"}),
	}, 16)

	tests := []struct {
		method, path, want string
	}{
		{"GET", "/api/users/1", "users"},
		{"POST", "/api/users/1", "users-prefix"}, // GET 限定的路由被方法过滤
		{"GET", "/api/users", "users-exact"},     // 等长时精确路由优先
		{"GET", "/api/orders", "api"},
		{"GET", "/static/app.js", "root"},
	}
	for _, tt := range tests {
		for i := 0; i < 2; i++ { // 第二次命中缓存
			r := table.resolve(tt.method, tt.path)
			require.NotNil(t, r, "%s %s", tt.method, tt.path)
			assert.Equal(t, tt.want, r.ServiceName, "%s %s", tt.method, tt.path)
		}
	}

	empty := newRouteTable(nil, 16)
	assert.Nil(t, empty.resolve("GET", "/api"))
	assert.Nil(t, empty.resolve("GET", "/api"))
}

func TestSameRule(t *testing.T) {
	base := Route{Path: "/a/*", ServiceName: "s", CircuitBreaker: &breaker.Config{FailureThreshold: 1, ResetTimeout: time.Second}}
	same := base
	same.CircuitBreaker = &breaker.Config{FailureThreshold: 1, ResetTimeout: time.Second}
	other := base
	other.CircuitBreaker = &breaker.Config{FailureThreshold: 2, ResetTimeout: time.Second}

	assert.True(t, mustCompile(t, base).sameRule(mustCompile(t, same)))
	assert.False(t, mustCompile(t, base).sameRule(mustCompile(t, other)))
}
