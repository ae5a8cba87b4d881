package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/mesh/auth"
	"github.com/ceyewan/mesh/gateway"
	"github.com/ceyewan/mesh/registry"
	"github.com/ceyewan/mesh/trace"
)

type fixture struct {
	srv *Server
	reg registry.Registry
	gw  gateway.Gateway
	tr  trace.Tracer
}

func newFixture(t *testing.T, cfg *Config, authn auth.Authenticator) *fixture {
	t.Helper()
	reg, err := registry.New(&registry.Config{})
	require.NoError(t, err)
	gw, err := gateway.New(reg, &gateway.Config{DefaultTimeout: 2 * time.Second, AuthExemptPrefixes: []string{}})
	require.NoError(t, err)
	tr, err := trace.New(&trace.Config{ServiceName: "meshd"})
	require.NoError(t, err)

	if cfg == nil {
		cfg = &Config{Mode: "test"}
	}
	srv, err := New(Deps{Registry: reg, Gateway: gw, Tracer: tr, Auth: authn}, cfg)
	require.NoError(t, err)
	return &fixture{srv: srv, reg: reg, gw: gw, tr: tr}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func hostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	host, port, err := net.SplitHostPort(strings.TrimPrefix(rawURL, "http://"))
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, p
}

func TestNewValidation(t *testing.T) {
	_, err := New(Deps{}, nil)
	assert.ErrorIs(t, err, ErrDependencyMissing)

	reg := registry.Must(&registry.Config{})
	gw, err := gateway.New(reg, nil)
	require.NoError(t, err)
	tr, err := trace.New(nil)
	require.NoError(t, err)
	_, err = New(Deps{Registry: reg, Gateway: gw, Tracer: tr}, &Config{AdminAuth: true})
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestRegistryAdmin(t *testing.T) {
	f := newFixture(t, nil, nil)

	w := f.do(t, http.MethodPost, "/_mesh/services", registry.Descriptor{
		Name: "user-service", Host: "10.0.0.1", Port: 8080, Protocol: "http",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id, _ := decode(t, w)["id"].(string)
	require.NotEmpty(t, id)

	w = f.do(t, http.MethodPost, "/_mesh/services", registry.Descriptor{Name: "bad"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/_mesh/services", registry.Descriptor{
		ID: id, Name: "user-service", Host: "10.0.0.2", Port: 8080, Protocol: "http",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodGet, "/_mesh/services", nil)
	assert.Equal(t, []any{"user-service"}, decode(t, w)["services"])

	w = f.do(t, http.MethodGet, "/_mesh/services/user-service/instances", nil)
	assert.Len(t, decode(t, w)["instances"], 1)

	w = f.do(t, http.MethodGet, "/_mesh/services/user-service/discover", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode(t, w)["id"])

	w = f.do(t, http.MethodGet, "/_mesh/services/ghost/discover", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = f.do(t, http.MethodGet, "/_mesh/services/user-service/health", nil)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/_mesh/instances/"+id+"/heartbeat", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPut, "/_mesh/instances/ghost/heartbeat", nil).Code)

	w = f.do(t, http.MethodPut, "/_mesh/instances/"+id+"/metadata", map[string]any{"key": "connections", "value": "7"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "7", f.reg.Instances("user-service")[0].Metadata["connections"])

	w = f.do(t, http.MethodDelete, "/_mesh/instances/"+id, nil)
	assert.Equal(t, true, decode(t, w)["removed"])
	w = f.do(t, http.MethodDelete, "/_mesh/instances/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code, "重复注销是安全的")
	assert.Equal(t, false, decode(t, w)["removed"])

	w = f.do(t, http.MethodGet, "/_mesh/services/user-service/instances", nil)
	assert.Equal(t, []any{}, decode(t, w)["instances"])
}

func TestStrategyAdmin(t *testing.T) {
	f := newFixture(t, nil, nil)

	w := f.do(t, http.MethodGet, "/_mesh/strategy", nil)
	assert.Equal(t, "round-robin", decode(t, w)["strategy"])

	w = f.do(t, http.MethodPut, "/_mesh/strategy", map[string]any{"strategy": "least-connections"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, registry.LeastConnections, f.reg.Strategy())

	w = f.do(t, http.MethodPut, "/_mesh/strategy", map[string]any{"strategy": "weighted"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "weighted-round-robin", decode(t, w)["strategy"])
	w = f.do(t, http.MethodGet, "/_mesh/strategy", nil)
	assert.Equal(t, "weighted-round-robin", decode(t, w)["strategy"])

	w = f.do(t, http.MethodPut, "/_mesh/strategy", map[string]any{"strategy": "fastest"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPut, "/_mesh/strategy", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutesAdmin(t *testing.T) {
	f := newFixture(t, nil, nil)

	w := f.do(t, http.MethodPost, "/_mesh/routes", map[string]any{
		"path":         "/api/users/*",
		"service_name": "user-service",
		"timeout":      "5s",
		"circuit_breaker": map[string]any{
			"failure_threshold": 2,
			"reset_timeout":     "30s",
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	routes := f.gw.Routes()
	require.Len(t, routes, 1)
	assert.Equal(t, 5*time.Second, routes[0].Timeout)
	require.NotNil(t, routes[0].CircuitBreaker)
	assert.Equal(t, uint32(2), routes[0].CircuitBreaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, routes[0].CircuitBreaker.ResetTimeout)

	w = f.do(t, http.MethodPost, "/_mesh/routes", map[string]any{"path": "no-slash", "service_name": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(t, http.MethodPost, "/_mesh/routes", map[string]any{"path": "/x", "timeout": "soon"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/_mesh/routes", nil)
	assert.Len(t, decode(t, w)["routes"], 1)

	w = f.do(t, http.MethodGet, "/_mesh/routes/breaker?path=/api/users/*", nil)
	assert.Equal(t, "closed", decode(t, w)["state"])

	w = f.do(t, http.MethodPut, "/_mesh/routes", []any{
		map[string]any{"path": "/api/orders/*", "service_name": "order-service"},
		map[string]any{"path": "/api/pay", "service_name": "payment-service", "methods": []string{"post"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, f.gw.Routes(), 2)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodDelete, "/_mesh/routes", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/_mesh/routes?path=/api/users/*", nil).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/_mesh/routes?path=/api/pay", nil).Code)
	assert.Len(t, f.gw.Routes(), 1)
}

func TestGatewayCatchAll(t *testing.T) {
	f := newFixture(t, nil, nil)

	received := make(chan *http.Request, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"u1"}`))
	}))
	defer upstream.Close()

	host, port := hostPort(t, upstream.URL)
	_, err := f.reg.Register(context.Background(), &registry.Descriptor{
		Name: "user-service", Host: host, Port: port, Protocol: "http",
	})
	require.NoError(t, err)
	require.NoError(t, f.gw.AddRoute(gateway.Route{Path: "/api/users/*", ServiceName: "user-service"}))

	w := f.do(t, http.MethodGet, "/api/users/u1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "u1", decode(t, w)["id"])

	upReq := <-received
	gotTrace := upReq.Header.Get(trace.HeaderTraceID)
	assert.Equal(t, "/api/users/u1", upReq.URL.Path)
	assert.NotEmpty(t, gotTrace, "转发请求应携带追踪头")
	assert.Equal(t, gotTrace, w.Header().Get(trace.HeaderTraceID))

	// 请求结束后 Trace 已导出并移除
	_, ok := f.tr.TraceDetails(gotTrace)
	assert.False(t, ok)

	w = f.do(t, http.MethodGet, "/api/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, gateway.MsgRouteNotFound, decode(t, w)["error"])

	require.NoError(t, f.gw.AddRoute(gateway.Route{Path: "/api/orders/*", ServiceName: "order-service"}))
	w = f.do(t, http.MethodGet, "/api/orders/1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, gateway.MsgServiceUnavailable, decode(t, w)["error"])
}

func TestTracesAdmin(t *testing.T) {
	f := newFixture(t, nil, nil)

	ref := f.tr.StartTrace("checkout", trace.WithService("order-service"), trace.WithTag("tenant", "acme"))
	child, err := f.tr.CreateChildSpan(ref.SpanIDs[0], "charge", trace.WithService("payment-service"))
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/_mesh/traces/"+ref.TraceID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	details := decode(t, w)
	assert.Len(t, details["spans"], 2)
	assert.NotNil(t, details["service_map"])

	w = f.do(t, http.MethodGet, "/_mesh/traces?service_name=payment-service&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	traces, _ := decode(t, w)["traces"].([]any)
	require.Len(t, traces, 1)
	assert.Equal(t, ref.TraceID, traces[0].(map[string]any)["trace_id"])

	w = f.do(t, http.MethodGet, "/_mesh/traces?tag.tenant=other", nil)
	assert.Equal(t, []any{}, decode(t, w)["traces"])
	w = f.do(t, http.MethodGet, "/_mesh/traces?tag.tenant=acme&operation_name=check", nil)
	assert.Len(t, decode(t, w)["traces"], 1)

	w = f.do(t, http.MethodGet, "/_mesh/traces?min_duration=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.NoError(t, f.tr.FinishSpan(child.SpanID))
	require.NoError(t, f.tr.FinishSpan(ref.SpanIDs[0]))
	w = f.do(t, http.MethodGet, "/_mesh/traces/"+ref.TraceID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminAuth(t *testing.T) {
	authn, err := auth.New(&auth.Config{SecretKey: strings.Repeat("k", 32)})
	require.NoError(t, err)
	f := newFixture(t, &Config{Mode: "test", AdminAuth: true}, authn)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/_mesh/services", nil).Code)

	viewer, err := authn.GenerateToken(context.Background(), &auth.Claims{Roles: []string{"viewer"}})
	require.NoError(t, err)
	w := f.do(t, http.MethodGet, "/_mesh/services", nil, "Authorization", "Bearer "+viewer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin, err := authn.GenerateToken(context.Background(), &auth.Claims{Roles: []string{"admin"}})
	require.NoError(t, err)
	w = f.do(t, http.MethodGet, "/_mesh/services", nil, "Authorization", "Bearer "+admin)
	assert.Equal(t, http.StatusOK, w.Code)

	// 网关流量不经过管理接口鉴权
	w = f.do(t, http.MethodGet, "/api/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartShutdown(t *testing.T) {
	f := newFixture(t, &Config{Mode: "test", Addr: "127.0.0.1:0"}, nil)
	assert.Nil(t, f.srv.Addr())

	require.NoError(t, f.srv.Start())
	assert.Error(t, f.srv.Start())

	resp, err := http.Get("http://" + f.srv.Addr().String() + "/_mesh/services")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, f.srv.Shutdown(context.Background()))
	require.NoError(t, f.srv.Shutdown(context.Background()))
}
