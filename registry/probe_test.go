package registry

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// startHealthServer 启动带 grpc.health.v1 服务的 gRPC server，返回监听地址
func startHealthServer(t *testing.T) (string, *health.Server) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(srv.Stop)
	return ln.Addr().String(), hs
}

func TestHTTPProbe(t *testing.T) {
	var status = http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	prober := NewProber()
	ctx := context.Background()
	inst := &ServiceInstance{Name: "svc", HealthCheckURL: srv.URL + "/healthz"}

	assert.NoError(t, prober.Probe(ctx, inst))

	status = http.StatusServiceUnavailable
	err := prober.Probe(ctx, inst)
	assert.ErrorIs(t, err, ErrProbeFailed)
}

func TestHTTPProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := NewProber().Probe(ctx, &ServiceInstance{HealthCheckURL: url + "/healthz"})
	assert.ErrorIs(t, err, ErrProbeFailed)
}

func TestGRPCProbe(t *testing.T) {
	addr, hs := startHealthServer(t)
	hs.SetServingStatus("user.v1.UserService", healthpb.HealthCheckResponse_SERVING)

	prober := NewProber()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.NoError(t, prober.Probe(ctx, &ServiceInstance{HealthCheckURL: "grpc://" + addr}))
	assert.NoError(t, prober.Probe(ctx, &ServiceInstance{HealthCheckURL: "grpc://" + addr + "/user.v1.UserService"}))

	hs.SetServingStatus("user.v1.UserService", healthpb.HealthCheckResponse_NOT_SERVING)
	err := prober.Probe(ctx, &ServiceInstance{HealthCheckURL: "grpc://" + addr + "/user.v1.UserService"})
	assert.ErrorIs(t, err, ErrProbeFailed)

	err = prober.Probe(ctx, &ServiceInstance{HealthCheckURL: "grpc://" + addr + "/unknown.Service"})
	assert.ErrorIs(t, err, ErrProbeFailed)
}

func TestRegistryWithDefaultProber(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	reg, err := New(&Config{FailureThreshold: 1, ProbeTimeout: time.Second})
	require.NoError(t, err)
	id, err := reg.Register(context.Background(), &Descriptor{
		Name: "svc", Host: "127.0.0.1", Port: 8080, Protocol: "http",
		HealthCheckURL: srv.URL + "/healthz",
	})
	require.NoError(t, err)

	reg.CheckHealth(context.Background())
	assert.Equal(t, StatusHealthy, reg.Instances("svc")[0].Status)

	healthy = false
	reg.CheckHealth(context.Background())
	inst := reg.Instances("svc")[0]
	assert.Equal(t, id, inst.ID)
	assert.Equal(t, StatusUnhealthy, inst.Status)
}
