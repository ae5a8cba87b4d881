package registry

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestResolverRoutesToHealthyInstances(t *testing.T) {
	addr, _ := startHealthServer(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)

	reg := newTestRegistry(t, nil)
	_, err = reg.Register(context.Background(), &Descriptor{Name: "greeter", Host: host, Port: port, Protocol: "grpc"})
	require.NoError(t, err)

	builder := NewResolverBuilder(reg)
	assert.Equal(t, Scheme, builder.Scheme())

	conn, err := grpc.NewClient("mesh:///greeter",
		grpc.WithResolvers(builder),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestResolverWithoutInstancesFailsFast(t *testing.T) {
	reg := newTestRegistry(t, nil)
	conn, err := grpc.NewClient("mesh:///nobody",
		grpc.WithResolvers(NewResolverBuilder(reg)),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	assert.Error(t, err)
}
