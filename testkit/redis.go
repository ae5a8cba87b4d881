package testkit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	rediscontainer "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/ceyewan/mesh/connector"
)

// NewRedisContainerConfig 启动 Redis 容器并返回连接配置，容器随测试结束销毁
func NewRedisContainerConfig(t *testing.T) *connector.RedisConfig {
	t.Helper()
	requireDocker(t)
	ctx := context.Background()

	container, err := rediscontainer.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "failed to start Redis container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	return &connector.RedisConfig{
		Name: "testcontainer-redis",
		Addr: host + ":" + port.Port(),
	}
}

// NewRedisConnector 启动容器并返回已连接的 Redis 连接器
func NewRedisConnector(t *testing.T) connector.RedisConnector {
	t.Helper()
	conn, err := connector.NewRedis(NewRedisContainerConfig(t), connector.WithLogger(NewLogger()))
	require.NoError(t, err)
	require.NoError(t, conn.Connect(context.Background()))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}
