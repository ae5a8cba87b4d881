package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	natscontainer "github.com/testcontainers/testcontainers-go/modules/nats"

	"github.com/ceyewan/mesh/connector"
)

// NewNATSContainerConfig 启动 NATS 容器并返回连接配置，容器随测试结束销毁
func NewNATSContainerConfig(t *testing.T) *connector.NATSConfig {
	t.Helper()
	requireDocker(t)
	ctx := context.Background()

	container, err := natscontainer.Run(ctx, "nats:2.10-alpine")
	require.NoError(t, err, "failed to start NATS container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	return &connector.NATSConfig{
		Name:          "testcontainer-nats",
		URL:           url,
		MaxReconnects: 10,
		ReconnectWait: 100 * time.Millisecond,
	}
}

// NewNATSConnector 启动容器并返回已连接的 NATS 连接器
func NewNATSConnector(t *testing.T) connector.NATSConnector {
	t.Helper()
	conn, err := connector.NewNATS(NewNATSContainerConfig(t), connector.WithLogger(NewLogger()))
	require.NoError(t, err)
	require.NoError(t, conn.Connect(context.Background()))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}
