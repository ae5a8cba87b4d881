package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	kafkacontainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/ceyewan/mesh/connector"
)

// NewKafkaContainerConfig 启动单节点 KRaft Kafka 容器并返回连接配置
func NewKafkaContainerConfig(t *testing.T) *connector.KafkaConfig {
	t.Helper()
	requireDocker(t)
	ctx := context.Background()

	container, err := kafkacontainer.Run(ctx, "confluentinc/confluent-local:7.5.0",
		kafkacontainer.WithClusterID("mesh-test-cluster"),
	)
	require.NoError(t, err, "failed to start Kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	return &connector.KafkaConfig{
		Name:           "testcontainer-kafka",
		Seed:           brokers,
		RequestTimeout: 5 * time.Second,
	}
}

// NewKafkaConnector 启动容器并返回已连接的 Kafka 连接器
func NewKafkaConnector(t *testing.T) connector.KafkaConnector {
	t.Helper()
	conn, err := connector.NewKafka(NewKafkaContainerConfig(t), connector.WithLogger(NewLogger()))
	require.NoError(t, err)
	require.NoError(t, conn.Connect(NewContext(t, 30*time.Second)))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}
