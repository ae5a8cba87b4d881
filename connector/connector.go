// Package connector 管理 Trace 导出使用的外部连接：NATS、Redis、Kafka。
//
// NewXXX 只校验配置，Connect 建立连接且可重复调用。连接器拥有底层连接，
// 导出器只借用 GetClient() 返回的客户端，不负责关闭。关闭顺序：先 Tracer.Shutdown，再 Close。
//
//	conn, _ := connector.NewNATS(&connector.NATSConfig{URL: "nats://127.0.0.1:4222"},
//		connector.WithLogger(logger))
//	if err := conn.Connect(ctx); err != nil {
//		return err
//	}
//	defer conn.Close()
//	exporter := trace.NewNATSExporter(conn.GetClient(), "mesh.traces")
package connector

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Connector 连接器的通用行为，方法均并发安全
type Connector interface {
	// Connect 建立连接，已连接时直接返回 nil
	Connect(ctx context.Context) error

	// Close 关闭连接，可重复调用
	Close() error

	// HealthCheck 主动检查连接并刷新 IsHealthy 的结果
	HealthCheck(ctx context.Context) error

	// IsHealthy 最近一次连接或检查的结果
	IsHealthy() bool

	// Name 连接器名称，用于日志与指标
	Name() string
}

// TypedConnector 提供具体类型的客户端，Connect 之前或 Close 之后返回 nil
type TypedConnector[T any] interface {
	Connector
	GetClient() T
}

// NATSConnector NATS Core 连接
type NATSConnector interface {
	TypedConnector[*nats.Conn]
}

// RedisConnector Redis 单机连接
type RedisConnector interface {
	TypedConnector[*redis.Client]
}

// KafkaConnector franz-go 客户端
type KafkaConnector interface {
	TypedConnector[*kgo.Client]
}
