// Package clog 为 mesh 提供基于 slog 的结构化日志组件。
//
// 特性：
//   - 抽象接口，不暴露底层 slog 实现
//   - 层级命名空间，每个组件在 WithLogger 时追加自己的命名空间
//   - 从 Context 提取 trace_id / span_id 等字段
//   - 运行时动态调整级别
//
// 基本使用：
//
//	logger, _ := clog.New(&clog.Config{Level: "info", Format: "json"},
//	    clog.WithNamespace("meshd"),
//	    clog.WithTraceContext(),
//	)
//	logger.Info("gateway started", clog.String("addr", ":8080"))
package clog

import "context"

// Logger 日志接口
//
// 每个级别都有带 Context 和不带 Context 的版本，带 Context 的版本会提取配置的字段。
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	DebugContext(ctx context.Context, msg string, fields ...Field)
	InfoContext(ctx context.Context, msg string, fields ...Field)
	WarnContext(ctx context.Context, msg string, fields ...Field)
	ErrorContext(ctx context.Context, msg string, fields ...Field)
	FatalContext(ctx context.Context, msg string, fields ...Field)

	// With 创建一个带有预设字段的子 Logger
	With(fields ...Field) Logger

	// WithNamespace 创建一个扩展命名空间的子 Logger
	//
	//   logger.WithNamespace("registry").WithNamespace("probe") // mesh.registry.probe
	WithNamespace(parts ...string) Logger

	// SetLevel 动态调整日志级别，对所有派生的子 Logger 生效
	SetLevel(level Level) error

	// Flush 强制同步缓冲区
	Flush()
}
