// Package config 为 mesh 提供统一的配置管理能力，基于 Viper 实现。
//
// 特性：
//   - 多源配置加载：YAML/JSON 文件、环境变量、.env 文件
//   - 配置优先级：环境变量 > .env > 环境特定配置 (config.<env>.yaml) > 基础配置
//   - 热更新：监听配置文件变化，按 key 推送变更事件
//
// 基本使用：
//
//	loader := config.MustLoad(&config.Config{Name: "meshd", Paths: []string{"./configs"}})
//
//	var gw gateway.Config
//	if err := loader.UnmarshalKey("gateway", &gw); err != nil {
//		return err
//	}
//
//	ch, _ := loader.Watch(ctx, "gateway.routes")
//	for event := range ch {
//		// 重新加载路由表
//	}
package config

import (
	"context"
	"time"
)

// Loader 定义配置加载器的核心行为
type Loader interface {
	// Load 加载配置并启动文件监听
	Load(ctx context.Context) error

	// Get 获取原始配置值
	Get(key string) any

	// Unmarshal 将整个配置反序列化到结构体
	Unmarshal(v any) error

	// UnmarshalKey 将指定 Key 的配置反序列化到结构体
	UnmarshalKey(key string, v any) error

	// Watch 监听指定 key 的变化，ctx 取消后通道关闭
	Watch(ctx context.Context, key string) (<-chan Event, error)

	// Validate 验证当前配置的有效性
	Validate() error
}

// Event 配置变更事件
type Event struct {
	Key       string
	Value     any
	OldValue  any
	Source    string // "file"
	Timestamp time.Time
}
