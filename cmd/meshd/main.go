// meshd 服务网格控制面进程：注册中心 + API 网关 + 分布式追踪。
//
//	meshd --config-dir ./configs --config-name meshd
//
// 环境变量以 MESH_ 为前缀覆盖配置，例如 MESH_SERVER_ADDR=:9000；MESH_ENV=prod 时叠加 meshd.prod.yaml。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/config"
	"github.com/ceyewan/mesh/internal/bootstrap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "meshd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configDir := pflag.StringSlice("config-dir", []string{".", "./configs"}, "配置文件搜索目录")
	configName := pflag.String("config-name", "meshd", "配置文件名（不含扩展名）")
	stopTimeout := pflag.Duration("stop-timeout", 20*time.Second, "优雅停止的最长等待时间")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader, err := config.New(&config.Config{Name: *configName, Paths: *configDir})
	if err != nil {
		return err
	}
	if err := loader.Load(ctx); err != nil {
		return err
	}
	cfg, err := bootstrap.LoadConfig(loader)
	if err != nil {
		return err
	}

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}
	if err := app.WatchRoutes(ctx, loader); err != nil {
		app.Logger.Warn("gateway routes hot reload disabled", clog.Error(err))
	}

	<-ctx.Done()
	app.Logger.Info("shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), *stopTimeout)
	defer cancel()
	return app.Stop(stopCtx)
}
