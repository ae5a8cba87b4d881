// Package bootstrap 是 meshd 的组装根：按配置创建 Logger、Meter、注册中心、熔断器、
// 网关、追踪器、导出连接和 HTTP 入口，并按阶段管理启动与停止。
//
// 停止顺序与启动相反：HTTP 入口 → 注册中心后台任务 → Tracer（关闭导出器）→ 导出连接 → Meter。
package bootstrap

import (
	"context"

	"github.com/ceyewan/mesh/auth"
	"github.com/ceyewan/mesh/breaker"
	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/config"
	"github.com/ceyewan/mesh/connector"
	"github.com/ceyewan/mesh/gateway"
	"github.com/ceyewan/mesh/internal/server"
	"github.com/ceyewan/mesh/metrics"
	"github.com/ceyewan/mesh/registry"
	"github.com/ceyewan/mesh/trace"
	"github.com/ceyewan/mesh/xerrors"
)

// App 组装完成的 meshd 进程
type App struct {
	Logger   clog.Logger
	Meter    metrics.Meter
	Registry registry.Registry
	Breaker  breaker.Breaker
	Gateway  gateway.Gateway
	Tracer   trace.Tracer
	Auth     auth.Authenticator
	Server   *server.Server

	connectors []connector.Connector
	lifecycle  *lifecycleManager
}

// New 按配置创建全部组件。导出连接在此同步建立，失败时已建立的连接会被关闭。
func New(ctx context.Context, cfg *AppConfig, opts ...Option) (_ *App, err error) {
	if cfg == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "app config is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{Logger: o.logger}
	if app.Logger == nil {
		if app.Logger, err = clog.New(&cfg.Log, clog.WithNamespace("meshd"), clog.WithTraceContext()); err != nil {
			return nil, xerrors.Wrap(err, "create logger")
		}
	}
	app.lifecycle = newLifecycleManager(app.Logger.WithNamespace("lifecycle"))

	defer func() {
		if err != nil {
			app.closeConnectors()
		}
	}()

	if app.Meter, err = metrics.New(&cfg.Metrics, metrics.WithLogger(app.Logger)); err != nil {
		return nil, xerrors.Wrap(err, "create meter")
	}
	if err = app.buildComponents(cfg); err != nil {
		_ = app.Meter.Shutdown(context.Background())
		return nil, err
	}

	exporters, err := app.buildExporters(ctx, &cfg.Export)
	if err != nil {
		_ = app.Meter.Shutdown(context.Background())
		return nil, err
	}
	exporters = append(exporters, o.exporters...)

	if app.Tracer, err = trace.New(&cfg.Trace,
		trace.WithLogger(app.Logger),
		trace.WithMeter(app.Meter),
		trace.WithExporter(trace.NewMultiExporter(exporters...))); err != nil {
		_ = app.Meter.Shutdown(context.Background())
		return nil, xerrors.Wrap(err, "create tracer")
	}

	if app.Server, err = server.New(server.Deps{
		Registry: app.Registry,
		Gateway:  app.Gateway,
		Tracer:   app.Tracer,
		Auth:     app.Auth,
	}, &cfg.Server, server.WithLogger(app.Logger), server.WithMeter(app.Meter)); err != nil {
		_ = app.Tracer.Shutdown(context.Background())
		_ = app.Meter.Shutdown(context.Background())
		return nil, xerrors.Wrap(err, "create server")
	}

	app.registerLifecycle()
	return app, nil
}

func (a *App) buildComponents(cfg *AppConfig) (err error) {
	if a.Registry, err = registry.New(&cfg.Registry,
		registry.WithLogger(a.Logger), registry.WithMeter(a.Meter)); err != nil {
		return xerrors.Wrap(err, "create registry")
	}
	if a.Breaker, err = breaker.New(&cfg.Breaker,
		breaker.WithLogger(a.Logger), breaker.WithMeter(a.Meter)); err != nil {
		return xerrors.Wrap(err, "create breaker")
	}

	gwOpts := []gateway.Option{
		gateway.WithLogger(a.Logger),
		gateway.WithMeter(a.Meter),
		gateway.WithBreaker(a.Breaker),
	}
	if cfg.Auth != nil {
		if a.Auth, err = auth.New(cfg.Auth, auth.WithLogger(a.Logger), auth.WithMeter(a.Meter)); err != nil {
			return xerrors.Wrap(err, "create authenticator")
		}
		gwOpts = append(gwOpts, gateway.WithAuthenticator(a.Auth))
	}
	if a.Gateway, err = gateway.New(a.Registry, &cfg.Gateway, gwOpts...); err != nil {
		return xerrors.Wrap(err, "create gateway")
	}
	return nil
}

// buildExporters 建立导出连接并创建对应的导出器，连接由 App 持有
func (a *App) buildExporters(ctx context.Context, cfg *ExportConfig) (exporters []trace.Exporter, err error) {
	defer func() {
		if err != nil {
			_ = trace.NewMultiExporter(exporters...).Shutdown(context.Background())
		}
	}()

	if cfg.Log {
		exporters = append(exporters, trace.NewLogExporter(a.Logger))
	}

	if cfg.OTLP != nil {
		exp, err := trace.NewOTLPGRPCExporter(ctx, cfg.OTLP)
		if err != nil {
			return exporters, xerrors.Wrap(err, "create otlp exporter")
		}
		exporters = append(exporters, exp)
	}

	connOpts := []connector.Option{connector.WithLogger(a.Logger), connector.WithMeter(a.Meter)}

	if cfg.NATS != nil {
		conn, err := connector.NewNATS(&cfg.NATS.NATSConfig, connOpts...)
		if err != nil {
			return exporters, err
		}
		if err := a.connect(ctx, conn); err != nil {
			return exporters, err
		}
		exporters = append(exporters, trace.NewNATSExporter(conn.GetClient(), cfg.NATS.Subject))
	}

	if cfg.Redis != nil {
		conn, err := connector.NewRedis(&cfg.Redis.RedisConfig, connOpts...)
		if err != nil {
			return exporters, err
		}
		if err := a.connect(ctx, conn); err != nil {
			return exporters, err
		}
		exporters = append(exporters, trace.NewRedisExporter(conn.GetClient(), cfg.Redis.Stream, cfg.Redis.MaxLen))
	}

	if cfg.Kafka != nil {
		conn, err := connector.NewKafka(&cfg.Kafka.KafkaConfig, connOpts...)
		if err != nil {
			return exporters, err
		}
		if err := a.connect(ctx, conn); err != nil {
			return exporters, err
		}
		exporters = append(exporters, trace.NewKafkaExporter(conn.GetClient(), cfg.Kafka.Topic))
	}
	return exporters, nil
}

func (a *App) connect(ctx context.Context, conn connector.Connector) error {
	if err := conn.Connect(ctx); err != nil {
		return err
	}
	a.connectors = append(a.connectors, conn)
	return nil
}

func (a *App) closeConnectors() {
	for i := len(a.connectors) - 1; i >= 0; i-- {
		_ = a.connectors[i].Close()
	}
	a.connectors = nil
}

func (a *App) registerLifecycle() {
	a.lifecycle.register("meter", hook{
		phase: PhaseTelemetry,
		stop:  a.Meter.Shutdown,
	})
	for _, conn := range a.connectors {
		a.lifecycle.register("connector."+conn.Name(), hook{
			phase: PhaseConnector,
			start: conn.Connect,
			stop:  func(context.Context) error { return conn.Close() },
		})
	}
	// Tracer 先于导出连接停止，保证最后一批 Trace 能发出去
	a.lifecycle.register("tracer", hook{
		phase: PhaseComponent,
		stop:  a.Tracer.Shutdown,
	})
	a.lifecycle.register("registry", hook{
		phase: PhaseComponent,
		start: a.Registry.Start,
		stop: func(context.Context) error {
			a.Registry.Stop()
			return nil
		},
	})
	a.lifecycle.register("server", hook{
		phase: PhaseService,
		start: func(context.Context) error { return a.Server.Start() },
		stop:  a.Server.Shutdown,
	})
}

// Start 按阶段启动，任一失败时停止已启动的部分并返回错误
func (a *App) Start(ctx context.Context) error {
	if err := a.lifecycle.startAll(ctx); err != nil {
		return err
	}
	a.Logger.InfoContext(ctx, "meshd started")
	return nil
}

// Stop 逆序停止，返回全部停止错误的组合
func (a *App) Stop(ctx context.Context) error {
	err := a.lifecycle.stopAll(ctx)
	a.Logger.InfoContext(ctx, "meshd stopped", clog.Error(err))
	return err
}

// WatchRoutes 监听 gateway.routes 变化并整体替换路由表，ctx 取消后退出。
// 新路由表非法时保留旧表。
func (a *App) WatchRoutes(ctx context.Context, loader config.Loader) error {
	ch, err := loader.Watch(ctx, "gateway.routes")
	if err != nil {
		return err
	}
	logger := a.Logger.WithNamespace("reload")
	go func() {
		for event := range ch {
			var routes []gateway.Route
			if err := config.Decode(event.Value, &routes); err != nil {
				logger.Warn("decode gateway routes failed", clog.Error(err))
				continue
			}
			if err := a.Gateway.SetRoutes(routes); err != nil {
				logger.Warn("reject gateway routes", clog.Error(err))
				continue
			}
			logger.Info("gateway routes reloaded", clog.Int("routes", len(routes)))
		}
	}()
	return nil
}
