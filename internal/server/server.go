// Package server 组装 meshd 的 HTTP 入口：/_mesh 下的管理接口，其余请求交给网关。
//
// 全局中间件顺序：Recovery → RED 指标 → 访问日志。追踪中间件只挂在网关流量上，
// 管理接口的请求不产生 Trace，避免检索结果里出现查询自身。
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/mesh/auth"
	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/gateway"
	"github.com/ceyewan/mesh/metrics"
	"github.com/ceyewan/mesh/registry"
	"github.com/ceyewan/mesh/trace"
	"github.com/ceyewan/mesh/xerrors"
)

// Deps 服务依赖，Auth 仅在 AdminAuth 打开时必需
type Deps struct {
	Registry registry.Registry
	Gateway  gateway.Gateway
	Tracer   trace.Tracer
	Auth     auth.Authenticator
}

// Server HTTP 入口
type Server struct {
	cfg    Config
	deps   Deps
	engine *gin.Engine
	logger clog.Logger

	mu   sync.Mutex
	srv  *http.Server
	addr net.Addr
}

// New 创建服务并注册路由，不监听端口
func New(deps Deps, cfg *Config, opts ...Option) (*Server, error) {
	if deps.Registry == nil || deps.Gateway == nil || deps.Tracer == nil {
		return nil, ErrDependencyMissing
	}
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	c.setDefaults()
	if c.AdminAuth && deps.Auth == nil {
		return nil, ErrAuthRequired
	}

	o := options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	httpMetrics, err := metrics.NewHTTPServerMetrics(o.meter, "meshd")
	if err != nil {
		return nil, err
	}

	gin.SetMode(c.Mode)
	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		metrics.GinHTTPMiddleware(httpMetrics),
		accessLog(o.logger),
	)

	s := &Server{cfg: c, deps: deps, engine: engine, logger: o.logger}
	s.registerAdmin(engine.Group(c.AdminPrefix))
	engine.NoRoute(trace.GinMiddleware(deps.Tracer), deps.Gateway.Handler())
	return s, nil
}

// Handler 返回 gin 引擎，便于测试或挂到其它 http.Server
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start 同步完成监听后在后台处理请求，端口冲突直接返回
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return xerrors.New("server already started")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return xerrors.Wrapf(err, "listen %s", s.cfg.Addr)
	}
	s.addr = ln.Addr()
	s.srv = &http.Server{Handler: s.engine, ReadHeaderTimeout: s.cfg.ReadHeaderTimeout}

	s.logger.Info("http server started",
		clog.String("addr", s.addr.String()),
		clog.String("admin_prefix", s.cfg.AdminPrefix))
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", clog.Error(err))
		}
	}(s.srv)
	return nil
}

// Addr 实际监听地址，Start 之前为 nil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown 停止接收新连接并等待进行中的请求，ctx 无截止时间时使用 ShutdownTimeout
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	s.logger.Info("http server shutting down")
	return xerrors.Wrap(srv.Shutdown(ctx), "shutdown http server")
}

// accessLog 请求结束后记录一行日志，5xx 为 Warn
func accessLog(logger clog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []clog.Field{
			clog.String("method", c.Request.Method),
			clog.String("path", c.Request.URL.Path),
			clog.Int("status", status),
			clog.Duration("latency", time.Since(start)),
			clog.String("client_ip", c.ClientIP()),
		}
		if route := c.GetString(metrics.RouteKey); route != "" {
			fields = append(fields, clog.String("route", route))
		}
		if err := c.Errors.Last(); err != nil {
			fields = append(fields, clog.Error(err.Err))
		}

		if status >= http.StatusInternalServerError {
			logger.WarnContext(c.Request.Context(), "request completed", fields...)
			return
		}
		logger.DebugContext(c.Request.Context(), "request completed", fields...)
	}
}
