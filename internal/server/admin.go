package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/mesh/auth"
	"github.com/ceyewan/mesh/config"
	"github.com/ceyewan/mesh/gateway"
	"github.com/ceyewan/mesh/registry"
	"github.com/ceyewan/mesh/trace"
	"github.com/ceyewan/mesh/xerrors"
)

func (s *Server) registerAdmin(g *gin.RouterGroup) {
	if s.cfg.AdminAuth {
		g.Use(s.deps.Auth.GinMiddleware(), auth.RequireRoles(s.cfg.AdminRoles...))
	}

	g.POST("/services", s.register)
	g.GET("/services", s.listServices)
	g.GET("/services/:name/instances", s.listInstances)
	g.GET("/services/:name/discover", s.discover)
	g.GET("/services/:name/health", s.health)

	g.DELETE("/instances/:id", s.deregister)
	g.PUT("/instances/:id/heartbeat", s.heartbeat)
	g.PUT("/instances/:id/metadata", s.setMetadata)

	g.GET("/strategy", s.getStrategy)
	g.PUT("/strategy", s.setStrategy)

	g.GET("/routes", s.listRoutes)
	g.POST("/routes", s.addRoute)
	g.PUT("/routes", s.replaceRoutes)
	g.DELETE("/routes", s.removeRoute)
	g.GET("/routes/breaker", s.breakerState)

	g.GET("/traces", s.searchTraces)
	g.GET("/traces/:id", s.traceDetails)
}

// ============================================================================
// 注册中心
// ============================================================================

func (s *Server) register(c *gin.Context) {
	var desc registry.Descriptor
	if err := c.ShouldBindJSON(&desc); err != nil {
		abort(c, xerrors.Wrap(ErrBadRequest, err.Error()))
		return
	}
	id, err := s.deps.Registry.Register(c.Request.Context(), &desc)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) listServices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"services": s.deps.Registry.Services()})
}

func (s *Server) listInstances(c *gin.Context) {
	instances := s.deps.Registry.Instances(c.Param("name"))
	if instances == nil {
		instances = []*registry.ServiceInstance{}
	}
	c.JSON(http.StatusOK, gin.H{"instances": instances})
}

func (s *Server) discover(c *gin.Context) {
	inst, ok := s.deps.Registry.Discover(c.Param("name"))
	if !ok {
		abort(c, xerrors.Wrapf(ErrNoHealthyInstance, "service %s", c.Param("name")))
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Registry.Health(c.Param("name")))
}

// deregister 幂等，实例不存在时 removed 为 false
func (s *Server) deregister(c *gin.Context) {
	id := c.Param("id")
	c.JSON(http.StatusOK, gin.H{"id": id, "removed": s.deps.Registry.Deregister(id)})
}

func (s *Server) heartbeat(c *gin.Context) {
	id := c.Param("id")
	if !s.deps.Registry.Renew(id) {
		abort(c, xerrors.Wrapf(ErrInstanceNotFound, "instance %s", id))
		return
	}
	c.Status(http.StatusNoContent)
}

type metadataRequest struct {
	Key   string `json:"key" binding:"required"`
	Value string `json:"value"`
}

func (s *Server) setMetadata(c *gin.Context) {
	var req metadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, xerrors.Wrap(ErrBadRequest, err.Error()))
		return
	}
	id := c.Param("id")
	if !s.deps.Registry.SetMetadata(id, req.Key, req.Value) {
		abort(c, xerrors.Wrapf(ErrInstanceNotFound, "instance %s", id))
		return
	}
	c.Status(http.StatusNoContent)
}

type strategyRequest struct {
	Strategy string `json:"strategy" binding:"required"`
}

func (s *Server) getStrategy(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategy": s.deps.Registry.Strategy()})
}

func (s *Server) setStrategy(c *gin.Context) {
	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, xerrors.Wrap(ErrBadRequest, err.Error()))
		return
	}
	strategy, err := registry.ParseStrategy(req.Strategy)
	if err != nil {
		abort(c, err)
		return
	}
	s.deps.Registry.SetStrategy(strategy)
	c.JSON(http.StatusOK, gin.H{"strategy": strategy})
}

// ============================================================================
// 路由
// ============================================================================

func (s *Server) listRoutes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"routes": s.deps.Gateway.Routes()})
}

// addRoute 请求体与配置文件同构，timeout 等时长字段接受 "5s" 形式
func (s *Server) addRoute(c *gin.Context) {
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		abort(c, xerrors.Wrap(ErrBadRequest, err.Error()))
		return
	}
	var route gateway.Route
	if err := config.Decode(raw, &route); err != nil {
		abort(c, xerrors.Combine(ErrBadRequest, err))
		return
	}
	if err := s.deps.Gateway.AddRoute(route); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"path": route.Path})
}

// replaceRoutes 整体替换路由表，规则未变的路由保留熔断状态
func (s *Server) replaceRoutes(c *gin.Context) {
	var raw []any
	if err := c.ShouldBindJSON(&raw); err != nil {
		abort(c, xerrors.Wrap(ErrBadRequest, err.Error()))
		return
	}
	var routes []gateway.Route
	if err := config.Decode(raw, &routes); err != nil {
		abort(c, xerrors.Combine(ErrBadRequest, err))
		return
	}
	if err := s.deps.Gateway.SetRoutes(routes); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"routes": s.deps.Gateway.Routes()})
}

func (s *Server) removeRoute(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		abort(c, xerrors.Wrap(ErrBadRequest, "query parameter path is required"))
		return
	}
	if !s.deps.Gateway.RemoveRoute(path) {
		abort(c, xerrors.Wrapf(ErrRouteNotFound, "route %s", path))
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) breakerState(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		abort(c, xerrors.Wrap(ErrBadRequest, "query parameter path is required"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "state": s.deps.Gateway.BreakerState(path).String()})
}

// ============================================================================
// 追踪
// ============================================================================

// searchTraces 查询参数对应 trace.Filter，tag.<key>=<value> 形式的参数作为标签过滤
func (s *Server) searchTraces(c *gin.Context) {
	var filter trace.Filter
	if err := c.ShouldBindQuery(&filter); err != nil {
		abort(c, xerrors.Wrap(ErrBadRequest, err.Error()))
		return
	}
	for key, values := range c.Request.URL.Query() {
		if tag, ok := cutTagKey(key); ok && len(values) > 0 {
			if filter.Tags == nil {
				filter.Tags = make(map[string]string)
			}
			filter.Tags[tag] = values[0]
		}
	}

	traces := s.deps.Tracer.Search(filter)
	if traces == nil {
		traces = []*trace.TraceSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"traces": traces})
}

func cutTagKey(key string) (string, bool) {
	tag, ok := strings.CutPrefix(key, "tag.")
	return tag, ok && tag != ""
}

func (s *Server) traceDetails(c *gin.Context) {
	id := c.Param("id")
	details, ok := s.deps.Tracer.TraceDetails(id)
	if !ok {
		abort(c, xerrors.Wrapf(ErrTraceNotFound, "trace %s", id))
		return
	}
	c.JSON(http.StatusOK, details)
}
