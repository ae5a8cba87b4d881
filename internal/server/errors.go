package server

import (
	"github.com/gin-gonic/gin"

	"github.com/ceyewan/mesh/xerrors"
)

var (
	ErrDependencyMissing = xerrors.Mark(xerrors.New("server: registry, gateway and tracer are required"), xerrors.ErrInvalidInput)
	ErrAuthRequired      = xerrors.Mark(xerrors.New("server: admin_auth requires an authenticator"), xerrors.ErrInvalidInput)
	ErrBadRequest        = xerrors.Mark(xerrors.New("bad request"), xerrors.ErrInvalidInput)
	ErrInstanceNotFound  = xerrors.Mark(xerrors.New("instance not found"), xerrors.ErrNotFound)
	ErrRouteNotFound     = xerrors.Mark(xerrors.New("route not found"), xerrors.ErrNotFound)
	ErrTraceNotFound     = xerrors.Mark(xerrors.New("trace not found or already completed"), xerrors.ErrNotFound)
	ErrNoHealthyInstance = xerrors.Mark(xerrors.New("no healthy instance"), xerrors.ErrUnavailable)
)

// abort 按错误标记映射状态码，响应体统一为 {error: <msg>}。5xx 记入 c.Errors 供追踪中间件标记失败。
func abort(c *gin.Context, err error) {
	status := xerrors.HTTPStatus(err)
	if status >= 500 {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
