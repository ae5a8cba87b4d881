package gateway

import "github.com/ceyewan/mesh/xerrors"

// 返回给调用方的错误信息，下游依赖这些固定文案
const (
	MsgRouteNotFound      = "路由未找到"
	MsgUnauthorized       = "未授权访问"
	MsgTooManyRequests    = "请求过于频繁"
	MsgServiceUnavailable = "服务不可用"
	MsgCircuitOpen        = "服务熔断中"
	MsgBadGateway         = "网关错误"
	MsgBadRequest         = "请求体读取失败"
)

var (
	// ErrInvalidRoute 路由规则非法
	ErrInvalidRoute = xerrors.Mark(xerrors.New("invalid route"), xerrors.ErrInvalidInput)

	// ErrDiscoveryRequired 创建网关时未提供服务发现
	ErrDiscoveryRequired = xerrors.Mark(xerrors.New("gateway requires a discovery source"), xerrors.ErrInvalidInput)
)
