package registry

import "github.com/ceyewan/mesh/xerrors"

var (
	// ErrInvalidDescriptor 注册请求缺少必填字段或字段非法
	ErrInvalidDescriptor = xerrors.Mark(xerrors.New("invalid service descriptor"), xerrors.ErrInvalidInput)

	// ErrServiceAlreadyRegistered 指定的实例 ID 已存在
	ErrServiceAlreadyRegistered = xerrors.Mark(xerrors.New("service instance already registered"), xerrors.ErrConflict)

	// ErrUnknownStrategy 无法识别的负载均衡策略
	ErrUnknownStrategy = xerrors.Mark(xerrors.New("unknown load balancing strategy"), xerrors.ErrInvalidInput)

	// ErrAlreadyStarted Start 被重复调用
	ErrAlreadyStarted = xerrors.New("registry background tasks already started")

	// ErrProbeFailed 健康探测失败，只在注册中心内部流转
	ErrProbeFailed = xerrors.New("health probe failed")
)
