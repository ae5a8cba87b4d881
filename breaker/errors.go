package breaker

import "github.com/ceyewan/mesh/xerrors"

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.Mark(xerrors.New("breaker: config is nil"), xerrors.ErrInvalidInput)

	// ErrKeyEmpty 熔断键为空
	ErrKeyEmpty = xerrors.Mark(xerrors.New("breaker: key is empty"), xerrors.ErrInvalidInput)

	// ErrOpenState 熔断器打开，或半开状态下试探请求已在进行
	ErrOpenState = xerrors.Mark(xerrors.New("breaker: circuit breaker is open"), xerrors.ErrUnavailable)
)
