package connector

import "github.com/ceyewan/mesh/xerrors"

var (
	ErrConfig       = xerrors.Mark(xerrors.New("connector: invalid config"), xerrors.ErrInvalidInput)
	ErrConnection   = xerrors.Mark(xerrors.New("connector: connection failed"), xerrors.ErrUnavailable)
	ErrNotConnected = xerrors.Mark(xerrors.New("connector: not connected"), xerrors.ErrUnavailable)
	ErrHealthCheck  = xerrors.Mark(xerrors.New("connector: health check failed"), xerrors.ErrUnavailable)
)
