package trace

import "github.com/ceyewan/mesh/xerrors"

var (
	// ErrSpanNotFound Span 不存在，或所属 Trace 已完成并被移除
	ErrSpanNotFound = xerrors.Mark(xerrors.New("span not found"), xerrors.ErrNotFound)

	// ErrSpanFinished Span 已经结束
	ErrSpanFinished = xerrors.Mark(xerrors.New("span already finished"), xerrors.ErrConflict)

	// ErrUnsupportedFormat 不支持的传播格式
	ErrUnsupportedFormat = xerrors.Mark(xerrors.New("unsupported propagation format"), xerrors.ErrInvalidInput)

	// ErrInvalidSpan 注入时 Span 缺少合法的 trace / span id
	ErrInvalidSpan = xerrors.Mark(xerrors.New("invalid span"), xerrors.ErrInvalidInput)
)
