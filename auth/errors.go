package auth

import "github.com/ceyewan/mesh/xerrors"

var (
	ErrInvalidConfig = xerrors.Mark(xerrors.New("auth: invalid config"), xerrors.ErrInvalidInput)
	ErrInvalidClaims = xerrors.Mark(xerrors.New("auth: invalid claims"), xerrors.ErrInvalidInput)

	// 以下错误在网关与中间件中统一映射为 401
	ErrMissingToken     = xerrors.New("auth: missing token")
	ErrInvalidToken     = xerrors.New("auth: invalid token")
	ErrExpiredToken     = xerrors.New("auth: token expired")
	ErrInvalidSignature = xerrors.New("auth: invalid signature")
)
