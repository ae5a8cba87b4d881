// Package auth 提供基于 JWT (HS256) 的认证，实现网关的认证门禁。
//
// 网关以小写键的请求头调用 Authenticate；管理接口使用 GinMiddleware 与 RequireRoles。
//
// 基本使用：
//
//	authn, _ := auth.New(&auth.Config{SecretKey: secret}, auth.WithLogger(logger))
//	token, _ := authn.GenerateToken(ctx, &auth.Claims{
//		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-123"},
//		Roles:            []string{"admin"},
//	})
//
//	gw, _ := gateway.New(reg, gwCfg, gateway.WithAuthenticator(authn))
//	admin := engine.Group("/_mesh", authn.GinMiddleware(), auth.RequireRoles("admin"))
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/metrics"
	"github.com/ceyewan/mesh/xerrors"
)

// Authenticator JWT 认证器
type Authenticator interface {
	// GenerateToken 签发 Token，未设置的过期时间、签发时间、签发者与接收者按配置填充
	GenerateToken(ctx context.Context, claims *Claims) (string, error)

	// ValidateToken 校验签名、有效期、签发者与接收者
	ValidateToken(ctx context.Context, token string) (*Claims, error)

	// RefreshToken 用有效 Token 换一个新的有效期
	RefreshToken(ctx context.Context, token string) (string, error)

	// Authenticate 从请求头读取 Bearer Token 并校验，满足 gateway.Authenticator
	Authenticate(ctx context.Context, headers map[string]string) error

	// GinMiddleware 返回 Gin 认证中间件，Claims 存入 ClaimsKey
	GinMiddleware() gin.HandlerFunc
}

// New 创建认证器
func New(cfg *Config, opts ...Option) (Authenticator, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrInvalidConfig, "config is required")
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	o := options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	a := &jwtAuth{cfg: c, logger: o.logger, now: o.clock}
	var err error
	if a.generated, err = o.meter.Counter(MetricTokensGenerated, "Tokens issued by the authenticator."); err != nil {
		return nil, err
	}
	if a.validated, err = o.meter.Counter(MetricTokensValidated, "Token validations by outcome."); err != nil {
		return nil, err
	}
	return a, nil
}

// Must 类似 New，出错时 panic
func Must(cfg *Config, opts ...Option) Authenticator {
	return xerrors.Must(New(cfg, opts...))
}

type jwtAuth struct {
	cfg    Config
	logger clog.Logger
	now    func() time.Time

	generated metrics.Counter
	validated metrics.Counter
}

func (a *jwtAuth) GenerateToken(ctx context.Context, claims *Claims) (string, error) {
	if claims == nil {
		return "", ErrInvalidClaims
	}
	c := *claims
	now := a.now()
	if c.ExpiresAt == nil {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(a.cfg.AccessTokenTTL))
	}
	if c.IssuedAt == nil {
		c.IssuedAt = jwt.NewNumericDate(now)
	}
	if c.Issuer == "" {
		c.Issuer = a.cfg.Issuer
	}
	if len(c.Audience) == 0 && len(a.cfg.Audience) > 0 {
		c.Audience = jwt.ClaimStrings(a.cfg.Audience)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &c).SignedString([]byte(a.cfg.SecretKey))
	if err != nil {
		return "", xerrors.Wrap(err, "sign token")
	}
	a.generated.Inc(ctx)
	a.logger.DebugContext(ctx, "token generated", clog.String("subject", c.Subject))
	return signed, nil
}

func (a *jwtAuth) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if len(a.cfg.Audience) > 0 {
		parserOpts = append(parserOpts, jwt.WithAudience(a.cfg.Audience[0]))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(a.cfg.SecretKey), nil
	}, parserOpts...)
	if err != nil {
		errType, err := classify(err)
		a.validated.Inc(ctx, metrics.L(LabelStatus, metrics.OutcomeError), metrics.L(LabelErrorType, errType))
		return nil, err
	}

	a.validated.Inc(ctx, metrics.L(LabelStatus, metrics.OutcomeSuccess))
	return claims, nil
}

// classify 把 jwt 的错误归为本包的哨兵错误
func classify(err error) (string, error) {
	switch {
	case xerrors.Is(err, jwt.ErrTokenExpired):
		return "expired", ErrExpiredToken
	case xerrors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "invalid_signature", ErrInvalidSignature
	default:
		return "invalid_token", xerrors.Wrap(ErrInvalidToken, err.Error())
	}
}

func (a *jwtAuth) RefreshToken(ctx context.Context, token string) (string, error) {
	claims, err := a.ValidateToken(ctx, token)
	if err != nil {
		return "", err
	}
	claims.ExpiresAt = nil
	claims.IssuedAt = nil
	return a.GenerateToken(ctx, claims)
}

func (a *jwtAuth) Authenticate(ctx context.Context, headers map[string]string) error {
	token, err := a.bearer(headers[a.cfg.HeaderName])
	if err != nil {
		return err
	}
	_, err = a.ValidateToken(ctx, token)
	return err
}

// bearer 解析 "Bearer <token>"
func (a *jwtAuth) bearer(value string) (string, error) {
	if value == "" {
		return "", ErrMissingToken
	}
	head, token, ok := strings.Cut(value, " ")
	if !ok || head != a.cfg.TokenHeadName || token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
