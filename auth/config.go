package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ceyewan/mesh/xerrors"
)

// Config JWT 认证配置
//
//	auth:
//	  secret_key: ${MESH_AUTH_SECRET_KEY}
//	  issuer: meshd
//	  access_token_ttl: 15m
type Config struct {
	SecretKey     string   `yaml:"secret_key" json:"secret_key" mapstructure:"secret_key"`             // 签名密钥，至少 32 字符
	SigningMethod string   `yaml:"signing_method" json:"signing_method" mapstructure:"signing_method"` // 只支持 HS256
	Issuer        string   `yaml:"issuer" json:"issuer" mapstructure:"issuer"`
	Audience      []string `yaml:"audience" json:"audience" mapstructure:"audience"`

	AccessTokenTTL time.Duration `yaml:"access_token_ttl" json:"access_token_ttl" mapstructure:"access_token_ttl"` // 默认 15m

	// HeaderName 携带 Token 的请求头，小写，默认 authorization
	HeaderName string `yaml:"header_name" json:"header_name" mapstructure:"header_name"`
	// TokenHeadName Token 前缀，默认 Bearer
	TokenHeadName string `yaml:"token_head_name" json:"token_head_name" mapstructure:"token_head_name"`
}

func (c *Config) setDefaults() {
	if c.SigningMethod == "" {
		c.SigningMethod = jwt.SigningMethodHS256.Alg()
	}
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = 15 * time.Minute
	}
	if c.HeaderName == "" {
		c.HeaderName = "authorization"
	}
	if c.TokenHeadName == "" {
		c.TokenHeadName = "Bearer"
	}
}

func (c *Config) validate() error {
	if len(c.SecretKey) < 32 {
		return xerrors.Wrap(ErrInvalidConfig, "secret_key must be at least 32 characters")
	}
	if c.SigningMethod != jwt.SigningMethodHS256.Alg() {
		return xerrors.Wrapf(ErrInvalidConfig, "unsupported signing_method: %s", c.SigningMethod)
	}
	if c.AccessTokenTTL < 0 {
		return xerrors.Wrap(ErrInvalidConfig, "access_token_ttl must be positive")
	}
	return nil
}
