package gateway

import (
	"time"

	"github.com/ceyewan/mesh/breaker"
)

// Config 网关配置
//
//	gateway:
//	  default_timeout: 30s
//	  auth_exempt_prefixes: ["/api/auth/", "/api/health/"]
//	  routes:
//	    - path: /api/users/*
//	      service_name: user-service
//	      strip_path: true
//	      circuit_breaker:
//	        failure_threshold: 5
//	        reset_timeout: 60s
type Config struct {
	// DefaultTimeout 路由未设置 Timeout 时的转发超时，默认 30s
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default_timeout" mapstructure:"default_timeout"`

	// AuthExemptPrefixes 免认证的路径前缀，默认 /api/auth/ 与 /api/health/
	AuthExemptPrefixes []string `yaml:"auth_exempt_prefixes" json:"auth_exempt_prefixes" mapstructure:"auth_exempt_prefixes"`

	// RouteCacheSize 路由解析结果缓存容量，默认 4096
	RouteCacheSize int `yaml:"route_cache_size" json:"route_cache_size" mapstructure:"route_cache_size"`

	// Routes 初始路由表
	Routes []Route `yaml:"routes" json:"routes" mapstructure:"routes"`
}

func (c *Config) setDefaults() {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.AuthExemptPrefixes == nil {
		c.AuthExemptPrefixes = []string{"/api/auth/", "/api/health/"}
	}
	if c.RouteCacheSize <= 0 {
		c.RouteCacheSize = 4096
	}
}

// Route 路由规则。Path 为精确路径，或以 * 结尾的前缀。
type Route struct {
	Path        string   `yaml:"path" json:"path" mapstructure:"path"`
	ServiceName string   `yaml:"service_name" json:"service_name" mapstructure:"service_name"`
	Methods     []string `yaml:"methods" json:"methods,omitempty" mapstructure:"methods"` // 为空表示任意方法

	// StripPath 转发时去掉路由前缀
	StripPath bool `yaml:"strip_path" json:"strip_path" mapstructure:"strip_path"`

	// PreserveHost 保留原始 Host 头
	PreserveHost bool `yaml:"preserve_host" json:"preserve_host" mapstructure:"preserve_host"`

	// Timeout 转发超时，0 使用网关默认值
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty" mapstructure:"timeout"`

	// CircuitBreaker 路由熔断配置，为空表示该路由不熔断
	CircuitBreaker *breaker.Config `yaml:"circuit_breaker" json:"circuit_breaker,omitempty" mapstructure:"circuit_breaker"`

	// RateLimit 路由级限流，为空表示不限流
	RateLimit *RateLimit `yaml:"rate_limit" json:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimit 令牌桶限流参数
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst" mapstructure:"burst"` // 默认等于 RequestsPerSecond 向上取整
}
