package server

import "time"

// Config HTTP 入口配置
//
//	server:
//	  addr: ":8080"
//	  admin_prefix: /_mesh
//	  admin_auth: true
type Config struct {
	// Addr 监听地址，默认 :8080
	Addr string `yaml:"addr" json:"addr" mapstructure:"addr"`

	// Mode gin 运行模式 debug | release | test，默认 release
	Mode string `yaml:"mode" json:"mode" mapstructure:"mode"`

	// AdminPrefix 管理接口前缀，默认 /_mesh
	AdminPrefix string `yaml:"admin_prefix" json:"admin_prefix" mapstructure:"admin_prefix"`

	// AdminAuth 为 true 时管理接口要求 JWT 且拥有 AdminRoles
	AdminAuth  bool     `yaml:"admin_auth" json:"admin_auth" mapstructure:"admin_auth"`
	AdminRoles []string `yaml:"admin_roles" json:"admin_roles" mapstructure:"admin_roles"` // 默认 ["admin"]

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" json:"read_header_timeout" mapstructure:"read_header_timeout"` // 默认 10s
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" mapstructure:"shutdown_timeout"`          // 默认 15s
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Mode == "" {
		c.Mode = "release"
	}
	if c.AdminPrefix == "" {
		c.AdminPrefix = "/_mesh"
	}
	if len(c.AdminRoles) == 0 {
		c.AdminRoles = []string{"admin"}
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
}
