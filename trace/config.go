package trace

import "time"

// Config 追踪器配置
//
//	trace:
//	  service_name: meshd
//	  export_timeout: 5s
type Config struct {
	// ServiceName 新建 Span 默认使用的服务标识
	ServiceName string `yaml:"service_name" json:"service_name" mapstructure:"service_name"`

	// ExportTimeout 单条 Trace 导出的超时时间，默认 5s
	ExportTimeout time.Duration `yaml:"export_timeout" json:"export_timeout" mapstructure:"export_timeout"`
}

func (c *Config) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "mesh"
	}
	if c.ExportTimeout <= 0 {
		c.ExportTimeout = 5 * time.Second
	}
}

// OTLPConfig OTLP gRPC 导出配置
type OTLPConfig struct {
	Endpoint string        `yaml:"endpoint" json:"endpoint" mapstructure:"endpoint"`
	Insecure bool          `yaml:"insecure" json:"insecure" mapstructure:"insecure"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
}

// DefaultOTLPConfig 返回本地 collector 的默认配置
func DefaultOTLPConfig() *OTLPConfig {
	return &OTLPConfig{
		Endpoint: "localhost:4317",
		Insecure: true,
		Timeout:  5 * time.Second,
	}
}
