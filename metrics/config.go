package metrics

// Config 指标系统配置
//
//	metrics:
//	  enabled: true
//	  service_name: meshd
//	  version: v0.3.0
//	  addr: ":9090"
//	  path: /metrics
//	  enable_runtime: true
type Config struct {
	// Enabled 为 false 时 New 返回 noop Meter
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// ServiceName / Version 写入 OpenTelemetry Resource
	ServiceName string `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
	Version     string `mapstructure:"version" yaml:"version" json:"version"`

	// Addr 非空时启动独立的 Prometheus 抓取服务，例如 ":9090"
	Addr string `mapstructure:"addr" yaml:"addr" json:"addr"`
	Path string `mapstructure:"path" yaml:"path" json:"path"`

	// EnableRuntime 采集 Go 运行时指标（GC、goroutine、内存）
	EnableRuntime bool `mapstructure:"enable_runtime" yaml:"enable_runtime" json:"enable_runtime"`
}

func (c *Config) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "mesh"
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
}
