package registry

import "time"

// Config Registry 组件配置
//
//	registry:
//	  strategy: round-robin
//	  health_check_interval: 30s
//	  failure_threshold: 3
//	  expire_after: 5m
type Config struct {
	// Strategy 初始负载均衡策略，默认 round-robin
	Strategy Strategy `yaml:"strategy" json:"strategy" mapstructure:"strategy"`

	// HealthCheckInterval 健康探测周期，默认 30s
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval" mapstructure:"health_check_interval"`

	// ProbeTimeout 单次探测超时，默认 5s
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout" mapstructure:"probe_timeout"`

	// ProbeConcurrency 一轮探测的最大并发数，默认 16
	ProbeConcurrency int `yaml:"probe_concurrency" json:"probe_concurrency" mapstructure:"probe_concurrency"`

	// FailureThreshold 连续失败多少次标记为 unhealthy，默认 3
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold" mapstructure:"failure_threshold"`

	// ExpireAfter 心跳超过该时长的实例被清理，默认 5m
	ExpireAfter time.Duration `yaml:"expire_after" json:"expire_after" mapstructure:"expire_after"`

	// CleanupInterval 过期清理周期，默认 1m
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" mapstructure:"cleanup_interval"`
}

func (c *Config) setDefaults() {
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.ProbeConcurrency <= 0 {
		c.ProbeConcurrency = 16
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.ExpireAfter <= 0 {
		c.ExpireAfter = 5 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
}
