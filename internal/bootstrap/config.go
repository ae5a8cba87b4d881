package bootstrap

import (
	"github.com/ceyewan/mesh/auth"
	"github.com/ceyewan/mesh/breaker"
	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/config"
	"github.com/ceyewan/mesh/connector"
	"github.com/ceyewan/mesh/gateway"
	"github.com/ceyewan/mesh/internal/server"
	"github.com/ceyewan/mesh/metrics"
	"github.com/ceyewan/mesh/registry"
	"github.com/ceyewan/mesh/trace"
	"github.com/ceyewan/mesh/xerrors"
)

// AppConfig meshd 的完整配置，对应配置文件的顶层 key
type AppConfig struct {
	Log      clog.Config     `yaml:"log" json:"log" mapstructure:"log"`
	Metrics  metrics.Config  `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
	Registry registry.Config `yaml:"registry" json:"registry" mapstructure:"registry"`
	Breaker  breaker.Config  `yaml:"breaker" json:"breaker" mapstructure:"breaker"` // 未单独配置熔断的路由使用
	Gateway  gateway.Config  `yaml:"gateway" json:"gateway" mapstructure:"gateway"`
	Trace    trace.Config    `yaml:"trace" json:"trace" mapstructure:"trace"`
	Server   server.Config   `yaml:"server" json:"server" mapstructure:"server"`
	Export   ExportConfig    `yaml:"export" json:"export" mapstructure:"export"`

	// Auth 为空时网关不做认证，管理接口也不能开启 admin_auth
	Auth *auth.Config `yaml:"auth" json:"auth" mapstructure:"auth"`
}

// ExportConfig 已完成 Trace 的导出目标，可同时开启多个
//
//	export:
//	  log: true
//	  otlp:
//	    endpoint: localhost:4317
//	    insecure: true
//	  nats:
//	    url: nats://127.0.0.1:4222
//	    subject: mesh.traces
type ExportConfig struct {
	Log   bool              `yaml:"log" json:"log" mapstructure:"log"`
	OTLP  *trace.OTLPConfig `yaml:"otlp" json:"otlp" mapstructure:"otlp"`
	NATS  *NATSExport       `yaml:"nats" json:"nats" mapstructure:"nats"`
	Redis *RedisExport      `yaml:"redis" json:"redis" mapstructure:"redis"`
	Kafka *KafkaExport      `yaml:"kafka" json:"kafka" mapstructure:"kafka"`
}

// NATSExport 发布到 NATS Core subject
type NATSExport struct {
	connector.NATSConfig `yaml:",inline" mapstructure:",squash"`
	Subject              string `yaml:"subject" json:"subject" mapstructure:"subject"` // 默认 mesh.traces
}

// RedisExport 写入 Redis Stream
type RedisExport struct {
	connector.RedisConfig `yaml:",inline" mapstructure:",squash"`
	Stream                string `yaml:"stream" json:"stream" mapstructure:"stream"`    // 默认 mesh.traces
	MaxLen                int64  `yaml:"max_len" json:"max_len" mapstructure:"max_len"` // 0 表示不裁剪
}

// KafkaExport 生产到 Kafka topic，key 为 trace id
type KafkaExport struct {
	connector.KafkaConfig `yaml:",inline" mapstructure:",squash"`
	Topic                 string `yaml:"topic" json:"topic" mapstructure:"topic"` // 默认 mesh.traces
}

// LoadConfig 从 loader 解出 AppConfig
func LoadConfig(loader config.Loader) (*AppConfig, error) {
	var cfg AppConfig
	if err := loader.Unmarshal(&cfg); err != nil {
		return nil, xerrors.Wrap(err, "load app config")
	}
	return &cfg, nil
}
