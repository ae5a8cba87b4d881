package connector

import (
	"time"

	"github.com/ceyewan/mesh/xerrors"
)

// NATSConfig NATS 连接配置
type NATSConfig struct {
	Name     string `yaml:"name" json:"name" mapstructure:"name"` // 默认 "nats"
	URL      string `yaml:"url" json:"url" mapstructure:"url"`    // nats://127.0.0.1:4222
	Username string `yaml:"username" json:"username" mapstructure:"username"`
	Password string `yaml:"password" json:"password" mapstructure:"password"`
	Token    string `yaml:"token" json:"token" mapstructure:"token"`

	Timeout       time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`                      // 默认 5s
	MaxReconnects int           `yaml:"max_reconnects" json:"max_reconnects" mapstructure:"max_reconnects"` // 默认 60
	ReconnectWait time.Duration `yaml:"reconnect_wait" json:"reconnect_wait" mapstructure:"reconnect_wait"` // 默认 2s
	PingInterval  time.Duration `yaml:"ping_interval" json:"ping_interval" mapstructure:"ping_interval"`    // 默认 2m
}

func (c *NATSConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "nats"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 60
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 2 * time.Minute
	}
}

func (c *NATSConfig) validate() error {
	if c.URL == "" {
		return xerrors.Wrap(ErrConfig, "nats url is required")
	}
	return nil
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Name     string `yaml:"name" json:"name" mapstructure:"name"` // 默认 "redis"
	Addr     string `yaml:"addr" json:"addr" mapstructure:"addr"` // 127.0.0.1:6379
	Password string `yaml:"password" json:"password" mapstructure:"password"`
	DB       int    `yaml:"db" json:"db" mapstructure:"db"`

	PoolSize     int           `yaml:"pool_size" json:"pool_size" mapstructure:"pool_size"`             // 默认 10
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout" mapstructure:"dial_timeout"`    // 默认 5s
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" mapstructure:"read_timeout"`    // 默认 3s
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" mapstructure:"write_timeout"` // 默认 3s
}

func (c *RedisConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "redis"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
}

func (c *RedisConfig) validate() error {
	if c.Addr == "" {
		return xerrors.Wrap(ErrConfig, "redis addr is required")
	}
	if c.DB < 0 {
		return xerrors.Wrapf(ErrConfig, "redis db must be >= 0, got %d", c.DB)
	}
	return nil
}

// KafkaConfig Kafka 连接配置
type KafkaConfig struct {
	Name     string   `yaml:"name" json:"name" mapstructure:"name"` // 默认 "kafka"
	Seed     []string `yaml:"seed" json:"seed" mapstructure:"seed"` // broker 列表
	ClientID string   `yaml:"client_id" json:"client_id" mapstructure:"client_id"`

	// SASL/PLAIN，User 与 Password 同时设置时启用
	User     string `yaml:"user" json:"user" mapstructure:"user"`
	Password string `yaml:"password" json:"password" mapstructure:"password"`

	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" mapstructure:"request_timeout"` // 默认 10s
}

func (c *KafkaConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "kafka"
	}
	if c.ClientID == "" {
		c.ClientID = "meshd"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

func (c *KafkaConfig) validate() error {
	if len(c.Seed) == 0 {
		return xerrors.Wrap(ErrConfig, "kafka seed brokers are required")
	}
	return nil
}
