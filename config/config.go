package config

import (
	"context"
	"strings"

	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/xerrors"
)

// DefaultEnvPrefix 默认环境变量前缀，MESH_GATEWAY_DEFAULT_TIMEOUT 覆盖 gateway.default_timeout
const DefaultEnvPrefix = "MESH"

// Config 加载器配置
type Config struct {
	Name      string   // 配置文件名称（不含扩展名），默认 "config"
	Paths     []string // 配置文件搜索路径，默认 [".", "./config"]
	FileType  string   // 配置文件类型，默认 "yaml"
	EnvPrefix string   // 环境变量前缀，默认 "MESH"
}

func (c *Config) validate() error {
	if c.Name == "" {
		c.Name = "config"
	}
	if c.Paths == nil {
		c.Paths = []string{".", "./config"}
	}
	if c.FileType == "" {
		c.FileType = "yaml"
	}
	if c.EnvPrefix == "" {
		c.EnvPrefix = DefaultEnvPrefix
	}
	c.EnvPrefix = strings.ToUpper(c.EnvPrefix)
	if strings.ContainsAny(c.Name, `/\`) {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "config name %q must not contain path separators", c.Name)
	}
	return nil
}

// Option 加载器选项
type Option func(*options)

type options struct {
	logger clog.Logger
}

// WithLogger 设置日志记录器，加载过程中的提示信息写入 config 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("config")
		}
	}
}

// New 创建配置加载器，cfg 为 nil 时使用默认配置
func New(cfg *Config, opts ...Option) (Loader, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := &options{logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	return newLoader(cfg, o), nil
}

// MustLoad 创建并加载配置，失败时 panic，用于进程入口
func MustLoad(cfg *Config, opts ...Option) Loader {
	l := xerrors.Must(New(cfg, opts...))
	if err := l.Load(context.Background()); err != nil {
		panic(err)
	}
	return l
}
