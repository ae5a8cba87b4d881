package clog

import "github.com/ceyewan/mesh/xerrors"

// New 创建一个新的 Logger 实例
//
// config 为 nil 时使用开发环境默认配置；opts 用于设置命名空间、Context 字段等。
func New(config *Config, opts ...Option) (Logger, error) {
	if config == nil {
		config = NewDevDefaultConfig("mesh")
	}

	if err := config.validate(); err != nil {
		return nil, xerrors.Wrap(err, "invalid config")
	}

	return newLogger(config, applyOptions(opts...))
}

// Must 与 New 相同，失败时 panic，用于进程入口。
func Must(config *Config, opts ...Option) Logger {
	return xerrors.Must(New(config, opts...))
}
