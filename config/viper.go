package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/xerrors"
)

// loader 基于 viper 实现 Loader
type loader struct {
	v      *viper.Viper
	cfg    *Config
	logger clog.Logger

	mu        sync.Mutex
	watches   map[string][]chan Event
	oldValues map[string]any
}

func newLoader(cfg *Config, o *options) *loader {
	return &loader{
		v:         viper.New(),
		cfg:       cfg,
		logger:    o.logger,
		watches:   make(map[string][]chan Event),
		oldValues: make(map[string]any),
	}
}

// Load 按优先级从所有来源加载配置
func (l *loader) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.v.SetConfigName(l.cfg.Name)
	l.v.SetConfigType(l.cfg.FileType)
	for _, path := range l.cfg.Paths {
		l.v.AddConfigPath(path)
	}

	// 环境变量优先级最高
	l.v.SetEnvPrefix(l.cfg.EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.loadDotEnv(); err != nil {
		l.logger.Debug("no .env file loaded", clog.Error(err))
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return wrapLoadError(err, l.cfg.Name)
		}
		l.logger.Warn("no configuration file found", clog.String("name", l.cfg.Name), clog.Strings("paths", l.cfg.Paths))
	}

	if err := l.loadEnvironmentConfig(); err != nil {
		return err
	}

	if err := l.Validate(); err != nil {
		return err
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if err := l.loadEnvironmentConfig(); err != nil {
			l.logger.Error("reload environment config failed", clog.Error(err))
		}
		l.notifyWatches(e)
	})
	if l.v.ConfigFileUsed() != "" {
		l.v.WatchConfig()
	}

	return nil
}

// loadDotEnv 从工作目录和搜索路径加载 .env，已存在的环境变量不会被覆盖
func (l *loader) loadDotEnv() error {
	var loaded bool
	var lastErr error

	candidates := []string{".env"}
	for _, path := range l.cfg.Paths {
		candidates = append(candidates, filepath.Join(path, ".env"))
	}
	for _, file := range candidates {
		if err := godotenv.Load(file); err != nil {
			lastErr = err
			continue
		}
		loaded = true
	}

	if !loaded {
		return lastErr
	}
	return nil
}

// loadEnvironmentConfig 合并 <name>.<env>.<type>，env 来自 <PREFIX>_ENV
func (l *loader) loadEnvironmentConfig() error {
	env := os.Getenv(l.cfg.EnvPrefix + "_ENV")
	if env == "" {
		return nil
	}

	envName := fmt.Sprintf("%s.%s", l.cfg.Name, env)
	l.v.SetConfigName(envName)
	defer l.v.SetConfigName(l.cfg.Name)

	if err := l.v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return wrapLoadError(err, envName)
		}
		l.logger.Info("no environment configuration file", clog.String("env", env))
		return nil
	}
	l.logger.Info("loaded environment configuration", clog.String("env", env))
	return nil
}

func (l *loader) Get(key string) any {
	return l.v.Get(key)
}

// decodeHook 在 viper 默认的 duration / 切片转换之外支持 encoding.TextUnmarshaler，
// 使策略等枚举类型可以直接写成字符串
var decodeHook = viper.DecodeHook(hooks())

func hooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}

// Decode 按配置文件相同的规则把原始值（Watch 事件的 Value、JSON 解出的 map）解码到 out
func Decode(input, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       hooks(),
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return xerrors.Wrap(err, "create decoder")
	}
	return xerrors.Wrap(dec.Decode(input), "decode config value")
}

func (l *loader) Unmarshal(v any) error {
	return xerrors.Wrap(l.v.Unmarshal(v, decodeHook), "unmarshal config")
}

func (l *loader) UnmarshalKey(key string, v any) error {
	return xerrors.Wrapf(l.v.UnmarshalKey(key, v, decodeHook), "unmarshal config key %s", key)
}

// Watch 订阅指定 key 的变更
func (l *loader) Watch(ctx context.Context, key string) (<-chan Event, error) {
	if key == "" {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "watch key is empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan Event, 10)
	l.watches[key] = append(l.watches[key], ch)
	l.oldValues[key] = l.v.Get(key)

	go func() {
		<-ctx.Done()
		l.removeWatch(key, ch)
	}()

	return ch, nil
}

func (l *loader) removeWatch(key string, ch chan Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	chans := l.watches[key]
	for i, c := range chans {
		if c == ch {
			l.watches[key] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(l.watches[key]) == 0 {
		delete(l.watches, key)
		delete(l.oldValues, key)
	}
	// 发送方同样持有 l.mu，移除后不会再有写入
	close(ch)
}

// Validate 配置为空视为无效
func (l *loader) Validate() error {
	if len(l.v.AllSettings()) == 0 {
		return xerrors.Wrap(ErrValidationFailed, "configuration is empty")
	}
	return nil
}

func (l *loader) notifyWatches(e fsnotify.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, channels := range l.watches {
		newValue := l.v.Get(key)
		oldValue := l.oldValues[key]
		if reflect.DeepEqual(oldValue, newValue) {
			continue
		}

		event := Event{
			Key:       key,
			Value:     newValue,
			OldValue:  oldValue,
			Source:    "file",
			Timestamp: time.Now(),
		}
		l.oldValues[key] = newValue

		for _, ch := range channels {
			select {
			case ch <- event:
			default:
				l.logger.Warn("watch channel is full, event dropped", clog.String("key", key), clog.String("file", e.Name))
			}
		}
	}
}
