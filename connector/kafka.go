package connector

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"

	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/xerrors"
)

type kafkaConnector struct {
	cfg     KafkaConfig
	logger  clog.Logger
	metrics *instruments
	healthy atomic.Bool

	mu     sync.RWMutex
	client *kgo.Client
}

// NewKafka 创建 Kafka 连接器，不建立连接。客户端允许自动创建 topic。
func NewKafka(cfg *KafkaConfig, opts ...Option) (KafkaConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrConfig, "kafka config is required")
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	o := applyOptions(opts)
	ins, err := newInstruments(o.meter, "kafka", c.Name)
	if err != nil {
		return nil, err
	}
	return &kafkaConnector{
		cfg:     c,
		logger:  o.logger.With(clog.String("connector", "kafka"), clog.String("name", c.Name)),
		metrics: ins,
	}, nil
}

func (c *kafkaConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return nil
	}

	kgoOpts := []kgo.Opt{
		kgo.SeedBrokers(c.cfg.Seed...),
		kgo.ClientID(c.cfg.ClientID),
		kgo.RequestTimeoutOverhead(c.cfg.RequestTimeout),
		kgo.AllowAutoTopicCreation(),
		kgo.WithLogger(&kgoLogger{logger: c.logger}),
	}
	if c.cfg.User != "" && c.cfg.Password != "" {
		kgoOpts = append(kgoOpts, kgo.SASL(plain.Auth{User: c.cfg.User, Pass: c.cfg.Password}.AsMechanism()))
	}

	client, err := kgo.NewClient(kgoOpts...)
	if err == nil {
		// 客户端惰性连接，Ping 确认 broker 可达
		if err = client.Ping(ctx); err != nil {
			client.Close()
		}
	}
	c.metrics.connected(ctx, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to connect to kafka", clog.Strings("seed", c.cfg.Seed), clog.Error(err))
		return xerrors.Wrapf(xerrors.Combine(ErrConnection, err), "kafka connector[%s]", c.cfg.Name)
	}

	c.client = client
	c.healthy.Store(true)
	c.logger.InfoContext(ctx, "connected to kafka", clog.Strings("seed", c.cfg.Seed))
	return nil
}

func (c *kafkaConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy.Store(false)
	if c.client == nil {
		return nil
	}
	c.client.Close()
	c.client = nil
	c.metrics.setHealthy(context.Background(), false)
	c.logger.Info("kafka client closed")
	return nil
}

func (c *kafkaConnector) HealthCheck(ctx context.Context) error {
	client := c.GetClient()
	if client == nil {
		c.healthy.Store(false)
		return ErrNotConnected
	}
	if err := client.Ping(ctx); err != nil {
		c.healthy.Store(false)
		c.metrics.setHealthy(ctx, false)
		return xerrors.Wrapf(xerrors.Combine(ErrHealthCheck, err), "kafka connector[%s]", c.cfg.Name)
	}
	c.healthy.Store(true)
	c.metrics.setHealthy(ctx, true)
	return nil
}

func (c *kafkaConnector) IsHealthy() bool { return c.healthy.Load() }
func (c *kafkaConnector) Name() string    { return c.cfg.Name }

func (c *kafkaConnector) GetClient() *kgo.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// kgoLogger 把 franz-go 日志转给 clog，只输出 warn 及以上
type kgoLogger struct {
	logger clog.Logger
}

func (l *kgoLogger) Level() kgo.LogLevel { return kgo.LogLevelWarn }

func (l *kgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	fields := make([]clog.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		if key, ok := keyvals[i].(string); ok {
			fields = append(fields, clog.Any(key, keyvals[i+1]))
		}
	}
	switch level {
	case kgo.LogLevelError:
		l.logger.Error(msg, fields...)
	case kgo.LogLevelWarn:
		l.logger.Warn(msg, fields...)
	default:
		l.logger.Debug(msg, fields...)
	}
}
