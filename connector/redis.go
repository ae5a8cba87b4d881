package connector

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"

	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/xerrors"
)

type redisConnector struct {
	cfg     RedisConfig
	logger  clog.Logger
	metrics *instruments
	healthy atomic.Bool

	mu     sync.RWMutex
	client *redis.Client
}

// NewRedis 创建 Redis 连接器，不建立连接
func NewRedis(cfg *RedisConfig, opts ...Option) (RedisConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrConfig, "redis config is required")
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	o := applyOptions(opts)
	ins, err := newInstruments(o.meter, "redis", c.Name)
	if err != nil {
		return nil, err
	}
	return &redisConnector{
		cfg:     c,
		logger:  o.logger.With(clog.String("connector", "redis"), clog.String("name", c.Name)),
		metrics: ins,
	}, nil
}

func (c *redisConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         c.cfg.Addr,
		Password:     c.cfg.Password,
		DB:           c.cfg.DB,
		PoolSize:     c.cfg.PoolSize,
		DialTimeout:  c.cfg.DialTimeout,
		ReadTimeout:  c.cfg.ReadTimeout,
		WriteTimeout: c.cfg.WriteTimeout,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	})
	err := client.Ping(ctx).Err()
	c.metrics.connected(ctx, err)
	if err != nil {
		_ = client.Close()
		c.logger.ErrorContext(ctx, "failed to connect to redis", clog.String("addr", c.cfg.Addr), clog.Error(err))
		return xerrors.Wrapf(xerrors.Combine(ErrConnection, err), "redis connector[%s]", c.cfg.Name)
	}

	c.client = client
	c.healthy.Store(true)
	c.logger.InfoContext(ctx, "connected to redis", clog.String("addr", c.cfg.Addr), clog.Int("db", c.cfg.DB))
	return nil
}

func (c *redisConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy.Store(false)
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.metrics.setHealthy(context.Background(), false)
	c.logger.Info("redis connection closed")
	return err
}

func (c *redisConnector) HealthCheck(ctx context.Context) error {
	client := c.GetClient()
	if client == nil {
		c.healthy.Store(false)
		return ErrNotConnected
	}
	if err := client.Ping(ctx).Err(); err != nil {
		c.healthy.Store(false)
		c.metrics.setHealthy(ctx, false)
		c.logger.WarnContext(ctx, "redis health check failed", clog.Error(err))
		return xerrors.Wrapf(xerrors.Combine(ErrHealthCheck, err), "redis connector[%s]", c.cfg.Name)
	}
	c.healthy.Store(true)
	c.metrics.setHealthy(ctx, true)
	return nil
}

func (c *redisConnector) IsHealthy() bool { return c.healthy.Load() }
func (c *redisConnector) Name() string    { return c.cfg.Name }

func (c *redisConnector) GetClient() *redis.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}
