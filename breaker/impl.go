package breaker

import (
	"context"
	"sync"

	"github.com/sony/gobreaker/v2"

	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/metrics"
	"github.com/ceyewan/mesh/xerrors"
)

// circuitBreaker 管理按 key 隔离的 gobreaker 实例
type circuitBreaker struct {
	defaults *Config
	logger   clog.Logger

	stateChanges metrics.Counter
	rejects      metrics.Counter

	mu       sync.Mutex
	configs  map[string]Config
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func newBreaker(cfg *Config, opt options) (Breaker, error) {
	cb := &circuitBreaker{
		defaults: cfg,
		logger:   opt.logger,
		configs:  make(map[string]Config),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}

	meter := opt.meter
	if meter == nil {
		meter = metrics.Discard()
	}
	var err error
	if cb.stateChanges, err = meter.Counter(MetricStateChanges, "Circuit breaker state transitions."); err != nil {
		return nil, err
	}
	if cb.rejects, err = meter.Counter(MetricRejectsTotal, "Calls rejected by an open circuit breaker."); err != nil {
		return nil, err
	}

	cb.logger.Debug("circuit breaker created",
		clog.Int("failure_threshold", int(cfg.FailureThreshold)),
		clog.Duration("reset_timeout", cfg.ResetTimeout))

	return cb, nil
}

func (cb *circuitBreaker) Execute(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}

	result, err := cb.getOrCreate(key).Execute(fn)
	if xerrors.Is(err, gobreaker.ErrOpenState) || xerrors.Is(err, gobreaker.ErrTooManyRequests) {
		cb.rejects.Inc(ctx, metrics.L(LabelKey, key))
		cb.logger.DebugContext(ctx, "call rejected by circuit breaker", clog.String("key", key), clog.Error(err))
		return nil, ErrOpenState
	}
	return result, err
}

func (cb *circuitBreaker) Configure(key string, cfg *Config) error {
	if key == "" {
		return ErrKeyEmpty
	}
	if cfg == nil {
		return ErrConfigNil
	}
	c := *cfg
	c.setDefaults()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.configs[key] = c
	delete(cb.breakers, key)
	return nil
}

func (cb *circuitBreaker) Remove(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.configs, key)
	delete(cb.breakers, key)
}

func (cb *circuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.configs = make(map[string]Config)
	cb.breakers = make(map[string]*gobreaker.CircuitBreaker[any])
}

func (cb *circuitBreaker) State(key string) (State, error) {
	if key == "" {
		return StateClosed, ErrKeyEmpty
	}

	cb.mu.Lock()
	b, ok := cb.breakers[key]
	cb.mu.Unlock()
	if !ok {
		return StateClosed, nil
	}
	return fromGobreaker(b.State()), nil
}

// getOrCreate 首次使用时按 key 的配置懒创建熔断器
func (cb *circuitBreaker) getOrCreate(key string) *gobreaker.CircuitBreaker[any] {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if b, ok := cb.breakers[key]; ok {
		return b
	}

	cfg, ok := cb.configs[key]
	if !ok {
		cfg = *cb.defaults
	}
	threshold := cfg.FailureThreshold

	b := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: cb.onStateChange,
	})
	cb.breakers[key] = b
	return b
}

// onStateChange 在 gobreaker 内部锁中回调，不能再调用本熔断器的方法
func (cb *circuitBreaker) onStateChange(name string, from gobreaker.State, to gobreaker.State) {
	fromState, toState := fromGobreaker(from).String(), fromGobreaker(to).String()

	cb.stateChanges.Inc(context.Background(),
		metrics.L(LabelKey, name),
		metrics.L(LabelFromState, fromState),
		metrics.L(LabelToState, toState))

	fields := []clog.Field{clog.String("key", name), clog.String("from", fromState), clog.String("to", toState)}
	if to == gobreaker.StateOpen {
		cb.logger.Warn("circuit breaker opened", fields...)
		return
	}
	cb.logger.Info("circuit breaker state changed", fields...)
}

func fromGobreaker(state gobreaker.State) State {
	switch state {
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
