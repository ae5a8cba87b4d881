package registry

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/metrics"
	"github.com/ceyewan/mesh/xerrors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// switchProber 由测试控制探测结果
type switchProber struct {
	fail  atomic.Bool
	calls atomic.Int32
}

func (p *switchProber) Probe(context.Context, *ServiceInstance) error {
	p.calls.Add(1)
	if p.fail.Load() {
		return ErrProbeFailed
	}
	return nil
}

func newTestRegistry(t *testing.T, cfg *Config, opts ...Option) Registry {
	t.Helper()
	opts = append([]Option{WithLogger(clog.Discard()), WithProber(&switchProber{})}, opts...)
	reg, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(reg.Stop)
	return reg
}

func register(t *testing.T, reg Registry, name, host string, mutate ...func(*Descriptor)) string {
	t.Helper()
	desc := &Descriptor{Name: name, Host: host, Port: 8080, Protocol: "http"}
	for _, m := range mutate {
		m(desc)
	}
	id, err := reg.Register(context.Background(), desc)
	require.NoError(t, err)
	return id
}

func withHealthCheck(desc *Descriptor) {
	desc.HealthCheckURL = "http://" + desc.Host + ":8080/healthz"
}

func TestRegisterAndDiscover(t *testing.T) {
	reg := newTestRegistry(t, nil)
	id := register(t, reg, "user-service", "10.0.0.1", func(d *Descriptor) {
		d.Metadata = map[string]string{"zone": "a"}
	})
	assert.NotEmpty(t, id)

	inst, ok := reg.Discover("user-service")
	require.True(t, ok)
	assert.Equal(t, id, inst.ID)
	assert.Equal(t, StatusHealthy, inst.Status)
	assert.Equal(t, 1, inst.Weight, "未指定权重时默认为 1")
	assert.Zero(t, inst.ConsecutiveFailures)

	// 返回的是快照，修改不影响注册中心
	inst.Metadata["zone"] = "b"
	again, _ := reg.Discover("user-service")
	assert.Equal(t, "a", again.Metadata["zone"])

	_, ok = reg.Discover("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"user-service"}, reg.Services())
}

func TestRegisterValidation(t *testing.T) {
	reg := newTestRegistry(t, nil)
	tests := []struct {
		name string
		desc *Descriptor
	}{
		{name: "nil", desc: nil},
		{name: "missing name", desc: &Descriptor{Host: "h", Port: 1, Protocol: "http"}},
		{name: "missing host", desc: &Descriptor{Name: "s", Port: 1, Protocol: "http"}},
		{name: "bad port", desc: &Descriptor{Name: "s", Host: "h", Port: 70000, Protocol: "http"}},
		{name: "missing protocol", desc: &Descriptor{Name: "s", Host: "h", Port: 1}},
		{name: "negative weight", desc: &Descriptor{Name: "s", Host: "h", Port: 1, Protocol: "http", Weight: -1}},
		{name: "bad health url", desc: &Descriptor{Name: "s", Host: "h", Port: 1, Protocol: "http", HealthCheckURL: "ftp://h/x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Register(context.Background(), tt.desc)
			assert.ErrorIs(t, err, ErrInvalidDescriptor)
			assert.True(t, xerrors.Is(err, xerrors.ErrInvalidInput))
		})
	}
	assert.Empty(t, reg.Services())
}

func TestRegisterDuplicateID(t *testing.T) {
	reg := newTestRegistry(t, nil)
	register(t, reg, "svc", "h1", func(d *Descriptor) { d.ID = "fixed" })

	_, err := reg.Register(context.Background(), &Descriptor{ID: "fixed", Name: "svc", Host: "h2", Port: 1, Protocol: "http"})
	assert.ErrorIs(t, err, ErrServiceAlreadyRegistered)
	assert.Equal(t, 409, xerrors.HTTPStatus(err))
}

func TestRegisterCanceledContext(t *testing.T) {
	reg := newTestRegistry(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := reg.Register(ctx, &Descriptor{Name: "svc", Host: "h", Port: 1, Protocol: "http"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRoundRobinCyclesInRegistrationOrder(t *testing.T) {
	reg := newTestRegistry(t, &Config{Strategy: RoundRobin})
	ids := []string{
		register(t, reg, "svc", "a"),
		register(t, reg, "svc", "b"),
		register(t, reg, "svc", "c"),
	}

	for round := 0; round < 3; round++ {
		for _, want := range ids {
			inst, ok := reg.Discover("svc")
			require.True(t, ok)
			assert.Equal(t, want, inst.ID)
		}
	}
}

func TestWeightedDistribution(t *testing.T) {
	reg := newTestRegistry(t, nil, WithRand(rand.NewPCG(7, 11)))
	reg.SetStrategy(WeightedRoundRobin)
	light := register(t, reg, "svc", "light", func(d *Descriptor) { d.Weight = 10 })
	heavy := register(t, reg, "svc", "heavy", func(d *Descriptor) { d.Weight = 90 })

	counts := map[string]int{}
	const draws = 2000
	for i := 0; i < draws; i++ {
		inst, ok := reg.Discover("svc")
		require.True(t, ok)
		counts[inst.ID]++
	}
	assert.Equal(t, draws, counts[light]+counts[heavy])
	ratio := float64(counts[heavy]) / draws
	assert.InDelta(t, 0.9, ratio, 0.05, "heavy 实例应接近 90%% 的流量，实际 %.3f", ratio)
}

func TestLeastConnections(t *testing.T) {
	reg := newTestRegistry(t, &Config{Strategy: LeastConnections})
	busy := register(t, reg, "svc", "busy", func(d *Descriptor) {
		d.Metadata = map[string]string{MetadataConnections: "100"}
	})
	idle := register(t, reg, "svc", "idle", func(d *Descriptor) {
		d.Metadata = map[string]string{MetadataConnections: "5"}
	})

	for i := 0; i < 5; i++ {
		inst, _ := reg.Discover("svc")
		assert.Equal(t, idle, inst.ID)
	}

	require.True(t, reg.SetMetadata(idle, MetadataConnections, "500"))
	inst, _ := reg.Discover("svc")
	assert.Equal(t, busy, inst.ID)

	// 非法值按 0 计
	require.True(t, reg.SetMetadata(busy, MetadataConnections, "many"))
	require.True(t, reg.SetMetadata(idle, MetadataConnections, "1"))
	inst, _ = reg.Discover("svc")
	assert.Equal(t, busy, inst.ID)

	assert.False(t, reg.SetMetadata("missing", MetadataConnections, "1"))
}

func TestRandomOnlyPicksHealthy(t *testing.T) {
	prober := &switchProber{}
	reg := newTestRegistry(t, &Config{Strategy: Random, FailureThreshold: 1}, WithProber(prober), WithRand(rand.NewPCG(1, 2)))
	sick := register(t, reg, "svc", "sick", withHealthCheck)

	prober.fail.Store(true)
	reg.CheckHealth(context.Background())
	prober.fail.Store(false)

	ok1 := register(t, reg, "svc", "ok1")
	ok2 := register(t, reg, "svc", "ok2")

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, ok := reg.Discover("svc")
		require.True(t, ok)
		seen[inst.ID] = true
	}
	assert.False(t, seen[sick])
	assert.True(t, seen[ok1])
	assert.True(t, seen[ok2])
}

func TestHealthThreshold(t *testing.T) {
	prober := &switchProber{}
	reg := newTestRegistry(t, nil, WithProber(prober))
	id := register(t, reg, "svc", "h", withHealthCheck)
	register(t, reg, "svc", "no-probe")
	ctx := context.Background()

	prober.fail.Store(true)
	for i := 1; i <= 2; i++ {
		reg.CheckHealth(ctx)
		inst := findInstance(t, reg, "svc", id)
		assert.Equal(t, StatusHealthy, inst.Status, "第 %d 次失败后仍应健康", i)
		assert.Equal(t, i, inst.ConsecutiveFailures)
	}
	assert.Equal(t, int32(2), prober.calls.Load(), "没有 HealthCheckURL 的实例不参与探测")

	reg.CheckHealth(ctx)
	inst := findInstance(t, reg, "svc", id)
	assert.Equal(t, StatusUnhealthy, inst.Status)
	assert.Equal(t, 3, inst.ConsecutiveFailures)

	h := reg.Health("svc")
	assert.Equal(t, Health{Service: "svc", TotalInstances: 2, HealthyInstances: 1, UnhealthyInstances: 1, Status: HealthDegraded}, h)

	for i := 0; i < 4; i++ {
		picked, ok := reg.Discover("svc")
		require.True(t, ok)
		assert.NotEqual(t, id, picked.ID, "unhealthy 实例不参与发现")
	}

	// 一次成功即恢复
	prober.fail.Store(false)
	reg.CheckHealth(ctx)
	inst = findInstance(t, reg, "svc", id)
	assert.Equal(t, StatusHealthy, inst.Status)
	assert.Zero(t, inst.ConsecutiveFailures)
	assert.Equal(t, HealthHealthy, reg.Health("svc").Status)
}

func TestHealthUnavailable(t *testing.T) {
	prober := &switchProber{}
	reg := newTestRegistry(t, &Config{FailureThreshold: 1}, WithProber(prober))
	register(t, reg, "svc", "h", withHealthCheck)

	prober.fail.Store(true)
	reg.CheckHealth(context.Background())

	_, ok := reg.Discover("svc")
	assert.False(t, ok)
	assert.Equal(t, HealthUnavailable, reg.Health("svc").Status)
	assert.Equal(t, Health{Service: "ghost", Status: HealthUnavailable}, reg.Health("ghost"))
}

func TestProberPanicCountsAsFailure(t *testing.T) {
	panicky := ProberFunc(func(context.Context, *ServiceInstance) error { panic("boom") })
	reg := newTestRegistry(t, &Config{FailureThreshold: 1}, WithProber(panicky))
	id := register(t, reg, "svc", "h", withHealthCheck)

	require.NotPanics(t, func() { reg.CheckHealth(context.Background()) })
	assert.Equal(t, StatusUnhealthy, findInstance(t, reg, "svc", id).Status)
}

func TestCleanupExpired(t *testing.T) {
	clock := newFakeClock()
	prober := &switchProber{}
	reg := newTestRegistry(t, nil, WithClock(clock.Now), WithProber(prober))

	stale := register(t, reg, "svc", "stale")
	renewed := register(t, reg, "svc", "renewed")
	probed := register(t, reg, "other", "probed", withHealthCheck)

	clock.Advance(4 * time.Minute)
	require.True(t, reg.Renew(renewed))
	reg.CheckHealth(context.Background())
	assert.Zero(t, reg.CleanupExpired(), "未超过 5 分钟不应清理")

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, reg.CleanupExpired())
	assert.Nil(t, findInstanceOrNil(reg, "svc", stale))
	assert.NotNil(t, findInstanceOrNil(reg, "svc", renewed))
	assert.NotNil(t, findInstanceOrNil(reg, "other", probed), "成功探测刷新心跳")

	clock.Advance(10 * time.Minute)
	assert.Equal(t, 2, reg.CleanupExpired())
	assert.Empty(t, reg.Services(), "服务没有实例后一并删除")
	assert.False(t, reg.Renew(renewed))
}

func TestDeregisterIdempotent(t *testing.T) {
	reg := newTestRegistry(t, nil)
	id := register(t, reg, "svc", "h")

	assert.True(t, reg.Deregister(id))
	assert.False(t, reg.Deregister(id))
	assert.False(t, reg.Deregister("never-registered"))
	assert.Empty(t, reg.Instances("svc"))
	assert.Empty(t, reg.Services())
}

func TestProbeResultForRemovedInstanceIgnored(t *testing.T) {
	var reg Registry
	var id string
	prober := ProberFunc(func(context.Context, *ServiceInstance) error {
		reg.Deregister(id)
		return ErrProbeFailed
	})
	reg = newTestRegistry(t, &Config{FailureThreshold: 1}, WithProber(prober))
	id = register(t, reg, "svc", "h", withHealthCheck)

	reg.CheckHealth(context.Background())
	assert.Empty(t, reg.Instances("svc"))
}

func TestWatch(t *testing.T) {
	reg := newTestRegistry(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := reg.Watch(ctx, "svc")
	require.NoError(t, err)

	_, err = reg.Watch(ctx, "")
	assert.Error(t, err)

	id := register(t, reg, "svc", "h")
	register(t, reg, "other", "h")
	reg.Deregister(id)

	event := <-ch
	assert.Equal(t, EventTypePut, event.Type)
	assert.Equal(t, id, event.Instance.ID)
	event = <-ch
	assert.Equal(t, EventTypeDelete, event.Type)
	assert.Equal(t, id, event.Instance.ID)

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 10*time.Millisecond)
}

func TestStrategySwitch(t *testing.T) {
	reg := newTestRegistry(t, &Config{Strategy: LeastConnections})
	assert.Equal(t, LeastConnections, reg.Strategy())

	reg.SetStrategy(Random)
	assert.Equal(t, Random, reg.Strategy())

	register(t, reg, "svc", "h")
	reg.Reset()
	assert.Equal(t, LeastConnections, reg.Strategy(), "Reset 恢复初始策略")
	assert.Empty(t, reg.Services())
}

func TestStartStop(t *testing.T) {
	prober := &switchProber{}
	reg := newTestRegistry(t, &Config{HealthCheckInterval: 10 * time.Millisecond, CleanupInterval: 10 * time.Millisecond}, WithProber(prober))
	register(t, reg, "svc", "h", withHealthCheck)

	require.NoError(t, reg.Start(context.Background()))
	assert.ErrorIs(t, reg.Start(context.Background()), ErrAlreadyStarted)

	require.Eventually(t, func() bool { return prober.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	reg.Stop()
	calls := prober.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, prober.calls.Load(), "Stop 后不再探测")
	reg.Stop()
}

func TestConcurrentAccess(t *testing.T) {
	reg := newTestRegistry(t, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id, err := reg.Register(context.Background(), &Descriptor{Name: "svc", Host: "h", Port: 1, Protocol: "http"})
				if err != nil {
					t.Error(err)
					return
				}
				reg.Discover("svc")
				reg.Health("svc")
				reg.Deregister(id)
			}
		}()
	}
	wg.Wait()
	assert.Empty(t, reg.Instances("svc"))
}

func TestInstanceMetrics(t *testing.T) {
	meter, err := metrics.New(&metrics.Config{Enabled: true})
	require.NoError(t, err)
	defer func() { _ = meter.Shutdown(context.Background()) }()

	prober := &switchProber{}
	reg := newTestRegistry(t, nil, WithMeter(meter), WithProber(prober))
	register(t, reg, "user-service", "h", withHealthCheck)
	reg.CheckHealth(context.Background())

	w := httptest.NewRecorder()
	meter.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	assert.Contains(t, body, MetricInstances)
	assert.Contains(t, body, `service="user-service"`)
	assert.Contains(t, body, MetricProbesTotal)
	assert.Contains(t, body, `outcome="success"`)
}

func findInstanceOrNil(reg Registry, name, id string) *ServiceInstance {
	for _, inst := range reg.Instances(name) {
		if inst.ID == id {
			return inst
		}
	}
	return nil
}

func findInstance(t *testing.T, reg Registry, name, id string) *ServiceInstance {
	t.Helper()
	inst := findInstanceOrNil(reg, name, id)
	require.NotNil(t, inst, "实例 %s 不存在", id)
	return inst
}
