// Package registry 提供进程内的服务注册中心：实例生命周期、周期健康探测、负载均衡选择与过期清理。
//
// 实例状态机：
//
//	register --> healthy --连续探测失败 >= FailureThreshold--> unhealthy
//	unhealthy --一次探测成功--> healthy
//	任意状态 --deregister / 心跳超过 ExpireAfter--> 删除
//
// 只有 healthy 实例参与 Discover。注册时实例即为 healthy，心跳时间为注册时间；
// 成功的探测和 Renew 会刷新心跳。没有 HealthCheckURL 的实例不参与探测，
// 需要调用方通过 Renew 续约，否则会被过期清理。
//
// ## 基本使用
//
//	reg, _ := registry.New(&registry.Config{Strategy: registry.RoundRobin},
//		registry.WithLogger(logger), registry.WithMeter(meter))
//	_ = reg.Start(ctx)
//	defer reg.Stop()
//
//	id, err := reg.Register(ctx, &registry.Descriptor{
//		Name:           "user-service",
//		Host:           "10.0.0.12",
//		Port:           8080,
//		Protocol:       "http",
//		HealthCheckURL: "http://10.0.0.12:8080/healthz",
//	})
//
//	inst, ok := reg.Discover("user-service")
//
// ## gRPC 集成
//
// NewResolverBuilder 返回 `mesh:///<service_name>` 解析器，地址列表跟随实例健康状态变化：
//
//	conn, err := grpc.NewClient("mesh:///user-service",
//		grpc.WithResolvers(registry.NewResolverBuilder(reg)),
//		grpc.WithTransportCredentials(insecure.NewCredentials()),
//	)
package registry

import (
	"context"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/metrics"
	"github.com/ceyewan/mesh/xerrors"
)

// ============================================================================
// 接口定义
// ============================================================================

// Registry 服务注册中心
type Registry interface {
	// Register 注册实例并返回实例 ID，实例立即为 healthy
	Register(ctx context.Context, desc *Descriptor) (string, error)

	// Deregister 注销实例，实例不存在时返回 false，重复调用安全
	Deregister(id string) bool

	// Renew 刷新实例心跳，实例不存在时返回 false
	Renew(id string) bool

	// SetMetadata 更新实例的一个 metadata 键，例如 least-connections 使用的 connections
	SetMetadata(id, key, value string) bool

	// Discover 按当前策略从 healthy 实例中选择一个
	Discover(name string) (*ServiceInstance, bool)

	// Instances 返回服务所有实例的快照，按注册顺序
	Instances(name string) []*ServiceInstance

	// Services 返回已注册的服务名，按字典序
	Services() []string

	// Health 服务级健康汇总
	Health(name string) Health

	// Strategy / SetStrategy 查询和切换负载均衡策略，切换立即生效
	Strategy() Strategy
	SetStrategy(s Strategy)

	// CheckHealth 对所有配置了 HealthCheckURL 的实例执行一轮探测
	CheckHealth(ctx context.Context)

	// CleanupExpired 删除心跳超过 ExpireAfter 的实例，返回删除数量
	CleanupExpired() int

	// Watch 监听服务变化，ctx 取消后 channel 关闭
	Watch(ctx context.Context, name string) (<-chan ServiceEvent, error)

	// Start 启动周期探测与过期清理，Stop 停止并等待后台任务退出
	Start(ctx context.Context) error
	Stop()

	// Reset 清空所有实例并恢复初始策略
	Reset()
}

// New 创建注册中心
func New(cfg *Config, opts ...Option) (Registry, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	c.setDefaults()

	o := options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.prober == nil {
		o.prober = NewProber()
	}

	r := &memRegistry{
		cfg:      c,
		logger:   o.logger,
		prober:   o.prober,
		now:      o.clock,
		rng:      newLockedRand(o.source),
		services: make(map[string]*serviceEntry),
		index:    make(map[string]string),
		watchers: make(map[string][]*watcher),
	}
	r.strategy.Store(int32(c.Strategy))

	var err error
	if r.instancesGauge, err = o.meter.Gauge(MetricInstances, "Registered service instances by health status."); err != nil {
		return nil, err
	}
	if r.probes, err = o.meter.Counter(MetricProbesTotal, "Health probes executed."); err != nil {
		return nil, err
	}
	if r.expired, err = o.meter.Counter(MetricExpiredTotal, "Instances removed by the expiry sweep."); err != nil {
		return nil, err
	}

	r.logger.Info("service registry created",
		clog.String("strategy", c.Strategy.String()),
		clog.Duration("health_check_interval", c.HealthCheckInterval),
		clog.Int("failure_threshold", c.FailureThreshold),
		clog.Duration("expire_after", c.ExpireAfter))
	return r, nil
}

// Must 类似 New，出错时 panic
func Must(cfg *Config, opts ...Option) Registry {
	return xerrors.Must(New(cfg, opts...))
}

// ============================================================================
// 内存实现
// ============================================================================

// serviceEntry 单个服务的实例列表，变更和选择都在 entry 锁内完成
type serviceEntry struct {
	mu        sync.Mutex
	instances []*ServiceInstance
	cursor    int
}

// memRegistry 锁顺序：mu 先于 entry.mu，watchMu 不与其它锁嵌套获取
type memRegistry struct {
	cfg    Config
	logger clog.Logger
	prober Prober
	now    func() time.Time
	rng    *lockedRand

	strategy atomic.Int32

	mu       sync.RWMutex
	services map[string]*serviceEntry
	index    map[string]string // instance id -> service name

	watchMu  sync.Mutex
	watchers map[string][]*watcher

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	instancesGauge metrics.Gauge
	probes         metrics.Counter
	expired        metrics.Counter
}

func (r *memRegistry) Register(ctx context.Context, desc *Descriptor) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateDescriptor(desc); err != nil {
		return "", err
	}

	now := r.now()
	inst := &ServiceInstance{
		ID:             desc.ID,
		Name:           desc.Name,
		Version:        desc.Version,
		Host:           desc.Host,
		Port:           desc.Port,
		Protocol:       desc.Protocol,
		Weight:         max(desc.Weight, 1),
		HealthCheckURL: desc.HealthCheckURL,
		Status:         StatusHealthy,
		LastHeartbeat:  now,
		RegisteredAt:   now,
		Metadata:       make(map[string]string, len(desc.Metadata)),
	}
	for k, v := range desc.Metadata {
		inst.Metadata[k] = v
	}
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}

	r.mu.Lock()
	if _, exists := r.index[inst.ID]; exists {
		r.mu.Unlock()
		return "", xerrors.Wrapf(ErrServiceAlreadyRegistered, "instance %s", inst.ID)
	}
	entry, ok := r.services[inst.Name]
	if !ok {
		entry = &serviceEntry{}
		r.services[inst.Name] = entry
	}
	r.index[inst.ID] = inst.Name
	entry.mu.Lock()
	entry.instances = append(entry.instances, inst)
	snapshot := inst.clone()
	healthy, unhealthy := entry.countLocked()
	entry.mu.Unlock()
	r.mu.Unlock()

	r.recordInstances(inst.Name, healthy, unhealthy)
	r.publish(ServiceEvent{Type: EventTypePut, Instance: snapshot})
	r.logger.InfoContext(ctx, "service instance registered",
		clog.String("service_name", inst.Name),
		clog.String("instance_id", inst.ID),
		clog.String("address", inst.Host),
		clog.Int("port", inst.Port))
	return inst.ID, nil
}

func (r *memRegistry) Deregister(id string) bool {
	removed := r.remove(id)
	if removed == nil {
		return false
	}
	r.logger.Info("service instance deregistered",
		clog.String("service_name", removed.Name),
		clog.String("instance_id", id))
	return true
}

// remove 删除实例，服务没有实例时一并删除服务条目
func (r *memRegistry) remove(id string) *ServiceInstance {
	r.mu.Lock()
	name, ok := r.index[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.index, id)
	entry := r.services[name]

	entry.mu.Lock()
	var removed *ServiceInstance
	entry.instances = slices.DeleteFunc(entry.instances, func(inst *ServiceInstance) bool {
		if inst.ID == id {
			removed = inst
			return true
		}
		return false
	})
	healthy, unhealthy := entry.countLocked()
	empty := len(entry.instances) == 0
	entry.mu.Unlock()
	if empty {
		delete(r.services, name)
	}
	r.mu.Unlock()

	r.recordInstances(name, healthy, unhealthy)
	if removed != nil {
		r.publish(ServiceEvent{Type: EventTypeDelete, Instance: removed.clone()})
	}
	return removed
}

func (r *memRegistry) Renew(id string) bool {
	return r.update(id, func(inst *ServiceInstance) {
		inst.LastHeartbeat = r.now()
	})
}

func (r *memRegistry) SetMetadata(id, key, value string) bool {
	return r.update(id, func(inst *ServiceInstance) {
		if inst.Metadata == nil {
			inst.Metadata = make(map[string]string)
		}
		inst.Metadata[key] = value
	})
}

// update 在 entry 锁内修改单个实例
func (r *memRegistry) update(id string, fn func(inst *ServiceInstance)) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.index[id]
	if !ok {
		return false
	}
	entry := r.services[name]
	entry.mu.Lock()
	defer entry.mu.Unlock()
	for _, inst := range entry.instances {
		if inst.ID == id {
			fn(inst)
			return true
		}
	}
	return false
}

func (r *memRegistry) lookup(name string) (*serviceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.services[name]
	return entry, ok
}

func (r *memRegistry) Discover(name string) (*ServiceInstance, bool) {
	entry, ok := r.lookup(name)
	if !ok {
		return nil, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	healthy := make([]*ServiceInstance, 0, len(entry.instances))
	for _, inst := range entry.instances {
		if inst.Healthy() {
			healthy = append(healthy, inst)
		}
	}
	if len(healthy) == 0 {
		return nil, false
	}
	return entry.pick(r.Strategy(), healthy, r.rng).clone(), true
}

func (r *memRegistry) Instances(name string) []*ServiceInstance {
	entry, ok := r.lookup(name)
	if !ok {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make([]*ServiceInstance, len(entry.instances))
	for i, inst := range entry.instances {
		out[i] = inst.clone()
	}
	return out
}

func (r *memRegistry) Services() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (r *memRegistry) Health(name string) Health {
	h := Health{Service: name, Status: HealthUnavailable}
	entry, ok := r.lookup(name)
	if !ok {
		return h
	}
	entry.mu.Lock()
	h.HealthyInstances, h.UnhealthyInstances = entry.countLocked()
	entry.mu.Unlock()

	h.TotalInstances = h.HealthyInstances + h.UnhealthyInstances
	switch {
	case h.TotalInstances > 0 && h.UnhealthyInstances == 0:
		h.Status = HealthHealthy
	case h.HealthyInstances > 0:
		h.Status = HealthDegraded
	}
	return h
}

func (e *serviceEntry) countLocked() (healthy, unhealthy int) {
	for _, inst := range e.instances {
		if inst.Healthy() {
			healthy++
		} else {
			unhealthy++
		}
	}
	return healthy, unhealthy
}

func (r *memRegistry) Strategy() Strategy {
	return Strategy(r.strategy.Load())
}

func (r *memRegistry) SetStrategy(s Strategy) {
	old := Strategy(r.strategy.Swap(int32(s)))
	if old != s {
		r.logger.Info("load balancing strategy changed",
			clog.String("from", old.String()),
			clog.String("to", s.String()))
	}
}

// ============================================================================
// 健康探测与过期清理
// ============================================================================

func (r *memRegistry) CheckHealth(ctx context.Context) {
	var targets []*ServiceInstance
	r.mu.RLock()
	for _, entry := range r.services {
		entry.mu.Lock()
		for _, inst := range entry.instances {
			if inst.HealthCheckURL != "" {
				targets = append(targets, inst.clone())
			}
		}
		entry.mu.Unlock()
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ProbeConcurrency)
	for _, t := range targets {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, r.cfg.ProbeTimeout)
			defer cancel()
			r.applyProbe(ctx, t, safeProbe(pctx, r.prober, t))
			return nil
		})
	}
	_ = g.Wait()
}

// applyProbe 探测期间实例可能已被删除，此时结果直接丢弃
func (r *memRegistry) applyProbe(ctx context.Context, target *ServiceInstance, probeErr error) {
	outcome := "success"
	if probeErr != nil {
		outcome = "failure"
	}
	r.probes.Inc(ctx, metrics.L(LabelService, target.Name), metrics.L(LabelOutcome, outcome))

	var (
		changed            *ServiceInstance
		healthy, unhealthy int
	)
	found := r.update(target.ID, func(inst *ServiceInstance) {
		prev := inst.Status
		if probeErr == nil {
			inst.ConsecutiveFailures = 0
			inst.Status = StatusHealthy
			inst.LastHeartbeat = r.now()
		} else {
			inst.ConsecutiveFailures++
			if inst.ConsecutiveFailures >= r.cfg.FailureThreshold {
				inst.Status = StatusUnhealthy
			}
		}
		if inst.Status != prev {
			changed = inst.clone()
		}
	})
	if !found || changed == nil {
		if probeErr != nil && found {
			r.logger.DebugContext(ctx, "health probe failed",
				clog.String("service_name", target.Name),
				clog.String("instance_id", target.ID),
				clog.Error(probeErr))
		}
		return
	}

	if entry, ok := r.lookup(target.Name); ok {
		entry.mu.Lock()
		healthy, unhealthy = entry.countLocked()
		entry.mu.Unlock()
	}
	r.recordInstances(target.Name, healthy, unhealthy)
	r.publish(ServiceEvent{Type: EventTypePut, Instance: changed})

	if changed.Healthy() {
		r.logger.InfoContext(ctx, "service instance recovered",
			clog.String("service_name", changed.Name),
			clog.String("instance_id", changed.ID))
		return
	}
	r.logger.WarnContext(ctx, "service instance marked unhealthy",
		clog.String("service_name", changed.Name),
		clog.String("instance_id", changed.ID),
		clog.Int("consecutive_failures", changed.ConsecutiveFailures),
		clog.Error(probeErr))
}

func (r *memRegistry) CleanupExpired() int {
	now := r.now()
	var stale []string
	r.mu.RLock()
	for _, entry := range r.services {
		entry.mu.Lock()
		for _, inst := range entry.instances {
			if now.Sub(inst.LastHeartbeat) > r.cfg.ExpireAfter {
				stale = append(stale, inst.ID)
			}
		}
		entry.mu.Unlock()
	}
	r.mu.RUnlock()

	count := 0
	for _, id := range stale {
		inst := r.remove(id)
		if inst == nil {
			continue
		}
		count++
		r.expired.Inc(context.Background(), metrics.L(LabelService, inst.Name))
		r.logger.Warn("service instance expired",
			clog.String("service_name", inst.Name),
			clog.String("instance_id", inst.ID),
			clog.Time("last_heartbeat", inst.LastHeartbeat))
	}
	return count
}

func (r *memRegistry) Start(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(2)
	go r.loop(ctx, r.cfg.HealthCheckInterval, func() { r.CheckHealth(ctx) })
	go r.loop(ctx, r.cfg.CleanupInterval, func() { r.CleanupExpired() })

	r.logger.Info("registry background tasks started")
	return nil
}

func (r *memRegistry) loop(ctx context.Context, interval time.Duration, fn func()) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (r *memRegistry) Stop() {
	r.runMu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
	r.logger.Info("registry background tasks stopped")
}

func (r *memRegistry) Reset() {
	r.mu.Lock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	r.services = make(map[string]*serviceEntry)
	r.index = make(map[string]string)
	r.mu.Unlock()

	for _, name := range names {
		r.recordInstances(name, 0, 0)
	}
	r.strategy.Store(int32(r.cfg.Strategy))
	r.logger.Info("registry reset", clog.Int("services", len(names)))
}

func (r *memRegistry) recordInstances(name string, healthy, unhealthy int) {
	ctx := context.Background()
	r.instancesGauge.Set(ctx, float64(healthy), metrics.L(LabelService, name), metrics.L(LabelStatus, string(StatusHealthy)))
	r.instancesGauge.Set(ctx, float64(unhealthy), metrics.L(LabelService, name), metrics.L(LabelStatus, string(StatusUnhealthy)))
}

func validateDescriptor(desc *Descriptor) error {
	switch {
	case desc == nil:
		return xerrors.Wrap(ErrInvalidDescriptor, "descriptor is nil")
	case desc.Name == "":
		return xerrors.Wrap(ErrInvalidDescriptor, "name is required")
	case desc.Host == "":
		return xerrors.Wrap(ErrInvalidDescriptor, "host is required")
	case desc.Port <= 0 || desc.Port > 65535:
		return xerrors.Wrapf(ErrInvalidDescriptor, "port %d out of range", desc.Port)
	case desc.Protocol == "":
		return xerrors.Wrap(ErrInvalidDescriptor, "protocol is required")
	case desc.Weight < 0:
		return xerrors.Wrapf(ErrInvalidDescriptor, "weight %d is negative", desc.Weight)
	}
	if desc.HealthCheckURL != "" {
		if err := validHealthCheckURL(desc.HealthCheckURL); err != nil {
			return xerrors.Wrapf(ErrInvalidDescriptor, "health check url: %v", err)
		}
	}
	return nil
}
