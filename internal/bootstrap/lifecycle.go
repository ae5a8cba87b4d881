package bootstrap

import (
	"context"
	"fmt"
	"sort"

	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/xerrors"
)

// 启动阶段，Phase 越小越先启动，停止时逆序
const (
	PhaseTelemetry = 0  // 指标，最后停止
	PhaseConnector = 10 // 导出使用的外部连接
	PhaseComponent = 20 // 注册中心后台任务
	PhaseService   = 30 // HTTP 入口
)

// Lifecycle 可由 App 管理启动与停止的对象
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Phase() int
}

// hook 用函数组装 Lifecycle
type hook struct {
	phase int
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

func (h hook) Start(ctx context.Context) error {
	if h.start == nil {
		return nil
	}
	return h.start(ctx)
}

func (h hook) Stop(ctx context.Context) error {
	if h.stop == nil {
		return nil
	}
	return h.stop(ctx)
}

func (h hook) Phase() int { return h.phase }

type lifecycleItem struct {
	name     string
	instance Lifecycle
}

// lifecycleManager 按阶段启动，失败时停止已启动的对象
type lifecycleManager struct {
	logger  clog.Logger
	items   []lifecycleItem
	started []lifecycleItem
}

func newLifecycleManager(logger clog.Logger) *lifecycleManager {
	return &lifecycleManager{logger: logger}
}

func (m *lifecycleManager) register(name string, instance Lifecycle) {
	m.items = append(m.items, lifecycleItem{name: name, instance: instance})
}

func (m *lifecycleManager) startAll(ctx context.Context) error {
	sort.SliceStable(m.items, func(i, j int) bool {
		return m.items[i].instance.Phase() < m.items[j].instance.Phase()
	})

	for _, item := range m.items {
		if err := item.instance.Start(ctx); err != nil {
			startErr := &LifecycleError{Phase: item.instance.Phase(), Name: item.name, Cause: err}
			return xerrors.Combine(startErr, m.stopAll(ctx))
		}
		m.started = append(m.started, item)
		m.logger.Debug("lifecycle started", clog.String("name", item.name), clog.Int("phase", item.instance.Phase()))
	}
	return nil
}

// stopAll 逆序停止已启动的对象，收集全部错误
func (m *lifecycleManager) stopAll(ctx context.Context) error {
	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		item := m.started[i]
		if err := item.instance.Stop(ctx); err != nil {
			m.logger.Warn("lifecycle stop failed", clog.String("name", item.name), clog.Error(err))
			errs = append(errs, xerrors.Wrapf(err, "stop %s", item.name))
		}
	}
	m.started = nil
	return xerrors.Combine(errs...)
}

// LifecycleError 启动失败的对象与阶段
type LifecycleError struct {
	Phase int
	Name  string
	Cause error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("lifecycle error in phase %d [%s]: %v", e.Phase, e.Name, e.Cause)
}

func (e *LifecycleError) Unwrap() error {
	return e.Cause
}
