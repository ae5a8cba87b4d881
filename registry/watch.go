package registry

import (
	"context"
	"slices"

	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/xerrors"
)

// watchBuffer 单个监听者的事件缓冲，满了之后新事件被丢弃
const watchBuffer = 64

type watcher struct {
	ch chan ServiceEvent
}

func (r *memRegistry) Watch(ctx context.Context, name string) (<-chan ServiceEvent, error) {
	if name == "" {
		return nil, xerrors.Wrap(ErrInvalidDescriptor, "watch requires a service name")
	}

	w := &watcher{ch: make(chan ServiceEvent, watchBuffer)}
	r.watchMu.Lock()
	r.watchers[name] = append(r.watchers[name], w)
	r.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		r.watchMu.Lock()
		r.watchers[name] = slices.DeleteFunc(r.watchers[name], func(x *watcher) bool { return x == w })
		if len(r.watchers[name]) == 0 {
			delete(r.watchers, name)
		}
		close(w.ch)
		r.watchMu.Unlock()
	}()
	return w.ch, nil
}

// publish 非阻塞投递，关闭 channel 与投递都在 watchMu 内，不会向已关闭的 channel 发送
func (r *memRegistry) publish(event ServiceEvent) {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	for _, w := range r.watchers[event.Instance.Name] {
		select {
		case w.ch <- event:
		default:
			r.logger.Warn("watch channel full, event dropped",
				clog.String("service_name", event.Instance.Name),
				clog.String("event_type", string(event.Type)))
		}
	}
}
