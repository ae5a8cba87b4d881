package registry

import (
	"context"
	"net"
	"strconv"
	"strings"

	"google.golang.org/grpc/resolver"

	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/xerrors"
)

// Scheme gRPC 解析器 scheme，目标格式 mesh:///<service_name>
const Scheme = "mesh"

var errNoHealthyInstances = xerrors.New("no healthy service instances")

// NewResolverBuilder 返回基于注册中心的 gRPC resolver.Builder
func NewResolverBuilder(reg Registry) resolver.Builder {
	logger := clog.Discard()
	if r, ok := reg.(*memRegistry); ok {
		logger = r.logger
	}
	return &resolverBuilder{registry: reg, logger: logger}
}

type resolverBuilder struct {
	registry Registry
	logger   clog.Logger
}

// Build 创建 resolver
func (b *resolverBuilder) Build(target resolver.Target, cc resolver.ClientConn, _ resolver.BuildOptions) (resolver.Resolver, error) {
	serviceName := target.Endpoint()
	if serviceName == "" {
		serviceName = strings.TrimPrefix(target.URL.Path, "/")
	}
	if serviceName == "" {
		return nil, xerrors.Wrap(ErrInvalidDescriptor, "resolver target has no service name")
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := b.registry.Watch(ctx, serviceName)
	if err != nil {
		cancel()
		return nil, err
	}

	r := &meshResolver{
		registry:    b.registry,
		logger:      b.logger,
		serviceName: serviceName,
		cc:          cc,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	r.pushState()
	go r.run(events)
	return r, nil
}

// Scheme 返回 scheme
func (b *resolverBuilder) Scheme() string {
	return Scheme
}

// meshResolver 每次事件都按当前 healthy 实例全量推送，实例数量通常很小
type meshResolver struct {
	registry    Registry
	logger      clog.Logger
	serviceName string
	cc          resolver.ClientConn
	cancel      context.CancelFunc
	done        chan struct{}
}

func (r *meshResolver) run(events <-chan ServiceEvent) {
	defer close(r.done)
	for range events {
		r.pushState()
	}
}

func (r *meshResolver) pushState() {
	var addrs []resolver.Address
	for _, inst := range r.registry.Instances(r.serviceName) {
		if !inst.Healthy() {
			continue
		}
		addrs = append(addrs, resolver.Address{
			Addr:       net.JoinHostPort(inst.Host, strconv.Itoa(inst.Port)),
			ServerName: inst.Name,
		})
	}

	// 没有可用地址时上报错误，RPC 快速失败而不是一直等待
	if len(addrs) == 0 {
		r.cc.ReportError(xerrors.Wrapf(errNoHealthyInstances, "service %s", r.serviceName))
		return
	}
	if err := r.cc.UpdateState(resolver.State{Addresses: addrs}); err != nil {
		r.logger.Warn("failed to update resolver state",
			clog.String("service_name", r.serviceName),
			clog.Error(err))
	}
}

// ResolveNow 立即全量刷新
func (r *meshResolver) ResolveNow(resolver.ResolveNowOptions) {
	r.pushState()
}

// Close 停止监听
func (r *meshResolver) Close() {
	r.cancel()
	<-r.done
}
