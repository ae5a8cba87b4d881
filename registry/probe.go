package registry

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ceyewan/mesh/xerrors"
)

// Prober 对单个实例做一次健康探测，返回 nil 表示健康
type Prober interface {
	Probe(ctx context.Context, inst *ServiceInstance) error
}

// ProberFunc 函数适配器
type ProberFunc func(ctx context.Context, inst *ServiceInstance) error

func (f ProberFunc) Probe(ctx context.Context, inst *ServiceInstance) error {
	return f(ctx, inst)
}

// NewProber 返回默认探测器：
//   - http:// 与 https:// 发 GET，2xx 视为健康
//   - grpc://host:port/<service> 调用 grpc.health.v1.Health/Check，SERVING 视为健康
func NewProber() Prober {
	return &defaultProber{
		http: resty.New().
			SetHeader("User-Agent", "mesh-health-probe").
			SetRedirectPolicy(resty.FlexibleRedirectPolicy(3)),
	}
}

type defaultProber struct {
	http *resty.Client
}

func (p *defaultProber) Probe(ctx context.Context, inst *ServiceInstance) error {
	u, err := url.Parse(inst.HealthCheckURL)
	if err != nil {
		return xerrors.Wrapf(ErrProbeFailed, "parse health check url: %v", err)
	}
	if u.Scheme == "grpc" {
		return probeGRPC(ctx, u)
	}
	return p.probeHTTP(ctx, inst.HealthCheckURL)
}

func (p *defaultProber) probeHTTP(ctx context.Context, target string) error {
	resp, err := p.http.R().SetContext(ctx).Get(target)
	if err != nil {
		return xerrors.Wrapf(ErrProbeFailed, "GET %s: %v", target, err)
	}
	if !resp.IsSuccess() {
		return xerrors.Wrapf(ErrProbeFailed, "GET %s: status %d", target, resp.StatusCode())
	}
	return nil
}

func probeGRPC(ctx context.Context, u *url.URL) error {
	conn, err := grpc.NewClient(u.Host, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return xerrors.Wrapf(ErrProbeFailed, "dial %s: %v", u.Host, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{
		Service: strings.TrimPrefix(u.Path, "/"),
	})
	if err != nil {
		return xerrors.Wrapf(ErrProbeFailed, "grpc health check %s: %v", u.Host, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return xerrors.Wrapf(ErrProbeFailed, "grpc health check %s: %s", u.Host, resp.GetStatus())
	}
	return nil
}

// safeProbe 探测器 panic 计为一次失败
func safeProbe(ctx context.Context, p Prober, inst *ServiceInstance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.Wrapf(ErrProbeFailed, "prober panic: %v", r)
		}
	}()
	return p.Probe(ctx, inst)
}

func validHealthCheckURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http", "https", "grpc":
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
