package registry

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"

	"github.com/ceyewan/mesh/xerrors"
)

// Strategy 负载均衡策略
type Strategy int

const (
	RoundRobin Strategy = iota
	WeightedRoundRobin
	LeastConnections
	Random
)

// MetadataConnections 实例 metadata 中记录当前连接数的键，least-connections 策略读取
const MetadataConnections = "connections"

var strategyNames = map[Strategy]string{
	RoundRobin:         "round-robin",
	WeightedRoundRobin: "weighted-round-robin",
	LeastConnections:   "least-connections",
	Random:             "random",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseStrategy 解析策略名，大小写不敏感，weighted 是 weighted-round-robin 的别名
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "round-robin", "roundrobin":
		return RoundRobin, nil
	case "weighted-round-robin", "weighted":
		return WeightedRoundRobin, nil
	case "least-connections", "leastconnections":
		return LeastConnections, nil
	case "random":
		return Random, nil
	}
	return RoundRobin, xerrors.Wrapf(ErrUnknownStrategy, "strategy %q", s)
}

func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// lockedRand 为多个服务条目共享同一随机源
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newLockedRand(src rand.Source) *lockedRand {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &lockedRand{r: rand.New(src)}
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

// pick 从健康实例中按策略选出一个，调用方持有 entry 锁且 healthy 非空
func (e *serviceEntry) pick(strategy Strategy, healthy []*ServiceInstance, rng *lockedRand) *ServiceInstance {
	switch strategy {
	case WeightedRoundRobin:
		return pickWeighted(healthy, rng)
	case LeastConnections:
		return pickLeastConnections(healthy)
	case Random:
		return healthy[rng.IntN(len(healthy))]
	default:
		inst := healthy[e.cursor%len(healthy)]
		e.cursor = (e.cursor + 1) % len(healthy)
		return inst
	}
}

// pickWeighted 按权重做累积分布抽样，权重小于 1 按 1 计
func pickWeighted(healthy []*ServiceInstance, rng *lockedRand) *ServiceInstance {
	total := 0
	for _, inst := range healthy {
		total += max(inst.Weight, 1)
	}
	n := rng.IntN(total)
	for _, inst := range healthy {
		n -= max(inst.Weight, 1)
		if n < 0 {
			return inst
		}
	}
	return healthy[len(healthy)-1]
}

// pickLeastConnections 选 connections 最小的实例，缺失或非法视为 0，相同时取注册顺序靠前的
func pickLeastConnections(healthy []*ServiceInstance) *ServiceInstance {
	best, bestConns := healthy[0], connections(healthy[0])
	for _, inst := range healthy[1:] {
		if c := connections(inst); c < bestConns {
			best, bestConns = inst, c
		}
	}
	return best
}

func connections(inst *ServiceInstance) int {
	n, err := strconv.Atoi(inst.Metadata[MetadataConnections])
	if err != nil {
		return 0
	}
	return n
}
