package trace

import "sort"

// ServiceMap 由 Span 推导的服务拓扑，不做存储
type ServiceMap struct {
	Services map[string][]string `json:"services"` // 服务 -> span id
	Edges    []Edge              `json:"edges"`
}

// Edge 父子 Span 服务不同时的一条调用边
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Calls  int    `json:"calls"`
}

// names 返回排序后的服务名
func (sm ServiceMap) names() []string {
	names := make([]string, 0, len(sm.Services))
	for name := range sm.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func buildServiceMap(spans []*Span) ServiceMap {
	sm := ServiceMap{Services: make(map[string][]string)}
	byID := make(map[string]*Span, len(spans))
	for _, s := range spans {
		byID[s.SpanID] = s
		sm.Services[s.ServiceName] = append(sm.Services[s.ServiceName], s.SpanID)
	}

	type pair struct{ source, target string }
	calls := make(map[pair]int)
	for _, s := range spans {
		parent, ok := byID[s.ParentSpanID]
		if !ok || parent.ServiceName == s.ServiceName {
			continue
		}
		calls[pair{parent.ServiceName, s.ServiceName}]++
	}

	sm.Edges = make([]Edge, 0, len(calls))
	for p, n := range calls {
		sm.Edges = append(sm.Edges, Edge{Source: p.source, Target: p.target, Calls: n})
	}
	sort.Slice(sm.Edges, func(i, j int) bool {
		if sm.Edges[i].Source != sm.Edges[j].Source {
			return sm.Edges[i].Source < sm.Edges[j].Source
		}
		return sm.Edges[i].Target < sm.Edges[j].Target
	})
	return sm
}
