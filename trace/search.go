package trace

import (
	"slices"
	"sort"
	"strings"
	"time"
)

// Filter 检索条件，零值字段不参与过滤
type Filter struct {
	ServiceName   string            `form:"service_name" json:"service_name,omitempty"`     // 任一 Span 的服务精确匹配
	Status        Status            `form:"status" json:"status,omitempty"`                 // Trace 当前状态精确匹配
	OperationName string            `form:"operation_name" json:"operation_name,omitempty"` // 根 Span 操作名子串匹配
	StartFrom     time.Time         `form:"start_from" json:"start_from,omitzero"`
	StartTo       time.Time         `form:"start_to" json:"start_to,omitzero"`
	MinDuration   time.Duration     `form:"min_duration" json:"min_duration,omitempty"`
	MaxDuration   time.Duration     `form:"max_duration" json:"max_duration,omitempty"`
	Tags          map[string]string `form:"-" json:"tags,omitempty"` // 同一个 Span 上全部键值精确匹配
	Limit         int               `form:"limit" json:"limit,omitempty"`
}

// TraceSummary 检索结果
type TraceSummary struct {
	TraceID       string        `json:"trace_id"`
	OperationName string        `json:"operation_name"`
	Services      []string      `json:"services"`
	SpanCount     int           `json:"span_count"`
	Status        Status        `json:"status"`
	StartTime     time.Time     `json:"start_time"`
	Duration      time.Duration `json:"duration"`
}

// Search 只检索进行中的 Trace，结果按开始时间倒序
func (t *tracer) Search(f Filter) []*TraceSummary {
	t.mu.RLock()
	live := make([]*liveTrace, 0, len(t.traces))
	for _, lt := range t.traces {
		live = append(live, lt)
	}
	t.mu.RUnlock()

	now := t.now()
	var out []*TraceSummary
	for _, lt := range live {
		if s, ok := lt.summarize(now, &f); ok {
			out = append(out, s)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].TraceID < out[j].TraceID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func (lt *liveTrace) summarize(now time.Time, f *Filter) (*TraceSummary, bool) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.finalized || len(lt.spans) == 0 {
		return nil, false
	}

	s := &TraceSummary{
		TraceID:   lt.id,
		SpanCount: len(lt.spans),
		Status:    StatusOK,
		StartTime: lt.startTime,
		Duration:  now.Sub(lt.startTime),
	}
	if root := rootSpan(lt.spans); root != nil {
		s.OperationName = root.OperationName
	}

	serviceHit, tagHit := f.ServiceName == "", len(f.Tags) == 0
	for _, span := range lt.spans {
		if span.Status == StatusError {
			s.Status = StatusError
		}
		if !slices.Contains(s.Services, span.ServiceName) {
			s.Services = append(s.Services, span.ServiceName)
		}
		if span.ServiceName == f.ServiceName {
			serviceHit = true
		}
		if !tagHit && tagsMatch(span.Tags, f.Tags) {
			tagHit = true
		}
	}
	sort.Strings(s.Services)

	switch {
	case !serviceHit, !tagHit:
		return nil, false
	case f.Status != "" && s.Status != f.Status:
		return nil, false
	case f.OperationName != "" && !strings.Contains(s.OperationName, f.OperationName):
		return nil, false
	case !f.StartFrom.IsZero() && s.StartTime.Before(f.StartFrom):
		return nil, false
	case !f.StartTo.IsZero() && s.StartTime.After(f.StartTo):
		return nil, false
	case f.MinDuration > 0 && s.Duration < f.MinDuration:
		return nil, false
	case f.MaxDuration > 0 && s.Duration > f.MaxDuration:
		return nil, false
	}
	return s, true
}

func tagsMatch(tags, want map[string]string) bool {
	for k, v := range want {
		if got, ok := tags[k]; !ok || got != v {
			return false
		}
	}
	return true
}
