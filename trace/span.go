package trace

import (
	"encoding/hex"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status Span / Trace 状态
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// LogRecord Span 上的一条日志
type LogRecord struct {
	Time    time.Time         `json:"time" msgpack:"time"`
	Message string            `json:"message" msgpack:"message"`
	Fields  map[string]string `json:"fields,omitempty" msgpack:"fields,omitempty"`
}

// Log 构造一条日志记录，Time 为空时由 FinishSpan 填充
func Log(message string, fields map[string]string) LogRecord {
	return LogRecord{Message: message, Fields: fields}
}

// Span 一次操作。ServiceName 为创建时的服务标识快照。
type Span struct {
	TraceID       string            `json:"trace_id" msgpack:"trace_id"`
	SpanID        string            `json:"span_id" msgpack:"span_id"`
	ParentSpanID  string            `json:"parent_span_id,omitempty" msgpack:"parent_span_id,omitempty"`
	OperationName string            `json:"operation_name" msgpack:"operation_name"`
	ServiceName   string            `json:"service_name" msgpack:"service_name"`
	StartTime     time.Time         `json:"start_time" msgpack:"start_time"`
	EndTime       time.Time         `json:"end_time,omitzero" msgpack:"end_time,omitempty"`
	Status        Status            `json:"status" msgpack:"status"`
	Tags          map[string]string `json:"tags,omitempty" msgpack:"tags"`
	Logs          []LogRecord       `json:"logs,omitempty" msgpack:"logs,omitempty"`
	Error         string            `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Finished 是否已结束
func (s *Span) Finished() bool {
	return !s.EndTime.IsZero()
}

// Context 返回用于传播的上下文
func (s *Span) Context() SpanContext {
	return SpanContext{TraceID: s.TraceID, SpanID: s.SpanID, ParentSpanID: s.ParentSpanID}
}

func (s *Span) clone() *Span {
	c := *s
	c.Tags = maps.Clone(s.Tags)
	c.Logs = slices.Clone(s.Logs)
	return &c
}

// SpanContext 跨进程传播的最小上下文
type SpanContext struct {
	TraceID      string `json:"trace_id"`
	SpanID       string `json:"span_id"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
}

// TraceRef StartTrace 的返回值
type TraceRef struct {
	TraceID string   `json:"trace_id"`
	SpanIDs []string `json:"span_ids"`
}

// TraceDetails 进行中 Trace 的快照
type TraceDetails struct {
	TraceID    string        `json:"trace_id"`
	Spans      []*Span       `json:"spans"`
	Status     Status        `json:"status"`
	StartTime  time.Time     `json:"start_time"`
	Duration   time.Duration `json:"duration"`
	ServiceMap ServiceMap    `json:"service_map"`
}

// CompletedTrace 所有 Span 结束后交给 Exporter 的数据
type CompletedTrace struct {
	TraceID   string        `json:"trace_id" msgpack:"trace_id"`
	Status    Status        `json:"status" msgpack:"status"`
	StartTime time.Time     `json:"start_time" msgpack:"start_time"`
	EndTime   time.Time     `json:"end_time" msgpack:"end_time"`
	Duration  time.Duration `json:"duration" msgpack:"duration"`
	Spans     []*Span       `json:"spans" msgpack:"spans"`
}

// Root 返回根 Span：第一个父 Span 不在本 Trace 内的 Span
func (t *CompletedTrace) Root() *Span {
	return rootSpan(t.Spans)
}

func rootSpan(spans []*Span) *Span {
	ids := make(map[string]struct{}, len(spans))
	for _, s := range spans {
		ids[s.SpanID] = struct{}{}
	}
	for _, s := range spans {
		if _, local := ids[s.ParentSpanID]; !local {
			return s
		}
	}
	if len(spans) > 0 {
		return spans[0]
	}
	return nil
}

// newTraceID 32 位小写十六进制
func newTraceID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// newSpanID 16 位小写十六进制
func newSpanID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:8])
}

func validID(id string, size int) bool {
	if len(id) != size || strings.Trim(id, "0") == "" {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil && strings.ToLower(id) == id
}
