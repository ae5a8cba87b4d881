// Package trace 提供进程内的分布式追踪器：Span 生命周期、跨进程上下文传播、服务拓扑推导与 Trace 检索。
//
// Trace 由第一个 Span 隐式创建。当 Trace 内所有 Span 都结束时：
// 状态取决于是否有 Span 出错，计算耗时，交给 Exporter 导出一次，然后从内存中移除，
// 之后 TraceDetails 与 Search 都不再返回它。
//
// 每个 Span 在创建时记录服务标识（WithService 或追踪器配置的 ServiceName），
// 父子 Span 服务不同即视为一次跨服务调用，体现在 ServiceMap 的边上。
//
// 基本使用：
//
//	tr, _ := trace.New(&trace.Config{ServiceName: "order-service"},
//		trace.WithLogger(logger),
//		trace.WithExporter(trace.NewMultiExporter(
//			trace.NewLogExporter(logger),
//			trace.NewNATSExporter(nc, "mesh.traces"),
//		)))
//
//	ref := tr.StartTrace("POST /orders", trace.WithTag("user_id", "42"))
//	child, _ := tr.CreateChildSpan(ref.SpanIDs[0], "charge", trace.WithService("payment-service"))
//	_ = tr.FinishSpan(child.SpanID, trace.WithError(err))
//	_ = tr.FinishSpan(ref.SpanIDs[0]) // 最后一个 Span 结束，Trace 被导出并移除
//
// 跨进程传播：
//
//	headers := map[string]string{}
//	_ = tr.Inject(span, trace.FormatHTTPHeaders, headers)
//	// 对端
//	if sc, ok := tr.Extract(trace.FormatHTTPHeaders, headers); ok {
//		span := tr.StartSpan("handle", trace.WithRemoteParent(*sc))
//	}
package trace

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ceyewan/mesh/clog"
	"github.com/ceyewan/mesh/metrics"
	"github.com/ceyewan/mesh/xerrors"
)

// ============================================================================
// 接口定义
// ============================================================================

// Tracer 分布式追踪器
type Tracer interface {
	// StartTrace 创建新 Trace 及其根 Span
	StartTrace(operation string, opts ...SpanOption) *TraceRef

	// StartSpan 创建根 Span；带 WithRemoteParent 时加入远端 Trace
	StartSpan(operation string, opts ...SpanOption) *Span

	// CreateChildSpan 在父 Span 所属 Trace 下创建子 Span
	CreateChildSpan(parentSpanID, operation string, opts ...SpanOption) (*Span, error)

	// FinishSpan 结束 Span，是 Trace 最后一个进行中的 Span 时导出并移除 Trace
	FinishSpan(spanID string, opts ...SpanOption) error

	// TraceDetails 返回进行中 Trace 的快照，已完成或不存在时返回 false
	TraceDetails(traceID string) (*TraceDetails, bool)

	// Inject 将 Span 上下文写入 carrier
	Inject(span *Span, format Format, carrier map[string]string) error

	// Extract 从 carrier 读取上下文，缺少 trace id 或 span id 时返回 false
	Extract(format Format, carrier map[string]string) (*SpanContext, bool)

	// Search 按条件检索进行中的 Trace
	Search(filter Filter) []*TraceSummary

	// Configure 替换配置，只影响之后创建的 Span 与导出
	Configure(cfg Config)

	// Reset 丢弃所有进行中的 Trace，不导出
	Reset()

	// Shutdown 关闭 Exporter
	Shutdown(ctx context.Context) error
}

// New 创建追踪器
func New(cfg *Config, opts ...Option) (Tracer, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	c.setDefaults()

	o := options{
		logger:   clog.Discard(),
		meter:    metrics.Discard(),
		exporter: discardExporter{},
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	t := &tracer{
		logger:   o.logger,
		exporter: o.exporter,
		now:      o.clock,
		traces:   make(map[string]*liveTrace),
		index:    make(map[string]*liveTrace),
	}
	t.cfg.Store(&c)

	var err error
	if t.spansStarted, err = o.meter.Counter(MetricSpansStarted, "Spans started by the tracer."); err != nil {
		return nil, err
	}
	if t.exported, err = o.meter.Counter(MetricTracesExported, "Completed traces handed to the exporter."); err != nil {
		return nil, err
	}
	if t.live, err = o.meter.Gauge(MetricLiveTraces, "Traces with at least one open span."); err != nil {
		return nil, err
	}

	t.logger.Info("tracer created",
		clog.String("service_name", c.ServiceName),
		clog.Duration("export_timeout", c.ExportTimeout))
	return t, nil
}

// Must 类似 New，出错时 panic
func Must(cfg *Config, opts ...Option) Tracer {
	return xerrors.Must(New(cfg, opts...))
}

// ============================================================================
// 内存实现
// ============================================================================

// liveTrace 进行中的 Trace，span 追加与结束在 mu 内完成
type liveTrace struct {
	mu        sync.Mutex
	id        string
	spans     []*Span
	open      int
	startTime time.Time
	finalized bool
}

// tracer 锁顺序：mu 先于 liveTrace.mu
type tracer struct {
	cfg      atomic.Pointer[Config]
	logger   clog.Logger
	exporter Exporter
	now      func() time.Time

	mu     sync.RWMutex
	traces map[string]*liveTrace // trace id
	index  map[string]*liveTrace // span id

	spansStarted metrics.Counter
	exported     metrics.Counter
	live         metrics.Gauge
}

func (t *tracer) StartTrace(operation string, opts ...SpanOption) *TraceRef {
	span := t.StartSpan(operation, opts...)
	return &TraceRef{TraceID: span.TraceID, SpanIDs: []string{span.SpanID}}
}

func (t *tracer) StartSpan(operation string, opts ...SpanOption) *Span {
	so := applySpanOptions(opts)
	span := t.newSpan(operation, so)

	if rp := so.remoteParent; rp != nil && validID(rp.TraceID, 32) {
		span.TraceID = rp.TraceID
		if validID(rp.SpanID, 16) {
			span.ParentSpanID = rp.SpanID
		}
	} else {
		span.TraceID = newTraceID()
	}

	t.mu.Lock()
	lt, ok := t.traces[span.TraceID]
	if !ok || !lt.appendSpan(span) {
		// 远端 Trace 首次到达本进程，或同 id 的本地 Trace 已完成
		lt = &liveTrace{id: span.TraceID, startTime: span.StartTime}
		lt.appendSpan(span)
		t.traces[span.TraceID] = lt
	}
	t.index[span.SpanID] = lt
	live := len(t.traces)
	t.mu.Unlock()

	t.recordStart(span, live)
	return span.clone()
}

func (t *tracer) CreateChildSpan(parentSpanID, operation string, opts ...SpanOption) (*Span, error) {
	so := applySpanOptions(opts)
	span := t.newSpan(operation, so)
	span.ParentSpanID = parentSpanID

	t.mu.Lock()
	lt, ok := t.index[parentSpanID]
	if !ok {
		t.mu.Unlock()
		return nil, xerrors.Wrapf(ErrSpanNotFound, "parent span %s", parentSpanID)
	}
	span.TraceID = lt.id
	if !lt.appendSpan(span) {
		t.mu.Unlock()
		return nil, xerrors.Wrapf(ErrSpanNotFound, "trace %s already completed", lt.id)
	}
	t.index[span.SpanID] = lt
	live := len(t.traces)
	t.mu.Unlock()

	t.recordStart(span, live)
	return span.clone(), nil
}

func (t *tracer) newSpan(operation string, so *spanOptions) *Span {
	service := so.service
	if service == "" {
		service = t.cfg.Load().ServiceName
	}
	span := &Span{
		SpanID:        newSpanID(),
		OperationName: operation,
		ServiceName:   service,
		StartTime:     t.now(),
		Status:        StatusOK,
		Tags:          so.tags,
		Logs:          t.stampLogs(so.logs),
	}
	if span.Tags == nil {
		span.Tags = make(map[string]string)
	}
	return span
}

// appendSpan 已完成的 Trace 不再接受新 Span
func (lt *liveTrace) appendSpan(span *Span) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.finalized {
		return false
	}
	lt.spans = append(lt.spans, span)
	lt.open++
	return true
}

func (t *tracer) recordStart(span *Span, live int) {
	ctx := context.Background()
	t.spansStarted.Inc(ctx, metrics.L(LabelService, span.ServiceName))
	t.live.Set(ctx, float64(live))
	t.logger.Debug("span started",
		clog.String("trace_id", span.TraceID),
		clog.String("span_id", span.SpanID),
		clog.String("parent_span_id", span.ParentSpanID),
		clog.String("operation", span.OperationName),
		clog.String("service_name", span.ServiceName))
}

func (t *tracer) FinishSpan(spanID string, opts ...SpanOption) error {
	so := applySpanOptions(opts)

	t.mu.RLock()
	lt, ok := t.index[spanID]
	t.mu.RUnlock()
	if !ok {
		return xerrors.Wrapf(ErrSpanNotFound, "span %s", spanID)
	}

	completed, err := lt.finish(spanID, t.now(), so, t.stampLogs(so.logs))
	if err != nil || completed == nil {
		return err
	}

	t.export(completed)

	t.mu.Lock()
	if t.traces[lt.id] == lt {
		delete(t.traces, lt.id)
	}
	for _, s := range completed.Spans {
		if t.index[s.SpanID] == lt {
			delete(t.index, s.SpanID)
		}
	}
	live := len(t.traces)
	t.mu.Unlock()
	t.live.Set(context.Background(), float64(live))
	return nil
}

// finish 结束一个 Span，Trace 因此完成时返回导出数据
func (lt *liveTrace) finish(spanID string, now time.Time, so *spanOptions, logs []LogRecord) (*CompletedTrace, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	var span *Span
	for _, s := range lt.spans {
		if s.SpanID == spanID {
			span = s
			break
		}
	}
	if span == nil || lt.finalized {
		return nil, xerrors.Wrapf(ErrSpanNotFound, "span %s", spanID)
	}
	if span.Finished() {
		return nil, xerrors.Wrapf(ErrSpanFinished, "span %s", spanID)
	}

	span.EndTime = now
	if so.err != nil {
		span.Status = StatusError
		span.Error = so.err.Error()
	}
	for k, v := range so.tags {
		span.Tags[k] = v
	}
	span.Logs = append(span.Logs, logs...)
	lt.open--

	if lt.open > 0 {
		return nil, nil
	}
	lt.finalized = true

	completed := &CompletedTrace{
		TraceID:   lt.id,
		Status:    StatusOK,
		StartTime: lt.startTime,
		Spans:     make([]*Span, len(lt.spans)),
	}
	for i, s := range lt.spans {
		completed.Spans[i] = s.clone()
		if s.Status == StatusError {
			completed.Status = StatusError
		}
		if s.EndTime.After(completed.EndTime) {
			completed.EndTime = s.EndTime
		}
	}
	completed.Duration = completed.EndTime.Sub(completed.StartTime)
	return completed, nil
}

// export 同步导出，失败只记录日志
func (t *tracer) export(completed *CompletedTrace) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.Load().ExportTimeout)
	defer cancel()

	outcome := metrics.OutcomeSuccess
	if err := t.exporter.Export(ctx, completed); err != nil {
		outcome = metrics.OutcomeError
		t.logger.Error("trace export failed",
			clog.String("trace_id", completed.TraceID),
			clog.Int("spans", len(completed.Spans)),
			clog.Error(err))
	}
	t.exported.Inc(ctx, metrics.L(LabelStatus, string(completed.Status)), metrics.L(LabelOutcome, outcome))
}

func (t *tracer) stampLogs(logs []LogRecord) []LogRecord {
	if len(logs) == 0 {
		return nil
	}
	out := make([]LogRecord, len(logs))
	for i, l := range logs {
		if l.Time.IsZero() {
			l.Time = t.now()
		}
		out[i] = l
	}
	return out
}

func (t *tracer) TraceDetails(traceID string) (*TraceDetails, bool) {
	t.mu.RLock()
	lt, ok := t.traces[traceID]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return lt.details(t.now())
}

func (lt *liveTrace) details(now time.Time) (*TraceDetails, bool) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.finalized {
		return nil, false
	}

	d := &TraceDetails{
		TraceID:   lt.id,
		Status:    StatusOK,
		StartTime: lt.startTime,
		Duration:  now.Sub(lt.startTime),
		Spans:     make([]*Span, len(lt.spans)),
	}
	for i, s := range lt.spans {
		d.Spans[i] = s.clone()
		if s.Status == StatusError {
			d.Status = StatusError
		}
	}
	d.ServiceMap = buildServiceMap(d.Spans)
	return d, true
}

func (t *tracer) Configure(cfg Config) {
	cfg.setDefaults()
	t.cfg.Store(&cfg)
	t.logger.Info("tracer reconfigured", clog.String("service_name", cfg.ServiceName))
}

func (t *tracer) Reset() {
	t.mu.Lock()
	dropped := len(t.traces)
	t.traces = make(map[string]*liveTrace)
	t.index = make(map[string]*liveTrace)
	t.mu.Unlock()
	t.live.Set(context.Background(), 0)
	t.logger.Info("tracer reset", clog.Int("dropped_traces", dropped))
}

func (t *tracer) Shutdown(ctx context.Context) error {
	return t.exporter.Shutdown(ctx)
}
