package trace

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/ceyewan/mesh/xerrors"
)

// DefaultSubject NATS / Kafka / Redis 导出的默认 subject、topic 与 stream
const DefaultSubject = "mesh.traces"

// natsHeaderTraceID 随消息发送，便于消费端按 trace 过滤
const natsHeaderTraceID = "Mesh-Trace-Id"

type natsExporter struct {
	conn    *nats.Conn
	subject string
}

// NewNATSExporter 以 msgpack 编码发布到 NATS Core subject。
// 连接由调用方管理，Shutdown 只做 Flush。
func NewNATSExporter(conn *nats.Conn, subject string) Exporter {
	if subject == "" {
		subject = DefaultSubject
	}
	return &natsExporter{conn: conn, subject: subject}
}

func (e *natsExporter) Export(ctx context.Context, trace *CompletedTrace) error {
	// NATS Core 发布不接受 context
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := EncodeTrace(trace)
	if err != nil {
		return err
	}

	msg := &nats.Msg{
		Subject: e.subject,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(natsHeaderTraceID, trace.TraceID)
	if err := e.conn.PublishMsg(msg); err != nil {
		return xerrors.Wrapf(err, "publish trace %s to %s", trace.TraceID, e.subject)
	}
	return nil
}

func (e *natsExporter) Shutdown(ctx context.Context) error {
	if e.conn.IsClosed() {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		return e.conn.Flush()
	}
	return e.conn.FlushWithContext(ctx)
}
