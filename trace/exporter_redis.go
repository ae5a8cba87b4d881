package trace

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/mesh/xerrors"
)

// Redis Stream 字段
const (
	redisFieldTraceID = "trace_id"
	redisFieldPayload = "payload"
)

type redisExporter struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

// NewRedisExporter 以 XADD 写入 Redis Stream，maxLen > 0 时近似裁剪长度。
// 客户端由调用方管理。
func NewRedisExporter(client redis.Cmdable, stream string, maxLen int64) Exporter {
	if stream == "" {
		stream = DefaultSubject
	}
	return &redisExporter{client: client, stream: stream, maxLen: maxLen}
}

func (e *redisExporter) Export(ctx context.Context, trace *CompletedTrace) error {
	data, err := EncodeTrace(trace)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: e.stream,
		Values: map[string]any{
			redisFieldTraceID: trace.TraceID,
			redisFieldPayload: data,
		},
	}
	if e.maxLen > 0 {
		args.MaxLen = e.maxLen
		args.Approx = true
	}
	if err := e.client.XAdd(ctx, args).Err(); err != nil {
		return xerrors.Wrapf(err, "xadd trace %s to %s", trace.TraceID, e.stream)
	}
	return nil
}

func (e *redisExporter) Shutdown(context.Context) error { return nil }
