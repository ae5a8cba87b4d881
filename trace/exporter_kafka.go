package trace

import (
	"context"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ceyewan/mesh/xerrors"
)

type kafkaExporter struct {
	client *kgo.Client
	topic  string
}

// NewKafkaExporter 同步写入 Kafka topic，以 trace id 作为消息 key。
// 客户端由调用方管理，Shutdown 只做 Flush。
func NewKafkaExporter(client *kgo.Client, topic string) Exporter {
	if topic == "" {
		topic = DefaultSubject
	}
	return &kafkaExporter{client: client, topic: topic}
}

func (e *kafkaExporter) Export(ctx context.Context, trace *CompletedTrace) error {
	data, err := EncodeTrace(trace)
	if err != nil {
		return err
	}

	record := &kgo.Record{
		Topic: e.topic,
		Key:   []byte(trace.TraceID),
		Value: data,
	}
	if err := e.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return xerrors.Wrapf(err, "produce trace %s to %s", trace.TraceID, e.topic)
	}
	return nil
}

func (e *kafkaExporter) Shutdown(ctx context.Context) error {
	return e.client.Flush(ctx)
}
