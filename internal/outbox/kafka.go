package outbox

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/wsu/workorderpro/internal/model"
)

// KafkaSink writes messages to the topic named by each message, keyed by
// work order number so events of one order stay ordered.
type KafkaSink struct {
	w *kafka.Writer
}

// NewKafkaSink returns a sink writing to brokers.
func NewKafkaSink(brokers []string) *KafkaSink {
	return &KafkaSink{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

func (s *KafkaSink) Publish(ctx context.Context, msgs []model.OutboxMessage) error {
	out := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, kafka.Message{
			Topic: m.Topic,
			Key:   []byte(m.AggregateID),
			Value: m.Payload,
			Headers: []kafka.Header{
				{Key: "message-id", Value: []byte(m.MessageID)},
				{Key: "aggregate", Value: []byte(m.Aggregate)},
			},
		})
	}
	return s.w.WriteMessages(ctx, out...)
}

func (s *KafkaSink) Close() error {
	return s.w.Close()
}
