package outbox

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/wsu/workorderpro/internal/model"
)

// NATSSink publishes each message on the subject named by its topic.
type NATSSink struct {
	nc *nats.Conn
}

// DialNATS connects to the NATS server at url.
func DialNATS(url string) (*NATSSink, error) {
	nc, err := nats.Connect(url, nats.Name("workorderpro-outbox"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSSink{nc: nc}, nil
}

// NewNATSSink wraps an existing connection.
func NewNATSSink(nc *nats.Conn) *NATSSink {
	return &NATSSink{nc: nc}
}

func (s *NATSSink) Publish(ctx context.Context, msgs []model.OutboxMessage) error {
	for _, m := range msgs {
		msg := &nats.Msg{Subject: m.Topic, Data: m.Payload, Header: nats.Header{}}
		msg.Header.Set(nats.MsgIdHdr, m.MessageID)
		msg.Header.Set("Aggregate-Id", m.AggregateID)
		if err := s.nc.PublishMsg(msg); err != nil {
			return err
		}
	}
	return s.nc.FlushWithContext(ctx)
}

func (s *NATSSink) Close() error {
	return s.nc.Drain()
}
