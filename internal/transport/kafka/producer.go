package kafka

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/nutritheory/merchant-bot/internal/conversation/domain"
	"github.com/nutritheory/merchant-bot/pkg/tracing"
)

// Writer is the outbound side of the chat transport: replies keyed by
// identity so per-identity ordering holds within a partition.
type Writer struct {
	*kafka.Writer
}

func NewWriter(brokers []string, topic string) *Writer {
	return &Writer{
		Writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// replyEnvelope is the wire form of an outbound reply.
type replyEnvelope struct {
	MessageID string   `json:"message_id"`
	Identity  string   `json:"identity"`
	Text      string   `json:"text"`
	Options   []string `json:"options,omitempty"`
}

// SendReply publishes one reply for an identity, carrying the current
// trace context in the message headers.
func (w *Writer) SendReply(ctx context.Context, identity string, reply domain.Reply) error {
	payload, err := json.Marshal(replyEnvelope{
		MessageID: uuid.NewString(),
		Identity:  identity,
		Text:      reply.Text,
		Options:   reply.Options,
	})
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:     []byte(identity),
		Value:   payload,
		Headers: tracing.InjectKafkaHeaders(ctx, nil),
	}
	return w.WriteMessages(ctx, msg)
}
