package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nutritheory/merchant-bot/internal/conversation/application"
	"github.com/nutritheory/merchant-bot/internal/conversation/domain"
	"github.com/nutritheory/merchant-bot/pkg/idempotency"
	"github.com/nutritheory/merchant-bot/pkg/tracing"
)

// Consumer reads inbound chat events and feeds them to the conversation
// engine. Events are keyed by identity, so per-identity arrival order is
// preserved within a partition; the engine's session lock does the rest.
type Consumer struct {
	log    *slog.Logger
	reader *kafka.Reader
	engine *application.Engine
	writer *Writer
	idem   *idempotency.Store
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, engine *application.Engine, writer *Writer, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:    log,
		reader: r,
		engine: engine,
		writer: writer,
		idem:   idem,
		tracer: otel.Tracer("chat-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}
		key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
		seen, err := c.idem.Seen(ctx, key)
		if err != nil {
			c.log.Error("idempotency check failed", "err", err)
			continue
		}
		if seen {
			c.log.Info("duplicate message skipped", "key", key)
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		msgCtx, span := c.tracer.Start(msgCtx, "HandleInbound")

		var in domain.Inbound
		if err := json.Unmarshal(msg.Value, &in); err != nil {
			c.log.Error("unmarshal inbound failed", "err", err)
			span.End()
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}
		if in.Identity == "" {
			in.Identity = string(msg.Key)
		}

		reply := c.engine.HandleMessage(msgCtx, in)
		if err := c.writer.SendReply(msgCtx, in.Identity, reply); err != nil {
			c.log.Error("reply send failed", "identity", in.Identity, "err", err)
			// Release the claim so the redelivered message gets another turn.
			_ = c.idem.Release(msgCtx, key)
			span.End()
			continue
		}
		span.End()
		_ = c.reader.CommitMessages(ctx, msg)
	}
}
