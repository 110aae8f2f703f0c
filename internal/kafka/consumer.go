package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/meiatef066/chat-talk/internal/config"
	"github.com/meiatef066/chat-talk/internal/delivery"
)

type Pusher interface {
	SendToUser(userID string, payload any) bool
}

// Consumer relays envelopes published by other instances to locally
// connected recipients. Envelopes carrying our own origin are skipped; the
// local dispatcher already pushed them. Every instance consumes the whole
// topic under its own group id; origin is stable across restarts so the
// broker does not accumulate abandoned groups.
type Consumer struct {
	reader *kafka.Reader
	origin string
}

func NewConsumer(cfg *config.Config, origin string) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.RelayTopic,
		GroupID: cfg.Kafka.GroupID + "-" + origin,
	})
	return &Consumer{reader: r, origin: origin}
}

func (c *Consumer) Run(ctx context.Context, p Pusher) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("kafka read")
			time.Sleep(time.Second)
			continue
		}
		var ev delivery.Envelope
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			log.Warn().Err(err).Msg("bad relay envelope")
			continue
		}
		if ev.Origin == c.origin {
			continue
		}
		push := delivery.Push{
			Event:          ev.Type,
			ConversationID: ev.ConversationID,
			MessageID:      ev.MessageID,
			Message:        ev.Message,
		}
		for _, uid := range ev.Recipients {
			p.SendToUser(uid, push)
		}
	}
}

func (c *Consumer) Close() error { return c.reader.Close() }
