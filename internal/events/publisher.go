package events

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/meiatef066/chat-talk/internal/models"
)

type ConversationCreatedEvent struct {
	ConversationID string                  `json:"conversation_id"`
	Kind           models.ConversationKind `json:"kind"`
	Name           string                  `json:"name,omitempty"`
	CreatorID      string                  `json:"creator_id"`
	Members        []string                `json:"members"`
}

type ConversationDeletedEvent struct {
	ConversationID string   `json:"conversation_id"`
	DeletedBy      string   `json:"deleted_by"`
	Members        []string `json:"members"`
}

// Publisher notifies collaborators (notification dispatcher, search, etc.)
// of conversation lifecycle changes over NATS. A nil Publisher is a no-op so
// the engine runs without the event bus in tests.
type Publisher struct {
	nc *nats.Conn
}

func NewPublisher(url string) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc}, nil
}

func (p *Publisher) Close() {
	if p != nil && p.nc != nil {
		p.nc.Close()
	}
}

func (p *Publisher) ConversationCreated(ev ConversationCreatedEvent) {
	p.publish("conversation.created", ev)
}

func (p *Publisher) ConversationDeleted(ev ConversationDeletedEvent) {
	p.publish("conversation.deleted", ev)
}

func (p *Publisher) publish(subject string, v any) {
	if p == nil || p.nc == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := p.nc.Publish(subject, b); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("nats publish")
	}
}
