package delivery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/meiatef066/chat-talk/internal/metrics"
	"github.com/meiatef066/chat-talk/internal/models"
)

const (
	EventMessageCreated = "message.created"
	EventMessageEdited  = "message.edited"
	EventMessageDeleted = "message.deleted"
)

// Envelope is the unit of fan-out: one persisted change plus the set of
// users that must be notified. It is also the wire format on the relay
// topic, where Origin lets other instances skip their own events.
type Envelope struct {
	Origin         string          `json:"origin"`
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id"`
	MessageID      string          `json:"message_id"`
	Message        *models.Message `json:"message,omitempty"`
	Recipients     []string        `json:"recipients"`
}

// Push is what a recipient's client actually receives.
type Push struct {
	Event          string          `json:"event"`
	ConversationID string          `json:"conversation_id"`
	MessageID      string          `json:"message_id"`
	Message        *models.Message `json:"message,omitempty"`
}

type Pusher interface {
	SendToUser(userID string, payload any) bool
}

type Relay interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Dispatcher decouples persistence from live push: sends enqueue onto a
// bounded channel and return immediately; a worker pool drains it. A full
// queue drops the job rather than blocking the caller, since every recipient
// recovers the message on the next history fetch anyway.
type Dispatcher struct {
	origin  string
	pusher  Pusher
	relay   Relay
	breaker *gobreaker.CircuitBreaker

	queue chan Envelope
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewDispatcher(origin string, pusher Pusher, relay Relay, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	d := &Dispatcher{
		origin: origin,
		pusher: pusher,
		relay:  relay,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "delivery-relay",
			Timeout: 30 * time.Second,
		}),
		queue: make(chan Envelope, queueSize),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Enqueue never blocks and never fails the caller. The send has already
// committed by the time this runs.
func (d *Dispatcher) Enqueue(ev Envelope) {
	ev.Origin = d.origin
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- ev:
	default:
		metrics.QueueDropped.Inc()
		log.Warn().Str("type", ev.Type).Str("conversation", ev.ConversationID).
			Msg("delivery queue full, dropping live push")
	}
}

// Close stops intake and drains in-flight jobs.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.dispatch(ev)
	}
}

func (d *Dispatcher) dispatch(ev Envelope) {
	push := Push{
		Event:          ev.Type,
		ConversationID: ev.ConversationID,
		MessageID:      ev.MessageID,
		Message:        ev.Message,
	}
	// Each recipient is independent: one offline or failing connection never
	// affects the rest of the fan-out.
	for _, uid := range ev.Recipients {
		metrics.DeliveriesAttempted.Inc()
		if d.pusher.SendToUser(uid, push) {
			metrics.DeliveriesPushed.Inc()
		} else {
			metrics.DeliveriesOffline.Inc()
		}
	}

	if d.relay == nil {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("marshal relay envelope")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := d.breaker.Execute(func() (any, error) {
		return nil, d.relay.Publish(ctx, ev.ConversationID, b)
	}); err != nil {
		metrics.RelayFailures.Inc()
		log.Warn().Err(err).Str("conversation", ev.ConversationID).Msg("relay publish")
	}
}
