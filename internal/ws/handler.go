package ws

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	maxFrame   = 64 * 1024
)

// ReadMarker is the one engine operation a client may invoke over the
// socket: acknowledging a conversation as read.
type ReadMarker interface {
	MarkConversationRead(ctx context.Context, conversationID, userID string) error
}

type clientEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

type Handler struct {
	hub    *Hub
	marker ReadMarker
}

func NewHandler(hub *Hub, marker ReadMarker) *Handler {
	return &Handler{hub: hub, marker: marker}
}

// Handle runs for the lifetime of one upgraded connection. The user id was
// resolved by the auth middleware before the upgrade.
func (h *Handler) Handle(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	if userID == "" {
		_ = conn.Close()
		return
	}
	connID := uuid.NewString()
	h.hub.Register(userID, connID, conn)
	log.Info().Str("user", userID).Str("conn", connID).Msg("ws connected")

	done := make(chan struct{})
	go h.pingLoop(conn, done)

	defer func() {
		close(done)
		h.hub.Unregister(userID, connID)
		_ = conn.Close()
		log.Info().Str("user", userID).Str("conn", connID).Msg("ws disconnected")
	}()

	conn.SetReadLimit(maxFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Inbound frames are throttled per connection; excess frames are
	// dropped, not queued.
	limiter := rate.NewLimiter(rate.Limit(10), 20)

	for {
		var ev clientEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		if !limiter.Allow() {
			continue
		}
		switch ev.Type {
		case "read":
			if ev.ConversationID == "" {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := h.marker.MarkConversationRead(ctx, ev.ConversationID, userID); err != nil {
				log.Warn().Err(err).Str("user", userID).
					Str("conversation", ev.ConversationID).Msg("ws read ack")
			}
			cancel()
		default:
			// unknown client event, ignore
		}
	}
}

func (h *Handler) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
