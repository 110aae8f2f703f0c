package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"

	"github.com/meiatef066/chat-talk/internal/config"
	"github.com/meiatef066/chat-talk/internal/metrics"
	"github.com/meiatef066/chat-talk/internal/models"
	"github.com/meiatef066/chat-talk/internal/ws"
)

// MessageService is the engine surface the HTTP layer calls into.
type MessageService interface {
	Send(ctx context.Context, conversationID, senderID, body string, msgType models.MessageType) (*models.Message, error)
	Edit(ctx context.Context, conversationID, messageID, userID, newBody string) (*models.Message, error)
	Delete(ctx context.Context, conversationID, messageID, userID string, forEveryone bool) error
	History(ctx context.Context, conversationID, userID string, page, pageSize int) ([]*models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, userID string) error
	UnreadCount(ctx context.Context, conversationID, userID string) (int64, error)
	Summaries(ctx context.Context, userID string) ([]*models.ConversationSummary, error)
}

type ConversationService interface {
	GetOrCreatePrivate(ctx context.Context, userID, peerID string) (*models.Conversation, error)
	CreateGroup(ctx context.Context, creatorID, name string, memberIDs []string) (*models.Conversation, error)
	Leave(ctx context.Context, conversationID, userID string) error
	DeletePrivate(ctx context.Context, conversationID, userID string) error
}

type TokenValidator interface {
	Validate(token string) (string, error)
}

// Limiter gates request rates per caller; nil disables limiting.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

func NewServer(cfg *config.Config, msgs MessageService, convs ConversationService, jv TokenValidator, limiter Limiter, wsHandler *ws.Handler) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(fiberlogger.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	h := NewHandlers(msgs, convs)

	app.Use("/ws", requireAuth(jv), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		wsHandler.Handle(conn)
	}))

	v1 := app.Group("/v1", requireAuth(jv))
	if limiter != nil {
		v1.Use(rateLimit(limiter, cfg.App.RateLimitPerMin))
	}

	v1.Post("/conversations/private", h.getOrCreatePrivate)
	v1.Post("/conversations", h.createGroup)
	v1.Delete("/conversations/:conversation_id", h.deleteConversation)
	v1.Post("/conversations/:conversation_id/leave", h.leaveConversation)

	v1.Post("/conversations/:conversation_id/messages", h.sendMessage)
	v1.Get("/conversations/:conversation_id/messages", h.getHistory)
	v1.Patch("/conversations/:conversation_id/messages/:message_id", h.editMessage)
	v1.Delete("/conversations/:conversation_id/messages/:message_id", h.deleteMessage)

	v1.Post("/conversations/:conversation_id/read", h.markRead)
	v1.Get("/conversations/:conversation_id/unread", h.unreadCount)
	v1.Get("/inbox", h.inbox)

	return app
}
