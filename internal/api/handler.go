package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/meiatef066/chat-talk/internal/apperr"
	"github.com/meiatef066/chat-talk/internal/models"
)

type Handlers struct {
	msgs  MessageService
	convs ConversationService
}

func NewHandlers(msgs MessageService, convs ConversationService) *Handlers {
	return &Handlers{msgs: msgs, convs: convs}
}

// fail maps the engine's error taxonomy onto distinct client-visible
// categories; anything unrecognized stays a generic 500.
func fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	case errors.Is(err, apperr.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden"})
	case errors.Is(err, apperr.ErrInvalidArgument):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid argument"})
	case errors.Is(err, apperr.ErrUnauthenticated):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthenticated"})
	case errors.Is(err, apperr.ErrAlreadyExists):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already exists"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}

func userID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}

func reqCtx(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context(), 10*time.Second)
}

func (h *Handlers) getOrCreatePrivate(c *fiber.Ctx) error {
	var req struct {
		PeerID string `json:"peer_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, apperr.ErrInvalidArgument)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	conv, err := h.convs.GetOrCreatePrivate(ctx, userID(c), req.PeerID)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok", "data": conv})
}

func (h *Handlers) createGroup(c *fiber.Ctx) error {
	var req struct {
		Name      string   `json:"name"`
		MemberIDs []string `json:"member_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, apperr.ErrInvalidArgument)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	conv, err := h.convs.CreateGroup(ctx, userID(c), req.Name, req.MemberIDs)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "ok", "data": conv})
}

func (h *Handlers) deleteConversation(c *fiber.Ctx) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.convs.DeletePrivate(ctx, c.Params("conversation_id"), userID(c)); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) leaveConversation(c *fiber.Ctx) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.convs.Leave(ctx, c.Params("conversation_id"), userID(c)); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) sendMessage(c *fiber.Ctx) error {
	var req struct {
		Body string `json:"body"`
		Type string `json:"type"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, apperr.ErrInvalidArgument)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	msg, err := h.msgs.Send(ctx, c.Params("conversation_id"), userID(c), req.Body, models.MessageType(req.Type))
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "ok", "data": msg})
}

func (h *Handlers) getHistory(c *fiber.Ctx) error {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return fail(c, apperr.ErrInvalidArgument)
	}
	pageSize, err := queryInt(c, "page_size", 0)
	if err != nil {
		return fail(c, apperr.ErrInvalidArgument)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	msgs, err := h.msgs.History(ctx, c.Params("conversation_id"), userID(c), page, pageSize)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": msgs})
}

func (h *Handlers) editMessage(c *fiber.Ctx) error {
	var req struct {
		Body string `json:"body"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, apperr.ErrInvalidArgument)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	msg, err := h.msgs.Edit(ctx, c.Params("conversation_id"), c.Params("message_id"), userID(c), req.Body)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": msg})
}

func (h *Handlers) deleteMessage(c *fiber.Ctx) error {
	forEveryone := c.Query("for_everyone") == "true"
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.msgs.Delete(ctx, c.Params("conversation_id"), c.Params("message_id"), userID(c), forEveryone); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) markRead(c *fiber.Ctx) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.msgs.MarkConversationRead(ctx, c.Params("conversation_id"), userID(c)); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) unreadCount(c *fiber.Ctx) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	n, err := h.msgs.UnreadCount(ctx, c.Params("conversation_id"), userID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "unread": n})
}

func (h *Handlers) inbox(c *fiber.Ctx) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	sums, err := h.msgs.Summaries(ctx, userID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": sums})
}

func queryInt(c *fiber.Ctx, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	return n, nil
}
