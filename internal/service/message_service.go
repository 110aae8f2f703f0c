package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/meiatef066/chat-talk/internal/apperr"
	"github.com/meiatef066/chat-talk/internal/delivery"
	"github.com/meiatef066/chat-talk/internal/metrics"
	"github.com/meiatef066/chat-talk/internal/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
	maxBodyLen      = 8192
)

// MessageService orchestrates send/edit/delete/read-marking across the two
// stores. Persistence is the commit point of every mutation; the live push
// is enqueued afterwards and can neither delay nor fail the call.
type MessageService struct {
	conversations ConversationStore
	messages      MessageStore
	authority     *MembershipAuthority
	dispatcher    Deliverer
	cache         SummaryCache // optional
}

func NewMessageService(conversations ConversationStore, messages MessageStore, authority *MembershipAuthority, dispatcher Deliverer, cache SummaryCache) *MessageService {
	return &MessageService{
		conversations: conversations,
		messages:      messages,
		authority:     authority,
		dispatcher:    dispatcher,
		cache:         cache,
	}
}

// Send validates, persists, updates the last-message preview and enqueues
// the fan-out. Once Insert returns nil the message exists and the call
// succeeds regardless of what delivery does.
func (s *MessageService) Send(ctx context.Context, conversationID, senderID, body string, msgType models.MessageType) (*models.Message, error) {
	if senderID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	ok, err := s.authority.IsActiveMember(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrForbidden
	}
	body = strings.TrimSpace(body)
	if body == "" || len(body) > maxBodyLen {
		return nil, fmt.Errorf("body: %w", apperr.ErrInvalidArgument)
	}
	if msgType == "" {
		msgType = models.TypeText
	}

	seq, err := s.conversations.NextSeq(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("claim sequence: %w", err)
	}
	now := time.Now().UTC()
	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Seq:            seq,
		Body:           body,
		Type:           msgType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.messages.Insert(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}
	metrics.MessagesSent.Inc()

	// Last-write-wins on the preview; the message itself is already durable,
	// so a preview failure is logged, not surfaced.
	if err := s.conversations.SetLastMessage(ctx, conversationID, msg.Preview()); err != nil {
		log.Warn().Err(err).Str("conversation", conversationID).Msg("update last message")
	}

	recipients, err := s.otherActiveMembers(ctx, conv.ID, senderID)
	if err != nil {
		log.Warn().Err(err).Str("conversation", conversationID).Msg("resolve recipients")
	} else if len(recipients) > 0 {
		s.dispatcher.Enqueue(delivery.Envelope{
			Type:           delivery.EventMessageCreated,
			ConversationID: conversationID,
			MessageID:      msg.ID,
			Message:        msg,
			Recipients:     recipients,
		})
	}
	s.invalidate(ctx, conversationID, append(recipients, senderID))
	return msg, nil
}

// Edit is sender-only; not even admins may edit someone else's message.
func (s *MessageService) Edit(ctx context.Context, conversationID, messageID, userID, newBody string) (*models.Message, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	ok, err := s.authority.IsActiveMember(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrForbidden
	}
	msg, err := s.messages.Get(ctx, conversationID, messageID)
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	if msg.SenderID != userID {
		return nil, apperr.ErrForbidden
	}
	newBody = strings.TrimSpace(newBody)
	if newBody == "" || len(newBody) > maxBodyLen {
		return nil, fmt.Errorf("body: %w", apperr.ErrInvalidArgument)
	}

	updated, err := s.messages.UpdateBody(ctx, conversationID, messageID, newBody, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	if conv.LastMessage != nil && conv.LastMessage.MessageID == messageID {
		if err := s.conversations.SetLastMessage(ctx, conversationID, updated.Preview()); err != nil {
			log.Warn().Err(err).Str("conversation", conversationID).Msg("refresh last message")
		}
	}

	recipients, _ := s.otherActiveMembers(ctx, conversationID, userID)
	if len(recipients) > 0 {
		s.dispatcher.Enqueue(delivery.Envelope{
			Type:           delivery.EventMessageEdited,
			ConversationID: conversationID,
			MessageID:      messageID,
			Message:        updated,
			Recipients:     recipients,
		})
	}
	s.invalidate(ctx, conversationID, append(recipients, userID))
	return updated, nil
}

// Delete hard-deletes the row. forEveryone widens authorization to the
// conversation creator but does not change what happens to the row.
func (s *MessageService) Delete(ctx context.Context, conversationID, messageID, userID string, forEveryone bool) error {
	if userID == "" {
		return apperr.ErrUnauthenticated
	}
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	ok, err := s.authority.IsActiveMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrForbidden
	}
	msg, err := s.messages.Get(ctx, conversationID, messageID)
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if forEveryone {
		if userID != msg.SenderID && userID != conv.CreatorID {
			return apperr.ErrForbidden
		}
	} else if userID != msg.SenderID {
		return apperr.ErrForbidden
	}

	if err := s.messages.Delete(ctx, conversationID, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	if conv.LastMessage != nil && conv.LastMessage.MessageID == messageID {
		s.refreshLastMessage(ctx, conversationID)
	}

	recipients, _ := s.otherActiveMembers(ctx, conversationID, userID)
	if len(recipients) > 0 {
		s.dispatcher.Enqueue(delivery.Envelope{
			Type:           delivery.EventMessageDeleted,
			ConversationID: conversationID,
			MessageID:      messageID,
			Recipients:     recipients,
		})
	}
	s.invalidate(ctx, conversationID, append(recipients, userID))
	return nil
}

// MarkConversationRead advances the caller's watermark to the highest
// persisted message sequence observed right now. The snapshot deliberately
// comes from the message store, not the conversation's sequence counter: a
// concurrent sender claims its sequence before inserting the row, and that
// claimed-but-unwritten message must stay unread. Calling this twice is a
// no-op because the watermark only moves forward.
func (s *MessageService) MarkConversationRead(ctx context.Context, conversationID, userID string) error {
	if userID == "" {
		return apperr.ErrUnauthenticated
	}
	if _, err := s.conversations.Get(ctx, conversationID); err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	ok, err := s.authority.IsActiveMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrForbidden
	}
	var seq int64
	last, err := s.messages.LastMessage(ctx, conversationID)
	switch {
	case err == nil:
		seq = last.Seq
	case errors.Is(err, apperr.ErrNotFound):
		seq = 0
	default:
		return fmt.Errorf("snapshot read position: %w", err)
	}
	if err := s.conversations.AdvanceReadSeq(ctx, conversationID, userID, seq); err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	s.invalidate(ctx, conversationID, []string{userID})
	return nil
}

// UnreadCount computes the projection formula directly from the stores:
// messages past the watermark not sent by the caller.
func (s *MessageService) UnreadCount(ctx context.Context, conversationID, userID string) (int64, error) {
	if userID == "" {
		return 0, apperr.ErrUnauthenticated
	}
	if _, err := s.conversations.Get(ctx, conversationID); err != nil {
		return 0, fmt.Errorf("load conversation: %w", err)
	}
	m, err := s.conversations.Membership(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return 0, apperr.ErrForbidden
		}
		return 0, err
	}
	if m.Status != models.StatusActive {
		return 0, apperr.ErrForbidden
	}
	return s.messages.CountUnread(ctx, conversationID, userID, m.LastReadSeq)
}

// History pages newest first. Page size is clamped server-side no matter
// what the caller asked for.
func (s *MessageService) History(ctx context.Context, conversationID, userID string, page, pageSize int) ([]*models.Message, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	if _, err := s.conversations.Get(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	ok, err := s.authority.IsActiveMember(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrForbidden
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	offset := int64(page-1) * int64(pageSize)
	return s.messages.History(ctx, conversationID, offset, int64(pageSize))
}

// Summaries is the inbox projection: per conversation, the last-message
// preview and the caller's unread count, cached per (conversation, user).
func (s *MessageService) Summaries(ctx context.Context, userID string) ([]*models.ConversationSummary, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	convs, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		if s.cache != nil {
			if cached, ok := s.cache.GetSummary(ctx, conv.ID, userID); ok {
				out = append(out, cached)
				continue
			}
		}
		m, err := s.conversations.Membership(ctx, conv.ID, userID)
		if err != nil {
			// A vanished membership row just drops the conversation from the
			// projection; a failing store must not.
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			return nil, err
		}
		unread, err := s.messages.CountUnread(ctx, conv.ID, userID, m.LastReadSeq)
		if err != nil {
			return nil, err
		}
		sum := &models.ConversationSummary{
			ConversationID: conv.ID,
			Name:           conv.Name,
			Kind:           conv.Kind,
			LastMessage:    conv.LastMessage,
			UnreadCount:    unread,
		}
		if s.cache != nil {
			s.cache.SetSummary(ctx, userID, sum)
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *MessageService) otherActiveMembers(ctx context.Context, conversationID, exclude string) ([]string, error) {
	members, err := s.conversations.ActiveMembers(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		if m.UserID != exclude {
			ids = append(ids, m.UserID)
		}
	}
	return ids, nil
}

// refreshLastMessage recomputes the preview from the store after the current
// last message was erased.
func (s *MessageService) refreshLastMessage(ctx context.Context, conversationID string) {
	last, err := s.messages.LastMessage(ctx, conversationID)
	switch {
	case err == nil:
		err = s.conversations.SetLastMessage(ctx, conversationID, last.Preview())
	case errors.Is(err, apperr.ErrNotFound):
		err = s.conversations.SetLastMessage(ctx, conversationID, nil)
	}
	if err != nil {
		log.Warn().Err(err).Str("conversation", conversationID).Msg("refresh last message")
	}
}

func (s *MessageService) invalidate(ctx context.Context, conversationID string, userIDs []string) {
	if s.cache == nil {
		return
	}
	s.cache.InvalidateSummaries(ctx, conversationID, userIDs...)
}
