package service

import (
	"context"
	"time"

	"github.com/meiatef066/chat-talk/internal/delivery"
	"github.com/meiatef066/chat-talk/internal/models"
)

// ConversationStore persists conversations and their membership rows.
// Implementations report a missing row as apperr.ErrNotFound.
type ConversationStore interface {
	Create(ctx context.Context, conv *models.Conversation, members []*models.Membership) error
	Get(ctx context.Context, id string) (*models.Conversation, error)
	FindPrivate(ctx context.Context, userA, userB string) (*models.Conversation, error)
	NextSeq(ctx context.Context, conversationID string) (int64, error)
	SetLastMessage(ctx context.Context, conversationID string, preview *models.MessagePreview) error
	Delete(ctx context.Context, conversationID string) error
	Membership(ctx context.Context, conversationID, userID string) (*models.Membership, error)
	ActiveMembers(ctx context.Context, conversationID string) ([]*models.Membership, error)
	AdvanceReadSeq(ctx context.Context, conversationID, userID string, seq int64) error
	SetMemberStatus(ctx context.Context, conversationID, userID string, status models.MemberStatus) error
	ListForUser(ctx context.Context, userID string) ([]*models.Conversation, error)
}

// MessageStore persists individual messages. Lookups are always scoped by
// conversation.
type MessageStore interface {
	Insert(ctx context.Context, m *models.Message) error
	Get(ctx context.Context, conversationID, messageID string) (*models.Message, error)
	UpdateBody(ctx context.Context, conversationID, messageID, body string, at time.Time) (*models.Message, error)
	Delete(ctx context.Context, conversationID, messageID string) error
	History(ctx context.Context, conversationID string, offset, limit int64) ([]*models.Message, error)
	CountUnread(ctx context.Context, conversationID, userID string, afterSeq int64) (int64, error)
	LastMessage(ctx context.Context, conversationID string) (*models.Message, error)
	DeleteByConversation(ctx context.Context, conversationID string) error
}

// Deliverer accepts fan-out jobs after a change has been persisted.
type Deliverer interface {
	Enqueue(ev delivery.Envelope)
}

// SummaryCache caches the inbox read-model; every mutation invalidates the
// affected entries. A nil cache disables caching.
type SummaryCache interface {
	GetSummary(ctx context.Context, conversationID, userID string) (*models.ConversationSummary, bool)
	SetSummary(ctx context.Context, userID string, s *models.ConversationSummary)
	InvalidateSummaries(ctx context.Context, conversationID string, userIDs ...string)
}
