package models

import "time"

type ConversationKind string

const (
	KindPrivate ConversationKind = "private"
	KindGroup   ConversationKind = "group"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

type MemberStatus string

const (
	StatusActive MemberStatus = "active"
	StatusMuted  MemberStatus = "muted"
	StatusBanned MemberStatus = "banned"
	StatusLeft   MemberStatus = "left"
)

// Conversation carries the per-conversation message sequence counter
// (last_seq) alongside the denormalized last-message preview. Every message
// in the conversation owns exactly one value of that counter, so ordering is
// total even under concurrent sends.
type Conversation struct {
	ID          string           `bson:"_id" json:"id"`
	Name        string           `bson:"name,omitempty" json:"name,omitempty"`
	Kind        ConversationKind `bson:"kind" json:"kind"`
	CreatorID   string           `bson:"creator_id" json:"creator_id"`
	PairKey     string           `bson:"pair_key,omitempty" json:"-"`
	LastSeq     int64            `bson:"last_seq" json:"last_seq"`
	LastMessage *MessagePreview  `bson:"last_message,omitempty" json:"last_message,omitempty"`
	CreatedAt   time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `bson:"updated_at" json:"updated_at"`
}

type MessagePreview struct {
	MessageID string    `bson:"message_id" json:"message_id"`
	SenderID  string    `bson:"sender_id" json:"sender_id"`
	Body      string    `bson:"body" json:"body"`
	SentAt    time.Time `bson:"sent_at" json:"sent_at"`
}

// Membership is its own row so roles, status and the read watermark live per
// (conversation, user). last_read_seq only ever moves forward.
type Membership struct {
	ID             string       `bson:"_id" json:"id"`
	ConversationID string       `bson:"conversation_id" json:"conversation_id"`
	UserID         string       `bson:"user_id" json:"user_id"`
	Role           Role         `bson:"role" json:"role"`
	Status         MemberStatus `bson:"status" json:"status"`
	LastReadSeq    int64        `bson:"last_read_seq" json:"last_read_seq"`
	JoinedAt       time.Time    `bson:"joined_at" json:"joined_at"`
	LeftAt         *time.Time   `bson:"left_at,omitempty" json:"left_at,omitempty"`
}

// ConversationSummary is the read-model a client renders in its inbox:
// last-message preview plus the caller's unread count.
type ConversationSummary struct {
	ConversationID string           `json:"conversation_id"`
	Name           string           `json:"name,omitempty"`
	Kind           ConversationKind `json:"kind"`
	LastMessage    *MessagePreview  `json:"last_message,omitempty"`
	UnreadCount    int64            `json:"unread_count"`
}
