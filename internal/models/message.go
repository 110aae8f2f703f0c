package models

import "time"

type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeFile  MessageType = "file"
)

type Message struct {
	ID             string      `bson:"_id" json:"id"`
	ConversationID string      `bson:"conversation_id" json:"conversation_id"`
	SenderID       string      `bson:"sender_id" json:"sender_id"`
	Seq            int64       `bson:"seq" json:"seq"`
	Body           string      `bson:"body" json:"body"`
	Type           MessageType `bson:"type" json:"type"`
	Edited         bool        `bson:"edited" json:"edited"`
	CreatedAt      time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `bson:"updated_at" json:"updated_at"`
}

func (m *Message) Preview() *MessagePreview {
	return &MessagePreview{MessageID: m.ID, SenderID: m.SenderID, Body: m.Body, SentAt: m.CreatedAt}
}
