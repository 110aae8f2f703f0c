package service

import (
	"context"
	"errors"

	"github.com/meiatef066/chat-talk/internal/apperr"
	"github.com/meiatef066/chat-talk/internal/models"
)

// MembershipAuthority answers "may this user act in this conversation". It
// is consulted on every operation rather than cached, so a member leaving
// mid-flight loses access on their very next call.
type MembershipAuthority struct {
	conversations ConversationStore
}

func NewMembershipAuthority(store ConversationStore) *MembershipAuthority {
	return &MembershipAuthority{conversations: store}
}

// IsActiveMember fails closed: an unknown conversation or user is simply not
// a member, not an error.
func (a *MembershipAuthority) IsActiveMember(ctx context.Context, conversationID, userID string) (bool, error) {
	if conversationID == "" || userID == "" {
		return false, nil
	}
	m, err := a.conversations.Membership(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return m.Status == models.StatusActive, nil
}
