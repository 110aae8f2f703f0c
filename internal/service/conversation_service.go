package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meiatef066/chat-talk/internal/apperr"
	"github.com/meiatef066/chat-talk/internal/events"
	"github.com/meiatef066/chat-talk/internal/models"
	"github.com/meiatef066/chat-talk/internal/repository"
)

// ConversationService handles conversation lifecycle: private get-or-create,
// group creation, leaving, and private-conversation deletion.
type ConversationService struct {
	conversations ConversationStore
	messages      MessageStore
	authority     *MembershipAuthority
	publisher     *events.Publisher // nil-safe
	cache         SummaryCache      // optional
}

func NewConversationService(conversations ConversationStore, messages MessageStore, authority *MembershipAuthority, publisher *events.Publisher, cache SummaryCache) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		authority:     authority,
		publisher:     publisher,
		cache:         cache,
	}
}

// GetOrCreatePrivate is idempotent: the same pair always resolves to the
// same conversation, and a creation race is settled by the store's unique
// pair constraint.
func (s *ConversationService) GetOrCreatePrivate(ctx context.Context, userID, peerID string) (*models.Conversation, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	if peerID == "" || peerID == userID {
		return nil, fmt.Errorf("peer: %w", apperr.ErrInvalidArgument)
	}

	conv, err := s.conversations.FindPrivate(ctx, userID, peerID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	conv = &models.Conversation{
		ID:        uuid.NewString(),
		Kind:      models.KindPrivate,
		CreatorID: userID,
		PairKey:   repository.PairKey(userID, peerID),
		CreatedAt: now,
		UpdatedAt: now,
	}
	members := []*models.Membership{
		newMembership(conv.ID, userID, models.RoleMember, now),
		newMembership(conv.ID, peerID, models.RoleMember, now),
	}
	if err := s.conversations.Create(ctx, conv, members); err != nil {
		// Lost the race: the other side created it first.
		if errors.Is(err, apperr.ErrAlreadyExists) {
			return s.conversations.FindPrivate(ctx, userID, peerID)
		}
		return nil, err
	}
	s.publisher.ConversationCreated(events.ConversationCreatedEvent{
		ConversationID: conv.ID,
		Kind:           conv.Kind,
		CreatorID:      userID,
		Members:        []string{userID, peerID},
	})
	return conv, nil
}

func (s *ConversationService) CreateGroup(ctx context.Context, creatorID, name string, memberIDs []string) (*models.Conversation, error) {
	if creatorID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("name: %w", apperr.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		Name:      name,
		Kind:      models.KindGroup,
		CreatorID: creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	members := []*models.Membership{newMembership(conv.ID, creatorID, models.RoleAdmin, now)}
	seen := map[string]bool{creatorID: true}
	all := []string{creatorID}
	for _, uid := range memberIDs {
		if uid == "" || seen[uid] {
			continue
		}
		seen[uid] = true
		members = append(members, newMembership(conv.ID, uid, models.RoleMember, now))
		all = append(all, uid)
	}
	if len(members) < 2 {
		return nil, fmt.Errorf("members: %w", apperr.ErrInvalidArgument)
	}
	if err := s.conversations.Create(ctx, conv, members); err != nil {
		return nil, err
	}
	s.publisher.ConversationCreated(events.ConversationCreatedEvent{
		ConversationID: conv.ID,
		Kind:           conv.Kind,
		Name:           name,
		CreatorID:      creatorID,
		Members:        all,
	})
	return conv, nil
}

// Leave flips the membership to LEFT. Gates re-check status per operation,
// so access ends with this call.
func (s *ConversationService) Leave(ctx context.Context, conversationID, userID string) error {
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
	if err := s.conversations.SetMemberStatus(ctx, conversationID, userID, models.StatusLeft); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.InvalidateSummaries(ctx, conversationID, userID)
	}
	return nil
}

// DeletePrivate erases a private conversation with its messages and
// membership rows. Group deletion is not offered.
func (s *ConversationService) DeletePrivate(ctx context.Context, conversationID, userID string) error {
	if userID == "" {
		return apperr.ErrUnauthenticated
	}
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv.Kind != models.KindPrivate {
		return fmt.Errorf("kind: %w", apperr.ErrInvalidArgument)
	}
	ok, err := s.authority.IsActiveMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrForbidden
	}

	members, err := s.conversations.ActiveMembers(ctx, conversationID)
	if err != nil {
		return err
	}
	memberIDs := make([]string, 0, len(members))
	for _, m := range members {
		memberIDs = append(memberIDs, m.UserID)
	}

	if err := s.messages.DeleteByConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if err := s.conversations.Delete(ctx, conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if s.cache != nil {
		s.cache.InvalidateSummaries(ctx, conversationID, memberIDs...)
	}
	s.publisher.ConversationDeleted(events.ConversationDeletedEvent{
		ConversationID: conversationID,
		DeletedBy:      userID,
		Members:        memberIDs,
	})
	return nil
}

// newMembership starts the read watermark at zero; messages exist only from
// sequence one, so a fresh member sees the whole backlog as unread exactly
// when they joined at creation time.
func newMembership(conversationID, userID string, role models.Role, at time.Time) *models.Membership {
	return &models.Membership{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Status:         models.StatusActive,
		LastReadSeq:    0,
		JoinedAt:       at,
	}
}
