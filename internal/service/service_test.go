package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/meiatef066/chat-talk/internal/apperr"
	"github.com/meiatef066/chat-talk/internal/delivery"
	"github.com/meiatef066/chat-talk/internal/models"
)

// In-memory stores mirroring the mongo repositories' contracts, including
// apperr sentinels for missing rows and duplicate private pairs.

type memConversationStore struct {
	mu      sync.Mutex
	convs   map[string]*models.Conversation
	members map[string]*models.Membership

	// when set, Membership fails with this error
	membershipErr error
}

func newMemConversationStore() *memConversationStore {
	return &memConversationStore{
		convs:   map[string]*models.Conversation{},
		members: map[string]*models.Membership{},
	}
}

func memberKey(conversationID, userID string) string { return conversationID + "/" + userID }

func (s *memConversationStore) Create(_ context.Context, conv *models.Conversation, members []*models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv.Kind == models.KindPrivate {
		for _, c := range s.convs {
			if c.Kind == models.KindPrivate && c.PairKey == conv.PairKey {
				return apperr.ErrAlreadyExists
			}
		}
	}
	cp := *conv
	s.convs[conv.ID] = &cp
	for _, m := range members {
		mc := *m
		s.members[memberKey(m.ConversationID, m.UserID)] = &mc
	}
	return nil
}

func (s *memConversationStore) Get(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memConversationStore) FindPrivate(_ context.Context, a, b string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(a, b)
	for _, c := range s.convs {
		if c.Kind == models.KindPrivate && c.PairKey == key {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (s *memConversationStore) NextSeq(_ context.Context, conversationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return 0, apperr.ErrNotFound
	}
	c.LastSeq++
	c.UpdatedAt = time.Now().UTC()
	return c.LastSeq, nil
}

func (s *memConversationStore) SetLastMessage(_ context.Context, conversationID string, preview *models.MessagePreview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return apperr.ErrNotFound
	}
	c.LastMessage = preview
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memConversationStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[conversationID]; !ok {
		return apperr.ErrNotFound
	}
	delete(s.convs, conversationID)
	for k, m := range s.members {
		if m.ConversationID == conversationID {
			delete(s.members, k)
		}
	}
	return nil
}

func (s *memConversationStore) Membership(_ context.Context, conversationID, userID string) (*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.membershipErr != nil {
		return nil, s.membershipErr
	}
	m, ok := s.members[memberKey(conversationID, userID)]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	mc := *m
	return &mc, nil
}

func (s *memConversationStore) ActiveMembers(_ context.Context, conversationID string) ([]*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Membership{}
	for _, m := range s.members {
		if m.ConversationID == conversationID && m.Status == models.StatusActive {
			mc := *m
			out = append(out, &mc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *memConversationStore) AdvanceReadSeq(_ context.Context, conversationID, userID string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberKey(conversationID, userID)]
	if !ok {
		return apperr.ErrNotFound
	}
	if seq > m.LastReadSeq {
		m.LastReadSeq = seq
	}
	return nil
}

func (s *memConversationStore) SetMemberStatus(_ context.Context, conversationID, userID string, status models.MemberStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberKey(conversationID, userID)]
	if !ok {
		return apperr.ErrNotFound
	}
	m.Status = status
	if status == models.StatusLeft {
		now := time.Now().UTC()
		m.LeftAt = &now
	}
	return nil
}

func (s *memConversationStore) ListForUser(_ context.Context, userID string) ([]*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Conversation{}
	for _, m := range s.members {
		if m.UserID == userID && m.Status == models.StatusActive {
			if c, ok := s.convs[m.ConversationID]; ok {
				cp := *c
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

type memMessageStore struct {
	mu        sync.Mutex
	msgs      map[string]*models.Message
	lastLimit int64

	// when set, Insert calls it before touching the store, outside the lock
	beforeInsert func()
}

func newMemMessageStore() *memMessageStore {
	return &memMessageStore{msgs: map[string]*models.Message{}}
}

func (s *memMessageStore) Insert(_ context.Context, m *models.Message) error {
	if s.beforeInsert != nil {
		s.beforeInsert()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mc := *m
	s.msgs[m.ID] = &mc
	return nil
}

func (s *memMessageStore) Get(_ context.Context, conversationID, messageID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[messageID]
	if !ok || m.ConversationID != conversationID {
		return nil, apperr.ErrNotFound
	}
	mc := *m
	return &mc, nil
}

func (s *memMessageStore) UpdateBody(_ context.Context, conversationID, messageID, body string, at time.Time) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[messageID]
	if !ok || m.ConversationID != conversationID {
		return nil, apperr.ErrNotFound
	}
	m.Body = body
	m.Edited = true
	m.UpdatedAt = at
	mc := *m
	return &mc, nil
}

func (s *memMessageStore) Delete(_ context.Context, conversationID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[messageID]
	if !ok || m.ConversationID != conversationID {
		return apperr.ErrNotFound
	}
	delete(s.msgs, messageID)
	return nil
}

func (s *memMessageStore) History(_ context.Context, conversationID string, offset, limit int64) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLimit = limit
	all := []*models.Message{}
	for _, m := range s.msgs {
		if m.ConversationID == conversationID {
			mc := *m
			all = append(all, &mc)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Seq > all[j].Seq })
	if offset >= int64(len(all)) {
		return []*models.Message{}, nil
	}
	all = all[offset:]
	if int64(len(all)) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *memMessageStore) CountUnread(_ context.Context, conversationID, userID string, afterSeq int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.msgs {
		if m.ConversationID == conversationID && m.Seq > afterSeq && m.SenderID != userID {
			n++
		}
	}
	return n, nil
}

func (s *memMessageStore) LastMessage(_ context.Context, conversationID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *models.Message
	for _, m := range s.msgs {
		if m.ConversationID == conversationID && (last == nil || m.Seq > last.Seq) {
			last = m
		}
	}
	if last == nil {
		return nil, apperr.ErrNotFound
	}
	mc := *last
	return &mc, nil
}

func (s *memMessageStore) DeleteByConversation(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.msgs {
		if m.ConversationID == conversationID {
			delete(s.msgs, id)
		}
	}
	return nil
}

func (s *memMessageStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

type recorderDispatcher struct {
	mu        sync.Mutex
	envelopes []delivery.Envelope
}

func (d *recorderDispatcher) Enqueue(ev delivery.Envelope) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.envelopes = append(d.envelopes, ev)
}

func (d *recorderDispatcher) all() []delivery.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]delivery.Envelope, len(d.envelopes))
	copy(out, d.envelopes)
	return out
}

type testEnv struct {
	convs      *memConversationStore
	msgs       *memMessageStore
	dispatcher *recorderDispatcher
	messages   *MessageService
	lifecycle  *ConversationService
}

func newTestEnv() *testEnv {
	convs := newMemConversationStore()
	msgs := newMemMessageStore()
	disp := &recorderDispatcher{}
	authority := NewMembershipAuthority(convs)
	return &testEnv{
		convs:      convs,
		msgs:       msgs,
		dispatcher: disp,
		messages:   NewMessageService(convs, msgs, authority, disp, nil),
		lifecycle:  NewConversationService(convs, msgs, authority, nil, nil),
	}
}

// seedConversation wires a conversation with the given active members, first
// listed member as creator.
func (e *testEnv) seedConversation(kind models.ConversationKind, memberIDs ...string) *models.Conversation {
	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:        "conv-" + strings.Join(memberIDs, "-"),
		Kind:      kind,
		CreatorID: memberIDs[0],
		CreatedAt: now,
		UpdatedAt: now,
	}
	if kind == models.KindPrivate {
		conv.PairKey = pairKey(memberIDs[0], memberIDs[1])
	}
	members := make([]*models.Membership, 0, len(memberIDs))
	for i, uid := range memberIDs {
		role := models.RoleMember
		if kind == models.KindGroup && i == 0 {
			role = models.RoleAdmin
		}
		members = append(members, &models.Membership{
			ID:             uid + "@" + conv.ID,
			ConversationID: conv.ID,
			UserID:         uid,
			Role:           role,
			Status:         models.StatusActive,
			JoinedAt:       now,
		})
	}
	if err := e.convs.Create(context.Background(), conv, members); err != nil {
		panic(err)
	}
	return conv
}

func isForbidden(err error) bool { return errors.Is(err, apperr.ErrForbidden) }
