package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meiatef066/chat-talk/internal/models"
)

type fakePusher struct {
	mu      sync.Mutex
	offline map[string]bool
	pushes  map[string][]Push
}

func newFakePusher(offline ...string) *fakePusher {
	p := &fakePusher{offline: map[string]bool{}, pushes: map[string][]Push{}}
	for _, uid := range offline {
		p.offline[uid] = true
	}
	return p
}

func (p *fakePusher) SendToUser(userID string, payload any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offline[userID] {
		return false
	}
	p.pushes[userID] = append(p.pushes[userID], payload.(Push))
	return true
}

func (p *fakePusher) pushesFor(userID string) []Push {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Push(nil), p.pushes[userID]...)
}

type fakeRelay struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (r *fakeRelay) Publish(_ context.Context, _ string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.payloads = append(r.payloads, value)
	return nil
}

func (r *fakeRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func testMessage() *models.Message {
	return &models.Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "alice",
		Seq:            1,
		Body:           "hi",
		Type:           models.TypeText,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestDispatchReachesEveryRecipientIndependently(t *testing.T) {
	pusher := newFakePusher("bob") // bob has no live connection
	relay := &fakeRelay{}
	d := NewDispatcher("origin-1", pusher, relay, 2, 16)

	msg := testMessage()
	d.Enqueue(Envelope{
		Type:           EventMessageCreated,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Message:        msg,
		Recipients:     []string{"bob", "carol", "dave"},
	})
	d.Close()

	// bob being offline did not block carol or dave
	assert.Empty(t, pusher.pushesFor("bob"))
	require.Len(t, pusher.pushesFor("carol"), 1)
	require.Len(t, pusher.pushesFor("dave"), 1)
	got := pusher.pushesFor("carol")[0]
	assert.Equal(t, EventMessageCreated, got.Event)
	assert.Equal(t, "m1", got.MessageID)

	// the envelope still went to the relay for other instances
	require.Equal(t, 1, relay.count())
	var ev Envelope
	require.NoError(t, json.Unmarshal(relay.payloads[0], &ev))
	assert.Equal(t, "origin-1", ev.Origin)
	assert.ElementsMatch(t, []string{"bob", "carol", "dave"}, ev.Recipients)
}

func TestRelayFailureDoesNotAffectLocalPush(t *testing.T) {
	pusher := newFakePusher()
	relay := &fakeRelay{err: errors.New("broker down")}
	d := NewDispatcher("origin-1", pusher, relay, 1, 16)

	d.Enqueue(Envelope{
		Type:           EventMessageCreated,
		ConversationID: "c1",
		MessageID:      "m1",
		Message:        testMessage(),
		Recipients:     []string{"bob"},
	})
	d.Close()

	require.Len(t, pusher.pushesFor("bob"), 1)
}

func TestEnqueueNeverBlocksWhenQueueIsFull(t *testing.T) {
	pusher := newFakePusher()
	// zero workers are coerced to a sane default, so stall the queue by
	// filling it faster than one worker can drain a blocking pusher
	block := make(chan struct{})
	d := NewDispatcher("origin-1", blockingPusher{block}, nil, 1, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			d.Enqueue(Envelope{Type: EventMessageCreated, ConversationID: "c1", Recipients: []string{"bob"}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
	close(block)
	d.Close()
	_ = pusher
}

type blockingPusher struct{ block chan struct{} }

func (p blockingPusher) SendToUser(string, any) bool {
	<-p.block
	return true
}

func TestEnqueueAfterCloseIsANoOp(t *testing.T) {
	pusher := newFakePusher()
	d := NewDispatcher("origin-1", pusher, nil, 1, 4)
	d.Close()
	// must not panic on the closed channel
	d.Enqueue(Envelope{Type: EventMessageCreated, Recipients: []string{"bob"}})
	assert.Empty(t, pusher.pushesFor("bob"))
}
