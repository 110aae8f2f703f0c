package ws

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	wrote  []any
	failed bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return errors.New("broken pipe")
	}
	c.wrote = append(c.wrote, v)
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.wrote)
}

type fakePresence struct {
	mu     sync.Mutex
	states []bool
}

func (p *fakePresence) SetPresence(_ context.Context, _ string, online bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, online)
	return nil
}

func TestSendToUserFansOutToAllConnections(t *testing.T) {
	hub := NewHub(nil)
	phone := &fakeConn{}
	laptop := &fakeConn{}
	hub.Register("alice", "c1", phone)
	hub.Register("alice", "c2", laptop)

	require.True(t, hub.SendToUser("alice", "hello"))
	assert.Equal(t, 1, phone.count())
	assert.Equal(t, 1, laptop.count())

	assert.False(t, hub.SendToUser("bob", "hello"))
}

func TestSendToUserSurvivesOneBrokenConnection(t *testing.T) {
	hub := NewHub(nil)
	broken := &fakeConn{failed: true}
	healthy := &fakeConn{}
	hub.Register("alice", "c1", broken)
	hub.Register("alice", "c2", healthy)

	assert.True(t, hub.SendToUser("alice", "hello"))
	assert.Equal(t, 1, healthy.count())
}

func TestUnregisterTracksPresence(t *testing.T) {
	presence := &fakePresence{}
	hub := NewHub(presence)

	hub.Register("alice", "c1", &fakeConn{})
	hub.Register("alice", "c2", &fakeConn{})
	assert.Equal(t, 2, hub.ConnectionCount())

	// still online while one connection remains
	hub.Unregister("alice", "c1")
	hub.Unregister("alice", "c2")
	assert.Zero(t, hub.ConnectionCount())

	presence.mu.Lock()
	defer presence.mu.Unlock()
	require.Len(t, presence.states, 3)
	assert.Equal(t, []bool{true, true, false}, presence.states)
}
