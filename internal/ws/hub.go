package ws

import (
	"context"
	"sync"

	"github.com/meiatef066/chat-talk/internal/metrics"
)

// Conn is the subset of a websocket connection the hub needs.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// client serializes writes: the dispatcher workers and the ping loop may
// target the same connection concurrently.
type client struct {
	mu   sync.Mutex
	conn Conn
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

type Presence interface {
	SetPresence(ctx context.Context, userID string, online bool) error
}

// Hub is the per-user addressable channel: every live connection is keyed by
// user id, then connection id, so one user may hold several devices.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[string]*client
	presence Presence
}

func NewHub(presence Presence) *Hub {
	return &Hub{clients: make(map[string]map[string]*client), presence: presence}
}

func (h *Hub) Register(userID, connID string, conn Conn) {
	h.mu.Lock()
	if _, ok := h.clients[userID]; !ok {
		h.clients[userID] = make(map[string]*client)
	}
	h.clients[userID][connID] = &client{conn: conn}
	h.mu.Unlock()

	metrics.LiveConnections.Inc()
	if h.presence != nil {
		_ = h.presence.SetPresence(context.Background(), userID, true)
	}
}

func (h *Hub) Unregister(userID, connID string) {
	h.mu.Lock()
	offline := false
	if conns, ok := h.clients[userID]; ok {
		if _, ok := conns[connID]; ok {
			delete(conns, connID)
			metrics.LiveConnections.Dec()
		}
		if len(conns) == 0 {
			delete(h.clients, userID)
			offline = true
		}
	}
	h.mu.Unlock()

	if offline && h.presence != nil {
		_ = h.presence.SetPresence(context.Background(), userID, false)
	}
}

// SendToUser writes the payload to every live connection of the user and
// reports whether at least one write went through.
func (h *Hub) SendToUser(userID string, payload any) bool {
	h.mu.RLock()
	conns := make([]*client, 0, 2)
	for _, c := range h.clients[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	delivered := false
	for _, c := range conns {
		if err := c.writeJSON(payload); err == nil {
			delivered = true
		}
	}
	return delivered
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}
