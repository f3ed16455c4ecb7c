// Package notifications streams post changes to connected websocket clients.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/events"

	"github.com/gofiber/websocket/v2"
)

const (
	// Max connections per user
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000
)

// Message types written to stream clients.
const (
	TypeSubscribed  = "subscribed"
	TypePostChanged = "post_changed"
)

var (
	ErrHubClosed         = errors.New("post stream is shutting down")
	ErrServerConnLimit   = errors.New("server connection limit reached")
	ErrUserConnLimit     = errors.New("user connection limit reached")
	subscribedMessage, _ = json.Marshal(Message{Type: TypeSubscribed})
)

// Message is the JSON frame sent to stream clients.
type Message struct {
	Type  string              `json:"type"`
	Event *events.PostChanged `json:"event,omitempty"`
}

// Hub maps user ids to their live stream clients.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]map[*Client]struct{}
	totalConns int
	closed     bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*Client]struct{})}
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "post stream" }

// Register adds a connection for userID and queues the subscribed frame.
func (h *Hub) Register(userID string, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if h.totalConns >= maxTotalConns {
		return nil, ErrServerConnLimit
	}

	m, ok := h.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[userID] = m
	}
	if len(m) >= maxConnsPerUser {
		return nil, ErrUserConnLimit
	}

	client := newClient(h, conn, userID)
	client.Send <- subscribedMessage
	m[client] = struct{}{}
	h.totalConns++
	return client, nil
}

// UnregisterClient removes client and closes its send channel. Safe to call twice.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.conns[client.UserID]
	if !ok {
		return
	}
	if _, exists := m[client]; !exists {
		return
	}
	delete(m, client)
	close(client.Send)
	h.totalConns--
	if len(m) == 0 {
		delete(h.conns, client.UserID)
	}
}

// Connections returns the number of live clients of userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// Broadcast sends message to all connections of userID.
func (h *Hub) Broadcast(userID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns[userID] {
		c.TrySend(message)
	}
}

// HandleEvent forwards a post change to the owner's connections. It is
// subscribed to the change bus.
func (h *Hub) HandleEvent(_ context.Context, ev events.PostChanged) error {
	userID := ev.UserID()
	if userID == "" || h.Connections(userID) == 0 {
		return nil
	}
	payload, err := json.Marshal(Message{Type: TypePostChanged, Event: &ev})
	if err != nil {
		return err
	}
	h.Broadcast(userID, payload)
	return nil
}

// Shutdown closes every client's send channel; the write pumps then send a
// close frame and exit. Later registrations fail.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for userID, m := range h.conns {
		for c := range m {
			close(c.Send)
		}
		delete(h.conns, userID)
	}
	h.totalConns = 0
	return nil
}
