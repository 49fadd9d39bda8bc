// ABOUTME: Per-namespace hub tracking live connections for unicast and targeted fan-out
// ABOUTME: Fan-out is non-blocking; a slow client loses frames without stalling others

package realtime

import (
	"log/slog"
	"sync"
)

// Emitter delivers events to connections of one namespace.
type Emitter interface {
	// Emit sends to one connection; it reports false if the connection is gone.
	Emit(connID, event string, payload any) bool
	// EmitMany sends the same event to each listed connection, skipping unknown ids.
	EmitMany(connIDs []string, event string, payload any)
}

// Hub holds the live connections of one namespace.
type Hub struct {
	name   string
	mu     sync.RWMutex
	conns  map[string]*Conn
	logger *slog.Logger
}

// NewHub creates an empty hub for the named namespace.
func NewHub(name string, logger *slog.Logger) *Hub {
	return &Hub{
		name:   name,
		conns:  make(map[string]*Conn),
		logger: logger.With("component", "hub", "namespace", name),
	}
}

// Add starts tracking c.
func (h *Hub) Add(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID()] = c
	n := len(h.conns)
	h.mu.Unlock()

	h.logger.Debug("connection added", "conn_id", c.ID(), "connections", n)
}

// Remove stops tracking the connection. Unknown ids are ignored.
func (h *Hub) Remove(connID string) {
	h.mu.Lock()
	delete(h.conns, connID)
	n := len(h.conns)
	h.mu.Unlock()

	h.logger.Debug("connection removed", "conn_id", connID, "connections", n)
}

// Get returns the tracked connection with the given id.
func (h *Hub) Get(connID string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connID]
	return c, ok
}

// Len returns the number of tracked connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Emit sends an event to one connection.
func (h *Hub) Emit(connID, event string, payload any) bool {
	c, ok := h.Get(connID)
	if !ok {
		return false
	}
	return c.Send(event, payload)
}

// EmitMany encodes the event once and queues it on each listed connection.
func (h *Hub) EmitMany(connIDs []string, event string, payload any) {
	if len(connIDs) == 0 {
		return
	}
	data, err := Encode(event, payload)
	if err != nil {
		h.logger.Error("failed to encode event", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Conn, 0, len(connIDs))
	for _, id := range connIDs {
		if c, ok := h.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.SendRaw(data)
	}
}

// Close closes a single connection with the given code and reason.
func (h *Hub) Close(connID string, code int, reason string) {
	if c, ok := h.Get(connID); ok {
		c.Close(code, reason)
	}
}

// CloseAll closes every connection, used on shutdown.
func (h *Hub) CloseAll(code int, reason string) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.Close(code, reason)
	}
}
