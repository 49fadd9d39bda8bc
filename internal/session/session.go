// ABOUTME: Connection session lifecycle for one namespace: authenticate, register, announce, deregister
// ABOUTME: Open and Close are the only writers of the namespace's presence registry

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/auth"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/presence"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/realtime"
	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/store"
)

// Session errors. ErrAuthRequired and ErrAuthInvalid must look the same to clients.
var (
	ErrAuthRequired = errors.New("authentication required")
	ErrAuthInvalid  = errors.New("authentication failed")
	ErrPersistence  = errors.New("persistence error")
)

// Outbound presence events.
const (
	EventOnlineUsers      = "online_users"
	EventUserConnected    = "user_connected"
	EventUserDisconnected = "user_disconnected"
)

// CloseSuperseded is the close code sent to a connection replaced by a newer one
// of the same user.
const CloseSuperseded = 4000

// PresenceEvent is the payload of user_connected and user_disconnected.
type PresenceEvent struct {
	UserID      string              `json:"userId"`
	Username    string              `json:"username"`
	OnlineUsers []presence.Identity `json:"onlineUsers"`
}

// UserStore is the slice of the store the session lifecycle needs.
type UserStore interface {
	FindUserByID(ctx context.Context, id string) (*store.User, error)
	SetOnlineStatus(ctx context.Context, id string, online bool) error
}

// Closer closes a live connection by id.
type Closer interface {
	Close(connID string, code int, reason string)
}

// LeaveFunc runs after an identity has left the namespace.
type LeaveFunc func(ctx context.Context, left presence.Entry)

// Manager runs the Connecting -> Authenticated -> Closed lifecycle for the
// connections of one namespace.
type Manager struct {
	registry *presence.Registry
	emitter  realtime.Emitter
	closer   Closer
	verifier auth.TokenVerifier
	users    UserStore
	logger   *slog.Logger

	mu      sync.RWMutex
	onLeave []LeaveFunc
}

// NewManager wires a Manager. closer may be nil when superseded connections
// need not be closed by the server.
func NewManager(registry *presence.Registry, emitter realtime.Emitter, closer Closer, verifier auth.TokenVerifier, users UserStore, logger *slog.Logger) *Manager {
	return &Manager{
		registry: registry,
		emitter:  emitter,
		closer:   closer,
		verifier: verifier,
		users:    users,
		logger:   logger.With("component", "session", "namespace", registry.Name()),
	}
}

// Registry returns the namespace's presence registry.
func (m *Manager) Registry() *presence.Registry {
	return m.registry
}

// OnLeave adds a hook run whenever an authenticated connection closes.
func (m *Manager) OnLeave(fn LeaveFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLeave = append(m.onLeave, fn)
}

// Open authenticates connID with token and, on success, registers it and
// announces the join. No events are emitted on failure.
func (m *Manager) Open(ctx context.Context, connID, token string) (presence.Identity, error) {
	if token == "" {
		return presence.Identity{}, ErrAuthRequired
	}

	claims, err := m.verifier.Verify(token)
	if err != nil {
		m.logger.Debug("token rejected", "conn_id", connID, "error", err)
		return presence.Identity{}, ErrAuthInvalid
	}

	user, err := m.users.FindUserByID(ctx, claims.UserID)
	if err != nil {
		m.logger.Debug("token for unknown user", "conn_id", connID, "user_id", claims.UserID, "error", err)
		return presence.Identity{}, ErrAuthInvalid
	}

	if err := m.users.SetOnlineStatus(ctx, user.ID, true); err != nil {
		m.logger.Error("failed to mark user online", "user_id", user.ID, "error", err)
		return presence.Identity{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	id := presence.Identity{UserID: user.ID, Username: user.Username}
	superseded := m.registry.Register(connID, id)
	for _, old := range superseded {
		if m.closer != nil {
			m.closer.Close(old, CloseSuperseded, "replaced by a newer connection")
		}
	}

	roster := m.registry.Roster()
	m.emitter.EmitMany(m.registry.ConnIDs(connID), EventUserConnected, PresenceEvent{
		UserID:      id.UserID,
		Username:    id.Username,
		OnlineUsers: roster,
	})
	m.emitter.Emit(connID, EventOnlineUsers, roster)

	m.logger.Info("user connected", "conn_id", connID, "user_id", id.UserID, "online", len(roster))
	return id, nil
}

// Close ends the session of connID. Connections that never authenticated, or
// that were superseded, are a silent no-op.
func (m *Manager) Close(ctx context.Context, connID string) {
	entry, ok := m.registry.Unregister(connID)
	if !ok {
		return
	}

	// A superseding connection of the same user keeps them online.
	if _, stillHere := m.registry.LookupByIdentity(entry.UserID); !stillHere {
		if err := m.users.SetOnlineStatus(ctx, entry.UserID, false); err != nil {
			m.logger.Error("failed to mark user offline", "user_id", entry.UserID, "error", err)
		}
	}

	m.emitter.EmitMany(m.registry.ConnIDs(), EventUserDisconnected, PresenceEvent{
		UserID:      entry.UserID,
		Username:    entry.Username,
		OnlineUsers: m.registry.Roster(),
	})

	m.mu.RLock()
	hooks := append([]LeaveFunc(nil), m.onLeave...)
	m.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, entry)
	}

	m.logger.Info("user disconnected", "conn_id", connID, "user_id", entry.UserID)
}

// closeCodeFor maps an Open error to the websocket close sent to the client.
func closeCodeFor(err error) (int, string) {
	if errors.Is(err, ErrPersistence) {
		return websocket.CloseInternalServerErr, "internal error"
	}
	return websocket.ClosePolicyViolation, "authentication required"
}
