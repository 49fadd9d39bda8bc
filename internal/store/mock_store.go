// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject persistence failures

package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrInjected is the default error returned by MockStore when a failure is armed.
var ErrInjected = errors.New("injected store failure")

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	users    map[string]*User    // keyed by user ID
	byEmail  map[string]string   // lowercased email -> user ID
	messages []*Message          // insertion order
	msgIndex map[string]*Message // keyed by message ID

	failures map[Op]error

	onlineCalls []OnlineCall
}

// Op names a MockStore operation that can be made to fail.
type Op int

// Operations that accept injected failures.
const (
	OpCreateMessage Op = iota
	OpFindUser
	OpSetOnline
	OpHistory
	OpMarkRead
	OpPing
)

// SetFailure makes op return err until cleared with a nil err.
func (m *MockStore) SetFailure(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// OnlineCall records one SetOnlineStatus invocation.
type OnlineCall struct {
	UserID string
	Online bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:    make(map[string]*User),
		byEmail:  make(map[string]string),
		msgIndex: make(map[string]*Message),
		failures: make(map[Op]error),
	}
}

// AddUser seeds a user without going through CreateUser.
func (m *MockStore) AddUser(id, username string) *User {
	u := &User{ID: id, Username: username, Email: username + "@example.com", CreatedAt: time.Now()}
	if err := m.CreateUser(context.Background(), u); err != nil {
		panic(err)
	}
	return u
}

// CreateUser stores a copy of user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, ok := m.byEmail[email]; ok {
		return ErrDuplicateEmail
	}

	u := *user
	u.Email = email
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	m.users[u.ID] = &u
	m.byEmail[email] = u.ID
	return nil
}

// FindUserByID returns a copy of the user.
func (m *MockStore) FindUserByID(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failures[OpFindUser]; err != nil {
		return nil, err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// FindUserByEmail returns a copy of the user registered with email.
func (m *MockStore) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	result := *m.users[id]
	return &result, nil
}

// SetOnlineStatus records the call and updates the user.
func (m *MockStore) SetOnlineStatus(ctx context.Context, id string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failures[OpSetOnline]; err != nil {
		return err
	}
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	m.onlineCalls = append(m.onlineCalls, OnlineCall{UserID: id, Online: online})
	u.IsOnline = online
	if online {
		u.LastSeen = nil
	} else {
		now := time.Now()
		u.LastSeen = &now
	}
	return nil
}

// OnlineCalls returns every SetOnlineStatus call seen so far.
func (m *MockStore) OnlineCalls() []OnlineCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]OnlineCall(nil), m.onlineCalls...)
}

// CreateMessage stores a copy of msg.
func (m *MockStore) CreateMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failures[OpCreateMessage]; err != nil {
		return err
	}
	if msg.Type == "" {
		msg.Type = MessageTypeDirect
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	stored := *msg
	m.messages = append(m.messages, &stored)
	m.msgIndex[stored.ID] = &stored
	return nil
}

// GetDirectHistory returns copies of the messages between two users, oldest first.
func (m *MockStore) GetDirectHistory(ctx context.Context, userID, otherID string, limit int) ([]*Message, error) {
	return m.filter(limit, func(msg *Message) bool {
		if msg.Type != MessageTypeDirect {
			return false
		}
		return (msg.SenderID == userID && msg.ReceiverID == otherID) ||
			(msg.SenderID == otherID && msg.ReceiverID == userID)
	})
}

// GetGroupHistory returns copies of all group messages, oldest first.
func (m *MockStore) GetGroupHistory(ctx context.Context, limit int) ([]*Message, error) {
	return m.filter(limit, func(msg *Message) bool {
		return msg.Type == MessageTypeGroup
	})
}

func (m *MockStore) filter(limit int, keep func(*Message) bool) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failures[OpHistory]; err != nil {
		return nil, err
	}

	result := []*Message{}
	for _, msg := range m.messages {
		if !keep(msg) {
			continue
		}
		cp := *msg
		if u, ok := m.users[cp.SenderID]; ok {
			cp.SenderName = u.Username
		}
		result = append(result, &cp)
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

// MarkRead flags the message as read.
func (m *MockStore) MarkRead(ctx context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failures[OpMarkRead]; err != nil {
		return err
	}
	msg, ok := m.msgIndex[messageID]
	if !ok {
		return ErrNotFound
	}
	msg.IsRead = true
	return nil
}

// CountUnread counts unread direct messages addressed to userID.
func (m *MockStore) CountUnread(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, msg := range m.messages {
		if msg.Type == MessageTypeDirect && msg.ReceiverID == userID && !msg.IsRead {
			count++
		}
	}
	return count, nil
}

// MessageCount returns the number of stored messages.
func (m *MockStore) MessageCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

// Ping fails only when OpPing is armed.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failures[OpPing]
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)
