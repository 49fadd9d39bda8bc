// ABOUTME: Store interface and data types for rtc-chat-server persistence
// ABOUTME: Defines User and Message records and the Store interface used by sessions, chat, and auth

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned when registering an email that is already taken
var ErrDuplicateEmail = errors.New("email already registered")

// Message types as stored. The legacy "private" type is normalized to
// MessageTypeDirect before it reaches the store.
const (
	MessageTypeDirect = "direct"
	MessageTypeGroup  = "group"
)

// User is an account known to the server.
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	IsOnline     bool
	LastSeen     *time.Time // nil while online
	CreatedAt    time.Time
}

// Message is a persisted chat message. ReceiverID is empty for group messages.
type Message struct {
	ID         string
	Content    string
	SenderID   string
	SenderName string // populated on read from the users table
	ReceiverID string
	Type       string
	CreatedAt  time.Time
	IsRead     bool
}

// Store defines the persistence operations the server depends on.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	FindUserByID(ctx context.Context, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	SetOnlineStatus(ctx context.Context, id string, online bool) error

	// Messages
	CreateMessage(ctx context.Context, msg *Message) error
	// GetDirectHistory returns messages exchanged between two users, oldest first.
	GetDirectHistory(ctx context.Context, userID, otherID string, limit int) ([]*Message, error)
	// GetGroupHistory returns all group messages, oldest first.
	GetGroupHistory(ctx context.Context, limit int) ([]*Message, error)
	MarkRead(ctx context.Context, messageID string) error
	CountUnread(ctx context.Context, userID string) (int, error)

	// Ping reports whether the backing database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
