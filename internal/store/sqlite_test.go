// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers users, online status, message history ordering, read receipts, and unread counts

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(DriverPureGo, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s Store, id, username string) *User {
	t.Helper()
	u := &User{ID: id, Email: username + "@example.com", Username: username, PasswordHash: "hash"}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(DriverPureGo, dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created")
	assert.NoError(t, s.Ping(context.Background()))
}

func TestNewSQLiteStore_UnknownDriver(t *testing.T) {
	_, err := NewSQLiteStore("postgres", filepath.Join(t.TempDir(), "test.db"))
	assert.Error(t, err)
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLiteStore(DriverPureGo, dbPath)
	require.NoError(t, err)
	seedUser(t, s, "1", "alice")
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(DriverPureGo, dbPath)
	require.NoError(t, err)
	defer s.Close()

	u, err := s.FindUserByID(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
}

func TestCreateAndFindUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedUser(t, s, "1", "alice")

	got, err := s.FindUserByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.False(t, got.IsOnline)
	assert.Nil(t, got.LastSeen)

	byEmail, err := s.FindUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, "1", byEmail.ID)
}

func TestFindUser_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.FindUserByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.FindUserByEmail(context.Background(), "missing@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "1", "alice")

	err := s.CreateUser(context.Background(), &User{ID: "2", Email: "Alice@Example.com", Username: "other", PasswordHash: "x"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestSetOnlineStatus_StampsLastSeen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "1", "alice")

	require.NoError(t, s.SetOnlineStatus(ctx, "1", true))
	u, err := s.FindUserByID(ctx, "1")
	require.NoError(t, err)
	assert.True(t, u.IsOnline)
	assert.Nil(t, u.LastSeen)

	before := time.Now().Add(-time.Second)
	require.NoError(t, s.SetOnlineStatus(ctx, "1", false))
	u, err = s.FindUserByID(ctx, "1")
	require.NoError(t, err)
	assert.False(t, u.IsOnline)
	require.NotNil(t, u.LastSeen)
	assert.True(t, u.LastSeen.After(before))

	assert.ErrorIs(t, s.SetOnlineStatus(ctx, "missing", true), ErrNotFound)
}

func TestDirectHistory_BothDirectionsInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "1", "alice")
	seedUser(t, s, "2", "bob")
	seedUser(t, s, "3", "carol")

	// Same timestamp for all rows; insertion order must still win.
	ts := time.Now()
	msgs := []*Message{
		{ID: "m1", Content: "hi", SenderID: "1", ReceiverID: "2", Type: MessageTypeDirect, CreatedAt: ts},
		{ID: "m2", Content: "hey", SenderID: "2", ReceiverID: "1", Type: MessageTypeDirect, CreatedAt: ts},
		{ID: "m3", Content: "unrelated", SenderID: "1", ReceiverID: "3", Type: MessageTypeDirect, CreatedAt: ts},
		{ID: "m4", Content: "everyone", SenderID: "1", Type: MessageTypeGroup, CreatedAt: ts},
		{ID: "m5", Content: "bye", SenderID: "1", ReceiverID: "2", Type: MessageTypeDirect, CreatedAt: ts},
	}
	for _, m := range msgs {
		require.NoError(t, s.CreateMessage(ctx, m))
	}

	history, err := s.GetDirectHistory(ctx, "1", "2", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []string{"m1", "m2", "m5"}, []string{history[0].ID, history[1].ID, history[2].ID})
	assert.Equal(t, "alice", history[0].SenderName)
	assert.Equal(t, "bob", history[1].SenderName)

	// Symmetric from the other side
	fromBob, err := s.GetDirectHistory(ctx, "2", "1", 0)
	require.NoError(t, err)
	assert.Len(t, fromBob, 3)
}

func TestHistory_LimitKeepsMostRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "1", "alice")

	for i := range 5 {
		require.NoError(t, s.CreateMessage(ctx, &Message{
			ID:       fmt.Sprintf("g%d", i),
			Content:  fmt.Sprintf("message %d", i),
			SenderID: "1",
			Type:     MessageTypeGroup,
		}))
	}

	history, err := s.GetGroupHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "g3", history[0].ID)
	assert.Equal(t, "g4", history[1].ID)
	assert.Empty(t, history[0].ReceiverID)
}

func TestHistory_EmptyIsNotNil(t *testing.T) {
	s := newTestStore(t)

	history, err := s.GetGroupHistory(context.Background(), 0)
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func TestCreateMessage_DefaultsToDirect(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "1", "alice")
	seedUser(t, s, "2", "bob")

	msg := &Message{ID: "m1", Content: "hi", SenderID: "1", ReceiverID: "2"}
	require.NoError(t, s.CreateMessage(ctx, msg))
	assert.Equal(t, MessageTypeDirect, msg.Type)
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestMarkReadAndCountUnread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "1", "alice")
	seedUser(t, s, "2", "bob")

	require.NoError(t, s.CreateMessage(ctx, &Message{ID: "m1", Content: "a", SenderID: "1", ReceiverID: "2"}))
	require.NoError(t, s.CreateMessage(ctx, &Message{ID: "m2", Content: "b", SenderID: "1", ReceiverID: "2"}))
	require.NoError(t, s.CreateMessage(ctx, &Message{ID: "m3", Content: "c", SenderID: "2", ReceiverID: "1"}))

	count, err := s.CountUnread(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, s.MarkRead(ctx, "m1"))
	// Marking twice is fine
	require.NoError(t, s.MarkRead(ctx, "m1"))

	count, err = s.CountUnread(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	history, err := s.GetDirectHistory(ctx, "1", "2", 0)
	require.NoError(t, err)
	assert.True(t, history[0].IsRead)
	assert.False(t, history[1].IsRead)

	assert.ErrorIs(t, s.MarkRead(ctx, "missing"), ErrNotFound)
}
