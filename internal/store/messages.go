// ABOUTME: Message persistence for SQLiteStore
// ABOUTME: Creation, direct and group history in insertion order, read receipts, and unread counts

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateMessage persists msg. Type defaults to direct.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	if msg.Type == "" {
		msg.Type = MessageTypeDirect
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, content, sender_id, receiver_id, type, created_at, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.Content,
		msg.SenderID,
		nullString(msg.ReceiverID),
		msg.Type,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		msg.IsRead,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "type", msg.Type, "sender_id", msg.SenderID)
	return nil
}

const messageColumns = `m.seq, m.id, m.content, m.sender_id, COALESCE(u.username, ''), m.receiver_id, m.type, m.created_at, m.is_read`

// GetDirectHistory returns the messages exchanged between userID and otherID in either
// direction, oldest first. A positive limit keeps only the most recent messages.
func (s *SQLiteStore) GetDirectHistory(ctx context.Context, userID, otherID string, limit int) ([]*Message, error) {
	where := `m.type = 'direct' AND ((m.sender_id = ? AND m.receiver_id = ?) OR (m.sender_id = ? AND m.receiver_id = ?))`
	return s.queryHistory(ctx, where, limit, userID, otherID, otherID, userID)
}

// GetGroupHistory returns every group message, oldest first.
func (s *SQLiteStore) GetGroupHistory(ctx context.Context, limit int) ([]*Message, error) {
	return s.queryHistory(ctx, `m.type = 'group'`, limit)
}

func (s *SQLiteStore) queryHistory(ctx context.Context, where string, limit int, args ...any) ([]*Message, error) {
	base := `SELECT ` + messageColumns + ` FROM messages m LEFT JOIN users u ON u.id = m.sender_id WHERE ` + where

	var query string
	if limit > 0 {
		// Take the N most recent, then return them in chronological order
		query = `SELECT * FROM (` + base + ` ORDER BY m.seq DESC LIMIT ?) ORDER BY seq ASC`
		args = append(args, limit)
	} else {
		query = base + ` ORDER BY m.seq ASC`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		var msg Message
		var seq int64
		var receiverID sql.NullString
		var createdAt string

		if err := rows.Scan(&seq, &msg.ID, &msg.Content, &msg.SenderID, &msg.SenderName,
			&receiverID, &msg.Type, &createdAt, &msg.IsRead); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		msg.ReceiverID = receiverID.String

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// MarkRead sets is_read on a message. Returns ErrNotFound for an unknown id.
// Marking an already-read message succeeds.
func (s *SQLiteStore) MarkRead(ctx context.Context, messageID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE messages SET is_read = 1 WHERE id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("marking message read: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUnread counts unread direct messages addressed to userID.
func (s *SQLiteStore) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE type = 'direct' AND receiver_id = ? AND is_read = 0`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return count, nil
}
