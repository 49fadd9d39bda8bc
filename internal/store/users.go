// ABOUTME: User persistence for SQLiteStore
// ABOUTME: Account creation, lookup by id or email, and online status with last-seen stamping

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateUser inserts a new user. Returns ErrDuplicateEmail if the email is taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, username, password_hash, is_online, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`,
		user.ID,
		strings.ToLower(user.Email),
		user.Username,
		user.PasswordHash,
		user.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID, "username", user.Username)
	return nil
}

// FindUserByID returns the user with the given id, or ErrNotFound.
func (s *SQLiteStore) FindUserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, username, password_hash, is_online, last_seen, created_at
		FROM users WHERE id = ?
	`, id)
	return scanUser(row)
}

// FindUserByEmail returns the user registered with email (case-insensitive), or ErrNotFound.
func (s *SQLiteStore) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, username, password_hash, is_online, last_seen, created_at
		FROM users WHERE email = ?
	`, strings.ToLower(email))
	return scanUser(row)
}

// SetOnlineStatus flips the online flag. Going offline stamps last_seen; coming online clears it.
func (s *SQLiteStore) SetOnlineStatus(ctx context.Context, id string, online bool) error {
	var lastSeen any
	if !online {
		lastSeen = time.Now().UTC().Format(time.RFC3339Nano)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?`,
		online, lastSeen, id,
	)
	if err != nil {
		return fmt.Errorf("updating online status: %w", err)
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

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var lastSeen sql.NullString
	var createdAt string

	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.IsOnline, &lastSeen, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing user created_at: %w", err)
	}
	if lastSeen.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastSeen.String)
		if err != nil {
			return nil, fmt.Errorf("parsing user last_seen: %w", err)
		}
		u.LastSeen = &t
	}

	return &u, nil
}
