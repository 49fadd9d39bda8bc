// Package store provides persistent storage for users and chat messages.
//
// # Drivers
//
// SQLiteStore works with either SQL driver registered by this package:
//
//   - "sqlite": modernc.org/sqlite, pure Go, the default
//   - "sqlite3": github.com/mattn/go-sqlite3, requires cgo
//
// The database runs in WAL mode with foreign keys enabled. Tables are created
// on first open and later columns are added by runMigrations.
//
// # Data Models
//
//   - User: account with bcrypt password hash, online flag, and last-seen time
//   - Message: direct or group chat message with read flag
//
// Messages carry an internal sequence column so history is always returned in
// insertion order, even when two messages share a timestamp.
//
// # Testing
//
// MockStore is an in-memory implementation with per-operation failure
// injection (SetFailure) and a record of SetOnlineStatus calls.
package store
