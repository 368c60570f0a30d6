// Package store is the durable sqlite store for users, sessions, pending
// authorizations, and the local calendar mirror. It is the single source of
// truth for all of them; nothing in the process keeps an authoritative
// in-memory copy.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the sqlite database connection
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the calbot database under statePath
func Open(statePath string) (*Store, error) {
	dbPath := filepath.Join(statePath, "calbot.db")

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db, path: dbPath}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate runs database migrations
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		identity TEXT NOT NULL UNIQUE,
		auth_status TEXT NOT NULL DEFAULT 'pending',
		credential TEXT,
		preferences TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		identity TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		last_activity DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_identity ON sessions(identity, expires_at);

	CREATE TABLE IF NOT EXISTS pending_auth (
		state TEXT PRIMARY KEY,
		identity TEXT NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		remote_id TEXT NOT NULL,
		user_id TEXT NOT NULL REFERENCES users(id),
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		start_at DATETIME NOT NULL,
		end_at DATETIME NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		attendees TEXT NOT NULL DEFAULT '[]',
		reminder_minutes INTEGER NOT NULL DEFAULT 0,
		UNIQUE(user_id, remote_id)
	);
	CREATE INDEX IF NOT EXISTS idx_events_user_time ON events(user_id, start_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := s.db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (1)`); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return nil
}
