package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ewalk/calbot/internal/types"
)

// CreateSession inserts a new session row
func (s *Store) CreateSession(ctx context.Context, sess *types.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, identity, created_at, expires_at, last_activity)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Identity, sess.CreatedAt, sess.ExpiresAt, sess.LastActivity,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// ActiveSession returns the newest non-expired session for an identity, or
// nil if there is none. Expiry is a pure wall-clock comparison at lookup
// time; expired rows are simply ignored.
func (s *Store) ActiveSession(ctx context.Context, identity string, now time.Time) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, identity, created_at, expires_at, last_activity
		 FROM sessions
		 WHERE identity = ? AND expires_at > ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		identity, now,
	)

	var sess types.Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Identity, &sess.CreatedAt, &sess.ExpiresAt, &sess.LastActivity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return &sess, nil
}

// TouchSession records activity on a session. It updates last_activity
// only; expires_at is fixed at creation.
func (s *Store) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ? WHERE id = ?`,
		at, sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions that expired before the cutoff.
// Housekeeping only; lookups already ignore expired rows.
func (s *Store) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
