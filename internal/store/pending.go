package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ewalk/calbot/internal/types"
)

// CreatePendingAuth records a single-use OAuth state token awaiting its
// callback. Any previous pending entry for the identity is replaced so at
// most one auth flow is in flight per identity.
func (s *Store) CreatePendingAuth(ctx context.Context, p *types.PendingAuth) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_auth WHERE identity = ?`, p.Identity); err != nil {
		return fmt.Errorf("failed to clear previous pending auth: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pending_auth (state, identity, expires_at) VALUES (?, ?, ?)`,
		p.State, p.Identity, p.ExpiresAt); err != nil {
		return fmt.Errorf("failed to create pending auth: %w", err)
	}
	return tx.Commit()
}

// ConsumePendingAuth atomically deletes the entry for a state token and
// returns its identity. Returns nil if the token is unknown or already
// expired, so a concurrent sweep and a callback can never both win.
func (s *Store) ConsumePendingAuth(ctx context.Context, state string, now time.Time) (*types.PendingAuth, error) {
	row := s.db.QueryRowContext(ctx,
		`DELETE FROM pending_auth
		 WHERE state = ? AND expires_at > ?
		 RETURNING state, identity, expires_at`,
		state, now,
	)

	var p types.PendingAuth
	err := row.Scan(&p.State, &p.Identity, &p.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume pending auth: %w", err)
	}
	return &p, nil
}

// SweepPendingAuth deletes expired pending-auth entries. The expiry
// condition is part of the DELETE (compare-and-delete), so an entry being
// consumed by a concurrent callback is never removed from under it.
func (s *Store) SweepPendingAuth(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_auth WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep pending auth: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
