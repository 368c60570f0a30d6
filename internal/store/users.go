package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ewalk/calbot/internal/types"
)

// CreateUser inserts a new user row
func (s *Store) CreateUser(ctx context.Context, u *types.User) error {
	prefs, err := json.Marshal(u.Preferences)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}
	cred, err := marshalCredential(u.Credential)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, identity, auth_status, credential, preferences, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Identity, string(u.AuthStatus), cred, string(prefs), u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UserByIdentity returns the user for an identity, or nil if unknown
func (s *Store) UserByIdentity(ctx context.Context, identity string) (*types.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, identity, auth_status, credential, preferences, created_at, updated_at
		 FROM users WHERE identity = ?`, identity)
	return scanUser(row)
}

// UserByID returns the user with the given id, or nil if unknown
func (s *Store) UserByID(ctx context.Context, id string) (*types.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, identity, auth_status, credential, preferences, created_at, updated_at
		 FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// SetCredential replaces the user's credential bundle wholesale and updates
// the auth status in the same statement. Pass a nil credential to clear it
// (logout/revoke).
func (s *Store) SetCredential(ctx context.Context, userID string, cred *types.Credential, status types.AuthStatus) error {
	raw, err := marshalCredential(cred)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET credential = ?, auth_status = ?, updated_at = ? WHERE id = ?`,
		raw, string(status), time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to set credential: %w", err)
	}
	return nil
}

// SetPreference stores one preference key for a user
func (s *Store) SetPreference(ctx context.Context, userID, key, value string) error {
	u, err := s.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	if u == nil {
		return fmt.Errorf("user not found: %s", userID)
	}
	if u.Preferences == nil {
		u.Preferences = map[string]string{}
	}
	u.Preferences[key] = value

	prefs, err := json.Marshal(u.Preferences)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET preferences = ?, updated_at = ? WHERE id = ?`,
		string(prefs), time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to update preferences: %w", err)
	}
	return nil
}

func scanUser(row *sql.Row) (*types.User, error) {
	var u types.User
	var status, prefs string
	var cred sql.NullString

	err := row.Scan(&u.ID, &u.Identity, &status, &cred, &prefs, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	u.AuthStatus = types.AuthStatus(status)
	if err := json.Unmarshal([]byte(prefs), &u.Preferences); err != nil {
		return nil, fmt.Errorf("failed to parse preferences: %w", err)
	}
	if cred.Valid && cred.String != "" {
		var c types.Credential
		if err := json.Unmarshal([]byte(cred.String), &c); err != nil {
			return nil, fmt.Errorf("failed to parse credential: %w", err)
		}
		u.Credential = &c
	}
	return &u, nil
}

func marshalCredential(c *types.Credential) (any, error) {
	if c == nil {
		return nil, nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credential: %w", err)
	}
	return string(raw), nil
}
