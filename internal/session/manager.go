// Package session manages per-identity conversational sessions.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ewalk/calbot/internal/logging"
	"github.com/ewalk/calbot/internal/store"
	"github.com/ewalk/calbot/internal/types"
)

// DefaultTTL is the fixed session lifetime. Activity never extends it.
const DefaultTTL = 24 * time.Hour

// Manager creates and looks up sessions. Ensure is single-flight per
// identity: two messages racing for the same identity create exactly one
// session row. The lock covers store lookups and inserts only; it is never
// held across a network call.
type Manager struct {
	store *store.Store
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a session manager backed by the durable store
func NewManager(s *store.Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store: s,
		ttl:   ttl,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

// SetNow overrides the clock (for testing)
func (m *Manager) SetNow(now func() time.Time) {
	m.now = now
}

// identityLock returns the mutex for an identity, creating it on first use
func (m *Manager) identityLock(identity string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[identity]
	if !ok {
		l = &sync.Mutex{}
		m.locks[identity] = l
	}
	return l
}

// Ensure returns the user and active session for an identity, creating
// either as needed. An existing session gets its last_activity updated;
// expires_at stays fixed at creation time (whether activity should slide
// expiry is an open product question — current behavior is fixed expiry).
func (m *Manager) Ensure(ctx context.Context, identity string) (*types.User, *types.Session, error) {
	l := m.identityLock(identity)
	l.Lock()
	defer l.Unlock()

	now := m.now().UTC()

	user, err := m.store.UserByIdentity(ctx, identity)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		user = &types.User{
			ID:          uuid.New().String(),
			Identity:    identity,
			AuthStatus:  types.AuthPending,
			Preferences: map[string]string{},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := m.store.CreateUser(ctx, user); err != nil {
			return nil, nil, fmt.Errorf("failed to create user: %w", err)
		}
		logging.Info("session", "New user %s for identity %s", user.ID, identity)
	}

	sess, err := m.store.ActiveSession(ctx, identity, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if sess != nil {
		if err := m.store.TouchSession(ctx, sess.ID, now); err != nil {
			logging.Warn("session", "Failed to record activity on %s: %v", sess.ID, err)
		}
		sess.LastActivity = now
		return user, sess, nil
	}

	sess = &types.Session{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		Identity:     identity,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.ttl),
		LastActivity: now,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}
	logging.Info("session", "New session %s for identity %s (expires %s)",
		sess.ID, identity, sess.ExpiresAt.Format(time.RFC3339))
	return user, sess, nil
}
