package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ewalk/calbot/internal/logging"
	"github.com/ewalk/calbot/internal/store"
	"github.com/ewalk/calbot/internal/types"
)

const (
	// pendingTTL bounds how long an OAuth consent link stays valid
	pendingTTL = 10 * time.Minute

	// sweepInterval is how often expired pending authorizations are removed
	sweepInterval = time.Minute
)

// Manager owns the auth flow state: pending authorizations, credential
// storage, refresh, and logout. The durable store is the single source of
// truth; nothing here caches authoritative state in memory.
type Manager struct {
	provider *Provider
	store    *store.Store
	stopChan chan struct{}
}

// NewManager creates an auth manager
func NewManager(provider *Provider, s *store.Store) *Manager {
	return &Manager{
		provider: provider,
		store:    s,
		stopChan: make(chan struct{}),
	}
}

// StartAuth begins an auth flow for an identity and returns the consent
// URL to send to the user. The state token is single-use and expires
// after pendingTTL.
func (m *Manager) StartAuth(ctx context.Context, identity string) (string, error) {
	state := uuid.New().String()
	pending := &types.PendingAuth{
		Identity:  identity,
		State:     state,
		ExpiresAt: time.Now().UTC().Add(pendingTTL),
	}
	if err := m.store.CreatePendingAuth(ctx, pending); err != nil {
		return "", fmt.Errorf("failed to record pending auth: %w", err)
	}
	logging.Info("auth", "Auth flow started for %s", identity)
	return m.provider.AuthURL(state), nil
}

// HandleCallback consumes the state token, exchanges the code, and stores
// the credential bundle. Returns the identity that completed the flow.
func (m *Manager) HandleCallback(ctx context.Context, state, code string) (string, error) {
	pending, err := m.store.ConsumePendingAuth(ctx, state, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to consume pending auth: %w", err)
	}
	if pending == nil {
		return "", fmt.Errorf("unknown or expired state token")
	}

	cred, err := m.provider.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange code: %w", err)
	}

	user, err := m.store.UserByIdentity(ctx, pending.Identity)
	if err != nil {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return "", fmt.Errorf("no user for identity %s", pending.Identity)
	}

	if err := m.store.SetCredential(ctx, user.ID, cred, types.AuthAuthenticated); err != nil {
		return "", fmt.Errorf("failed to store credential: %w", err)
	}
	logging.Info("auth", "Identity %s authenticated", pending.Identity)
	return pending.Identity, nil
}

// AccessToken returns a usable access token for the user, refreshing the
// bundle first if it is expired. Refresh is a blocking prerequisite for
// the calendar call it guards; a failed refresh yields ErrReAuthRequired.
func (m *Manager) AccessToken(ctx context.Context, user *types.User) (string, error) {
	if !user.Authenticated() {
		return "", types.ErrAuthRequired
	}
	cred := user.Credential
	if !cred.Expired(time.Now()) {
		return cred.AccessToken, nil
	}

	fresh, err := m.provider.Refresh(ctx, cred)
	if err != nil {
		logging.Warn("auth", "Credential refresh failed for user %s: %v", user.ID, err)
		return "", fmt.Errorf("%w: %v", types.ErrReAuthRequired, err)
	}
	if err := m.store.SetCredential(ctx, user.ID, fresh, types.AuthAuthenticated); err != nil {
		return "", fmt.Errorf("failed to store refreshed credential: %w", err)
	}
	user.Credential = fresh
	logging.Debug("auth", "Refreshed credential for user %s", user.ID)
	return fresh.AccessToken, nil
}

// Logout revokes the user's credential with the provider and clears the
// stored bundle. Revocation failure is logged but does not keep the
// credential around locally.
func (m *Manager) Logout(ctx context.Context, user *types.User) error {
	if user.Credential != nil {
		if err := m.provider.Revoke(ctx, user.Credential); err != nil {
			logging.Warn("auth", "Revoke failed for user %s: %v", user.ID, err)
		}
	}
	if err := m.store.SetCredential(ctx, user.ID, nil, types.AuthLoggedOut); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	user.Credential = nil
	user.AuthStatus = types.AuthLoggedOut
	logging.Info("auth", "User %s logged out", user.ID)
	return nil
}

// StartSweeper begins the periodic removal of expired pending
// authorizations. This is the only background cleanup task; deletion is
// compare-and-delete on expiry so a concurrently consumed entry is never
// removed from under its callback.
func (m *Manager) StartSweeper() {
	go m.sweepLoop()
	logging.Info("auth", "Pending-auth sweeper started")
}

// StopSweeper halts the sweeper
func (m *Manager) StopSweeper() {
	close(m.stopChan)
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			n, err := m.store.SweepPendingAuth(ctx, time.Now().UTC())
			cancel()
			if err != nil {
				logging.Warn("auth", "Sweep failed: %v", err)
				continue
			}
			if n > 0 {
				logging.Debug("auth", "Swept %d expired pending authorizations", n)
			}
		}
	}
}
