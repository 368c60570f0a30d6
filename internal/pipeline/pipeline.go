// Package pipeline orchestrates one chat turn: rate limiting, session
// establishment, intent resolution, and per-action validate → authorize →
// execute, finishing with response synthesis. Turns for one identity run
// serially; identities never block each other.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ewalk/calbot/internal/auth"
	"github.com/ewalk/calbot/internal/logging"
	"github.com/ewalk/calbot/internal/resolver"
	"github.com/ewalk/calbot/internal/synth"
	"github.com/ewalk/calbot/internal/types"
	"github.com/ewalk/calbot/internal/validate"
)

// Inbound message budget per identity
const (
	messagesPerSecond = 2
	messageBurst      = 5
)

// recentEventLimit bounds how many mirrored events feed the resolver
const recentEventLimit = 5

// Sessions yields the user and live session for an identity
type Sessions interface {
	Ensure(ctx context.Context, identity string) (*types.User, *types.Session, error)
}

// Events reads the local mirror for resolver context
type Events interface {
	RecentEvents(ctx context.Context, userID string, now time.Time, limit int) ([]types.CalendarEvent, error)
}

// Authenticator drives the login and logout flows
type Authenticator interface {
	StartAuth(ctx context.Context, identity string) (string, error)
	Logout(ctx context.Context, user *types.User) error
}

// Executor runs one validated action
type Executor interface {
	Execute(ctx context.Context, user *types.User, a *types.ValidatedAction) *types.ActionResult
}

// Config wires the pipeline's collaborators
type Config struct {
	Sessions Sessions
	Events   Events
	Auth     Authenticator
	Gate     *auth.Gate
	Resolver resolver.Resolver
	Executor Executor
	Synth    *synth.Synthesizer
	Location *time.Location
}

// Pipeline handles inbound chat messages
type Pipeline struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	turnLocks map[string]*sync.Mutex
}

// New creates a pipeline
func New(cfg Config) *Pipeline {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Pipeline{
		cfg:       cfg,
		now:       time.Now,
		limiters:  make(map[string]*rate.Limiter),
		turnLocks: make(map[string]*sync.Mutex),
	}
}

// SetNow overrides the clock for tests
func (p *Pipeline) SetNow(now func() time.Time) {
	p.now = now
}

// HandleMessage processes one inbound message and returns the reply to
// send. An empty reply with a nil error means the message was dropped
// (rate limited) and nothing goes out.
func (p *Pipeline) HandleMessage(ctx context.Context, identity, text string) (string, error) {
	if !p.limiter(identity).Allow() {
		logging.Warn("pipeline", "Rate limited %s, dropping message", identity)
		return "", nil
	}

	// One turn at a time per identity; concurrent identities proceed
	lock := p.turnLock(identity)
	lock.Lock()
	defer lock.Unlock()

	user, sess, err := p.cfg.Sessions.Ensure(ctx, identity)
	if err != nil {
		return "", fmt.Errorf("failed to establish session: %w", err)
	}
	logging.Debug("pipeline", "Turn for %s (session %s)", identity, sess.ID)

	if reply, handled, err := p.handleKeyword(ctx, user, identity, text); handled {
		return reply, err
	}

	res, err := p.resolve(ctx, user, text)
	if err != nil {
		return "", err
	}

	results := make([]*types.ActionResult, 0, len(res.Actions))
	for _, action := range res.Actions {
		results = append(results, p.runAction(ctx, user, action))
	}
	return p.cfg.Synth.Reply(ctx, res.Reply, results), nil
}

// handleKeyword intercepts the auth keywords before intent resolution
func (p *Pipeline) handleKeyword(ctx context.Context, user *types.User, identity, text string) (string, bool, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "login", "connect", "connect calendar":
		url, err := p.cfg.Auth.StartAuth(ctx, identity)
		if err != nil {
			return "", true, fmt.Errorf("failed to start auth: %w", err)
		}
		return "Connect your Google Calendar here (the link is valid for 10 minutes):\n" + url, true, nil

	case "logout", "disconnect":
		if !user.Authenticated() {
			return "Your Google Calendar isn't connected.", true, nil
		}
		if err := p.cfg.Auth.Logout(ctx, user); err != nil {
			return "", true, fmt.Errorf("failed to log out: %w", err)
		}
		return "Disconnected your Google Calendar.", true, nil
	}
	return "", false, nil
}

func (p *Pipeline) resolve(ctx context.Context, user *types.User, text string) (*resolver.Result, error) {
	// Mirror context is best-effort; resolution works without it
	recent, err := p.cfg.Events.RecentEvents(ctx, user.ID, p.now(), recentEventLimit)
	if err != nil {
		logging.Warn("pipeline", "Failed to load recent events for %s: %v", user.ID, err)
		recent = nil
	}

	res, err := p.cfg.Resolver.Resolve(ctx, resolver.Request{
		Text:         text,
		Now:          p.now().In(p.cfg.Location),
		Location:     p.cfg.Location,
		AuthStatus:   user.AuthStatus,
		RecentEvents: recent,
		Preferences:  user.Preferences,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve intent: %w", err)
	}
	return res, nil
}

// runAction takes one resolved action through validate → gate → execute.
// A failure at any stage becomes that action's result; siblings run
// regardless.
func (p *Pipeline) runAction(ctx context.Context, user *types.User, action types.Action) *types.ActionResult {
	kind, _ := types.ParseActionKind(action.Name)

	va, err := validate.Action(action, p.cfg.Location)
	if err != nil {
		logging.Debug("pipeline", "Action %s failed validation: %v", action.Name, err)
		return &types.ActionResult{Kind: kind, Err: err}
	}

	if err := p.cfg.Gate.Check(user, va.Kind); err != nil {
		return &types.ActionResult{Kind: va.Kind, Err: err}
	}

	return p.cfg.Executor.Execute(ctx, user, va)
}

func (p *Pipeline) limiter(identity string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[identity]
	if !ok {
		l = rate.NewLimiter(rate.Limit(messagesPerSecond), messageBurst)
		p.limiters[identity] = l
	}
	return l
}

func (p *Pipeline) turnLock(identity string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.turnLocks[identity]
	if !ok {
		l = &sync.Mutex{}
		p.turnLocks[identity] = l
	}
	return l
}
