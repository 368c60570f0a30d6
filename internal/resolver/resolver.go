// Package resolver turns free-text chat messages into calendar actions.
// Two implementations exist behind one interface: an LLM-backed resolver
// and a rule-based fallback. The pipeline selects by availability and
// never knows which one ran.
package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/ewalk/calbot/internal/logging"
	"github.com/ewalk/calbot/internal/types"
)

// Request carries one inbound message plus the context the resolver may
// use to ground relative dates and references like "my next meeting"
type Request struct {
	Text         string
	Now          time.Time
	Location     *time.Location
	AuthStatus   types.AuthStatus
	RecentEvents []types.CalendarEvent
	Preferences  map[string]string
}

// Result is the resolver's output: zero or more structured actions, plus
// a conversational reply for turns that need no calendar operation
type Result struct {
	Reply   string
	Actions []types.Action
}

// Resolver maps a message to structured actions
type Resolver interface {
	Resolve(ctx context.Context, req Request) (*Result, error)
}

// Chain tries the primary resolver and falls back to the secondary when
// the primary is unavailable. The fallback handles the whole turn; the
// two paths are never mixed within one message.
type Chain struct {
	primary  Resolver
	fallback Resolver
}

// NewChain creates a resolver chain
func NewChain(primary, fallback Resolver) *Chain {
	return &Chain{primary: primary, fallback: fallback}
}

// Resolve runs the primary resolver, switching to the fallback only on
// ErrResolutionUnavailable. Other primary errors propagate unchanged.
func (c *Chain) Resolve(ctx context.Context, req Request) (*Result, error) {
	res, err := c.primary.Resolve(ctx, req)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, types.ErrResolutionUnavailable) {
		return nil, err
	}
	logging.Warn("resolver", "Primary resolver unavailable, using fallback: %v", err)
	return c.fallback.Resolve(ctx, req)
}
