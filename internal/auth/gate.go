package auth

import (
	"github.com/ewalk/calbot/internal/types"
)

// requiresAuth is the static set of action kinds that need an
// authenticated credential. Today that is every kind: all of them read or
// mutate the remote calendar.
var requiresAuth = map[types.ActionKind]bool{
	types.KindCreateEvent:  true,
	types.KindListEvents:   true,
	types.KindUpdateEvent:  true,
	types.KindDeleteEvent:  true,
	types.KindSearchEvents: true,
	types.KindSuggestSlots: true,
}

// Gate short-circuits actions that require authentication before the
// executor ever sees them. The check runs independently per action in a
// batch, so one gated action does not block siblings.
type Gate struct{}

// NewGate creates the authorization gate
func NewGate() *Gate {
	return &Gate{}
}

// Check returns ErrAuthRequired if the action kind requires an
// authenticated credential and the user does not hold one. No remote call
// is ever attempted for a gated action.
func (g *Gate) Check(user *types.User, kind types.ActionKind) error {
	if !requiresAuth[kind] {
		return nil
	}
	if user == nil || !user.Authenticated() {
		return types.ErrAuthRequired
	}
	return nil
}
