// Package types holds the domain types shared across calbot subsystems:
// users, sessions, calendar actions and their results.
package types

import (
	"time"
)

// AuthStatus tracks where a user is in the Google Calendar auth flow
type AuthStatus string

const (
	AuthPending       AuthStatus = "pending"
	AuthAuthenticated AuthStatus = "authenticated"
	AuthRevoked       AuthStatus = "revoked"
	AuthLoggedOut     AuthStatus = "logged_out"
)

// Credential is the token bundle issued by the identity provider.
// It is replaced wholesale on refresh or login and cleared on revoke/logout.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// Expired reports whether the access token is expired (or about to be)
func (c *Credential) Expired(now time.Time) bool {
	return !now.Add(30 * time.Second).Before(c.Expiry)
}

// User is a conversational endpoint known to the bot, keyed by identity
// (e.g. a Discord user ID or phone number)
type User struct {
	ID          string
	Identity    string
	AuthStatus  AuthStatus
	Credential  *Credential // nil until authenticated
	Preferences map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Authenticated reports whether the user holds a usable credential
func (u *User) Authenticated() bool {
	return u.AuthStatus == AuthAuthenticated && u.Credential != nil
}

// Session is a conversational session for an identity. Expiry is fixed at
// creation time: LastActivity is recorded but does not extend ExpiresAt.
// Whether activity should slide the expiry forward is a product decision
// still to be confirmed; the current behavior is fixed expiry.
type Session struct {
	ID           string
	UserID       string
	Identity     string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
}

// Active reports whether the session is still live at the given instant
func (s *Session) Active(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// PendingAuth is a single-use OAuth state token awaiting its callback
type PendingAuth struct {
	Identity  string
	State     string
	ExpiresAt time.Time
}

// CalendarEvent is a row in the local mirror of the remote calendar.
// Mirror rows are written only after the remote provider confirms the
// corresponding create/update/delete.
type CalendarEvent struct {
	ID              string
	RemoteID        string
	UserID          string
	Title           string
	Description     string
	Start           time.Time
	End             time.Time
	Location        string
	Attendees       []string
	ReminderMinutes int
}

// ActionKind is the closed set of calendar operations the bot can perform.
// Adding a kind is a compile-time-checked change: the executor builds an
// exhaustive handler table over these values.
type ActionKind int

const (
	KindCreateEvent ActionKind = iota
	KindListEvents
	KindUpdateEvent
	KindDeleteEvent
	KindSearchEvents
	KindSuggestSlots
)

// AllKinds lists every action kind, in wire order
var AllKinds = []ActionKind{
	KindCreateEvent,
	KindListEvents,
	KindUpdateEvent,
	KindDeleteEvent,
	KindSearchEvents,
	KindSuggestSlots,
}

// String returns the wire-level tool name for the kind
func (k ActionKind) String() string {
	switch k {
	case KindCreateEvent:
		return "create_event"
	case KindListEvents:
		return "list_events"
	case KindUpdateEvent:
		return "update_event"
	case KindDeleteEvent:
		return "delete_event"
	case KindSearchEvents:
		return "search_events"
	case KindSuggestSlots:
		return "suggest_slots"
	default:
		return "unknown"
	}
}

// ParseActionKind maps a wire-level tool name to its kind
func ParseActionKind(name string) (ActionKind, bool) {
	for _, k := range AllKinds {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

// Action is a structured request produced by intent resolution. Name is the
// wire-level tool name; Args is the raw argument bag, untouched until the
// validator turns it into typed parameters.
type Action struct {
	Name string
	Args map[string]any
}

// TimeRange is the enumerated shorthand accepted by search actions
type TimeRange string

const (
	RangeToday     TimeRange = "today"
	RangeTomorrow  TimeRange = "tomorrow"
	RangeThisWeek  TimeRange = "this_week"
	RangeThisMonth TimeRange = "this_month"
	RangeAll       TimeRange = "all"
)

// ValidTimeRange reports whether s is one of the accepted shorthands
func ValidTimeRange(s string) bool {
	switch TimeRange(s) {
	case RangeToday, RangeTomorrow, RangeThisWeek, RangeThisMonth, RangeAll:
		return true
	}
	return false
}

// Interval is a half-open [Start, End) time range
type Interval struct {
	Start time.Time
	End   time.Time
}

// Candidate identifies one event in a disambiguation list
type Candidate struct {
	RemoteID string
	Title    string
	Start    time.Time
}

// ActionResult is the outcome of executing one action. Err is nil on
// success. Candidates non-empty means the action matched more than one
// event and nothing was done (disambiguation, not an error).
type ActionResult struct {
	Kind       ActionKind
	Err        error
	Events     []CalendarEvent // list/search results, created/updated event
	Deleted    *Candidate      // the event removed by delete_event
	Candidates []Candidate     // ambiguous delete/search-by-title matches
	Slots      []Interval      // suggest_slots output
}

// OK reports whether the action succeeded
func (r *ActionResult) OK() bool {
	return r.Err == nil
}
