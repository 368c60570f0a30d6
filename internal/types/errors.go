package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the action pipeline. Handlers wrap these with %w so
// callers can classify with errors.Is.
var (
	// ErrAuthRequired means the user has no authenticated credential; the
	// gate returns it before any remote call is attempted.
	ErrAuthRequired = errors.New("authentication required")

	// ErrReAuthRequired means the credential refresh failed and the user
	// must run the auth flow again.
	ErrReAuthRequired = errors.New("re-authentication required")

	// ErrStartAfterEnd rejects an event whose start is not before its end.
	ErrStartAfterEnd = errors.New("event start must be before its end")

	// ErrPastDate rejects an event starting in the past.
	ErrPastDate = errors.New("event start is in the past")

	// ErrNotFound means no event matched the given id or title.
	ErrNotFound = errors.New("no matching event")

	// ErrResolutionUnavailable means the reasoning service failed; the
	// caller falls back to the rule-based resolver for the whole turn.
	ErrResolutionUnavailable = errors.New("intent resolution unavailable")
)

// FieldError describes one offending field in a validation failure
type FieldError struct {
	Field  string
	Reason string
}

// ValidationError reports every offending field of an argument bag,
// not just the first
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Reason
	}
	return "invalid arguments: " + strings.Join(parts, "; ")
}

// Add appends a field error
func (e *ValidationError) Add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

// Empty reports whether no field errors were recorded
func (e *ValidationError) Empty() bool {
	return len(e.Fields) == 0
}

// UnknownActionError means intent resolution produced an action name
// outside the closed kind set. This is an internal defect: it is logged
// and surfaced to the user as a generic apology.
type UnknownActionError struct {
	Name string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action: %s", e.Name)
}

// RemoteError wraps a calendar provider failure. The pipeline never
// retries these and leaves the local mirror untouched.
type RemoteError struct {
	Op     string
	Status int
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("calendar provider %s failed (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("calendar provider %s failed: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}
