package types

import "time"

// Typed parameter structs produced by the validator. Immutable once built:
// the executor only reads them.

// CreateEventParams are the validated arguments for create_event
type CreateEventParams struct {
	Title           string
	Description     string
	Start           time.Time
	End             time.Time
	Location        string
	Attendees       []string
	ReminderMinutes int // 0 = no reminder
}

// ListEventsParams are the validated arguments for list_events
type ListEventsParams struct {
	Start time.Time
	End   time.Time
	Query string // optional substring filter, applied locally after fetch
}

// UpdateEventParams are the validated arguments for update_event.
// Nil pointer fields were absent from the request and are neither sent
// to the remote provider nor mirrored.
type UpdateEventParams struct {
	EventID  string
	Title    *string
	Start    *time.Time
	End      *time.Time
	Location *string
}

// DeleteEventParams are the validated arguments for delete_event.
// Exactly one of EventID or SearchTitle is set.
type DeleteEventParams struct {
	EventID     string
	SearchTitle string
	Range       TimeRange // optional, narrows the title search
}

// SearchEventsParams are the validated arguments for search_events
type SearchEventsParams struct {
	Query string
	Range TimeRange
}

// SuggestSlotsParams are the validated arguments for suggest_slots
type SuggestSlotsParams struct {
	Date            time.Time // midnight of the requested day
	DurationMinutes int
	PreferredTimes  []string // wall-clock "15:04" values, in preference order
}

// ValidatedAction is the closed union of per-kind parameters. Exactly one
// pointer field is non-nil, matching Kind.
type ValidatedAction struct {
	Kind    ActionKind
	Create  *CreateEventParams
	List    *ListEventsParams
	Update  *UpdateEventParams
	Delete  *DeleteEventParams
	Search  *SearchEventsParams
	Suggest *SuggestSlotsParams
}
