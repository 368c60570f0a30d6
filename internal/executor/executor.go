// Package executor runs validated calendar actions against the remote
// provider and keeps the local mirror consistent. Mirror rows are written
// only after the provider confirms the corresponding operation.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ewalk/calbot/internal/gcal"
	"github.com/ewalk/calbot/internal/logging"
	"github.com/ewalk/calbot/internal/slots"
	"github.com/ewalk/calbot/internal/types"
)

// CalendarAPI is the remote provider surface the executor needs.
// *gcal.Client satisfies it; tests substitute fakes.
type CalendarAPI interface {
	ListEvents(ctx context.Context, token string, timeMin, timeMax time.Time) ([]types.CalendarEvent, error)
	CreateEvent(ctx context.Context, token string, ev *types.CalendarEvent) (*types.CalendarEvent, error)
	UpdateEvent(ctx context.Context, token, remoteID string, patch gcal.EventPatch) (*types.CalendarEvent, error)
	DeleteEvent(ctx context.Context, token, remoteID string) error
}

// TokenSource supplies a usable access token for a user, refreshing as
// needed. *auth.Manager satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context, user *types.User) (string, error)
}

// Mirror is the local event mirror. *store.Store satisfies it.
type Mirror interface {
	UpsertEvent(ctx context.Context, e *types.CalendarEvent) error
	DeleteEvent(ctx context.Context, userID, remoteID string) error
}

// Default working-day bounds for slot suggestions, overridable per user
// via the workday_start / workday_end preferences
const (
	defaultWorkdayStart = "09:00"
	defaultWorkdayEnd   = "18:00"
)

type handlerFunc func(ctx context.Context, user *types.User, token string, a *types.ValidatedAction) *types.ActionResult

// Executor dispatches validated actions through a per-kind handler table
type Executor struct {
	calendar CalendarAPI
	tokens   TokenSource
	mirror   Mirror
	now      func() time.Time

	handlers map[types.ActionKind]handlerFunc
}

// NewExecutor creates an executor. The handler table is checked to cover
// every action kind; a gap is a programming error caught at startup.
func NewExecutor(calendar CalendarAPI, tokens TokenSource, mirror Mirror) *Executor {
	e := &Executor{
		calendar: calendar,
		tokens:   tokens,
		mirror:   mirror,
		now:      time.Now,
	}
	e.handlers = map[types.ActionKind]handlerFunc{
		types.KindCreateEvent:  e.createEvent,
		types.KindListEvents:   e.listEvents,
		types.KindUpdateEvent:  e.updateEvent,
		types.KindDeleteEvent:  e.deleteEvent,
		types.KindSearchEvents: e.searchEvents,
		types.KindSuggestSlots: e.suggestSlots,
	}
	for _, k := range types.AllKinds {
		if e.handlers[k] == nil {
			panic(fmt.Sprintf("executor: no handler for %s", k))
		}
	}
	return e
}

// SetNow overrides the clock for tests
func (e *Executor) SetNow(now func() time.Time) {
	e.now = now
}

// Execute runs one validated action for a user and returns its result.
// Errors are carried in the result, never returned: one failed action in
// a batch must not abort its siblings.
func (e *Executor) Execute(ctx context.Context, user *types.User, a *types.ValidatedAction) *types.ActionResult {
	handler := e.handlers[a.Kind]

	// Time-order checks come first: a rejected action must cause no
	// remote traffic, credential refresh included
	if err := precheck(a, e.now()); err != nil {
		return fail(a.Kind, err)
	}

	token, err := e.tokens.AccessToken(ctx, user)
	if err != nil {
		return fail(a.Kind, err)
	}
	return handler(ctx, user, token, a)
}

func precheck(a *types.ValidatedAction, now time.Time) error {
	switch a.Kind {
	case types.KindCreateEvent:
		if !a.Create.Start.Before(a.Create.End) {
			return types.ErrStartAfterEnd
		}
		if a.Create.Start.Before(now) {
			return types.ErrPastDate
		}
	case types.KindUpdateEvent:
		p := a.Update
		if p.Start != nil && p.End != nil && !p.Start.Before(*p.End) {
			return types.ErrStartAfterEnd
		}
	}
	return nil
}

func fail(kind types.ActionKind, err error) *types.ActionResult {
	return &types.ActionResult{Kind: kind, Err: err}
}

func (e *Executor) createEvent(ctx context.Context, user *types.User, token string, a *types.ValidatedAction) *types.ActionResult {
	p := a.Create
	created, err := e.calendar.CreateEvent(ctx, token, &types.CalendarEvent{
		Title:           p.Title,
		Description:     p.Description,
		Start:           p.Start,
		End:             p.End,
		Location:        p.Location,
		Attendees:       p.Attendees,
		ReminderMinutes: p.ReminderMinutes,
	})
	if err != nil {
		return fail(a.Kind, err)
	}

	created.ID = uuid.New().String()
	created.UserID = user.ID
	e.mirrorUpsert(ctx, created)
	return &types.ActionResult{Kind: a.Kind, Events: []types.CalendarEvent{*created}}
}

func (e *Executor) listEvents(ctx context.Context, user *types.User, token string, a *types.ValidatedAction) *types.ActionResult {
	p := a.List
	from, to := p.Start, p.End
	if !to.After(from) {
		to = from.AddDate(0, 0, 1)
	}

	events, err := e.calendar.ListEvents(ctx, token, from, to)
	if err != nil {
		return fail(a.Kind, err)
	}
	if p.Query != "" {
		events = filterEvents(events, p.Query)
	}
	return &types.ActionResult{Kind: a.Kind, Events: events}
}

func (e *Executor) updateEvent(ctx context.Context, user *types.User, token string, a *types.ValidatedAction) *types.ActionResult {
	p := a.Update
	updated, err := e.calendar.UpdateEvent(ctx, token, p.EventID, gcal.EventPatch{
		Title:    p.Title,
		Start:    p.Start,
		End:      p.End,
		Location: p.Location,
	})
	if err != nil {
		return fail(a.Kind, mapNotFound(err))
	}

	updated.ID = uuid.New().String()
	updated.UserID = user.ID
	e.mirrorUpsert(ctx, updated)
	return &types.ActionResult{Kind: a.Kind, Events: []types.CalendarEvent{*updated}}
}

func (e *Executor) deleteEvent(ctx context.Context, user *types.User, token string, a *types.ValidatedAction) *types.ActionResult {
	p := a.Delete

	if p.EventID != "" {
		if err := e.calendar.DeleteEvent(ctx, token, p.EventID); err != nil {
			return fail(a.Kind, mapNotFound(err))
		}
		e.mirrorDelete(ctx, user.ID, p.EventID)
		return &types.ActionResult{Kind: a.Kind, Deleted: &types.Candidate{RemoteID: p.EventID}}
	}

	// Title search: one match deletes, several disambiguate, none is an error
	from, to := rangeWindow(e.now(), p.Range)
	events, err := e.calendar.ListEvents(ctx, token, from, to)
	if err != nil {
		return fail(a.Kind, err)
	}
	var matches []types.CalendarEvent
	for _, ev := range events {
		if strings.Contains(strings.ToLower(ev.Title), strings.ToLower(p.SearchTitle)) {
			matches = append(matches, ev)
		}
	}

	switch len(matches) {
	case 0:
		return fail(a.Kind, fmt.Errorf("%w: no event titled %q", types.ErrNotFound, p.SearchTitle))
	case 1:
		m := matches[0]
		if err := e.calendar.DeleteEvent(ctx, token, m.RemoteID); err != nil {
			return fail(a.Kind, mapNotFound(err))
		}
		e.mirrorDelete(ctx, user.ID, m.RemoteID)
		return &types.ActionResult{Kind: a.Kind, Deleted: &types.Candidate{
			RemoteID: m.RemoteID, Title: m.Title, Start: m.Start,
		}}
	default:
		candidates := make([]types.Candidate, len(matches))
		for i, m := range matches {
			candidates[i] = types.Candidate{RemoteID: m.RemoteID, Title: m.Title, Start: m.Start}
		}
		return &types.ActionResult{Kind: a.Kind, Candidates: candidates}
	}
}

func (e *Executor) searchEvents(ctx context.Context, user *types.User, token string, a *types.ValidatedAction) *types.ActionResult {
	p := a.Search
	from, to := rangeWindow(e.now(), p.Range)

	events, err := e.calendar.ListEvents(ctx, token, from, to)
	if err != nil {
		return fail(a.Kind, err)
	}
	return &types.ActionResult{Kind: a.Kind, Events: filterEvents(events, p.Query)}
}

func (e *Executor) suggestSlots(ctx context.Context, user *types.User, token string, a *types.ValidatedAction) *types.ActionResult {
	p := a.Suggest
	dayStart := atTimeOfDay(p.Date, preference(user, "workday_start", defaultWorkdayStart), defaultWorkdayStart)
	dayEnd := atTimeOfDay(p.Date, preference(user, "workday_end", defaultWorkdayEnd), defaultWorkdayEnd)

	events, err := e.calendar.ListEvents(ctx, token, p.Date, p.Date.AddDate(0, 0, 1))
	if err != nil {
		return fail(a.Kind, err)
	}
	busy := make([]types.Interval, len(events))
	for i, ev := range events {
		busy[i] = types.Interval{Start: ev.Start, End: ev.End}
	}

	free := slots.Find(dayStart, dayEnd,
		time.Duration(p.DurationMinutes)*time.Minute, busy, p.PreferredTimes)
	return &types.ActionResult{Kind: a.Kind, Slots: free}
}

// mirrorUpsert records a confirmed remote write. A mirror failure does
// not undo the remote operation; it is logged and the next confirmed
// write repairs the row.
func (e *Executor) mirrorUpsert(ctx context.Context, ev *types.CalendarEvent) {
	if err := e.mirror.UpsertEvent(ctx, ev); err != nil {
		logging.Warn("executor", "Mirror upsert failed for %s: %v", ev.RemoteID, err)
	}
}

func (e *Executor) mirrorDelete(ctx context.Context, userID, remoteID string) {
	if err := e.mirror.DeleteEvent(ctx, userID, remoteID); err != nil {
		logging.Warn("executor", "Mirror delete failed for %s: %v", remoteID, err)
	}
}

// filterEvents keeps events whose title, description, or location
// contains the query, case-insensitively
func filterEvents(events []types.CalendarEvent, query string) []types.CalendarEvent {
	q := strings.ToLower(query)
	var out []types.CalendarEvent
	for _, ev := range events {
		if strings.Contains(strings.ToLower(ev.Title), q) ||
			strings.Contains(strings.ToLower(ev.Description), q) ||
			strings.Contains(strings.ToLower(ev.Location), q) {
			out = append(out, ev)
		}
	}
	return out
}

// rangeWindow maps the enumerated shorthand to a concrete [from, to)
// window anchored at now. The "all" range looks a year ahead.
func rangeWindow(now time.Time, r types.TimeRange) (time.Time, time.Time) {
	loc := now.Location()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	switch r {
	case types.RangeToday:
		return midnight, midnight.AddDate(0, 0, 1)
	case types.RangeTomorrow:
		return midnight.AddDate(0, 0, 1), midnight.AddDate(0, 0, 2)
	case types.RangeThisWeek:
		// Week starts Monday
		offset := (int(now.Weekday()) + 6) % 7
		weekStart := midnight.AddDate(0, 0, -offset)
		return weekStart, weekStart.AddDate(0, 0, 7)
	case types.RangeThisMonth:
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		return monthStart, monthStart.AddDate(0, 1, 0)
	default: // RangeAll and unset
		return midnight, midnight.AddDate(1, 0, 0)
	}
}

// atTimeOfDay combines a midnight date with an "HH:MM" wall-clock value,
// falling back when a preference does not parse
func atTimeOfDay(date time.Time, hhmm, fallback string) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		t, _ = time.Parse("15:04", fallback)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location())
}

func preference(user *types.User, key, fallback string) string {
	if v, ok := user.Preferences[key]; ok && v != "" {
		return v
	}
	return fallback
}

// mapNotFound folds a remote 404/410 into the not-found sentinel so the
// synthesizer can phrase it without inspecting provider internals
func mapNotFound(err error) error {
	var remote *types.RemoteError
	if errors.As(err, &remote) && (remote.Status == 404 || remote.Status == 410) {
		return fmt.Errorf("%w: %v", types.ErrNotFound, err)
	}
	return err
}
