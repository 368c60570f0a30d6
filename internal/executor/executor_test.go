package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ewalk/calbot/internal/gcal"
	"github.com/ewalk/calbot/internal/types"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// fakeCalendar is an in-memory CalendarAPI recording every call
type fakeCalendar struct {
	events    []types.CalendarEvent
	failWith  error
	created   []types.CalendarEvent
	deleted   []string
	patched   map[string]gcal.EventPatch
	listCalls int
}

func (f *fakeCalendar) ListEvents(ctx context.Context, token string, timeMin, timeMax time.Time) ([]types.CalendarEvent, error) {
	f.listCalls++
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []types.CalendarEvent
	for _, ev := range f.events {
		if !ev.Start.Before(timeMin) && ev.Start.Before(timeMax) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeCalendar) CreateEvent(ctx context.Context, token string, ev *types.CalendarEvent) (*types.CalendarEvent, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	created := *ev
	created.RemoteID = "remote-new"
	f.created = append(f.created, created)
	return &created, nil
}

func (f *fakeCalendar) UpdateEvent(ctx context.Context, token, remoteID string, patch gcal.EventPatch) (*types.CalendarEvent, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	if f.patched == nil {
		f.patched = make(map[string]gcal.EventPatch)
	}
	f.patched[remoteID] = patch
	for _, ev := range f.events {
		if ev.RemoteID == remoteID {
			updated := ev
			if patch.Title != nil {
				updated.Title = *patch.Title
			}
			return &updated, nil
		}
	}
	return nil, &types.RemoteError{Op: "update", Status: 404, Err: errors.New("not found")}
}

func (f *fakeCalendar) DeleteEvent(ctx context.Context, token, remoteID string) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.deleted = append(f.deleted, remoteID)
	return nil
}

// fakeMirror records mirror writes
type fakeMirror struct {
	upserts []types.CalendarEvent
	deletes []string
}

func (f *fakeMirror) UpsertEvent(ctx context.Context, e *types.CalendarEvent) error {
	f.upserts = append(f.upserts, *e)
	return nil
}

func (f *fakeMirror) DeleteEvent(ctx context.Context, userID, remoteID string) error {
	f.deletes = append(f.deletes, remoteID)
	return nil
}

// fakeTokens returns a fixed token or a fixed error
type fakeTokens struct {
	err   error
	calls int
}

func (f *fakeTokens) AccessToken(ctx context.Context, user *types.User) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "tok", nil
}

func newTestExecutor(cal *fakeCalendar, mirror *fakeMirror, tokens *fakeTokens) *Executor {
	e := NewExecutor(cal, tokens, mirror)
	e.SetNow(func() time.Time { return testNow })
	return e
}

func testUser() *types.User {
	return &types.User{ID: "user-1", Identity: "discord:42", AuthStatus: types.AuthAuthenticated,
		Credential: &types.Credential{AccessToken: "tok"}}
}

func createAction(start, end time.Time) *types.ValidatedAction {
	return &types.ValidatedAction{
		Kind:   types.KindCreateEvent,
		Create: &types.CreateEventParams{Title: "Dentist", Start: start, End: end},
	}
}

func TestCreate_RejectsPastStartBeforeRemoteCall(t *testing.T) {
	cal := &fakeCalendar{}
	tokens := &fakeTokens{}
	e := newTestExecutor(cal, &fakeMirror{}, tokens)

	res := e.Execute(context.Background(), testUser(),
		createAction(testNow.Add(-time.Hour), testNow.Add(time.Hour)))
	if !errors.Is(res.Err, types.ErrPastDate) {
		t.Fatalf("err = %v", res.Err)
	}
	if len(cal.created) != 0 {
		t.Error("remote create must not happen for a rejected action")
	}
	if tokens.calls != 0 {
		t.Error("a rejected action must not touch the credential")
	}
}

func TestCreate_RejectsStartAfterEnd(t *testing.T) {
	cal := &fakeCalendar{}
	e := newTestExecutor(cal, &fakeMirror{}, &fakeTokens{})

	res := e.Execute(context.Background(), testUser(),
		createAction(testNow.Add(2*time.Hour), testNow.Add(time.Hour)))
	if !errors.Is(res.Err, types.ErrStartAfterEnd) {
		t.Fatalf("err = %v", res.Err)
	}
	if len(cal.created) != 0 {
		t.Error("remote create must not happen for a rejected action")
	}
}

func TestCreate_MirrorsAfterRemoteConfirms(t *testing.T) {
	cal := &fakeCalendar{}
	mirror := &fakeMirror{}
	e := newTestExecutor(cal, mirror, &fakeTokens{})

	res := e.Execute(context.Background(), testUser(),
		createAction(testNow.Add(time.Hour), testNow.Add(2*time.Hour)))
	if res.Err != nil {
		t.Fatalf("err = %v", res.Err)
	}
	if len(res.Events) != 1 || res.Events[0].RemoteID != "remote-new" {
		t.Fatalf("events = %+v", res.Events)
	}
	if len(mirror.upserts) != 1 {
		t.Fatalf("mirror upserts = %d", len(mirror.upserts))
	}
	if mirror.upserts[0].UserID != "user-1" || mirror.upserts[0].RemoteID != "remote-new" {
		t.Errorf("mirror row = %+v", mirror.upserts[0])
	}
}

func TestCreate_RemoteFailureLeavesMirrorUntouched(t *testing.T) {
	cal := &fakeCalendar{failWith: &types.RemoteError{Op: "create", Status: 500, Err: errors.New("boom")}}
	mirror := &fakeMirror{}
	e := newTestExecutor(cal, mirror, &fakeTokens{})

	res := e.Execute(context.Background(), testUser(),
		createAction(testNow.Add(time.Hour), testNow.Add(2*time.Hour)))
	if res.Err == nil {
		t.Fatal("expected error")
	}
	if len(mirror.upserts) != 0 {
		t.Error("mirror must not be written on remote failure")
	}
}

func TestList_FiltersLocallyAcrossFields(t *testing.T) {
	cal := &fakeCalendar{events: []types.CalendarEvent{
		{RemoteID: "a", Title: "Budget review", Start: testNow.Add(time.Hour), End: testNow.Add(2 * time.Hour)},
		{RemoteID: "b", Title: "1:1", Description: "quarterly BUDGET deep dive", Start: testNow.Add(3 * time.Hour), End: testNow.Add(4 * time.Hour)},
		{RemoteID: "c", Title: "Standup", Location: "Budget room", Start: testNow.Add(5 * time.Hour), End: testNow.Add(6 * time.Hour)},
		{RemoteID: "d", Title: "Lunch", Start: testNow.Add(7 * time.Hour), End: testNow.Add(8 * time.Hour)},
	}}
	e := newTestExecutor(cal, &fakeMirror{}, &fakeTokens{})

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	res := e.Execute(context.Background(), testUser(), &types.ValidatedAction{
		Kind: types.KindListEvents,
		List: &types.ListEventsParams{Start: day, End: day.AddDate(0, 0, 1), Query: "budget"},
	})
	if res.Err != nil {
		t.Fatalf("err = %v", res.Err)
	}
	if len(res.Events) != 3 {
		t.Fatalf("got %d events, want 3 (title, description, and location matches)", len(res.Events))
	}
	for _, ev := range res.Events {
		if ev.RemoteID == "d" {
			t.Error("non-matching event leaked through the filter")
		}
	}
}

func TestUpdate_RejectsInvertedTimesBeforeRemoteCall(t *testing.T) {
	cal := &fakeCalendar{}
	e := newTestExecutor(cal, &fakeMirror{}, &fakeTokens{})

	start := testNow.Add(3 * time.Hour)
	end := testNow.Add(time.Hour)
	res := e.Execute(context.Background(), testUser(), &types.ValidatedAction{
		Kind:   types.KindUpdateEvent,
		Update: &types.UpdateEventParams{EventID: "a", Start: &start, End: &end},
	})
	if !errors.Is(res.Err, types.ErrStartAfterEnd) {
		t.Fatalf("err = %v", res.Err)
	}
	if len(cal.patched) != 0 {
		t.Error("remote update must not happen for a rejected action")
	}
}

func TestUpdate_MirrorsConfirmedPatch(t *testing.T) {
	cal := &fakeCalendar{events: []types.CalendarEvent{
		{RemoteID: "a", Title: "Old title", Start: testNow.Add(time.Hour), End: testNow.Add(2 * time.Hour)},
	}}
	mirror := &fakeMirror{}
	e := newTestExecutor(cal, mirror, &fakeTokens{})

	title := "New title"
	res := e.Execute(context.Background(), testUser(), &types.ValidatedAction{
		Kind:   types.KindUpdateEvent,
		Update: &types.UpdateEventParams{EventID: "a", Title: &title},
	})
	if res.Err != nil {
		t.Fatalf("err = %v", res.Err)
	}
	if len(mirror.upserts) != 1 || mirror.upserts[0].Title != "New title" {
		t.Errorf("mirror upserts = %+v", mirror.upserts)
	}
}

func TestUpdate_RemoteNotFound(t *testing.T) {
	e := newTestExecutor(&fakeCalendar{}, &fakeMirror{}, &fakeTokens{})

	title := "x"
	res := e.Execute(context.Background(), testUser(), &types.ValidatedAction{
		Kind:   types.KindUpdateEvent,
		Update: &types.UpdateEventParams{EventID: "ghost", Title: &title},
	})
	if !errors.Is(res.Err, types.ErrNotFound) {
		t.Fatalf("err = %v", res.Err)
	}
}

func deleteByTitle(title string) *types.ValidatedAction {
	return &types.ValidatedAction{
		Kind:   types.KindDeleteEvent,
		Delete: &types.DeleteEventParams{SearchTitle: title, Range: types.RangeToday},
	}
}

func TestDelete_SingleMatchDeletesAndMirrors(t *testing.T) {
	cal := &fakeCalendar{events: []types.CalendarEvent{
		{RemoteID: "a", Title: "Dentist", Start: testNow.Add(time.Hour), End: testNow.Add(2 * time.Hour)},
		{RemoteID: "b", Title: "Standup", Start: testNow.Add(3 * time.Hour), End: testNow.Add(4 * time.Hour)},
	}}
	mirror := &fakeMirror{}
	e := newTestExecutor(cal, mirror, &fakeTokens{})

	res := e.Execute(context.Background(), testUser(), deleteByTitle("dentist"))
	if res.Err != nil {
		t.Fatalf("err = %v", res.Err)
	}
	if res.Deleted == nil || res.Deleted.RemoteID != "a" {
		t.Fatalf("deleted = %+v", res.Deleted)
	}
	if len(cal.deleted) != 1 || cal.deleted[0] != "a" {
		t.Errorf("remote deletes = %v", cal.deleted)
	}
	if len(mirror.deletes) != 1 || mirror.deletes[0] != "a" {
		t.Errorf("mirror deletes = %v", mirror.deletes)
	}
}

func TestDelete_AmbiguousMatchReturnsCandidatesWithoutDeleting(t *testing.T) {
	cal := &fakeCalendar{events: []types.CalendarEvent{
		{RemoteID: "a", Title: "Team sync", Start: testNow.Add(time.Hour), End: testNow.Add(2 * time.Hour)},
		{RemoteID: "b", Title: "Design sync", Start: testNow.Add(3 * time.Hour), End: testNow.Add(4 * time.Hour)},
	}}
	mirror := &fakeMirror{}
	e := newTestExecutor(cal, mirror, &fakeTokens{})

	res := e.Execute(context.Background(), testUser(), deleteByTitle("sync"))
	if res.Err != nil {
		t.Fatalf("ambiguity is not an error, got %v", res.Err)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("candidates = %+v", res.Candidates)
	}
	if len(cal.deleted) != 0 || len(mirror.deletes) != 0 {
		t.Error("nothing may be deleted on an ambiguous match")
	}
}

func TestDelete_NoMatchIsNotFound(t *testing.T) {
	e := newTestExecutor(&fakeCalendar{}, &fakeMirror{}, &fakeTokens{})

	res := e.Execute(context.Background(), testUser(), deleteByTitle("ghost"))
	if !errors.Is(res.Err, types.ErrNotFound) {
		t.Fatalf("err = %v", res.Err)
	}
}

func TestSuggestSlots_AvoidsBusyIntervals(t *testing.T) {
	day := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	cal := &fakeCalendar{events: []types.CalendarEvent{
		{RemoteID: "a", Title: "Block", Start: day.Add(10 * time.Hour), End: day.Add(16 * time.Hour)},
	}}
	e := newTestExecutor(cal, &fakeMirror{}, &fakeTokens{})

	res := e.Execute(context.Background(), testUser(), &types.ValidatedAction{
		Kind:    types.KindSuggestSlots,
		Suggest: &types.SuggestSlotsParams{Date: day, DurationMinutes: 60},
	})
	if res.Err != nil {
		t.Fatalf("err = %v", res.Err)
	}
	if len(res.Slots) == 0 {
		t.Fatal("expected free slots")
	}
	for _, s := range res.Slots {
		if s.Start.Before(day.Add(9*time.Hour)) || s.End.After(day.Add(18*time.Hour)) {
			t.Errorf("slot outside working day: %+v", s)
		}
		if s.Start.Before(day.Add(16*time.Hour)) && s.End.After(day.Add(10*time.Hour)) {
			t.Errorf("slot overlaps busy block: %+v", s)
		}
	}
}

func TestSuggestSlots_HonorsWorkdayPreference(t *testing.T) {
	day := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	e := newTestExecutor(&fakeCalendar{}, &fakeMirror{}, &fakeTokens{})

	u := testUser()
	u.Preferences = map[string]string{"workday_start": "07:00", "workday_end": "12:00"}
	res := e.Execute(context.Background(), u, &types.ValidatedAction{
		Kind:    types.KindSuggestSlots,
		Suggest: &types.SuggestSlotsParams{Date: day, DurationMinutes: 60},
	})
	if res.Err != nil {
		t.Fatalf("err = %v", res.Err)
	}
	if len(res.Slots) == 0 {
		t.Fatal("expected free slots")
	}
	if got := res.Slots[0].Start; !got.Equal(day.Add(7 * time.Hour)) {
		t.Errorf("first slot starts %v, want 07:00", got)
	}
	for _, s := range res.Slots {
		if s.End.After(day.Add(12 * time.Hour)) {
			t.Errorf("slot past preferred workday end: %+v", s)
		}
	}
}

func TestExecute_TokenFailurePropagates(t *testing.T) {
	cal := &fakeCalendar{}
	tokens := &fakeTokens{err: types.ErrReAuthRequired}
	e := newTestExecutor(cal, &fakeMirror{}, tokens)

	res := e.Execute(context.Background(), testUser(),
		createAction(testNow.Add(time.Hour), testNow.Add(2*time.Hour)))
	if !errors.Is(res.Err, types.ErrReAuthRequired) {
		t.Fatalf("err = %v", res.Err)
	}
	if cal.listCalls != 0 && len(cal.created) != 0 {
		t.Error("no remote call may happen without a token")
	}
}
