package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ewalk/calbot/internal/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL})
}

func TestListEvents(t *testing.T) {
	var gotAuth, gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{
					"id":      "ev-1",
					"summary": "Standup",
					"start":   map[string]string{"dateTime": "2026-03-02T09:00:00Z"},
					"end":     map[string]string{"dateTime": "2026-03-02T09:15:00Z"},
				},
				{
					"id":      "ev-2",
					"summary": "Offsite",
					"start":   map[string]string{"date": "2026-03-03"},
					"end":     map[string]string{"date": "2026-03-04"},
				},
			},
		})
	})

	min := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	events, err := c.ListEvents(context.Background(), "the-token", min, min.Add(72*time.Hour))
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if gotAuth != "Bearer the-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	for _, want := range []string{"singleEvents=true", "orderBy=startTime", "timeMin="} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query missing %q: %s", want, gotQuery)
		}
	}
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].RemoteID != "ev-1" || events[0].Title != "Standup" {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	// All-day events parse at midnight
	if events[1].Start.Hour() != 0 {
		t.Errorf("all-day start = %v", events[1].Start)
	}
}

func TestCreateEvent(t *testing.T) {
	var gotBody googleEvent
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		gotBody.ID = "ev-new"
		json.NewEncoder(w).Encode(gotBody)
	})

	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	created, err := c.CreateEvent(context.Background(), "tok", &types.CalendarEvent{
		Title:           "Dentist",
		Start:           start,
		End:             start.Add(time.Hour),
		Attendees:       []string{"ann@example.com"},
		ReminderMinutes: 15,
	})
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
	if created.RemoteID != "ev-new" {
		t.Errorf("remote ID = %q", created.RemoteID)
	}
	if gotBody.Summary != "Dentist" {
		t.Errorf("summary = %q", gotBody.Summary)
	}
	if len(gotBody.Attendees) != 1 || gotBody.Attendees[0].Email != "ann@example.com" {
		t.Errorf("attendees = %+v", gotBody.Attendees)
	}
	if gotBody.Reminders == nil || len(gotBody.Reminders.Overrides) != 1 || gotBody.Reminders.Overrides[0].Minutes != 15 {
		t.Errorf("reminders = %+v", gotBody.Reminders)
	}
	if created.ReminderMinutes != 15 {
		t.Errorf("reminder minutes = %d", created.ReminderMinutes)
	}
}

func TestUpdateEvent_SendsOnlyPatchedFields(t *testing.T) {
	var gotMethod string
	var gotRaw map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotRaw)
		json.NewEncoder(w).Encode(googleEvent{
			ID:      "ev-1",
			Summary: "Renamed",
			Start:   &googleDateTime{DateTime: "2026-03-02T09:00:00Z"},
			End:     &googleDateTime{DateTime: "2026-03-02T10:00:00Z"},
		})
	})

	title := "Renamed"
	updated, err := c.UpdateEvent(context.Background(), "tok", "ev-1", EventPatch{Title: &title})
	if err != nil {
		t.Fatalf("UpdateEvent failed: %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Errorf("method = %s", gotMethod)
	}
	if gotRaw["summary"] != "Renamed" {
		t.Errorf("body summary = %v", gotRaw["summary"])
	}
	if _, ok := gotRaw["start"]; ok {
		t.Error("unpatched start must not be sent")
	}
	if updated.Title != "Renamed" {
		t.Errorf("title = %q", updated.Title)
	}
}

func TestDeleteEvent(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.DeleteEvent(context.Background(), "tok", "ev-9"); err != nil {
		t.Fatalf("DeleteEvent failed: %v", err)
	}
	if gotPath != "/calendars/primary/events/ev-9" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestRemoteErrorCarriesGoogleMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 404, "message": "Not Found"},
		})
	})

	_, err := c.GetEvent(context.Background(), "tok", "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	var remote *types.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %T", err)
	}
	if remote.Status != http.StatusNotFound || remote.Op != "get" {
		t.Errorf("remote = %+v", remote)
	}
}
