// Package gcal is a thin Google Calendar v3 REST client. Unlike a
// service-account client it holds no token of its own: every call takes
// the bearer token of the user on whose behalf it acts.
package gcal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ewalk/calbot/internal/types"
)

const defaultBaseURL = "https://www.googleapis.com/calendar/v3"

// Config holds calendar client configuration
type Config struct {
	BaseURL    string // override for tests; empty means the Google endpoint
	CalendarID string // empty means "primary"
	Timeout    time.Duration
}

// Client talks to the Google Calendar API for one calendar
type Client struct {
	httpClient *http.Client
	baseURL    string
	calendarID string
}

// NewClient creates a calendar client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		calendarID: cfg.CalendarID,
	}
}

// EventPatch holds the fields of a partial update. Nil means "leave as is".
type EventPatch struct {
	Title           *string
	Description     *string
	Location        *string
	Start           *time.Time
	End             *time.Time
	Attendees       *[]string
	ReminderMinutes *int
}

// googleEvent is the wire shape of a Calendar API event
type googleEvent struct {
	ID          string           `json:"id,omitempty"`
	Summary     string           `json:"summary,omitempty"`
	Description string           `json:"description,omitempty"`
	Location    string           `json:"location,omitempty"`
	Status      string           `json:"status,omitempty"`
	Start       *googleDateTime  `json:"start,omitempty"`
	End         *googleDateTime  `json:"end,omitempty"`
	Attendees   []googleAttendee `json:"attendees,omitempty"`
	Reminders   *googleReminders `json:"reminders,omitempty"`
}

type googleDateTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type googleAttendee struct {
	Email string `json:"email"`
}

type googleReminders struct {
	UseDefault bool             `json:"useDefault"`
	Overrides  []googleOverride `json:"overrides,omitempty"`
}

type googleOverride struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

type eventsResponse struct {
	Items []googleEvent `json:"items"`
}

// ListEvents retrieves the events overlapping [timeMin, timeMax), with
// recurring events expanded and results ordered by start time
func (c *Client) ListEvents(ctx context.Context, token string, timeMin, timeMax time.Time) ([]types.CalendarEvent, error) {
	q := url.Values{}
	q.Set("timeMin", timeMin.Format(time.RFC3339))
	q.Set("timeMax", timeMax.Format(time.RFC3339))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	q.Set("maxResults", "250")

	path := fmt.Sprintf("/calendars/%s/events?%s", url.PathEscape(c.calendarID), q.Encode())
	data, err := c.request(ctx, token, "GET", path, nil, "list")
	if err != nil {
		return nil, err
	}

	var resp eventsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &types.RemoteError{Op: "list", Err: fmt.Errorf("parse events response: %w", err)}
	}

	events := make([]types.CalendarEvent, 0, len(resp.Items))
	for i := range resp.Items {
		ev, err := convertEvent(&resp.Items[i])
		if err != nil {
			continue // skip malformed events
		}
		events = append(events, ev)
	}
	return events, nil
}

// GetEvent retrieves one event by its remote ID
func (c *Client) GetEvent(ctx context.Context, token, remoteID string) (*types.CalendarEvent, error) {
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(c.calendarID), url.PathEscape(remoteID))
	data, err := c.request(ctx, token, "GET", path, nil, "get")
	if err != nil {
		return nil, err
	}

	var item googleEvent
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, &types.RemoteError{Op: "get", Err: fmt.Errorf("parse event: %w", err)}
	}
	ev, err := convertEvent(&item)
	if err != nil {
		return nil, &types.RemoteError{Op: "get", Err: err}
	}
	return &ev, nil
}

// CreateEvent creates an event and returns it with the remote ID filled in
func (c *Client) CreateEvent(ctx context.Context, token string, ev *types.CalendarEvent) (*types.CalendarEvent, error) {
	body := googleEvent{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       wireDateTime(ev.Start),
		End:         wireDateTime(ev.End),
		Attendees:   wireAttendees(ev.Attendees),
	}
	if ev.ReminderMinutes > 0 {
		body.Reminders = &googleReminders{
			Overrides: []googleOverride{{Method: "popup", Minutes: ev.ReminderMinutes}},
		}
	}

	path := fmt.Sprintf("/calendars/%s/events", url.PathEscape(c.calendarID))
	data, err := c.request(ctx, token, "POST", path, &body, "create")
	if err != nil {
		return nil, err
	}

	var item googleEvent
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, &types.RemoteError{Op: "create", Err: fmt.Errorf("parse created event: %w", err)}
	}
	created, err := convertEvent(&item)
	if err != nil {
		return nil, &types.RemoteError{Op: "create", Err: err}
	}
	return &created, nil
}

// UpdateEvent applies a partial update to an event. Only the fields set in
// the patch are sent; everything else keeps its remote value.
func (c *Client) UpdateEvent(ctx context.Context, token, remoteID string, patch EventPatch) (*types.CalendarEvent, error) {
	body := googleEvent{}
	if patch.Title != nil {
		body.Summary = *patch.Title
	}
	if patch.Description != nil {
		body.Description = *patch.Description
	}
	if patch.Location != nil {
		body.Location = *patch.Location
	}
	if patch.Start != nil {
		body.Start = wireDateTime(*patch.Start)
	}
	if patch.End != nil {
		body.End = wireDateTime(*patch.End)
	}
	if patch.Attendees != nil {
		body.Attendees = wireAttendees(*patch.Attendees)
	}
	if patch.ReminderMinutes != nil {
		body.Reminders = &googleReminders{
			Overrides: []googleOverride{{Method: "popup", Minutes: *patch.ReminderMinutes}},
		}
	}

	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(c.calendarID), url.PathEscape(remoteID))
	data, err := c.request(ctx, token, "PATCH", path, &body, "update")
	if err != nil {
		return nil, err
	}

	var item googleEvent
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, &types.RemoteError{Op: "update", Err: fmt.Errorf("parse updated event: %w", err)}
	}
	updated, err := convertEvent(&item)
	if err != nil {
		return nil, &types.RemoteError{Op: "update", Err: err}
	}
	return &updated, nil
}

// DeleteEvent removes an event by its remote ID
func (c *Client) DeleteEvent(ctx context.Context, token, remoteID string) error {
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(c.calendarID), url.PathEscape(remoteID))
	_, err := c.request(ctx, token, "DELETE", path, nil, "delete")
	return err
}

// request makes one authenticated call and returns the response body.
// Non-2xx responses become a RemoteError carrying the parsed Google error
// message when one is present.
func (c *Client) request(ctx context.Context, token, method, path string, body any, op string) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &types.RemoteError{Op: op, Err: fmt.Errorf("marshal body: %w", err)}
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, &types.RemoteError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &types.RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &types.RemoteError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		msg := string(respBody)
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		return nil, &types.RemoteError{Op: op, Status: resp.StatusCode, Err: errors.New(msg)}
	}

	return respBody, nil
}

func wireDateTime(t time.Time) *googleDateTime {
	return &googleDateTime{
		DateTime: t.Format(time.RFC3339),
		TimeZone: t.Location().String(),
	}
}

func wireAttendees(emails []string) []googleAttendee {
	if len(emails) == 0 {
		return nil
	}
	out := make([]googleAttendee, len(emails))
	for i, e := range emails {
		out[i] = googleAttendee{Email: e}
	}
	return out
}

// convertEvent maps the wire shape to the domain event. All-day events
// carry a date without a time; they parse at midnight.
func convertEvent(item *googleEvent) (types.CalendarEvent, error) {
	ev := types.CalendarEvent{
		RemoteID:    item.ID,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
	}

	var err error
	if ev.Start, err = parseWireTime(item.Start); err != nil {
		return types.CalendarEvent{}, fmt.Errorf("parse start: %w", err)
	}
	if ev.End, err = parseWireTime(item.End); err != nil {
		return types.CalendarEvent{}, fmt.Errorf("parse end: %w", err)
	}

	for _, a := range item.Attendees {
		ev.Attendees = append(ev.Attendees, a.Email)
	}
	if item.Reminders != nil {
		for _, o := range item.Reminders.Overrides {
			if o.Method == "popup" {
				ev.ReminderMinutes = o.Minutes
				break
			}
		}
	}
	return ev, nil
}

func parseWireTime(dt *googleDateTime) (time.Time, error) {
	if dt == nil {
		return time.Time{}, fmt.Errorf("missing")
	}
	if dt.DateTime != "" {
		return time.Parse(time.RFC3339, dt.DateTime)
	}
	if dt.Date != "" {
		return time.Parse("2006-01-02", dt.Date)
	}
	return time.Time{}, fmt.Errorf("missing")
}
