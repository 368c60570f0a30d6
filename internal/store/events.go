package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ewalk/calbot/internal/types"
)

// UpsertEvent writes a mirror row keyed by (user_id, remote_id). Callers
// invoke this only after the remote provider has confirmed the
// corresponding create or update; there are no speculative mirror writes.
func (s *Store) UpsertEvent(ctx context.Context, e *types.CalendarEvent) error {
	attendees, err := json.Marshal(e.Attendees)
	if err != nil {
		return fmt.Errorf("failed to marshal attendees: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, remote_id, user_id, title, description, start_at, end_at, location, attendees, reminder_minutes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, remote_id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			location = excluded.location,
			attendees = excluded.attendees,
			reminder_minutes = excluded.reminder_minutes`,
		e.ID, e.RemoteID, e.UserID, e.Title, e.Description, e.Start, e.End,
		e.Location, string(attendees), e.ReminderMinutes,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert event: %w", err)
	}
	return nil
}

// DeleteEvent removes the mirror row for a confirmed remote delete
func (s *Store) DeleteEvent(ctx context.Context, userID, remoteID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE user_id = ? AND remote_id = ?`,
		userID, remoteID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// EventsInRange returns mirrored events for a user whose start falls in
// [from, to), ordered by start time
func (s *Store) EventsInRange(ctx context.Context, userID string, from, to time.Time) ([]types.CalendarEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, remote_id, user_id, title, description, start_at, end_at, location, attendees, reminder_minutes
		 FROM events
		 WHERE user_id = ? AND start_at >= ? AND start_at < ?
		 ORDER BY start_at ASC`,
		userID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []types.CalendarEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// RecentEvents returns the most recently mirrored upcoming events for a
// user, for use as resolver context
func (s *Store) RecentEvents(ctx context.Context, userID string, now time.Time, limit int) ([]types.CalendarEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, remote_id, user_id, title, description, start_at, end_at, location, attendees, reminder_minutes
		 FROM events
		 WHERE user_id = ? AND end_at >= ?
		 ORDER BY start_at ASC
		 LIMIT ?`,
		userID, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	var out []types.CalendarEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEvent(rows *sql.Rows) (*types.CalendarEvent, error) {
	var e types.CalendarEvent
	var attendees string
	err := rows.Scan(&e.ID, &e.RemoteID, &e.UserID, &e.Title, &e.Description,
		&e.Start, &e.End, &e.Location, &attendees, &e.ReminderMinutes)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	if err := json.Unmarshal([]byte(attendees), &e.Attendees); err != nil {
		return nil, fmt.Errorf("failed to parse attendees: %w", err)
	}
	return &e, nil
}
