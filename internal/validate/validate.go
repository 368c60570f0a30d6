// Package validate turns raw action argument bags into typed parameters.
// Validation never mutates its input and performs no I/O; failures report
// every offending field, not just the first.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ewalk/calbot/internal/types"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// datetime layouts accepted for startDateTime/endDateTime arguments.
// Layouts without a zone are interpreted in the given location.
var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

var timeOfDayPattern = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)

// Action validates a raw action against the schema for its kind and
// returns typed parameters. An unrecognized action name yields
// *types.UnknownActionError; schema violations yield
// *types.ValidationError listing all offending fields.
func Action(a types.Action, loc *time.Location) (*types.ValidatedAction, error) {
	kind, ok := types.ParseActionKind(a.Name)
	if !ok {
		return nil, &types.UnknownActionError{Name: a.Name}
	}
	if loc == nil {
		loc = time.Local
	}

	v := &validator{args: a.Args, loc: loc, errs: &types.ValidationError{}}

	out := &types.ValidatedAction{Kind: kind}
	switch kind {
	case types.KindCreateEvent:
		out.Create = v.createEvent()
	case types.KindListEvents:
		out.List = v.listEvents()
	case types.KindUpdateEvent:
		out.Update = v.updateEvent()
	case types.KindDeleteEvent:
		out.Delete = v.deleteEvent()
	case types.KindSearchEvents:
		out.Search = v.searchEvents()
	case types.KindSuggestSlots:
		out.Suggest = v.suggestSlots()
	}

	if !v.errs.Empty() {
		return nil, v.errs
	}
	return out, nil
}

// validator accumulates field errors while pulling typed values out of the
// raw argument bag
type validator struct {
	args map[string]any
	loc  *time.Location
	errs *types.ValidationError
}

func (v *validator) createEvent() *types.CreateEventParams {
	p := &types.CreateEventParams{
		Title:       v.requiredString("title"),
		Description: v.optionalString("description"),
		Location:    v.optionalString("location"),
	}
	p.Start = v.requiredDateTime("startDateTime")
	p.End = v.requiredDateTime("endDateTime")
	p.Attendees = v.optionalEmails("attendees")
	p.ReminderMinutes = v.optionalPositiveInt("reminderMinutes")
	return p
}

func (v *validator) listEvents() *types.ListEventsParams {
	return &types.ListEventsParams{
		Start: v.requiredDate("startDate"),
		End:   v.requiredDate("endDate"),
		Query: v.optionalString("query"),
	}
}

func (v *validator) updateEvent() *types.UpdateEventParams {
	p := &types.UpdateEventParams{
		EventID: v.requiredString("eventId"),
	}
	if s := v.optionalString("title"); s != "" {
		p.Title = &s
	}
	if t, ok := v.optionalDateTime("startDateTime"); ok {
		p.Start = &t
	}
	if t, ok := v.optionalDateTime("endDateTime"); ok {
		p.End = &t
	}
	if s := v.optionalString("location"); s != "" {
		p.Location = &s
	}
	if p.Title == nil && p.Start == nil && p.End == nil && p.Location == nil {
		v.errs.Add("eventId", "at least one field to update must be provided")
	}
	return p
}

func (v *validator) deleteEvent() *types.DeleteEventParams {
	p := &types.DeleteEventParams{
		EventID:     v.optionalString("eventId"),
		SearchTitle: v.optionalString("searchTitle"),
		Range:       v.optionalTimeRange("timeRange"),
	}
	if p.EventID == "" && p.SearchTitle == "" {
		v.errs.Add("eventId", "either eventId or searchTitle is required")
	}
	return p
}

func (v *validator) searchEvents() *types.SearchEventsParams {
	p := &types.SearchEventsParams{
		Query: v.requiredString("query"),
		Range: v.optionalTimeRange("timeRange"),
	}
	if p.Range == "" {
		p.Range = types.RangeAll
	}
	return p
}

func (v *validator) suggestSlots() *types.SuggestSlotsParams {
	p := &types.SuggestSlotsParams{
		Date: v.requiredDate("date"),
	}
	p.DurationMinutes = v.requiredPositiveInt("durationMinutes")
	p.PreferredTimes = v.optionalTimesOfDay("preferredTimes")
	return p
}

// --- field accessors ---

func (v *validator) requiredString(field string) string {
	raw, ok := v.args[field]
	if !ok || raw == nil {
		v.errs.Add(field, "required")
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		v.errs.Add(field, "must be a string")
		return ""
	}
	s = strings.TrimSpace(s)
	if s == "" {
		v.errs.Add(field, "must not be empty")
	}
	return s
}

func (v *validator) optionalString(field string) string {
	raw, ok := v.args[field]
	if !ok || raw == nil {
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		v.errs.Add(field, "must be a string")
		return ""
	}
	return strings.TrimSpace(s)
}

func (v *validator) requiredDateTime(field string) time.Time {
	s := v.requiredString(field)
	if s == "" {
		return time.Time{}
	}
	t, err := parseDateTime(s, v.loc)
	if err != nil {
		v.errs.Add(field, "must be an ISO-8601 datetime")
		return time.Time{}
	}
	return t
}

func (v *validator) optionalDateTime(field string) (time.Time, bool) {
	s := v.optionalString(field)
	if s == "" {
		return time.Time{}, false
	}
	t, err := parseDateTime(s, v.loc)
	if err != nil {
		v.errs.Add(field, "must be an ISO-8601 datetime")
		return time.Time{}, false
	}
	return t, true
}

func (v *validator) requiredDate(field string) time.Time {
	s := v.requiredString(field)
	if s == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation("2006-01-02", s, v.loc)
	if err != nil {
		v.errs.Add(field, "must be a date (YYYY-MM-DD)")
		return time.Time{}
	}
	return t
}

func (v *validator) requiredPositiveInt(field string) int {
	raw, ok := v.args[field]
	if !ok || raw == nil {
		v.errs.Add(field, "required")
		return 0
	}
	n, err := toInt(raw)
	if err != nil || n <= 0 {
		v.errs.Add(field, "must be a positive integer")
		return 0
	}
	return n
}

func (v *validator) optionalPositiveInt(field string) int {
	raw, ok := v.args[field]
	if !ok || raw == nil {
		return 0
	}
	n, err := toInt(raw)
	if err != nil || n <= 0 {
		v.errs.Add(field, "must be a positive integer")
		return 0
	}
	return n
}

func (v *validator) optionalEmails(field string) []string {
	raw, ok := v.args[field]
	if !ok || raw == nil {
		return nil
	}
	items, err := toStringSlice(raw)
	if err != nil {
		v.errs.Add(field, "must be a list of email addresses")
		return nil
	}
	var out []string
	for _, item := range items {
		item = strings.TrimSpace(item)
		if !emailPattern.MatchString(item) {
			v.errs.Add(field, fmt.Sprintf("%q is not a valid email address", item))
			continue
		}
		out = append(out, item)
	}
	return out
}

func (v *validator) optionalTimeRange(field string) types.TimeRange {
	s := v.optionalString(field)
	if s == "" {
		return ""
	}
	if !types.ValidTimeRange(s) {
		v.errs.Add(field, "must be one of today, tomorrow, this_week, this_month, all")
		return ""
	}
	return types.TimeRange(s)
}

func (v *validator) optionalTimesOfDay(field string) []string {
	raw, ok := v.args[field]
	if !ok || raw == nil {
		return nil
	}
	items, err := toStringSlice(raw)
	if err != nil {
		v.errs.Add(field, "must be a list of HH:MM times")
		return nil
	}
	var out []string
	for _, item := range items {
		item = strings.TrimSpace(item)
		if !timeOfDayPattern.MatchString(item) {
			v.errs.Add(field, fmt.Sprintf("%q is not a valid HH:MM time", item))
			continue
		}
		// Normalize "9:00" to "09:00" so slot matching works
		if len(item) == 4 {
			item = "0" + item
		}
		out = append(out, item)
	}
	return out
}

// --- conversions ---

func parseDateTime(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range datetimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime: %s", s)
}

// toInt accepts the numeric shapes JSON decoding produces
func toInt(raw any) (int, error) {
	switch n := raw.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		return int(n), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	default:
		return 0, fmt.Errorf("not a number: %T", raw)
	}
}

func toStringSlice(raw any) ([]string, error) {
	switch items := raw.(type) {
	case []string:
		return items, nil
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("not a string: %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		// Tolerate a comma-separated string from the fallback resolver
		parts := strings.Split(items, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("not a list: %T", raw)
	}
}
