package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tsawler/prose/v3"
	"gopkg.in/yaml.v3"

	"github.com/ewalk/calbot/internal/logging"
	"github.com/ewalk/calbot/internal/types"
)

// minConfidence is the score below which the fallback gives up and
// answers conversationally instead of guessing an action
const minConfidence = 0.3

// Rule maps keyword triggers to one action kind. Rules ship compiled in
// and can be overridden by YAML files in the rules directory.
type Rule struct {
	Name     string   `yaml:"name"`
	Action   string   `yaml:"action"`
	Verbs    []string `yaml:"verbs"`
	Nouns    []string `yaml:"nouns"`
	Priority int      `yaml:"priority"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// defaultRules is the compiled-in rule set, in the same YAML shape the
// override files use
const defaultRules = `
rules:
  - name: create
    action: create_event
    verbs: [schedule, book, create, add, set, plan]
    nouns: [meeting, event, appointment, call, lunch, dinner, reminder]
    priority: 10
  - name: delete
    action: delete_event
    verbs: [cancel, delete, remove, drop]
    nouns: [meeting, event, appointment, call]
    priority: 20
  - name: update
    action: update_event
    verbs: [move, reschedule, shift, push]
    nouns: [meeting, event, appointment, call]
    priority: 20
  - name: suggest
    action: suggest_slots
    verbs: [suggest, find, when]
    nouns: [slot, slots, time, opening, availability, free]
    priority: 15
  - name: search
    action: search_events
    verbs: [find, search]
    nouns: [meeting, event, appointment, call]
    priority: 10
  - name: list
    action: list_events
    verbs: [list, show, what]
    nouns: [calendar, schedule, events, agenda, meetings]
    priority: 5
`

// Fallback is the rule-based resolver used when the reasoning service is
// unavailable. It is deliberately conservative: keyword rules, regex date
// extraction, and a one-hour default duration.
type Fallback struct {
	rules []Rule
}

// NewFallback creates the fallback resolver with the compiled-in rules
func NewFallback() *Fallback {
	var rf ruleFile
	// The compiled-in rules always parse; yaml failures here are a defect
	if err := yaml.Unmarshal([]byte(defaultRules), &rf); err != nil {
		logging.Warn("resolver", "Default rules failed to parse: %v", err)
	}
	return &Fallback{rules: rf.Rules}
}

// LoadRules merges override rules from *.yaml files in dir. Rules with a
// name already present replace the compiled-in rule of that name.
func (f *Fallback) LoadRules(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return fmt.Errorf("failed to glob rules: %w", err)
	}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			logging.Warn("resolver", "Failed to read %s: %v", file, err)
			continue
		}
		var rf ruleFile
		if err := yaml.Unmarshal(data, &rf); err != nil {
			logging.Warn("resolver", "Failed to parse %s: %v", file, err)
			continue
		}
		for _, r := range rf.Rules {
			f.upsertRule(r)
		}
		logging.Info("resolver", "Loaded %d rules from %s", len(rf.Rules), filepath.Base(file))
	}
	return nil
}

func (f *Fallback) upsertRule(r Rule) {
	for i := range f.rules {
		if f.rules[i].Name == r.Name {
			f.rules[i] = r
			return
		}
	}
	f.rules = append(f.rules, r)
}

// Resolve matches the message against the rule set and builds one action
// when a rule clears the confidence threshold
func (f *Fallback) Resolve(ctx context.Context, req Request) (*Result, error) {
	loc := req.Location
	if loc == nil {
		loc = time.Local
	}
	tokens := tokenize(req.Text)
	w := parseWhen(req.Text, req.Now.In(loc), loc)

	rule, conf := f.match(tokens, w)
	if rule == nil || conf < minConfidence {
		return &Result{Reply: "I can create, list, move, cancel, and search calendar events, " +
			"or suggest free slots. Try something like \"schedule lunch with Ann tomorrow at noon\"."}, nil
	}
	logging.Debug("resolver", "Rule %q matched with confidence %.2f", rule.Name, conf)

	switch rule.Action {
	case "create_event":
		return f.createAction(req, tokens, w, rule, loc), nil
	case "delete_event":
		return f.deleteAction(req, tokens, rule), nil
	case "update_event":
		// Moving an event needs its identity, which keyword rules cannot
		// resolve. Offer the cancel-and-recreate path instead of guessing.
		return &Result{Reply: "I can't pick out which event to move right now. " +
			"You can cancel it by title and schedule it again at the new time."}, nil
	case "search_events":
		return f.searchAction(req, tokens, rule), nil
	case "suggest_slots":
		return f.suggestAction(req, w), nil
	default: // list_events
		return f.listAction(req, w, loc), nil
	}
}

// match scores every rule and returns the best one. Verb hits dominate;
// a time expression in the message adds confidence to time-shaped rules.
func (f *Fallback) match(tokens []string, w when) (*Rule, float64) {
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = true
	}

	type scored struct {
		rule *Rule
		conf float64
	}
	var candidates []scored
	for i := range f.rules {
		r := &f.rules[i]
		conf := 0.0
		for _, v := range r.Verbs {
			if tokenSet[v] {
				conf += 0.5
				break
			}
		}
		for _, n := range r.Nouns {
			if tokenSet[n] {
				conf += 0.2
				break
			}
		}
		if conf > 0 && (w.hasDate || w.hasTime) {
			conf += 0.3
		}
		if conf > 0 {
			candidates = append(candidates, scored{rule: r, conf: conf})
		}
	}
	if len(candidates) == 0 {
		return nil, 0
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].conf != candidates[j].conf {
			return candidates[i].conf > candidates[j].conf
		}
		return candidates[i].rule.Priority > candidates[j].rule.Priority
	})
	return candidates[0].rule, candidates[0].conf
}

func (f *Fallback) createAction(req Request, tokens []string, w when, rule *Rule, loc *time.Location) *Result {
	start := w.resolve(req.Now.In(loc))
	dur := parseDuration(req.Text)

	title := extractTitle(tokens, rule)
	if title == "" {
		title = "New event"
	}

	args := map[string]any{
		"title":         title,
		"startDateTime": start.Format("2006-01-02T15:04"),
		"endDateTime":   start.Add(dur).Format("2006-01-02T15:04"),
	}
	return &Result{
		Actions: []types.Action{{Name: "create_event", Args: args}},
	}
}

func (f *Fallback) deleteAction(req Request, tokens []string, rule *Rule) *Result {
	title := extractTitle(tokens, rule)
	if title == "" {
		return &Result{Reply: "Which event should I cancel? Tell me its title."}
	}
	args := map[string]any{"searchTitle": title}
	if tr := extractTimeRange(req.Text); tr != "" {
		args["timeRange"] = tr
	}
	return &Result{Actions: []types.Action{{Name: "delete_event", Args: args}}}
}

func (f *Fallback) searchAction(req Request, tokens []string, rule *Rule) *Result {
	query := extractTitle(tokens, rule)
	if query == "" {
		return &Result{Reply: "What should I search for?"}
	}
	args := map[string]any{"query": query}
	if tr := extractTimeRange(req.Text); tr != "" {
		args["timeRange"] = tr
	}
	return &Result{Actions: []types.Action{{Name: "search_events", Args: args}}}
}

func (f *Fallback) suggestAction(req Request, w when) *Result {
	date := w.resolve(req.Now)
	dur := parseDuration(req.Text)
	args := map[string]any{
		"date":            date.Format("2006-01-02"),
		"durationMinutes": int(dur.Minutes()),
	}
	if w.hasTime {
		args["preferredTimes"] = []string{fmt.Sprintf("%02d:%02d", w.hour, w.minute)}
	}
	return &Result{Actions: []types.Action{{Name: "suggest_slots", Args: args}}}
}

func (f *Fallback) listAction(req Request, w when, loc *time.Location) *Result {
	now := req.Now.In(loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 7)
	if w.hasDate {
		start = w.date
		end = start.AddDate(0, 0, 1)
	}
	args := map[string]any{
		"startDate": start.Format("2006-01-02"),
		"endDate":   end.Format("2006-01-02"),
	}
	return &Result{Actions: []types.Action{{Name: "list_events", Args: args}}}
}

// --- text analysis ---

// tokenize lowercases and splits the message, preferring prose's
// tokenizer and degrading to whitespace splitting if it fails
func tokenize(text string) []string {
	doc, err := prose.NewDocument(text)
	if err != nil {
		return strings.Fields(strings.ToLower(text))
	}
	toks := doc.Tokens()
	out := make([]string, 0, len(toks))
	for _, t := range toks {
		out = append(out, strings.ToLower(t.Text))
	}
	return out
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "my": true, "me": true, "i": true,
	"to": true, "at": true, "on": true, "in": true, "for": true, "of": true,
	"please": true, "up": true, "do": true, "have": true, "is": true,
	"am": true, "pm": true, "next": true, "this": true, "that": true,
	"today": true, "tomorrow": true, "tonight": true, "week": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
	"noon": true, "morning": true, "afternoon": true, "evening": true,
	"hour": true, "hours": true, "minute": true, "minutes": true,
	"half": true, "o'clock": true, "oclock": true,
}

var numericToken = regexp.MustCompile(`^\d`)

// extractTitle keeps the content words: everything that is not the
// trigger verb, a date/time word, a number, or a stopword
func extractTitle(tokens []string, rule *Rule) string {
	skip := make(map[string]bool, len(rule.Verbs))
	for _, v := range rule.Verbs {
		skip[v] = true
	}
	var kept []string
	for _, t := range tokens {
		if skip[t] || stopwords[t] || numericToken.MatchString(t) {
			continue
		}
		if !strings.ContainsAny(t, "abcdefghijklmnopqrstuvwxyz") {
			continue // punctuation tokens
		}
		kept = append(kept, t)
	}
	return strings.Join(kept, " ")
}

// when is a partially specified point in time pulled out of free text
type when struct {
	date         time.Time
	hasDate      bool
	hour, minute int
	hasTime      bool
}

// resolve turns the partial spec into a concrete time, defaulting the
// date to today and the time to 09:00
func (w when) resolve(now time.Time) time.Time {
	loc := now.Location()
	date := w.date
	if !w.hasDate {
		date = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	}
	hour, minute := 9, 0
	if w.hasTime {
		hour, minute = w.hour, w.minute
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, loc)
}

var (
	clockRe    = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*([ap]m)\b`)
	clock24Re  = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	isoDateRe  = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	weekdayRe  = regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	durationRe = regexp.MustCompile(`(?i)\b(\d+)\s*(minutes?|mins?|hours?|hrs?)\b`)
)

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday, "sunday": time.Sunday,
}

// parseWhen extracts date and time-of-day mentions from the message,
// resolving relative words against now
func parseWhen(text string, now time.Time, loc *time.Location) when {
	var w when
	lower := strings.ToLower(text)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	switch {
	case isoDateRe.MatchString(lower):
		m := isoDateRe.FindStringSubmatch(lower)
		if t, err := time.ParseInLocation("2006-01-02", m[0], loc); err == nil {
			w.date, w.hasDate = t, true
		}
	case strings.Contains(lower, "tomorrow"):
		w.date, w.hasDate = midnight.AddDate(0, 0, 1), true
	case strings.Contains(lower, "today") || strings.Contains(lower, "tonight"):
		w.date, w.hasDate = midnight, true
	case weekdayRe.MatchString(lower):
		m := weekdayRe.FindStringSubmatch(lower)
		target := weekdays[m[1]]
		days := (int(target) - int(now.Weekday()) + 7) % 7
		if days == 0 {
			days = 7 // "monday" on a Monday means next week
		}
		w.date, w.hasDate = midnight.AddDate(0, 0, days), true
	}

	if m := clockRe.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if strings.EqualFold(m[3], "pm") && hour < 12 {
			hour += 12
		}
		if strings.EqualFold(m[3], "am") && hour == 12 {
			hour = 0
		}
		w.hour, w.minute, w.hasTime = hour, minute, true
	} else if m := clock24Re.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour < 24 && minute < 60 {
			w.hour, w.minute, w.hasTime = hour, minute, true
		}
	} else if strings.Contains(lower, "noon") {
		w.hour, w.minute, w.hasTime = 12, 0, true
	}

	return w
}

// parseDuration pulls an explicit duration out of the message; absent
// one, events default to an hour
func parseDuration(text string) time.Duration {
	if m := durationRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		if strings.HasPrefix(strings.ToLower(m[2]), "h") {
			return time.Duration(n) * time.Hour
		}
		return time.Duration(n) * time.Minute
	}
	if strings.Contains(strings.ToLower(text), "half an hour") {
		return 30 * time.Minute
	}
	return time.Hour
}

// extractTimeRange maps relative words to the enumerated search ranges
func extractTimeRange(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "tomorrow"):
		return string(types.RangeTomorrow)
	case strings.Contains(lower, "today") || strings.Contains(lower, "tonight"):
		return string(types.RangeToday)
	case strings.Contains(lower, "this week") || strings.Contains(lower, "week"):
		return string(types.RangeThisWeek)
	case strings.Contains(lower, "this month") || strings.Contains(lower, "month"):
		return string(types.RangeThisMonth)
	}
	return ""
}
