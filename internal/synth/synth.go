// Package synth turns action results into the chat reply. A generator
// model may rephrase the factual summary conversationally; when it is
// absent or failing, the deterministic template text goes out as is.
// The template path never drops result data.
package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ewalk/calbot/internal/logging"
	"github.com/ewalk/calbot/internal/types"
)

// Generator produces a text completion for a prompt
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Synthesizer builds user-facing replies from action results
type Synthesizer struct {
	gen Generator // nil means template-only
}

// New creates a synthesizer. gen may be nil.
func New(gen Generator) *Synthesizer {
	return &Synthesizer{gen: gen}
}

// Reply composes the outbound message for one turn. resolverReply is the
// conversational text the resolver produced for turns without actions.
func (s *Synthesizer) Reply(ctx context.Context, resolverReply string, results []*types.ActionResult) string {
	if len(results) == 0 {
		if resolverReply != "" {
			return resolverReply
		}
		return "I can help with your calendar: creating, listing, moving, and cancelling events, or finding free slots."
	}

	base := FormatResults(results)
	if s.gen == nil {
		return base
	}

	prompt := fmt.Sprintf(`You are a friendly calendar assistant. Rephrase the following
factual summary as a short conversational reply. Keep every event title,
date, time, and slot exactly as given; do not invent or omit any.

Summary:
%s

Reply:`, base)

	out, err := s.gen.Generate(ctx, prompt)
	if err != nil || strings.TrimSpace(out) == "" {
		if err != nil {
			logging.Debug("synth", "Generator failed, using template reply: %v", err)
		}
		return base
	}
	return strings.TrimSpace(out)
}

// FormatResults renders every result deterministically. Each result
// contributes at least one line; nothing is summarized away.
func FormatResults(results []*types.ActionResult) string {
	var lines []string
	for _, r := range results {
		lines = append(lines, formatResult(r))
	}
	return strings.Join(lines, "\n")
}

func formatResult(r *types.ActionResult) string {
	if r.Err != nil {
		return formatError(r)
	}

	switch r.Kind {
	case types.KindCreateEvent:
		ev := r.Events[0]
		return fmt.Sprintf("Created %q on %s from %s to %s.",
			ev.Title, ev.Start.Format("Mon Jan 2"),
			ev.Start.Format("15:04"), ev.End.Format("15:04"))

	case types.KindUpdateEvent:
		ev := r.Events[0]
		return fmt.Sprintf("Updated %q: now %s from %s to %s.",
			ev.Title, ev.Start.Format("Mon Jan 2"),
			ev.Start.Format("15:04"), ev.End.Format("15:04"))

	case types.KindDeleteEvent:
		if len(r.Candidates) > 0 {
			return formatCandidates(r.Candidates)
		}
		if r.Deleted.Title != "" {
			return fmt.Sprintf("Deleted %q (%s).", r.Deleted.Title, r.Deleted.Start.Format("Mon Jan 2 15:04"))
		}
		return "Deleted the event."

	case types.KindListEvents, types.KindSearchEvents:
		return formatEvents(r.Events)

	case types.KindSuggestSlots:
		return formatSlots(r.Slots)

	default:
		return "Done."
	}
}

func formatEvents(events []types.CalendarEvent) string {
	if len(events) == 0 {
		return "No events found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d event(s):", len(events))
	for _, ev := range events {
		fmt.Fprintf(&b, "\n- %s %s–%s: %s",
			ev.Start.Format("Mon Jan 2"), ev.Start.Format("15:04"),
			ev.End.Format("15:04"), ev.Title)
		if ev.Location != "" {
			fmt.Fprintf(&b, " @ %s", ev.Location)
		}
	}
	return b.String()
}

func formatSlots(slots []types.Interval) string {
	if len(slots) == 0 {
		return "No free slots of that length on that day."
	}
	parts := make([]string, len(slots))
	for i, s := range slots {
		parts[i] = fmt.Sprintf("%s–%s", s.Start.Format("15:04"), s.End.Format("15:04"))
	}
	return fmt.Sprintf("Free on %s: %s.", slots[0].Start.Format("Mon Jan 2"), strings.Join(parts, ", "))
}

func formatCandidates(candidates []types.Candidate) string {
	var b strings.Builder
	b.WriteString("More than one event matches; which one did you mean?")
	for i, c := range candidates {
		fmt.Fprintf(&b, "\n%d) %q on %s", i+1, c.Title, c.Start.Format("Mon Jan 2 15:04"))
	}
	return b.String()
}

func formatError(r *types.ActionResult) string {
	err := r.Err

	var verr *types.ValidationError
	if errors.As(err, &verr) {
		var parts []string
		for _, f := range verr.Fields {
			parts = append(parts, fmt.Sprintf("%s (%s)", f.Field, f.Reason))
		}
		return "I couldn't do that; please check: " + strings.Join(parts, ", ") + "."
	}

	var uerr *types.UnknownActionError
	if errors.As(err, &uerr) {
		return "Sorry, something went wrong on my side. Please try rephrasing."
	}

	switch {
	case errors.Is(err, types.ErrAuthRequired):
		return "Your Google Calendar isn't connected yet. Say \"login\" to connect it."
	case errors.Is(err, types.ErrReAuthRequired):
		return "Your calendar access has expired. Say \"login\" to reconnect."
	case errors.Is(err, types.ErrStartAfterEnd):
		return "That event would end before it starts; please check the times."
	case errors.Is(err, types.ErrPastDate):
		return "That start time is in the past; I only schedule future events."
	case errors.Is(err, types.ErrNotFound):
		return "I couldn't find a matching event."
	}

	var remote *types.RemoteError
	if errors.As(err, &remote) {
		return "The calendar service had a problem with that; nothing was changed. Please try again."
	}
	return "Sorry, that didn't work. Please try again."
}
