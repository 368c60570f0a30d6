// Package slots computes free time slots from a set of busy intervals.
package slots

import (
	"sort"
	"time"

	"github.com/ewalk/calbot/internal/types"
)

// Find sweeps the working window [dayStart, dayEnd) and returns free slots
// of at least duration d, skipping the given busy intervals. Every returned
// slot has length >= d, is disjoint from all busy intervals, and is capped
// at d in length (the earliest d-sized cut of each gap).
//
// If preferred wall-clock start times (e.g. "09:00") are given, slots whose
// start time-of-day matches one are stably moved ahead of non-matching
// slots; relative order within each group is preserved.
//
// The function is deterministic and side-effect free. Busy intervals with
// equal starts keep their input order (stable sort).
func Find(dayStart, dayEnd time.Time, d time.Duration, busy []types.Interval, preferred []string) []types.Interval {
	if d <= 0 || !dayStart.Before(dayEnd) {
		return nil
	}

	sorted := make([]types.Interval, len(busy))
	copy(sorted, busy)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	var out []types.Interval
	cursor := dayStart

	for _, b := range sorted {
		if cursor.Before(b.Start) && b.Start.Sub(cursor) >= d {
			out = append(out, types.Interval{Start: cursor, End: minTime(b.Start, cursor.Add(d))})
		}
		cursor = maxTime(cursor, b.End)
	}

	if dayEnd.Sub(cursor) >= d {
		out = append(out, types.Interval{Start: cursor, End: minTime(dayEnd, cursor.Add(d))})
	}

	if len(preferred) > 0 {
		out = reorderPreferred(out, preferred)
	}
	return out
}

// reorderPreferred stably partitions slots into preferred-start matches
// followed by the rest. No other reordering happens.
func reorderPreferred(in []types.Interval, preferred []string) []types.Interval {
	wanted := make(map[string]bool, len(preferred))
	for _, p := range preferred {
		wanted[p] = true
	}

	matched := make([]types.Interval, 0, len(in))
	rest := make([]types.Interval, 0, len(in))
	for _, s := range in {
		if wanted[s.Start.Format("15:04")] {
			matched = append(matched, s)
		} else {
			rest = append(rest, s)
		}
	}
	return append(matched, rest...)
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
