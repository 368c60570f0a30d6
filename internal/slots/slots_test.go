package slots

import (
	"testing"
	"time"

	"github.com/ewalk/calbot/internal/types"
)

func at(t *testing.T, hhmm string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02 15:04", "2026-03-10 "+hhmm)
	if err != nil {
		t.Fatalf("bad time %q: %v", hhmm, err)
	}
	return parsed
}

func iv(t *testing.T, start, end string) types.Interval {
	t.Helper()
	return types.Interval{Start: at(t, start), End: at(t, end)}
}

func TestFind_Workday(t *testing.T) {
	busy := []types.Interval{
		iv(t, "10:00", "11:00"),
		iv(t, "14:00", "15:00"),
	}

	got := Find(at(t, "09:00"), at(t, "17:00"), time.Hour, busy, nil)

	want := []types.Interval{
		iv(t, "09:00", "10:00"),
		iv(t, "11:00", "12:00"),
		iv(t, "15:00", "16:00"),
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d slots, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Errorf("slot %d: expected %v-%v, got %v-%v",
				i, want[i].Start, want[i].End, got[i].Start, got[i].End)
		}
	}
}

func TestFind_EmptyBusy(t *testing.T) {
	got := Find(at(t, "09:00"), at(t, "17:00"), 30*time.Minute, nil, nil)
	if len(got) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(got))
	}
	if !got[0].Start.Equal(at(t, "09:00")) || !got[0].End.Equal(at(t, "09:30")) {
		t.Errorf("expected 09:00-09:30, got %v-%v", got[0].Start, got[0].End)
	}
}

func TestFind_FullyBooked(t *testing.T) {
	busy := []types.Interval{iv(t, "09:00", "17:00")}
	got := Find(at(t, "09:00"), at(t, "17:00"), time.Hour, busy, nil)
	if len(got) != 0 {
		t.Errorf("expected no slots, got %v", got)
	}
}

func TestFind_GapTooSmall(t *testing.T) {
	// 30-minute gap between meetings; 60 minutes requested
	busy := []types.Interval{
		iv(t, "09:00", "12:00"),
		iv(t, "12:30", "17:00"),
	}
	got := Find(at(t, "09:00"), at(t, "17:00"), time.Hour, busy, nil)
	if len(got) != 0 {
		t.Errorf("expected no slots, got %v", got)
	}
}

func TestFind_OverlappingBusy(t *testing.T) {
	// Overlapping and contained intervals must not produce phantom gaps
	busy := []types.Interval{
		iv(t, "10:00", "13:00"),
		iv(t, "11:00", "12:00"),
		iv(t, "12:30", "14:00"),
	}
	got := Find(at(t, "09:00"), at(t, "17:00"), time.Hour, busy, nil)
	want := []types.Interval{
		iv(t, "09:00", "10:00"),
		iv(t, "14:00", "15:00"),
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d slots, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Errorf("slot %d: expected %v-%v, got %v-%v",
				i, want[i].Start, want[i].End, got[i].Start, got[i].End)
		}
	}
}

func TestFind_SlotsNeverOverlapBusy(t *testing.T) {
	cases := [][]types.Interval{
		{iv(t, "09:30", "09:45"), iv(t, "10:15", "11:00"), iv(t, "13:00", "13:01")},
		{iv(t, "09:00", "09:01")},
		{iv(t, "16:00", "17:00"), iv(t, "09:00", "10:00")}, // unsorted input
		{iv(t, "11:00", "11:30"), iv(t, "11:00", "12:00")}, // equal starts
	}

	d := 45 * time.Minute
	for ci, busy := range cases {
		got := Find(at(t, "09:00"), at(t, "17:00"), d, busy, nil)
		for _, s := range got {
			if s.End.Sub(s.Start) < d {
				t.Errorf("case %d: slot %v-%v shorter than %v", ci, s.Start, s.End, d)
			}
			for _, b := range busy {
				if s.Start.Before(b.End) && b.Start.Before(s.End) {
					t.Errorf("case %d: slot %v-%v overlaps busy %v-%v",
						ci, s.Start, s.End, b.Start, b.End)
				}
			}
		}
	}
}

func TestFind_Deterministic(t *testing.T) {
	busy := []types.Interval{
		iv(t, "11:00", "12:00"),
		iv(t, "11:00", "11:30"), // same start, different length
		iv(t, "14:00", "14:30"),
	}

	first := Find(at(t, "09:00"), at(t, "17:00"), time.Hour, busy, nil)
	for i := 0; i < 10; i++ {
		again := Find(at(t, "09:00"), at(t, "17:00"), time.Hour, busy, nil)
		if len(again) != len(first) {
			t.Fatalf("run %d: slot count changed: %d vs %d", i, len(again), len(first))
		}
		for j := range first {
			if !again[j].Start.Equal(first[j].Start) || !again[j].End.Equal(first[j].End) {
				t.Fatalf("run %d: slot %d changed", i, j)
			}
		}
	}
}

func TestFind_PreferredTimesReorder(t *testing.T) {
	busy := []types.Interval{
		iv(t, "10:00", "11:00"),
		iv(t, "14:00", "15:00"),
	}

	// Without preferences: 09:00, 11:00, 15:00. Preferring 15:00 moves it
	// first; the others keep their relative order.
	got := Find(at(t, "09:00"), at(t, "17:00"), time.Hour, busy, []string{"15:00"})
	wantStarts := []string{"15:00", "09:00", "11:00"}
	if len(got) != len(wantStarts) {
		t.Fatalf("expected %d slots, got %d", len(wantStarts), len(got))
	}
	for i, w := range wantStarts {
		if got[i].Start.Format("15:04") != w {
			t.Errorf("slot %d: expected start %s, got %s", i, w, got[i].Start.Format("15:04"))
		}
	}
}

func TestFind_PreferredNoMatch(t *testing.T) {
	busy := []types.Interval{iv(t, "10:00", "11:00")}
	plain := Find(at(t, "09:00"), at(t, "17:00"), time.Hour, busy, nil)
	pref := Find(at(t, "09:00"), at(t, "17:00"), time.Hour, busy, []string{"06:00"})
	if len(plain) != len(pref) {
		t.Fatalf("preference changed slot count")
	}
	for i := range plain {
		if !plain[i].Start.Equal(pref[i].Start) {
			t.Errorf("slot %d reordered despite no preference match", i)
		}
	}
}

func TestFind_ZeroDuration(t *testing.T) {
	if got := Find(at(t, "09:00"), at(t, "17:00"), 0, nil, nil); got != nil {
		t.Errorf("expected nil for zero duration, got %v", got)
	}
}
