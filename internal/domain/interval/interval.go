// Package interval implements the pure, I/O-free conflict detection and
// free-slot search functions used by the planner.
package interval

import (
	"sort"
	"time"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlap reports whether two half-open intervals intersect.
func Overlap(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Window is a preferred time-of-day window, expressed as hour offsets from
// a day's midnight in the user's local timezone (0 <= Start < End <= 24).
type Window struct {
	StartHour int
	EndHour   int
}

// on anchors a Window to the midnight of day, producing a concrete Interval.
func (w Window) on(day time.Time) Interval {
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return Interval{
		Start: midnight.Add(time.Duration(w.StartHour) * time.Hour),
		End:   midnight.Add(time.Duration(w.EndHour) * time.Hour),
	}
}

// canonicalize clips each busy interval to day, sorts by start, and
// merges overlaps.
func canonicalize(day time.Time, busy []Interval) []Interval {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	clipped := make([]Interval, 0, len(busy))
	for _, iv := range busy {
		s, e := iv.Start, iv.End
		if s.Before(dayStart) {
			s = dayStart
		}
		if e.After(dayEnd) {
			e = dayEnd
		}
		if s.Before(e) {
			clipped = append(clipped, Interval{Start: s, End: e})
		}
	}

	sort.Slice(clipped, func(i, j int) bool { return clipped[i].Start.Before(clipped[j].Start) })

	merged := make([]Interval, 0, len(clipped))
	for _, iv := range clipped {
		if n := len(merged); n > 0 && !iv.Start.After(merged[n-1].End) {
			if iv.End.After(merged[n-1].End) {
				merged[n-1].End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// Policy is the preferred-time policy from Goals.
type Policy string

const (
	PolicyMorning  Policy = "morning"
	PolicyEvening  Policy = "evening"
	PolicyFlexible Policy = "flexible"
)

// FindFreeSlot searches day for a gap of at least duration within
// preferred, falling back to alternate under the flexible policy. It
// returns the earliest qualifying start and ok=true, or ok=false when no
// slot exists in either window.
func FindFreeSlot(day time.Time, duration time.Duration, preferred, alternate Window, policy Policy, busy []Interval) (time.Time, bool) {
	merged := canonicalize(day, busy)

	if start, ok := firstGap(preferred.on(day), duration, merged); ok {
		return start, true
	}
	if policy == PolicyFlexible {
		if start, ok := firstGap(alternate.on(day), duration, merged); ok {
			return start, true
		}
	}
	return time.Time{}, false
}

// firstGap walks window from its start, returning the start of the first
// gap of at least duration not covered by busy. Ties break earliest-start.
func firstGap(window Interval, duration time.Duration, busy []Interval) (time.Time, bool) {
	cursor := window.Start
	for _, b := range busy {
		if !b.Start.Before(window.End) {
			break
		}
		if b.End.Before(cursor) || b.End.Equal(cursor) {
			continue
		}
		if b.Start.Sub(cursor) >= duration {
			return cursor, true
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if window.End.Sub(cursor) >= duration {
		return cursor, true
	}
	return time.Time{}, false
}
