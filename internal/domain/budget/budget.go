// Package budget implements the Weekly Budgeter (C5): pure arithmetic over
// a week's scheduled and completed activity against declared goals.
package budget

import (
	"time"

	"github.com/wellforge/fitcadence/internal/domain/calendarevent"
	"github.com/wellforge/fitcadence/internal/domain/health"
	"github.com/wellforge/fitcadence/internal/domain/template"
)

// Week returns the Monday-start, timezone-local week interval containing t.
func Week(t time.Time) (start, end time.Time) {
	loc := t.Location()
	local := t.In(loc)
	weekday := int(local.Weekday())
	// time.Sunday == 0; shift so Monday == 0 ... Sunday == 6.
	daysSinceMonday := (weekday + 6) % 7
	monday := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).
		AddDate(0, 0, -daysSinceMonday)
	return monday, monday.AddDate(0, 0, 7)
}

// Remaining is the per-discipline outstanding quota for one week.
type Remaining map[health.Discipline]int

// Compute returns remaining_d = max(0, goal_d - scheduled_d -
// completed_d). plannedFuture is every planner-owned future
// event in the week; activities is every recorded activity in the week
// that occurred before now.
func Compute(goals template.Goals, weekStart, weekEnd, now time.Time, plannedFuture []calendarevent.Event, activities []health.Activity) Remaining {
	scheduled := map[health.Discipline]int{}
	for _, e := range plannedFuture {
		if e.Start.Before(weekStart) || !e.Start.Before(weekEnd) {
			continue
		}
		if d, ok := calendarevent.Discipline(e); ok {
			scheduled[d]++
		}
	}

	completed := map[health.Discipline]int{}
	for _, a := range activities {
		if a.Timestamp.Before(weekStart) || !a.Timestamp.Before(weekEnd) {
			continue
		}
		if a.Timestamp.Before(now) {
			completed[a.Discipline]++
		}
	}

	remaining := make(Remaining, len(goals.WeeklyTarget))
	for d, goal := range goals.WeeklyTarget {
		r := goal - scheduled[d] - completed[d]
		if r < 0 {
			r = 0
		}
		remaining[d] = r
	}
	return remaining
}

// TargetRemovedPurge finds planner-owned future events for disciplines
// whose goal is now zero (or absent). Returns the subset of futureEvents
// that should be purged.
func TargetRemovedPurge(goals template.Goals, futureEvents []calendarevent.Event) []calendarevent.Event {
	var purge []calendarevent.Event
	for _, e := range futureEvents {
		if !calendarevent.IsPlannerOwned(e) {
			continue
		}
		d, ok := calendarevent.Discipline(e)
		if !ok {
			continue
		}
		if goals.WeeklyTarget[d] == 0 {
			purge = append(purge, e)
		}
	}
	return purge
}
