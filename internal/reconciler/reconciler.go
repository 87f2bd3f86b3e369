// Package reconciler implements C8: closing the loop between planned and
// observed activity, and detecting deviations in upcoming planner-owned
// events caused by newly-appeared external commitments or config changes.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/wellforge/fitcadence/internal/clock"
	"github.com/wellforge/fitcadence/internal/domain/budget"
	"github.com/wellforge/fitcadence/internal/domain/calendarevent"
	"github.com/wellforge/fitcadence/internal/domain/health"
	"github.com/wellforge/fitcadence/internal/domain/interval"
	"github.com/wellforge/fitcadence/internal/domain/plan"
	"github.com/wellforge/fitcadence/internal/domain/template"
	apperrors "github.com/wellforge/fitcadence/internal/errors"
)

// DefaultTrailingWindowDays bounds the past-event pass.
const DefaultTrailingWindowDays = 7

// DefaultMinNoticeHours is the reschedule-check threshold for upcoming
// events.
const DefaultMinNoticeHours = 2

// CalendarView is the narrow slice of calendarview.View the reconciler
// needs.
type CalendarView interface {
	ListRange(ctx context.Context, start, end time.Time) ([]calendarevent.Event, error)
	Upsert(ctx context.Context, event calendarevent.Event) (calendarevent.Event, error)
	Delete(ctx context.Context, externalID string) error
}

// HealthStore supplies the activities the reconciler matches past events
// against.
type HealthStore interface {
	ActivitiesIn(ctx context.Context, start, end time.Time) ([]health.Activity, error)
}

// AuditStore persists every reconciler decision.
type AuditStore interface {
	Append(ctx context.Context, action plan.AuditAction) error
}

// Rescheduler finds a new slot for a displaced event; implemented by
// wiring the planner's conflict-resolution path (C4/C6) from
// internal/orchestrator so this package stays free of a planner import
// cycle.
type Rescheduler interface {
	Reschedule(ctx context.Context, e calendarevent.Event, busy []calendarevent.Event) (calendarevent.Event, bool)
}

// Reconciler is C8.
type Reconciler struct {
	Calendar     CalendarView
	HealthStore  HealthStore
	Audit        AuditStore
	Clock        clock.Clock
	Goals        template.Goals
	Rescheduler  Rescheduler
	TrailingDays int
	MinNoticeHrs int
}

// Outcome summarizes one reconciliation pass.
type Outcome struct {
	MarkedCompleted int
	MarkedMissed    int
	Rescheduled     int
	Cancelled       int
}

// Run executes both halves of the loop: past-event completion matching
// and future-event deviation handling.
func (r Reconciler) Run(ctx context.Context) (Outcome, error) {
	var out Outcome
	now := r.Clock.Now()

	trailing := r.TrailingDays
	if trailing <= 0 {
		trailing = DefaultTrailingWindowDays
	}
	windowStart := now.Add(-time.Duration(trailing) * 24 * time.Hour)
	windowEnd := now.Add(24 * time.Hour * 30) // future events in the same pass

	events, err := r.Calendar.ListRange(ctx, windowStart, windowEnd)
	if err != nil {
		return out, err
	}

	activities, err := r.HealthStore.ActivitiesIn(ctx, windowStart, now)
	if err != nil {
		return out, err
	}

	minNotice := r.MinNoticeHrs
	if minNotice <= 0 {
		minNotice = DefaultMinNoticeHours
	}

	// Config-change reconciliation runs first: purge planner-owned
	// future events whose discipline was removed from the goals.
	purged, err := r.purgeRemovedTargets(ctx, events, now, &out)
	if err != nil {
		return out, err
	}

	for _, e := range events {
		if !calendarevent.IsPlannerOwned(e) || purged[e.ExternalID] {
			continue
		}
		if calendarevent.MatchesProtectedKeyword(e, r.Goals.ProtectedKeywords) {
			continue
		}

		if e.End.Before(now) {
			if err := r.reconcilePast(ctx, e, activities, &out); err != nil {
				return out, err
			}
			continue
		}

		if err := r.reconcileFuture(ctx, e, events, now, minNotice, &out); err != nil {
			return out, err
		}
	}

	return out, nil
}

// purgeRemovedTargets deletes every planner-owned future event whose
// discipline no longer appears in the goals, returning the set of purged
// ids.
func (r Reconciler) purgeRemovedTargets(ctx context.Context, events []calendarevent.Event, now time.Time, out *Outcome) (map[string]bool, error) {
	var future []calendarevent.Event
	for _, e := range events {
		if e.Start.After(now) && !calendarevent.MatchesProtectedKeyword(e, r.Goals.ProtectedKeywords) {
			future = append(future, e)
		}
	}

	purged := map[string]bool{}
	for _, e := range budget.TargetRemovedPurge(r.Goals, future) {
		discipline, _ := calendarevent.Discipline(e)
		executed, err := r.delete(ctx, e.ExternalID)
		if err != nil {
			return purged, err
		}
		if executed {
			out.Cancelled++
		}
		purged[e.ExternalID] = true
		if err := r.audit(ctx, plan.ActionCancel, plan.ReasonTargetRemoved, fmt.Sprintf("%s no longer in goals", discipline), executed, false); err != nil {
			return purged, err
		}
	}
	return purged, nil
}

func (r Reconciler) reconcilePast(ctx context.Context, e calendarevent.Event, activities []health.Activity, out *Outcome) error {
	discipline, ok := calendarevent.Discipline(e)
	if !ok {
		return nil
	}

	matchWindow := interval.Interval{Start: e.Start.Add(-30 * time.Minute), End: e.End.Add(90 * time.Minute)}
	var matches []health.Activity
	for _, a := range activities {
		if a.Discipline != discipline {
			continue
		}
		if !a.Timestamp.Before(matchWindow.Start) && a.Timestamp.Before(matchWindow.End) {
			matches = append(matches, a)
		}
	}

	switch len(matches) {
	case 0:
		updated := calendarevent.WithCompletionPrefix(e, false)
		executed, err := r.upsert(ctx, updated)
		if err != nil {
			return err
		}
		if executed {
			out.MarkedMissed++
		}
		return r.audit(ctx, plan.ActionMissed, "", fmt.Sprintf("no activity matched %s in window", discipline), executed, false)
	case 1:
		updated := appendObserved(calendarevent.WithCompletionPrefix(e, true), matches[0])
		executed, err := r.upsert(ctx, updated)
		if err != nil {
			return err
		}
		if executed {
			out.MarkedCompleted++
		}
		return r.audit(ctx, plan.ActionMarkCompleted, "", fmt.Sprintf("matched single %s activity", discipline), executed, false)
	default:
		best := matches[0]
		bestOverlap := overlapDuration(e, best)
		for _, a := range matches[1:] {
			if ov := overlapDuration(e, a); ov > bestOverlap {
				best, bestOverlap = a, ov
			}
		}
		updated := appendObserved(calendarevent.WithCompletionPrefix(e, true), best)
		executed, err := r.upsert(ctx, updated)
		if err != nil {
			return err
		}
		if executed {
			out.MarkedCompleted++
		}
		return r.audit(ctx, plan.ActionMarkCompleted, "", fmt.Sprintf("%d candidate activities matched %s; chose greatest overlap", len(matches), discipline), executed, true)
	}
}

func (r Reconciler) reconcileFuture(ctx context.Context, e calendarevent.Event, allEvents []calendarevent.Event, now time.Time, minNoticeHrs int, out *Outcome) error {
	discipline, ok := calendarevent.Discipline(e)
	if !ok {
		return nil
	}

	minNotice := time.Duration(minNoticeHrs) * time.Hour
	if e.Start.Sub(now) >= minNotice {
		return nil
	}

	conflicted := false
	dayStart := time.Date(e.Start.Year(), e.Start.Month(), e.Start.Day(), 0, 0, 0, 0, e.Start.Location())
	day := interval.Interval{Start: dayStart, End: dayStart.AddDate(0, 0, 1)}
	// busy carries every other event on the displaced event's day, so a
	// re-slot cannot land on something it did not conflict with.
	var busy []calendarevent.Event
	for _, other := range allEvents {
		if other.ExternalID == e.ExternalID {
			continue
		}
		if interval.Overlap(day, interval.Interval{Start: other.Start, End: other.End}) {
			busy = append(busy, other)
		}
		if calendarevent.IsPlannerOwned(other) {
			continue
		}
		if interval.Overlap(interval.Interval{Start: e.Start, End: e.End}, interval.Interval{Start: other.Start, End: other.End}) {
			conflicted = true
		}
	}
	if !conflicted {
		return nil
	}

	if r.Rescheduler != nil {
		if rescheduled, ok := r.Rescheduler.Reschedule(ctx, e, busy); ok {
			executed, err := r.upsert(ctx, rescheduled)
			if err != nil {
				return err
			}
			if executed {
				out.Rescheduled++
			}
			return r.audit(ctx, plan.ActionReschedule, plan.ReasonNone, fmt.Sprintf("moved %s off a new conflict", discipline), executed, false)
		}
	}

	executed, err := r.delete(ctx, e.ExternalID)
	if err != nil {
		return err
	}
	if executed {
		out.Cancelled++
	}
	return r.audit(ctx, plan.ActionCancel, plan.ReasonNone, fmt.Sprintf("could not reschedule %s away from new conflict", discipline), executed, false)
}

// upsert applies a calendar update, treating an exhausted mutation budget
// as a buffered (unexecuted) decision rather than a failure.
func (r Reconciler) upsert(ctx context.Context, e calendarevent.Event) (bool, error) {
	if _, err := r.Calendar.Upsert(ctx, e); err != nil {
		if apperrors.IsMutationBudget(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r Reconciler) delete(ctx context.Context, externalID string) (bool, error) {
	if err := r.Calendar.Delete(ctx, externalID); err != nil {
		if apperrors.IsMutationBudget(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func overlapDuration(e calendarevent.Event, a health.Activity) time.Duration {
	aEnd := a.Timestamp.Add(time.Duration(a.DurationMinutes) * time.Minute)
	start := e.Start
	if a.Timestamp.After(start) {
		start = a.Timestamp
	}
	end := e.End
	if aEnd.Before(end) {
		end = aEnd
	}
	if end.Before(start) {
		return 0
	}
	return end.Sub(start)
}

func appendObserved(e calendarevent.Event, a health.Activity) calendarevent.Event {
	e.Description += fmt.Sprintf("\n\nObserved: %.0f min, %.1f km, avg HR %.0f", a.DurationMinutes, a.DistanceKM, a.AvgHR)
	return e
}

func (r Reconciler) audit(ctx context.Context, action plan.ActionType, reason plan.Reason, reasoning string, executed bool, multiCandidate bool) error {
	return r.Audit.Append(ctx, plan.AuditAction{
		Timestamp:      r.Clock.Now(),
		Agent:          "reconciler",
		Action:         action,
		Reason:         reason,
		Reasoning:      reasoning,
		DataSources:    []string{"calendar", "health_store"},
		Executed:       executed,
		MultiCandidate: multiCandidate,
	})
}
