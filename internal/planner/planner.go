// Package planner implements C6: the per-day scheduling decision that
// chooses a discipline, a time slot, and an intensity tier, then drives
// the LM content generator and writes the result back through the
// calendar view.
package planner

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wellforge/fitcadence/internal/clock"
	"github.com/wellforge/fitcadence/internal/domain/budget"
	"github.com/wellforge/fitcadence/internal/domain/calendarevent"
	"github.com/wellforge/fitcadence/internal/domain/health"
	"github.com/wellforge/fitcadence/internal/domain/interval"
	"github.com/wellforge/fitcadence/internal/domain/plan"
	"github.com/wellforge/fitcadence/internal/domain/template"
	apperrors "github.com/wellforge/fitcadence/internal/errors"
	"github.com/wellforge/fitcadence/internal/llm"
)

// Defaults for the forward horizon and the bounded LM fan-out.
const (
	DefaultHorizonDays = 3
	DefaultLMFanout    = 2
)

// CalendarView is the narrow slice of calendarview.View the planner needs.
type CalendarView interface {
	ListRange(ctx context.Context, start, end time.Time) ([]calendarevent.Event, error)
	Upsert(ctx context.Context, event calendarevent.Event) (calendarevent.Event, error)
}

// HealthStore supplies the windowed samples and activities C2 derives a
// snapshot from.
type HealthStore interface {
	SamplesBefore(ctx context.Context, before time.Time, lookback time.Duration) ([]health.Sample, error)
	ActivitiesIn(ctx context.Context, start, end time.Time) ([]health.Activity, error)
}

// AuditStore persists every planner decision.
type AuditStore interface {
	Append(ctx context.Context, action plan.AuditAction) error
}

// Planner is C6, composed from the narrow collaborator interfaces it
// needs. It never branches on a concrete implementation.
type Planner struct {
	Calendar    CalendarView
	HealthStore HealthStore
	Audit       AuditStore
	LM          llm.Chain
	Clock       clock.Clock
	Goals       template.Goals
	Templates   map[health.Discipline]template.WorkoutTemplate
	HorizonDays int
	FanoutLimit int
	DryRun      bool
}

// Outcome summarizes one cycle's planning work, for the orchestrator's
// cycle summary.
type Outcome struct {
	Created          int
	Buffered         int
	SkippedNoSlot    int
	SkippedTarget    int
	SkippedDuplicate int
	Degraded         int
}

type dayDecision struct {
	date          time.Time
	discipline    health.Discipline
	tier          template.IntensityTier
	start         time.Time
	end           time.Time
	noSlot        bool
	skipTarget    bool
	skipDuplicate bool
}

// Plan runs one planning pass over the forward horizon.
func (p Planner) Plan(ctx context.Context) (Outcome, error) {
	var out Outcome
	horizon := p.HorizonDays
	if horizon <= 0 {
		horizon = DefaultHorizonDays
	}
	loc := userLocation(p.Goals.UserTimezone)
	now := p.Clock.Now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	windowEnd := today.AddDate(0, 0, horizon)
	existing, err := p.Calendar.ListRange(ctx, today, windowEnd)
	if err != nil {
		return out, apperrors.NewTransientExternal("failed to list calendar range", err)
	}

	samples, err := p.HealthStore.SamplesBefore(ctx, now, 7*24*time.Hour)
	if err != nil {
		return out, apperrors.NewTransientExternal("failed to read health samples", err)
	}
	activities, err := p.HealthStore.ActivitiesIn(ctx, now.Add(-7*24*time.Hour), now)
	if err != nil {
		return out, apperrors.NewTransientExternal("failed to read activities", err)
	}
	snapshot := health.Derive(now, samples, activities)

	weekStart, weekEnd := budget.Week(today)
	remaining := budget.Compute(p.Goals, weekStart, weekEnd, now, plannedFutureOnly(existing, now), activities)

	decisions := p.decideDays(today, horizon, now, existing, remaining, snapshot)

	// Slot index for idempotent upserts: an existing planned event's id
	// is reused when committing the same (date, discipline) slot again.
	slotIDs := make(map[calendarevent.SlotKey]string)
	for _, e := range existing {
		if !calendarevent.IsPlannerOwned(e) || e.ExternalID == "" {
			continue
		}
		if k, ok := calendarevent.Key(e); ok {
			slotIDs[k] = e.ExternalID
		}
	}

	requests := make([]plan.Request, 0, len(decisions))
	reqIdx := make([]int, 0, len(decisions))
	for i, d := range decisions {
		switch {
		case d.skipTarget:
			out.SkippedTarget++
			p.audit(ctx, plan.ActionSkipTargetMet, d.date, "", "all disciplines at target", true)
		case d.skipDuplicate:
			out.SkippedDuplicate++
			p.audit(ctx, plan.ActionSkipDuplicate, d.date, "", "planner-owned event already scheduled for this day", true)
		case d.noSlot:
			out.SkippedNoSlot++
			p.audit(ctx, plan.ActionPlan, d.date, plan.ReasonNoSlot, "no free slot in preferred or alternate window", false)
		default:
			req := plan.Request{
				Date:                    d.date,
				Discipline:              d.discipline,
				IntensityTier:           d.tier,
				PreferredWindow:         preferredHourWindow(p.Goals, d.discipline),
				RecentActivitiesSummary: llm.RecentActivitySummary(activities),
				HealthSnapshot:          snapshot,
				Template:                p.Templates[d.discipline],
			}
			requests = append(requests, req)
			reqIdx = append(reqIdx, i)
		}
	}

	workouts := make([]plan.Workout, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	limit := p.FanoutLimit
	if limit <= 0 {
		limit = DefaultLMFanout
	}
	g.SetLimit(limit)
	for i := range requests {
		i := i
		g.Go(func() error {
			w, err := p.LM.Generate(gctx, requests[i], p.Goals)
			workouts[i] = w
			if err != nil && !apperrors.IsDegraded(err) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	for _, w := range workouts {
		if w.Degraded {
			out.Degraded++
		}
	}

	for j, i := range reqIdx {
		d := decisions[i]
		w := workouts[j]
		created, err := p.commit(ctx, d, w, slotIDs)
		if err != nil {
			return out, err
		}
		if created {
			out.Created++
		} else {
			out.Buffered++
		}
	}

	return out, nil
}

// hasPlannedEventOn reports whether a planner-owned future event already
// occupies date, making a second creation a duplicate. Running the cycle
// twice on an unchanged world must produce zero net mutations.
func hasPlannedEventOn(date time.Time, events []calendarevent.Event, now time.Time) bool {
	y, m, d := date.Date()
	wallDate := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	for _, e := range events {
		if !calendarevent.IsPlannerOwned(e) || !e.Start.After(now) {
			continue
		}
		if k, ok := calendarevent.Key(e); ok && k.Date.Equal(wallDate) {
			return true
		}
	}
	return false
}

// decideDays runs the sequential per-day decision loop, mutating a
// running copy of remaining so later days see earlier days' choices.
func (p Planner) decideDays(today time.Time, horizon int, now time.Time, existing []calendarevent.Event, remaining budget.Remaining, snapshot health.Snapshot) []dayDecision {
	running := make(budget.Remaining, len(remaining))
	for k, v := range remaining {
		running[k] = v
	}

	var lastDiscipline health.Discipline
	decisions := make([]dayDecision, 0, horizon)

	for offset := 0; offset < horizon; offset++ {
		date := today.AddDate(0, 0, offset)
		if date.Before(today) {
			continue
		}

		if hasPlannedEventOn(date, existing, now) {
			decisions = append(decisions, dayDecision{date: date, skipDuplicate: true})
			continue
		}

		if allZero(running) {
			decisions = append(decisions, dayDecision{date: date, skipTarget: true})
			continue
		}

		discipline, ok := chooseDiscipline(p.Goals, running, lastDiscipline)
		if !ok {
			decisions = append(decisions, dayDecision{date: date, skipTarget: true})
			continue
		}

		tier := decideIntensityFor(snapshot, discipline)

		busy := busyOn(date, existing)
		if date.Equal(today) && now.After(date) {
			// The elapsed part of today is not schedulable.
			busy = append(busy, interval.Interval{Start: date, End: now})
		}
		win := preferredHourWindow(p.Goals, discipline)
		alt := alternateHourWindow(p.Goals)
		duration := time.Duration(p.Templates[discipline].DurationFor(tier)) * time.Minute

		start, found := interval.FindFreeSlot(date, duration, toIntervalWindow(win), toIntervalWindow(alt), toIntervalPolicy(p.Goals.PreferredTime), busy)
		if !found {
			decisions = append(decisions, dayDecision{date: date, noSlot: true})
			continue
		}

		running[discipline]--
		lastDiscipline = discipline
		decisions = append(decisions, dayDecision{
			date:       date,
			discipline: discipline,
			tier:       tier,
			start:      start,
			end:        start.Add(duration),
		})
	}
	return decisions
}

func decideIntensityFor(snapshot health.Snapshot, d health.Discipline) template.IntensityTier {
	return plan.DecideIntensity(snapshot.Tier, d, snapshot.TrainingLoad48h)
}

// chooseDiscipline picks by priority order, breaking ties by largest
// remaining, never repeating yesterday's discipline unless every other
// remaining discipline is exhausted.
func chooseDiscipline(goals template.Goals, remaining budget.Remaining, last health.Discipline) (health.Discipline, bool) {
	priority := goals.Priority()

	candidates := make([]health.Discipline, 0, len(priority))
	for _, d := range priority {
		if remaining[d] > 0 {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	nonRepeat := make([]health.Discipline, 0, len(candidates))
	for _, d := range candidates {
		if d != last {
			nonRepeat = append(nonRepeat, d)
		}
	}
	pool := candidates
	if len(nonRepeat) > 0 {
		pool = nonRepeat
	}

	best := pool[0]
	for _, d := range pool[1:] {
		if remaining[d] > remaining[best] {
			best = d
		}
	}
	return best, true
}

func allZero(remaining budget.Remaining) bool {
	for _, v := range remaining {
		if v > 0 {
			return false
		}
	}
	return true
}

func busyOn(date time.Time, events []calendarevent.Event) []interval.Interval {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	var out []interval.Interval
	for _, e := range events {
		iv := interval.Interval{Start: e.Start, End: e.End}
		if interval.Overlap(iv, interval.Interval{Start: dayStart, End: dayEnd}) {
			out = append(out, iv)
		}
	}
	return out
}

func plannedFutureOnly(events []calendarevent.Event, now time.Time) []calendarevent.Event {
	var out []calendarevent.Event
	for _, e := range events {
		if calendarevent.IsPlannerOwned(e) && e.Start.After(now) {
			out = append(out, e)
		}
	}
	return out
}

func preferredHourWindow(goals template.Goals, _ health.Discipline) template.HourWindow {
	switch goals.PreferredTime {
	case template.PreferEvening:
		return goals.EveningWindow
	default:
		return goals.MorningWindow
	}
}

func alternateHourWindow(goals template.Goals) template.HourWindow {
	if goals.PreferredTime == template.PreferEvening {
		return goals.MorningWindow
	}
	return goals.EveningWindow
}

func toIntervalWindow(w template.HourWindow) interval.Window {
	return interval.Window{StartHour: w.StartHour, EndHour: w.EndHour}
}

func toIntervalPolicy(p template.PreferredTimePolicy) interval.Policy {
	switch p {
	case template.PreferEvening:
		return interval.PolicyEvening
	case template.PreferFlexible:
		return interval.PolicyFlexible
	default:
		return interval.PolicyMorning
	}
}

// commit persists the decided workout via Upsert (unless DryRun), then
// records the plan audit entry after the mutation succeeds (or after the
// deliberate skip decision), keeping the audit trail ordered. Returns
// created=false when the mutation was buffered by the safety limit or
// suppressed by DryRun.
func (p Planner) commit(ctx context.Context, d dayDecision, w plan.Workout, slotIDs map[calendarevent.SlotKey]string) (bool, error) {
	desc := renderDescription(w)
	event := calendarevent.NewPlanned(d.discipline, w.OptionA.Summary, desc, d.start, d.end)

	// Reuse the id of an already-planned event for this slot so a
	// re-plan updates in place instead of duplicating.
	if k, ok := calendarevent.Key(event); ok {
		event.ExternalID = slotIDs[k]
	}

	reasoning := fmt.Sprintf("scheduled %s at %s intensity %s", d.discipline, d.start.Format(time.RFC3339), d.tier)
	if w.Model != "" {
		reasoning += fmt.Sprintf(" model=%s", w.Model)
	}

	if p.DryRun {
		return false, p.auditPlan(ctx, reasoning, false, w.Degraded)
	}

	if _, err := p.Calendar.Upsert(ctx, event); err != nil {
		if apperrors.IsMutationBudget(err) {
			// Buffered: the safety limit blocked the write; the plan is
			// still recorded so the next cycle can pick it up.
			return false, p.auditPlan(ctx, reasoning+" (buffered: mutation budget exhausted)", false, w.Degraded)
		}
		return false, err
	}

	return true, p.auditPlan(ctx, reasoning, true, w.Degraded)
}

func (p Planner) auditPlan(ctx context.Context, reasoning string, executed, degraded bool) error {
	return p.Audit.Append(ctx, plan.AuditAction{
		Timestamp:   p.Clock.Now(),
		Agent:       "planner",
		Action:      plan.ActionPlan,
		Reasoning:   reasoning,
		DataSources: []string{"calendar", "health_store", "llm"},
		Executed:    executed,
		Degraded:    degraded,
	})
}

func renderDescription(w plan.Workout) string {
	var desc string
	desc += "Option A\n" + joinSteps(w.OptionA.DetailedSteps) + "\n\n"
	desc += "Option B\n" + joinSteps(w.OptionB.DetailedSteps) + "\n\n"
	desc += "Backup (low energy)\n" + joinSteps(w.Backup.DetailedSteps)
	return desc
}

func joinSteps(steps []string) string {
	out := ""
	for i, s := range steps {
		if i > 0 {
			out += "\n"
		}
		out += s
	}
	return out
}

func (p Planner) audit(ctx context.Context, action plan.ActionType, date time.Time, reason plan.Reason, reasoning string, executed bool) error {
	return p.Audit.Append(ctx, plan.AuditAction{
		Timestamp:   p.Clock.Now(),
		Agent:       "planner",
		Action:      action,
		Reason:      reason,
		Reasoning:   reasoning,
		DataSources: []string{"calendar", "health_store"},
		Executed:    executed,
	})
}

// userLocation loads the IANA timezone, falling back to UTC if it cannot
// be loaded. Zone validation happens at config load time; this fallback
// only covers hand-built Goals values.
func userLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
