// Package orchestrator implements C9: the single-flight cycle that
// ingests, reconciles, plans, and writes, under a cycle-wide deadline
// and a per-cycle calendar mutation budget.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/wellforge/fitcadence/internal/calendarview"
	"github.com/wellforge/fitcadence/internal/clock"
	"github.com/wellforge/fitcadence/internal/config"
	"github.com/wellforge/fitcadence/internal/domain/calendarevent"
	"github.com/wellforge/fitcadence/internal/domain/health"
	"github.com/wellforge/fitcadence/internal/domain/interval"
	"github.com/wellforge/fitcadence/internal/domain/plan"
	"github.com/wellforge/fitcadence/internal/domain/template"
	apperrors "github.com/wellforge/fitcadence/internal/errors"
	"github.com/wellforge/fitcadence/internal/llm"
	"github.com/wellforge/fitcadence/internal/planner"
	"github.com/wellforge/fitcadence/internal/reconciler"
)

// HealthStore is the union of the planner's and reconciler's store needs.
type HealthStore interface {
	SamplesBefore(ctx context.Context, before time.Time, lookback time.Duration) ([]health.Sample, error)
	ActivitiesIn(ctx context.Context, start, end time.Time) ([]health.Activity, error)
}

// AuditStore persists decisions across both phases.
type AuditStore interface {
	Append(ctx context.Context, action plan.AuditAction) error
}

// Ingestor is an external ingestion collaborator the orchestrator
// triggers at cycle start. Failures are non-fatal.
type Ingestor interface {
	Name() string
	Ingest(ctx context.Context) error
}

// Deps is the explicit dependency bundle handed to the orchestrator at
// construction, replacing any module-level singletons.
type Deps struct {
	Calendar  calendarview.Client
	Health    HealthStore
	Audit     AuditStore
	LM        llm.Client
	Clock     clock.Clock
	Config    config.Config
	Templates map[health.Discipline]template.WorkoutTemplate
	Ingestors []Ingestor
}

// Orchestrator drives one cycle to completion.
type Orchestrator struct {
	deps   Deps
	dryRun bool
}

// New builds an Orchestrator from its dependency bundle.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// NewDryRun builds an Orchestrator whose cycle records decisions without
// writing to the calendar: the planner skips its writes and every
// reconciler write is buffered as an unexecuted audit entry.
func NewDryRun(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps, dryRun: true}
}

// Summary is the per-cycle outcome line.
type Summary struct {
	Created  int
	Updated  int
	Deleted  int
	Skipped  int
	Buffered int
	Degraded int
	Aborted  bool
}

func (s Summary) String() string {
	return fmt.Sprintf("created=%d updated=%d deleted=%d skipped=%d buffered=%d degraded=%d aborted=%t",
		s.Created, s.Updated, s.Deleted, s.Skipped, s.Buffered, s.Degraded, s.Aborted)
}

// RunCycle executes one full cycle: ingest, reconcile over the trailing
// window, plan over the forward horizon, then emit the summary. Panics
// inside components are contained and converted to cycle_aborted.
func (o *Orchestrator) RunCycle(ctx context.Context) (summary Summary, err error) {
	deadline := o.deps.Config.CycleDeadline
	if deadline <= 0 {
		deadline = time.Duration(config.DefaultCycleDeadlineMinutes) * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			summary.Aborted = true
			fingerprint := stackFingerprint(debug.Stack())
			o.recordAbort(fmt.Sprintf("panic: %v [%s]", r, fingerprint), nil)
			err = apperrors.NewInternal(fmt.Sprintf("cycle panicked: %v", r), nil)
		}
	}()

	o.ingest(ctx)

	budget := o.deps.Config.Goals.Safety.MaxMutationsPerCycle
	if o.dryRun {
		budget = 0
	}
	limiter := newMutationLimiter(calendarview.View{Client: o.deps.Calendar}, budget)

	recOut, err := o.reconcile(ctx, limiter)
	if err != nil {
		if aborted := o.maybeAbort(ctx, err, "reconcile"); aborted != nil {
			summary.Aborted = true
			return summary, aborted
		}
		return summary, err
	}
	summary.Updated = recOut.MarkedCompleted + recOut.MarkedMissed + recOut.Rescheduled
	summary.Deleted = recOut.Cancelled

	planOut, err := o.plan(ctx, limiter)
	if err != nil {
		if aborted := o.maybeAbort(ctx, err, "plan"); aborted != nil {
			summary.Aborted = true
			return summary, aborted
		}
		return summary, err
	}
	summary.Created = planOut.Created
	summary.Skipped = planOut.SkippedNoSlot + planOut.SkippedTarget + planOut.SkippedDuplicate
	summary.Buffered = planOut.Buffered
	summary.Degraded = planOut.Degraded

	log.Printf("cycle complete: %s", summary)
	return summary, nil
}

// ingest triggers each ingestion collaborator; a failure skips that
// source and continues, per the transient-failure policy.
func (o *Orchestrator) ingest(ctx context.Context) {
	for _, ing := range o.deps.Ingestors {
		if ctx.Err() != nil {
			return
		}
		if err := ing.Ingest(ctx); err != nil {
			log.Printf("ingest %s failed: %v", ing.Name(), err)
		}
	}
}

func (o *Orchestrator) reconcile(ctx context.Context, limiter *mutationLimiter) (reconciler.Outcome, error) {
	return o.reconcileTrailing(ctx, limiter, 0)
}

func (o *Orchestrator) reconcileTrailing(ctx context.Context, limiter *mutationLimiter, trailingDays int) (reconciler.Outcome, error) {
	rec := reconciler.Reconciler{
		Calendar:     limiter,
		HealthStore:  o.deps.Health,
		Audit:        o.deps.Audit,
		Clock:        o.deps.Clock,
		Goals:        o.deps.Config.Goals,
		Rescheduler:  &rescheduler{goals: o.deps.Config.Goals, templates: o.deps.Templates},
		TrailingDays: trailingDays,
		MinNoticeHrs: o.deps.Config.Goals.Safety.MinNoticeHours,
	}
	return rec.Run(ctx)
}

// Reconcile runs only the reconciliation phase over a trailing window,
// for the CLI's reconcile subcommand. A non-positive trailingDays uses
// the default window.
func (o *Orchestrator) Reconcile(ctx context.Context, trailingDays int) (reconciler.Outcome, error) {
	deadline := o.deps.Config.CycleDeadline
	if deadline <= 0 {
		deadline = time.Duration(config.DefaultCycleDeadlineMinutes) * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	limiter := newMutationLimiter(calendarview.View{Client: o.deps.Calendar}, o.deps.Config.Goals.Safety.MaxMutationsPerCycle)
	return o.reconcileTrailing(ctx, limiter, trailingDays)
}

func (o *Orchestrator) plan(ctx context.Context, limiter *mutationLimiter) (planner.Outcome, error) {
	p := planner.Planner{
		Calendar:    limiter,
		HealthStore: o.deps.Health,
		Audit:       o.deps.Audit,
		LM:          llm.Chain{Client: o.deps.LM, Models: modelSpecs(o.deps.Config.Models)},
		Clock:       o.deps.Clock,
		Goals:       o.deps.Config.Goals,
		Templates:   o.deps.Templates,
		HorizonDays: o.deps.Config.HorizonDays,
		DryRun:      o.dryRun,
	}
	return p.Plan(ctx)
}

func modelSpecs(models []config.Model) []llm.ModelSpec {
	specs := make([]llm.ModelSpec, 0, len(models))
	for _, m := range models {
		specs = append(specs, llm.ModelSpec{Name: m.Name, Timeout: m.Timeout})
	}
	return specs
}

// maybeAbort converts a deadline/cancellation failure into cycle_aborted,
// recording the phase that never completed. Other errors pass through.
func (o *Orchestrator) maybeAbort(ctx context.Context, err error, phase string) error {
	if ctx.Err() == nil && !apperrors.IsDeadlineExceeded(err) {
		return nil
	}
	o.recordAbort(fmt.Sprintf("deadline elapsed during %s", phase), []string{phase})
	return apperrors.NewDeadlineExceeded(fmt.Sprintf("cycle aborted during %s", phase))
}

// recordAbort writes the cycle_aborted audit entry on a background
// context: the cycle context is already dead by definition here.
func (o *Orchestrator) recordAbort(reasoning string, notAttempted []string) {
	auditCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.deps.Audit.Append(auditCtx, plan.AuditAction{
		Timestamp:   o.deps.Clock.Now(),
		Agent:       "orchestrator",
		Action:      plan.ActionCycleAborted,
		Reasoning:   reasoning,
		DataSources: notAttempted,
		Executed:    true,
	}); err != nil {
		log.Printf("failed to record cycle_aborted: %v", err)
	}
}

// stackFingerprint truncates a panic stack to a short marker for the
// audit trail.
func stackFingerprint(stack []byte) string {
	const max = 160
	s := string(stack)
	if len(s) > max {
		s = s[:max]
	}
	return s
}

// rescheduler wires the conflict engine into the reconciler's
// displaced-event path without a reconciler->planner import cycle.
type rescheduler struct {
	goals     template.Goals
	templates map[health.Discipline]template.WorkoutTemplate
}

// Reschedule searches the displaced event's own day for a new slot in
// the preferred then alternate window, keeping the original duration.
func (r *rescheduler) Reschedule(ctx context.Context, e calendarevent.Event, busy []calendarevent.Event) (calendarevent.Event, bool) {
	duration := e.End.Sub(e.Start)
	if duration <= 0 {
		return calendarevent.Event{}, false
	}

	busyIvs := make([]interval.Interval, 0, len(busy)+1)
	for _, b := range busy {
		busyIvs = append(busyIvs, interval.Interval{Start: b.Start, End: b.End})
	}

	preferred := r.goals.MorningWindow
	alternate := r.goals.EveningWindow
	if r.goals.PreferredTime == template.PreferEvening {
		preferred, alternate = alternate, preferred
	}

	start, ok := interval.FindFreeSlot(e.Start, duration,
		interval.Window{StartHour: preferred.StartHour, EndHour: preferred.EndHour},
		interval.Window{StartHour: alternate.StartHour, EndHour: alternate.EndHour},
		intervalPolicy(r.goals.PreferredTime), busyIvs)
	if !ok {
		return calendarevent.Event{}, false
	}

	moved := e
	moved.Start = start
	moved.End = start.Add(duration)
	return moved, true
}

func intervalPolicy(p template.PreferredTimePolicy) interval.Policy {
	switch p {
	case template.PreferEvening:
		return interval.PolicyEvening
	case template.PreferFlexible:
		return interval.PolicyFlexible
	default:
		return interval.PolicyMorning
	}
}
