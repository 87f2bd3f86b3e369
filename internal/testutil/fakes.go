// Package testutil provides in-memory fake collaborators for cycle and
// scenario tests: a calendar, a health store, an audit sink, and a
// scriptable language model.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wellforge/fitcadence/internal/domain/calendarevent"
	"github.com/wellforge/fitcadence/internal/domain/health"
	"github.com/wellforge/fitcadence/internal/domain/plan"
	apperrors "github.com/wellforge/fitcadence/internal/errors"
)

// FakeCalendar is an in-memory calendarview.Client that assigns ids on
// insert and counts mutations.
type FakeCalendar struct {
	mu      sync.Mutex
	events  map[string]calendarevent.Event
	nextID  int
	Upserts int
	Deletes int
	// PanicOnList makes List panic, for panic-containment tests.
	PanicOnList bool
}

// NewFakeCalendar creates an empty fake calendar.
func NewFakeCalendar(seed ...calendarevent.Event) *FakeCalendar {
	f := &FakeCalendar{events: map[string]calendarevent.Event{}}
	for _, e := range seed {
		if e.ExternalID == "" {
			f.nextID++
			e.ExternalID = fmt.Sprintf("seed-%d", f.nextID)
		}
		f.events[e.ExternalID] = e
	}
	return f
}

// List returns events with start in [start, end).
func (f *FakeCalendar) List(ctx context.Context, start, end time.Time) ([]calendarevent.Event, error) {
	if f.PanicOnList {
		panic("calendar exploded")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []calendarevent.Event
	for _, e := range f.events {
		if !e.Start.Before(start) && e.Start.Before(end) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Upsert inserts or replaces an event, assigning an id when absent.
func (f *FakeCalendar) Upsert(ctx context.Context, event calendarevent.Event) (calendarevent.Event, error) {
	if err := ctx.Err(); err != nil {
		return calendarevent.Event{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if event.ExternalID == "" {
		f.nextID++
		event.ExternalID = fmt.Sprintf("evt-%d", f.nextID)
	}
	f.events[event.ExternalID] = event
	f.Upserts++
	return event, nil
}

// Delete removes an event by id.
func (f *FakeCalendar) Delete(ctx context.Context, externalID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[externalID]; !ok {
		return apperrors.NewNotFound("calendar event", externalID)
	}
	delete(f.events, externalID)
	f.Deletes++
	return nil
}

// Events returns a snapshot of all stored events.
func (f *FakeCalendar) Events() []calendarevent.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]calendarevent.Event, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e)
	}
	return out
}

// PlannerOwned returns the stored planner-owned events.
func (f *FakeCalendar) PlannerOwned() []calendarevent.Event {
	var out []calendarevent.Event
	for _, e := range f.Events() {
		if calendarevent.IsPlannerOwned(e) {
			out = append(out, e)
		}
	}
	return out
}

// Mutations returns the total count of writes applied.
func (f *FakeCalendar) Mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Upserts + f.Deletes
}

// FakeHealth is an in-memory health store.
type FakeHealth struct {
	Samples    []health.Sample
	Activities []health.Activity
}

// SamplesBefore filters samples to [before-lookback, before).
func (f *FakeHealth) SamplesBefore(ctx context.Context, before time.Time, lookback time.Duration) ([]health.Sample, error) {
	from := before.Add(-lookback)
	var out []health.Sample
	for _, s := range f.Samples {
		if !s.Timestamp.Before(from) && s.Timestamp.Before(before) {
			out = append(out, s)
		}
	}
	return out, nil
}

// ActivitiesIn filters activities to [start, end).
func (f *FakeHealth) ActivitiesIn(ctx context.Context, start, end time.Time) ([]health.Activity, error) {
	var out []health.Activity
	for _, a := range f.Activities {
		if !a.Timestamp.Before(start) && a.Timestamp.Before(end) {
			out = append(out, a)
		}
	}
	return out, nil
}

// FakeAudit records appended actions in order.
type FakeAudit struct {
	mu      sync.Mutex
	Actions []plan.AuditAction
}

// Append stores the action.
func (f *FakeAudit) Append(ctx context.Context, action plan.AuditAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Actions = append(f.Actions, action)
	return nil
}

// ByAction returns the recorded actions of one type.
func (f *FakeAudit) ByAction(t plan.ActionType) []plan.AuditAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []plan.AuditAction
	for _, a := range f.Actions {
		if a.Action == t {
			out = append(out, a)
		}
	}
	return out
}

// ValidWorkoutBody is a minimal response satisfying the parse contract.
const ValidWorkoutBody = "Option A: Steady session\n- warmup 10 min\n- main set\n- cooldown 5 min\n\nOption B: Interval session\n- warmup 10 min\n- 6x2 min hard\n- cooldown 5 min\n\nBackup (low energy)\n- 15 min easy movement\n"

// FakeLM is a scriptable llm.Client keyed by model name.
type FakeLM struct {
	mu sync.Mutex
	// Errors maps model name to the error its calls return.
	Errors map[string]error
	// Bodies maps model name to the body its calls return; models with
	// no entry return ValidWorkoutBody.
	Bodies map[string]string
	Calls  []string
}

// Generate returns the scripted response for model.
func (f *FakeLM) Generate(ctx context.Context, prompt, model string, deadline time.Time) (string, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, model)
	f.mu.Unlock()

	if err, ok := f.Errors[model]; ok {
		return "", err
	}
	if body, ok := f.Bodies[model]; ok {
		return body, nil
	}
	return ValidWorkoutBody, nil
}

// CalledModels returns the models invoked so far.
func (f *FakeLM) CalledModels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}

// PlannedSeed builds a planner-owned event for seeding fake calendars.
func PlannedSeed(id string, discipline health.Discipline, start time.Time, duration time.Duration) calendarevent.Event {
	e := calendarevent.NewPlanned(discipline, "Seeded session", strings.TrimRight(ValidWorkoutBody, "\n"), start, start.Add(duration))
	e.ExternalID = id
	return e
}
