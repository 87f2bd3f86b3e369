package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wellforge/fitcadence/internal/clock"
	"github.com/wellforge/fitcadence/internal/domain/calendarevent"
	"github.com/wellforge/fitcadence/internal/domain/health"
	"github.com/wellforge/fitcadence/internal/domain/plan"
	"github.com/wellforge/fitcadence/internal/domain/template"
)

type fakeCalendar struct {
	events  []calendarevent.Event
	deletes []string
	upserts []calendarevent.Event
}

func (f *fakeCalendar) ListRange(ctx context.Context, start, end time.Time) ([]calendarevent.Event, error) {
	return f.events, nil
}

func (f *fakeCalendar) Upsert(ctx context.Context, event calendarevent.Event) (calendarevent.Event, error) {
	f.upserts = append(f.upserts, event)
	return event, nil
}

func (f *fakeCalendar) Delete(ctx context.Context, externalID string) error {
	f.deletes = append(f.deletes, externalID)
	return nil
}

type fakeHealthStore struct {
	activities []health.Activity
}

func (f *fakeHealthStore) ActivitiesIn(ctx context.Context, start, end time.Time) ([]health.Activity, error) {
	return f.activities, nil
}

type fakeAudit struct {
	actions []plan.AuditAction
}

func (f *fakeAudit) Append(ctx context.Context, action plan.AuditAction) error {
	f.actions = append(f.actions, action)
	return nil
}

func TestReconcileMarksCompletedOnSingleMatch(t *testing.T) {
	now := time.Date(2026, 7, 20, 12, 0, 0, 0, time.UTC)
	eventStart := now.Add(-3 * time.Hour)
	e := calendarevent.NewPlanned(health.DisciplineRun, "Easy 5k", "Option A\nOption B\nBackup (low energy)", eventStart, eventStart.Add(time.Hour))
	e.ExternalID = "ev1"

	cal := &fakeCalendar{events: []calendarevent.Event{e}}
	hs := &fakeHealthStore{activities: []health.Activity{
		{Timestamp: eventStart.Add(5 * time.Minute), Discipline: health.DisciplineRun, DurationMinutes: 32},
	}}
	audit := &fakeAudit{}

	r := Reconciler{Calendar: cal, HealthStore: hs, Audit: audit, Clock: clock.Fixed{At: now}, Goals: template.Goals{WeeklyTarget: map[health.Discipline]int{health.DisciplineRun: 2}}}

	out, err := r.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, out.MarkedCompleted)
	require.Len(t, cal.upserts, 1)
	assert.Contains(t, cal.upserts[0].Summary, calendarevent.PrefixDone)
}

func TestReconcileMarksMissedOnNoMatch(t *testing.T) {
	now := time.Date(2026, 7, 20, 12, 0, 0, 0, time.UTC)
	eventStart := now.Add(-3 * time.Hour)
	e := calendarevent.NewPlanned(health.DisciplineRun, "Easy 5k", "Option A\nOption B\nBackup (low energy)", eventStart, eventStart.Add(time.Hour))
	e.ExternalID = "ev1"

	cal := &fakeCalendar{events: []calendarevent.Event{e}}
	hs := &fakeHealthStore{}
	audit := &fakeAudit{}

	r := Reconciler{Calendar: cal, HealthStore: hs, Audit: audit, Clock: clock.Fixed{At: now}, Goals: template.Goals{WeeklyTarget: map[health.Discipline]int{health.DisciplineRun: 2}}}

	out, err := r.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, out.MarkedMissed)
	assert.Contains(t, cal.upserts[0].Summary, calendarevent.PrefixMissed)
}

func TestReconcileCancelsFutureEventWhenGoalRemoved(t *testing.T) {
	now := time.Date(2026, 7, 20, 12, 0, 0, 0, time.UTC)
	futureStart := now.Add(72 * time.Hour)
	e := calendarevent.NewPlanned(health.DisciplineSwim, "Swim", "Option A\nOption B\nBackup (low energy)", futureStart, futureStart.Add(time.Hour))
	e.ExternalID = "swim1"

	cal := &fakeCalendar{events: []calendarevent.Event{e}}
	hs := &fakeHealthStore{}
	audit := &fakeAudit{}

	r := Reconciler{Calendar: cal, HealthStore: hs, Audit: audit, Clock: clock.Fixed{At: now}, Goals: template.Goals{WeeklyTarget: map[health.Discipline]int{health.DisciplineSwim: 0}}}

	out, err := r.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, out.Cancelled)
	assert.Equal(t, []string{"swim1"}, cal.deletes)
}

func TestReconcileNeverTouchesProtectedEvent(t *testing.T) {
	now := time.Date(2026, 7, 20, 12, 0, 0, 0, time.UTC)
	futureStart := now.Add(time.Hour)
	e := calendarevent.NewPlanned(health.DisciplineRun, "Run", "Option A\nOption B\nBackup (low energy)", futureStart, futureStart.Add(time.Hour))
	e.Summary = "[AI Workout] run: CEO demo prep"
	e.ExternalID = "protected1"
	conflict := calendarevent.Event{ExternalID: "ext1", Origin: calendarevent.OriginExternal, Start: futureStart, End: futureStart.Add(time.Hour)}

	cal := &fakeCalendar{events: []calendarevent.Event{e, conflict}}
	hs := &fakeHealthStore{}
	audit := &fakeAudit{}

	r := Reconciler{
		Calendar: cal, HealthStore: hs, Audit: audit, Clock: clock.Fixed{At: now},
		Goals: template.Goals{WeeklyTarget: map[health.Discipline]int{health.DisciplineRun: 2}, ProtectedKeywords: []string{"CEO"}},
	}

	out, err := r.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, out.Cancelled)
	assert.Equal(t, 0, out.Rescheduled)
	assert.Empty(t, cal.deletes)
}
