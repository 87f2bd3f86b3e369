// Package integration exercises the full cycle end to end against
// in-memory fake collaborators.
package integration

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wellforge/fitcadence/internal/clock"
	"github.com/wellforge/fitcadence/internal/config"
	"github.com/wellforge/fitcadence/internal/domain/calendarevent"
	"github.com/wellforge/fitcadence/internal/domain/health"
	"github.com/wellforge/fitcadence/internal/domain/plan"
	"github.com/wellforge/fitcadence/internal/domain/template"
	apperrors "github.com/wellforge/fitcadence/internal/errors"
	"github.com/wellforge/fitcadence/internal/orchestrator"
	"github.com/wellforge/fitcadence/internal/testutil"
)

// monday is Monday 2026-03-09 05:00 UTC; scenarios that need a mid-week
// vantage use wednesday.
var (
	monday    = time.Date(2026, 3, 9, 5, 0, 0, 0, time.UTC)
	wednesday = time.Date(2026, 3, 11, 5, 0, 0, 0, time.UTC)
)

type world struct {
	cal    *testutil.FakeCalendar
	lm     *testutil.FakeLM
	health *testutil.FakeHealth
	audit  *testutil.FakeAudit
	deps   orchestrator.Deps
}

func newWorld(now time.Time, targets map[health.Discipline]int, models ...config.Model) *world {
	if len(models) == 0 {
		models = []config.Model{{Name: "primary", Timeout: time.Second}}
	}
	w := &world{
		cal:    testutil.NewFakeCalendar(),
		lm:     &testutil.FakeLM{},
		health: &testutil.FakeHealth{},
		audit:  &testutil.FakeAudit{},
	}
	w.deps = orchestrator.Deps{
		Calendar: w.cal,
		Health:   w.health,
		Audit:    w.audit,
		LM:       w.lm,
		Clock:    clock.Fixed{At: now},
		Config: config.Config{
			Goals: template.Goals{
				WeeklyTarget:  targets,
				PreferredTime: template.PreferFlexible,
				MorningWindow: template.HourWindow{StartHour: 6, EndHour: 9},
				EveningWindow: template.HourWindow{StartHour: 17, EndHour: 21},
				UserTimezone:  "UTC",
				Safety: template.SafetyLimits{
					MaxMutationsPerCycle: 8,
					MinNoticeHours:       2,
				},
			},
			HorizonDays:   3,
			CycleDeadline: time.Minute,
			Models:        models,
		},
		Templates: config.DefaultTemplates(),
	}
	return w
}

// goodRecovery seeds a sample yielding a mid-range recovery tier.
func (w *world) goodRecovery(now time.Time) {
	w.health.Samples = []health.Sample{{
		Timestamp:         now.Add(-time.Hour),
		Source:            "garmin",
		SleepDurationHrs:  7.5,
		SleepQualityScore: 75,
		RestingHR:         50,
		HRVScore:          60,
		StressLevel:       30,
	}}
}

func sortedPlanned(cal *testutil.FakeCalendar) []calendarevent.Event {
	events := cal.PlannerOwned()
	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events
}

// S1: fresh user, empty calendar, good recovery. Three events, one per
// day, alternating disciplines starting with strength, morning window.
func TestFreshUserEmptyCalendar(t *testing.T) {
	w := newWorld(monday, map[health.Discipline]int{
		health.DisciplineRun:      2,
		health.DisciplineStrength: 3,
	})
	w.goodRecovery(monday)

	summary, err := orchestrator.New(w.deps).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Created)

	events := sortedPlanned(w.cal)
	require.Len(t, events, 3)

	wantDisciplines := []health.Discipline{
		health.DisciplineStrength,
		health.DisciplineRun,
		health.DisciplineStrength,
	}
	for i, e := range events {
		d, ok := calendarevent.Discipline(e)
		require.True(t, ok)
		assert.Equal(t, wantDisciplines[i], d)
		assert.Equal(t, monday.AddDate(0, 0, i).Day(), e.Start.Day())
		assert.Equal(t, 6, e.Start.Hour(), "morning window placement")
		assert.Contains(t, e.Description, "Option A")
		assert.Contains(t, e.Description, "Option B")
		assert.Contains(t, e.Description, "Backup (low energy)")
	}
}

// S2: morning blocked on day two, flexible policy falls back to evening.
func TestMorningBlockedFlexibleFallsBackToEvening(t *testing.T) {
	w := newWorld(monday, map[health.Discipline]int{
		health.DisciplineRun:      2,
		health.DisciplineStrength: 3,
	})
	w.goodRecovery(monday)

	blocked := monday.AddDate(0, 0, 1)
	_, err := w.cal.Upsert(context.Background(), calendarevent.Event{
		Summary: "Offsite all-morning",
		Start:   time.Date(blocked.Year(), blocked.Month(), blocked.Day(), 6, 0, 0, 0, time.UTC),
		End:     time.Date(blocked.Year(), blocked.Month(), blocked.Day(), 9, 0, 0, 0, time.UTC),
		Origin:  calendarevent.OriginExternal,
	})
	require.NoError(t, err)

	summary, err := orchestrator.New(w.deps).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Created)

	events := sortedPlanned(w.cal)
	require.Len(t, events, 3)
	assert.Equal(t, 6, events[0].Start.Hour())
	assert.Equal(t, 17, events[1].Start.Hour(), "blocked morning must move to evening")
	assert.Equal(t, 6, events[2].Start.Hour())

	// No double booking with the external event.
	for _, e := range events {
		overlaps := e.Start.Hour() >= 6 && e.Start.Hour() < 9 && e.Start.Day() == blocked.Day()
		assert.False(t, overlaps)
	}
}

// S3: primary model fails, secondary succeeds; event is created normally
// and the audit entry names the model that served it.
func TestPrimaryModelFailsFallbackSucceeds(t *testing.T) {
	w := newWorld(monday, map[health.Discipline]int{health.DisciplineRun: 1},
		config.Model{Name: "primary", Timeout: time.Second},
		config.Model{Name: "secondary", Timeout: time.Second},
	)
	w.goodRecovery(monday)
	w.lm.Errors = map[string]error{
		"primary": apperrors.NewTransientExternal("timeout", context.DeadlineExceeded),
	}

	summary, err := orchestrator.New(w.deps).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 0, summary.Degraded)

	assert.Contains(t, w.lm.CalledModels(), "primary")
	assert.Contains(t, w.lm.CalledModels(), "secondary")

	plans := w.audit.ByAction(plan.ActionPlan)
	require.NotEmpty(t, plans)
	executed := plans[0]
	assert.True(t, executed.Executed)
	assert.False(t, executed.Degraded)
	assert.Contains(t, executed.Reasoning, "model=secondary")
}

// S4: every model fails; the event is still created from the rendered
// template and the cycle succeeds in degraded mode.
func TestAllModelsFailDegradedTemplateFallback(t *testing.T) {
	w := newWorld(monday, map[health.Discipline]int{health.DisciplineStrength: 1},
		config.Model{Name: "primary", Timeout: time.Second},
		config.Model{Name: "secondary", Timeout: time.Second},
	)
	w.goodRecovery(monday)
	w.lm.Errors = map[string]error{
		"primary":   apperrors.NewTransientExternal("timeout", context.DeadlineExceeded),
		"secondary": apperrors.NewTransientExternal("timeout", context.DeadlineExceeded),
	}

	summary, err := orchestrator.New(w.deps).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Degraded)

	events := w.cal.PlannerOwned()
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Description, "Option A")
	assert.Contains(t, events[0].Description, "Option B")
	assert.Contains(t, events[0].Description, "Backup (low energy)")

	plans := w.audit.ByAction(plan.ActionPlan)
	require.NotEmpty(t, plans)
	assert.True(t, plans[0].Degraded)
}

// S5: weekly target already met by recorded activities; nothing is
// created and every horizon day records skip_target_met.
func TestTargetAlreadyMet(t *testing.T) {
	w := newWorld(wednesday, map[health.Discipline]int{health.DisciplineRun: 2})
	w.goodRecovery(wednesday)
	w.health.Activities = []health.Activity{
		{Timestamp: monday.Add(13 * time.Hour), Discipline: health.DisciplineRun, DurationMinutes: 45},
		{Timestamp: monday.Add(37 * time.Hour), Discipline: health.DisciplineRun, DurationMinutes: 40},
	}

	summary, err := orchestrator.New(w.deps).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 0, w.cal.Mutations())
	assert.Len(t, w.audit.ByAction(plan.ActionSkipTargetMet), 3)
}

// S6: config drops swim after prior scheduling; both future swim events
// are purged and the freed budget can be spent on the remaining goal.
func TestTargetRemovedPurgesFutureEvents(t *testing.T) {
	w := newWorld(monday, map[health.Discipline]int{
		health.DisciplineSwim: 0,
		health.DisciplineRun:  1,
	})
	w.goodRecovery(monday)

	seed := []calendarevent.Event{
		testutil.PlannedSeed("swim-1", health.DisciplineSwim, monday.AddDate(0, 0, 1).Add(time.Hour), 45*time.Minute),
		testutil.PlannedSeed("swim-2", health.DisciplineSwim, monday.AddDate(0, 0, 3).Add(time.Hour), 45*time.Minute),
	}
	for _, e := range seed {
		_, err := w.cal.Upsert(context.Background(), e)
		require.NoError(t, err)
	}
	w.cal.Upserts = 0

	summary, err := orchestrator.New(w.deps).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Deleted)
	assert.Equal(t, 1, summary.Created)

	for _, e := range w.cal.PlannerOwned() {
		d, ok := calendarevent.Discipline(e)
		require.True(t, ok)
		assert.NotEqual(t, health.DisciplineSwim, d, "no swim event may survive")
	}

	cancels := w.audit.ByAction(plan.ActionCancel)
	require.Len(t, cancels, 2)
	for _, c := range cancels {
		assert.Equal(t, plan.ReasonTargetRemoved, c.Reason)
	}
}

// Weekly budget invariant: scheduled plus completed never exceeds the
// goal for any discipline.
func TestBudgetRespectedWithPartialCompletion(t *testing.T) {
	w := newWorld(wednesday, map[health.Discipline]int{health.DisciplineRun: 2})
	w.goodRecovery(wednesday)
	w.health.Activities = []health.Activity{
		{Timestamp: monday.Add(13 * time.Hour), Discipline: health.DisciplineRun, DurationMinutes: 45},
	}

	summary, err := orchestrator.New(w.deps).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created, "only the one remaining run may be scheduled")

	scheduled := 0
	for _, e := range w.cal.PlannerOwned() {
		if d, _ := calendarevent.Discipline(e); d == health.DisciplineRun {
			scheduled++
		}
	}
	assert.LessOrEqual(t, scheduled+len(w.health.Activities), 2)
}

// Missing health data: planner treats recovery as the neutral default
// and still schedules.
func TestMissingHealthDataStillPlans(t *testing.T) {
	w := newWorld(monday, map[health.Discipline]int{health.DisciplineRun: 1})

	summary, err := orchestrator.New(w.deps).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)
}

// Calendar full: no gap in either window on any horizon day.
func TestCalendarFullNoSlot(t *testing.T) {
	w := newWorld(monday, map[health.Discipline]int{health.DisciplineRun: 1})
	w.goodRecovery(monday)

	for offset := 0; offset < 3; offset++ {
		day := monday.AddDate(0, 0, offset)
		for _, span := range [][2]int{{6, 9}, {17, 21}} {
			_, err := w.cal.Upsert(context.Background(), calendarevent.Event{
				Summary: "Busy block",
				Start:   time.Date(day.Year(), day.Month(), day.Day(), span[0], 0, 0, 0, time.UTC),
				End:     time.Date(day.Year(), day.Month(), day.Day(), span[1], 0, 0, 0, time.UTC),
				Origin:  calendarevent.OriginExternal,
			})
			require.NoError(t, err)
		}
	}
	w.cal.Upserts = 0

	summary, err := orchestrator.New(w.deps).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 0, w.cal.Upserts)
	assert.Equal(t, 3, summary.Skipped)

	noSlot := 0
	for _, a := range w.audit.ByAction(plan.ActionPlan) {
		if a.Reason == plan.ReasonNoSlot {
			noSlot++
		}
	}
	assert.Equal(t, 3, noSlot)
}
