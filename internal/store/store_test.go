package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wellforge/fitcadence/internal/database"
	"github.com/wellforge/fitcadence/internal/domain/calendarevent"
	"github.com/wellforge/fitcadence/internal/domain/health"
)

func testStore(t *testing.T) *HealthStore {
	t.Helper()
	db, cleanup, err := database.OpenTemp("../../migrations")
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return NewHealthStore(db)
}

func TestUpsertSampleIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sample := health.Sample{
		Timestamp:         time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC),
		Source:            "garmin",
		SleepDurationHrs:  7.5,
		SleepQualityScore: 82,
		RestingHR:         48,
		StressLevel:       25,
		RawPayload:        map[string]any{"sleepScore": 82.0},
	}

	inserted, err := s.UpsertSample(ctx, sample)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Duplicate (timestamp, source) is a no-op, not an error.
	inserted, err = s.UpsertSample(ctx, sample)
	require.NoError(t, err)
	assert.False(t, inserted)

	samples, err := s.SamplesBefore(ctx, sample.Timestamp.Add(time.Hour), 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 7.5, samples[0].SleepDurationHrs)
	assert.Equal(t, 82.0, samples[0].RawPayload["sleepScore"])
}

func TestSamplesBeforeWindow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

	for _, offset := range []int{-10, -5, -1, 0, 1} {
		_, err := s.UpsertSample(ctx, health.Sample{
			Timestamp: base.AddDate(0, 0, offset),
			Source:    "test",
		})
		require.NoError(t, err)
	}

	samples, err := s.SamplesBefore(ctx, base, 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.True(t, samples[0].Timestamp.Before(samples[1].Timestamp))
}

func TestUpsertActivityAndWindowedRead(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 9, 18, 0, 0, 0, time.UTC)

	a := health.Activity{
		Timestamp:       base,
		Discipline:      health.DisciplineRun,
		DurationMinutes: 45,
		DistanceKM:      8.2,
		TrainingLoad:    120,
	}
	inserted, err := s.UpsertActivity(ctx, a)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.UpsertActivity(ctx, a)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.ActivitiesIn(ctx, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, health.DisciplineRun, got[0].Discipline)
	assert.Equal(t, 120.0, got[0].TrainingLoad)

	got, err = s.ActivitiesIn(ctx, base.Add(time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCalendarMirrorRoundTrip(t *testing.T) {
	db, cleanup, err := database.OpenTemp("../../migrations")
	require.NoError(t, err)
	t.Cleanup(cleanup)
	m := NewCalendarMirror(db)
	ctx := context.Background()

	e := calendarevent.Event{
		ExternalID:  "evt-1",
		Summary:     "[AI Workout] run: Tempo intervals",
		Description: "Option A\n...\nworkout:run",
		Start:       time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC),
		End:         time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC),
		Tags:        []string{"workout:run"},
		Origin:      calendarevent.OriginPlanned,
	}
	require.NoError(t, m.UpsertEvent(ctx, e))

	// Second upsert replaces in place.
	e.Summary = "[✓ Done] run: Tempo intervals"
	require.NoError(t, m.UpsertEvent(ctx, e))

	events, err := m.EventsIn(ctx, e.Start.Add(-time.Hour), e.Start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "[✓ Done] run: Tempo intervals", events[0].Summary)
	assert.Equal(t, []string{"workout:run"}, events[0].Tags)
	assert.Equal(t, calendarevent.OriginPlanned, events[0].Origin)
}
