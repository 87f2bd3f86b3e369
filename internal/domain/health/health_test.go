package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(offset int) time.Time {
	base := time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, offset)
}

func TestDeriveUnknownWhenNoRecentSample(t *testing.T) {
	snap := Derive(day(10), nil, nil)

	assert.Equal(t, TierUnknown, snap.Tier)
	assert.False(t, snap.HasRecentSample)
}

func TestDeriveUnknownWhenSampleOlderThan48Hours(t *testing.T) {
	samples := []Sample{
		{Timestamp: day(0).Add(-3 * 24 * time.Hour), Source: "garmin", SleepQualityScore: 80},
	}
	snap := Derive(day(0), samples, nil)

	assert.Equal(t, TierUnknown, snap.Tier)
}

func TestDeriveGoodRecoveryFromStrongReadings(t *testing.T) {
	ref := day(7)
	samples := []Sample{
		{Timestamp: ref.Add(-1 * time.Hour), Source: "garmin", SleepQualityScore: 85, HRVScore: 60, RestingHR: 50, StressLevel: 20},
	}
	snap := Derive(ref, samples, nil)

	require.True(t, snap.HasRecentSample)
	assert.Contains(t, []RecoveryTier{TierGood, TierExcellent}, snap.Tier)
}

func TestDeriveFactorsInTrainingLoad48h(t *testing.T) {
	ref := day(7)
	samples := []Sample{
		{Timestamp: ref.Add(-1 * time.Hour), Source: "garmin", SleepQualityScore: 80, HRVScore: 55, RestingHR: 50, StressLevel: 25},
	}
	lightLoad := []Activity{{Timestamp: ref.Add(-10 * time.Hour), Discipline: DisciplineRun, TrainingLoad: 20}}
	heavyLoad := []Activity{{Timestamp: ref.Add(-10 * time.Hour), Discipline: DisciplineRun, TrainingLoad: 480}}

	light := Derive(ref, samples, lightLoad)
	heavy := Derive(ref, samples, heavyLoad)

	assert.Greater(t, light.RecoveryScore, heavy.RecoveryScore)
}

func TestRecoveryWeightsSum(t *testing.T) {
	sum := RecoveryWeights.SleepQuality + RecoveryWeights.HRV + RecoveryWeights.RHR +
		RecoveryWeights.Stress + RecoveryWeights.TrainingLoad
	assert.InDelta(t, 1.05, sum, 1e-9)
}

func TestDeriveRollingBaselinesUseSevenDayMedian(t *testing.T) {
	ref := day(7)
	samples := []Sample{
		{Timestamp: ref.Add(-6 * 24 * time.Hour), RestingHR: 50, StressLevel: 20},
		{Timestamp: ref.Add(-4 * 24 * time.Hour), RestingHR: 52, StressLevel: 30},
		{Timestamp: ref.Add(-1 * time.Hour), RestingHR: 54, StressLevel: 25, SleepQualityScore: 70, HRVScore: 55},
	}
	snap := Derive(ref, samples, nil)

	assert.Equal(t, 52.0, snap.RestingHRBaseline7d)
}
