// Package health derives a recovery snapshot from recent wearable data.
package health

import (
	"sort"
	"time"
)

// Discipline enumerates the activity types the system plans and reconciles.
type Discipline string

const (
	DisciplineRun      Discipline = "run"
	DisciplineBike     Discipline = "bike"
	DisciplineSwim     Discipline = "swim"
	DisciplineStrength Discipline = "strength"
	DisciplineOther    Discipline = "other"
)

// Sample is a single timestamped measurement from one external source.
// Instances are never mutated once ingested; RawPayload is retained in
// full so the snapshot can be re-derived if the weighting formula changes.
type Sample struct {
	Timestamp         time.Time
	Source            string
	SleepDurationHrs  float64
	SleepQualityScore float64
	RestingHR         float64
	HRVScore          float64
	StressLevel       float64
	RecoveryScore     float64
	Steps             int
	RawPayload        map[string]any
}

// Activity is a completed workout as reported by the wearable.
type Activity struct {
	Timestamp         time.Time
	Discipline        Discipline
	DurationMinutes   float64
	DistanceKM        float64
	AvgHR             float64
	TrainingLoad      float64
	PerceivedExertion int
	Calories          float64
	RawPayload        map[string]any
}

// RecoveryTier is the discrete label driving intensity selection.
type RecoveryTier string

const (
	TierExcellent RecoveryTier = "excellent"
	TierGood      RecoveryTier = "good"
	TierFair      RecoveryTier = "fair"
	TierPoor      RecoveryTier = "poor"
	TierUnknown   RecoveryTier = "unknown"
)

// RecoveryWeights are the named blend coefficients for the recovery
// score. They sum to 1.05, not 1.0; the blend is not renormalized.
var RecoveryWeights = struct {
	SleepQuality float64
	HRV          float64
	RHR          float64
	Stress       float64
	TrainingLoad float64
}{
	SleepQuality: 0.35,
	HRV:          0.25,
	RHR:          0.20,
	Stress:       0.15,
	TrainingLoad: 0.10,
}

// Snapshot is the derived recovery state for a reference date.
type Snapshot struct {
	ReferenceDate       time.Time
	Tier                RecoveryTier
	RecoveryScore       float64
	SleepQuality        float64
	StressLevel         float64
	RestingHRBaseline7d float64
	StressBaseline7d    float64
	TrainingLoad48h     float64
	HasRecentSample     bool
}

// normalizedTrainingLoadCeiling caps training load before it's folded into
// the recovery blend, so a single huge session can't swamp the formula.
const normalizedTrainingLoadCeiling = 500.0

// Derive computes the Snapshot as of reference date d from samples and
// activities. Only the most recent sample with Timestamp < d+24h is used
// as the snapshot's primary reading; the prior 7 days feed the rolling
// baselines, and the prior 48 hours feed training load.
func Derive(d time.Time, samples []Sample, activities []Activity) Snapshot {
	cutoff := d.Add(24 * time.Hour)
	windowStart := d.Add(-7 * 24 * time.Hour)

	var latest *Sample
	var rhrWindow, stressWindow []float64
	for i := range samples {
		s := samples[i]
		if !s.Timestamp.Before(cutoff) {
			continue
		}
		if !s.Timestamp.Before(windowStart) {
			rhrWindow = append(rhrWindow, s.RestingHR)
			stressWindow = append(stressWindow, s.StressLevel)
		}
		if latest == nil || s.Timestamp.After(latest.Timestamp) {
			sc := s
			latest = &sc
		}
	}

	snap := Snapshot{
		ReferenceDate:       d,
		RestingHRBaseline7d: median(rhrWindow),
		StressBaseline7d:    median(stressWindow),
	}

	loadStart := d.Add(-48 * time.Hour)
	for _, a := range activities {
		if !a.Timestamp.Before(loadStart) && a.Timestamp.Before(d) {
			snap.TrainingLoad48h += a.TrainingLoad
		}
	}

	if latest == nil || d.Sub(latest.Timestamp) > 48*time.Hour {
		snap.Tier = TierUnknown
		return snap
	}

	snap.HasRecentSample = true
	snap.SleepQuality = latest.SleepQualityScore
	snap.StressLevel = latest.StressLevel

	// No HRV baseline is maintained; the resting-HR baseline stands in
	// as the comparison point, which is an approximation.
	hrvTuned := tunedComponent(latest.HRVScore, snap.RestingHRBaseline7d, false)
	rhrTuned := tunedComponent(latest.RestingHR, snap.RestingHRBaseline7d, true)
	normalizedLoad := clamp(snap.TrainingLoad48h/normalizedTrainingLoadCeiling*100, 0, 100)

	snap.RecoveryScore = RecoveryWeights.SleepQuality*latest.SleepQualityScore +
		RecoveryWeights.HRV*hrvTuned +
		RecoveryWeights.RHR*rhrTuned +
		RecoveryWeights.Stress*(100-latest.StressLevel) +
		RecoveryWeights.TrainingLoad*(100-normalizedLoad)

	snap.Tier = tierFor(snap.RecoveryScore)
	return snap
}

// tierFor buckets a 0-100 recovery score into its discrete tier.
func tierFor(score float64) RecoveryTier {
	switch {
	case score >= 80:
		return TierExcellent
	case score >= 60:
		return TierGood
	case score >= 40:
		return TierFair
	default:
		return TierPoor
	}
}

// tunedComponent linearly compares current to its 7-day baseline, scaled
// onto a 0-100 axis. When higherIsWorse is true (resting HR), an above-
// baseline reading lowers the component instead of raising it.
func tunedComponent(current, baseline float64, higherIsWorse bool) float64 {
	if baseline == 0 {
		return 50
	}
	delta := (current - baseline) / baseline * 100
	if higherIsWorse {
		delta = -delta
	}
	return clamp(50+delta, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
