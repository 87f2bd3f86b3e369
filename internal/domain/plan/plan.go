// Package plan holds the transient entities exchanged between the
// planner (C6) and the LM content generator (C7), plus the pure intensity
// decision table and the audit action taxonomy shared across components.
package plan

import (
	"time"

	"github.com/wellforge/fitcadence/internal/domain/health"
	"github.com/wellforge/fitcadence/internal/domain/template"
)

// Request is the planner's handoff to the LM content generator.
type Request struct {
	Date                    time.Time
	Discipline              health.Discipline
	IntensityTier           template.IntensityTier
	PreferredWindow         template.HourWindow
	RecentActivitiesSummary string
	HealthSnapshot          health.Snapshot
	Template                template.WorkoutTemplate
}

// Option is one LM-authored (or template-rendered) workout alternative.
type Option struct {
	Summary         string
	DetailedSteps   []string
	TargetHRZones   string
	DurationMinutes int
}

// Workout is the parsed two-option-plus-backup output of the LM generator.
type Workout struct {
	OptionA Option
	OptionB Option
	Backup  Option
	// Degraded is true when every configured model failed and this
	// Workout was produced by the deterministic template fallback.
	Degraded bool
	// Model is the model that produced OptionA/OptionB, empty when Degraded.
	Model string
}

// trainingLoadCeiling downshifts intensity by one tier when 48h training
// load exceeds this value.
const trainingLoadCeiling = 350.0

// DecideIntensity is the pure decision table keyed by recovery tier and
// discipline, modeling IntensityTier as a tagged variant rather than
// free-form rules.
func DecideIntensity(tier health.RecoveryTier, discipline health.Discipline, trainingLoad48h float64) template.IntensityTier {
	var base template.IntensityTier
	switch tier {
	case health.TierPoor:
		base = template.IntensityReduced
	case health.TierFair:
		switch discipline {
		case health.DisciplineRun, health.DisciplineBike:
			base = template.IntensityReduced
		default:
			base = template.IntensityNormal
		}
	case health.TierGood, health.TierExcellent, health.TierUnknown:
		// Unknown recovery is treated as the neutral "good" default.
		base = template.IntensityNormal
	default:
		base = template.IntensityNormal
	}

	if trainingLoad48h > trainingLoadCeiling {
		base = downshift(base)
	}
	return base
}

func downshift(tier template.IntensityTier) template.IntensityTier {
	switch tier {
	case template.IntensityNormal:
		return template.IntensityReduced
	case template.IntensityReduced:
		return template.IntensityBackup
	default:
		return tier
	}
}

// ActionType enumerates the kinds of decisions the planner and reconciler
// record in the audit log.
type ActionType string

const (
	ActionPlan          ActionType = "plan"
	ActionReschedule    ActionType = "reschedule"
	ActionCancel        ActionType = "cancel"
	ActionMarkCompleted ActionType = "mark_completed"
	ActionMissed        ActionType = "missed"
	ActionSkipDuplicate ActionType = "skip_duplicate"
	ActionSkipTargetMet ActionType = "skip_target_met"
	ActionCycleAborted  ActionType = "cycle_aborted"
)

// Reason captures the documented reason codes attached to certain actions
// (e.g. cancel/target_removed, plan skipped/no_slot).
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonTargetRemoved  Reason = "target_removed"
	ReasonNoSlot         Reason = "no_slot"
	ReasonPermissionDeny Reason = "permission_denied"
)

// AuditAction is an immutable record of every planner/reconciler decision.
type AuditAction struct {
	Timestamp      time.Time
	Agent          string
	Action         ActionType
	Reason         Reason
	Confidence     float64
	BeforeState    string
	AfterState     string
	Reasoning      string
	DataSources    []string
	Executed       bool
	Degraded       bool
	MultiCandidate bool
}
