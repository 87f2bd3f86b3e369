// Package template holds the Goals and WorkoutTemplate entities loaded by
// the config layer (C1) and rendered by the planner and LM generator.
package template

import (
	"fmt"
	"strings"

	"github.com/wellforge/fitcadence/internal/domain/health"
)

// PreferredTimePolicy mirrors interval.Policy without importing it, so
// this package stays a leaf entity definition.
type PreferredTimePolicy string

const (
	PreferMorning  PreferredTimePolicy = "morning"
	PreferEvening  PreferredTimePolicy = "evening"
	PreferFlexible PreferredTimePolicy = "flexible"
)

// HourWindow is a [Start, End) hour-of-day range.
type HourWindow struct {
	StartHour int
	EndHour   int
}

// SafetyLimits bounds how aggressively the orchestrator mutates the
// calendar in a single cycle.
type SafetyLimits struct {
	MaxMutationsPerCycle int
	MinNoticeHours       int
}

// Goals is the declarative weekly-target configuration.
type Goals struct {
	WeeklyTarget      map[health.Discipline]int
	PreferredTime     PreferredTimePolicy
	MorningWindow     HourWindow
	EveningWindow     HourWindow
	UserTimezone      string
	ProtectedKeywords []string
	Safety            SafetyLimits
	// DisciplinePriority breaks ties when multiple disciplines have equal
	// remaining quota. Defaults to strength > run > bike > swim.
	DisciplinePriority []health.Discipline
}

// DefaultDisciplinePriority is the priority order used when a Goals
// document does not declare its own.
var DefaultDisciplinePriority = []health.Discipline{
	health.DisciplineStrength,
	health.DisciplineRun,
	health.DisciplineBike,
	health.DisciplineSwim,
}

// Priority returns g's configured discipline priority, or the default.
func (g Goals) Priority() []health.Discipline {
	if len(g.DisciplinePriority) > 0 {
		return g.DisciplinePriority
	}
	return DefaultDisciplinePriority
}

// IntensityTier is the tagged-variant target load level for a workout.
type IntensityTier string

const (
	IntensityNormal  IntensityTier = "normal"
	IntensityReduced IntensityTier = "reduced"
	IntensityBackup  IntensityTier = "backup"
)

// WorkoutTemplate is the per-discipline structured recipe rendered into
// the LM prompt and into the deterministic fallback text.
type WorkoutTemplate struct {
	Discipline health.Discipline
	Warmup     []string
	MainSets   map[IntensityTier][]string
	Cooldown   []string
	// DefaultDurationMinutes is used when no LM-authored duration is
	// available, keyed by intensity tier.
	DefaultDurationMinutes map[IntensityTier]int
}

// Render produces deterministic, template-only workout text for tier.
// This is the text used verbatim when every LM model in the fallback
// chain fails.
func (w WorkoutTemplate) Render(tier IntensityTier) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Option A\n")
	writeSection(&b, "Warmup", w.Warmup)
	writeSection(&b, "Main Set", w.mainSetFor(tier))
	writeSection(&b, "Cooldown", w.Cooldown)

	fmt.Fprintf(&b, "\nOption B\n")
	writeSection(&b, "Warmup", w.Warmup)
	writeSection(&b, "Main Set", w.mainSetFor(tier))
	writeSection(&b, "Cooldown", w.Cooldown)

	fmt.Fprintf(&b, "\nBackup (low energy)\n")
	writeSection(&b, "Main Set", w.mainSetFor(IntensityBackup))

	return b.String()
}

func (w WorkoutTemplate) mainSetFor(tier IntensityTier) []string {
	if sets, ok := w.MainSets[tier]; ok {
		return sets
	}
	return w.MainSets[IntensityNormal]
}

func writeSection(b *strings.Builder, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, l := range lines {
		fmt.Fprintf(b, "- %s\n", l)
	}
}

// DurationFor returns the planned duration in minutes for tier, falling
// back to the normal tier's duration when tier has none configured.
func (w WorkoutTemplate) DurationFor(tier IntensityTier) int {
	if d, ok := w.DefaultDurationMinutes[tier]; ok {
		return d
	}
	return w.DefaultDurationMinutes[IntensityNormal]
}
