// Package config loads the declarative goal and template documents (C1)
// from YAML, validates them, and converts them into the typed domain
// records the rest of the system consumes. Unknown keys are ignored;
// missing required keys fail the load with a config error.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wellforge/fitcadence/internal/domain/health"
	"github.com/wellforge/fitcadence/internal/domain/template"
	apperrors "github.com/wellforge/fitcadence/internal/errors"
	"github.com/wellforge/fitcadence/internal/llm"
)

// Defaults for optional safety and planning knobs.
const (
	DefaultMaxMutationsPerCycle = 8
	DefaultMinNoticeHours       = 2
	DefaultHorizonDays          = 3
	DefaultCycleDeadlineMinutes = 10
)

// goalsDoc is the YAML shape of the goal config document.
type goalsDoc struct {
	WeeklyStructure struct {
		SwimSessions     *int `yaml:"swim_sessions"`
		BikeSessions     *int `yaml:"bike_sessions"`
		RunSessions      *int `yaml:"run_sessions"`
		StrengthSessions *int `yaml:"strength_sessions"`
	} `yaml:"weekly_structure"`
	Preferences struct {
		PreferredWorkoutTime string `yaml:"preferred_workout_time"`
		MorningHours         []int  `yaml:"morning_hours"`
		EveningHours         []int  `yaml:"evening_hours"`
		UserTimezone         string `yaml:"user_timezone"`
	} `yaml:"preferences"`
	ProtectedKeywords []string `yaml:"protected_keywords"`
	Safety            struct {
		MaxMutationsPerCycle *int `yaml:"max_mutations_per_cycle"`
		MinNoticeHours       *int `yaml:"min_notice_hours"`
	} `yaml:"safety"`
	Planner struct {
		HorizonDays          *int     `yaml:"horizon_days"`
		DisciplinePriority   []string `yaml:"discipline_priority"`
		CycleDeadlineMinutes *int     `yaml:"cycle_deadline_minutes"`
	} `yaml:"planner"`
	Models []modelDoc `yaml:"models"`
}

// modelDoc is one entry in the LM fallback chain.
type modelDoc struct {
	Name           string `yaml:"name"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Kind           string `yaml:"kind"` // "local" or "cloud"
}

// Model is a validated fallback-chain entry.
type Model struct {
	Name    string
	Timeout time.Duration
	Local   bool
}

// Config is the fully validated configuration handed to the orchestrator.
type Config struct {
	Goals         template.Goals
	HorizonDays   int
	CycleDeadline time.Duration
	Models        []Model
}

// LoadGoals reads and validates the goal config document at path.
func LoadGoals(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, apperrors.NewConfig("goals", fmt.Sprintf("cannot read goal config %s: %v", path, err))
	}
	return parseGoals(raw)
}

func parseGoals(raw []byte) (Config, error) {
	var doc goalsDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Config{}, apperrors.NewConfig("goals", fmt.Sprintf("invalid YAML: %v", err))
	}

	ws := doc.WeeklyStructure
	if ws.SwimSessions == nil && ws.BikeSessions == nil && ws.RunSessions == nil && ws.StrengthSessions == nil {
		return Config{}, apperrors.NewConfig("weekly_structure", "missing required key weekly_structure")
	}
	targets := map[health.Discipline]int{
		health.DisciplineSwim:     intOr(ws.SwimSessions, 0),
		health.DisciplineBike:     intOr(ws.BikeSessions, 0),
		health.DisciplineRun:      intOr(ws.RunSessions, 0),
		health.DisciplineStrength: intOr(ws.StrengthSessions, 0),
	}
	for d, n := range targets {
		if n < 0 {
			return Config{}, apperrors.NewConfig("weekly_structure", fmt.Sprintf("%s_sessions must be non-negative, got %d", d, n))
		}
	}

	if doc.Preferences.UserTimezone == "" {
		return Config{}, apperrors.NewConfig("preferences.user_timezone", "missing required key preferences.user_timezone")
	}
	if _, err := time.LoadLocation(doc.Preferences.UserTimezone); err != nil {
		return Config{}, apperrors.NewConfig("preferences.user_timezone", fmt.Sprintf("unknown IANA zone %q", doc.Preferences.UserTimezone))
	}

	policy := template.PreferredTimePolicy(doc.Preferences.PreferredWorkoutTime)
	switch policy {
	case template.PreferMorning, template.PreferEvening, template.PreferFlexible:
	case "":
		policy = template.PreferFlexible
	default:
		return Config{}, apperrors.NewConfig("preferences.preferred_workout_time", fmt.Sprintf("must be morning, evening, or flexible, got %q", doc.Preferences.PreferredWorkoutTime))
	}

	morning, err := hourWindow("preferences.morning_hours", doc.Preferences.MorningHours, template.HourWindow{StartHour: 6, EndHour: 9})
	if err != nil {
		return Config{}, err
	}
	evening, err := hourWindow("preferences.evening_hours", doc.Preferences.EveningHours, template.HourWindow{StartHour: 17, EndHour: 21})
	if err != nil {
		return Config{}, err
	}

	priority := make([]health.Discipline, 0, len(doc.Planner.DisciplinePriority))
	for _, raw := range doc.Planner.DisciplinePriority {
		d := health.Discipline(raw)
		switch d {
		case health.DisciplineRun, health.DisciplineBike, health.DisciplineSwim, health.DisciplineStrength:
			priority = append(priority, d)
		default:
			return Config{}, apperrors.NewConfig("planner.discipline_priority", fmt.Sprintf("unknown discipline %q", raw))
		}
	}

	models, err := parseModels(doc.Models)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Goals: template.Goals{
			WeeklyTarget:      targets,
			PreferredTime:     policy,
			MorningWindow:     morning,
			EveningWindow:     evening,
			UserTimezone:      doc.Preferences.UserTimezone,
			ProtectedKeywords: doc.ProtectedKeywords,
			Safety: template.SafetyLimits{
				MaxMutationsPerCycle: intOr(doc.Safety.MaxMutationsPerCycle, DefaultMaxMutationsPerCycle),
				MinNoticeHours:       intOr(doc.Safety.MinNoticeHours, DefaultMinNoticeHours),
			},
			DisciplinePriority: priority,
		},
		HorizonDays:   intOr(doc.Planner.HorizonDays, DefaultHorizonDays),
		CycleDeadline: time.Duration(intOr(doc.Planner.CycleDeadlineMinutes, DefaultCycleDeadlineMinutes)) * time.Minute,
		Models:        models,
	}

	if cfg.Goals.Safety.MaxMutationsPerCycle <= 0 {
		return Config{}, apperrors.NewConfig("safety.max_mutations_per_cycle", "must be positive")
	}
	if cfg.Goals.Safety.MinNoticeHours < 0 {
		return Config{}, apperrors.NewConfig("safety.min_notice_hours", "must be non-negative")
	}
	if cfg.HorizonDays <= 0 {
		return Config{}, apperrors.NewConfig("planner.horizon_days", "must be positive")
	}

	return cfg, nil
}

func parseModels(docs []modelDoc) ([]Model, error) {
	models := make([]Model, 0, len(docs))
	for i, m := range docs {
		if m.Name == "" {
			return nil, apperrors.NewConfig("models", fmt.Sprintf("models[%d] missing name", i))
		}
		local := m.Kind == "local"
		if m.Kind != "" && m.Kind != "local" && m.Kind != "cloud" {
			return nil, apperrors.NewConfig("models", fmt.Sprintf("models[%d].kind must be local or cloud, got %q", i, m.Kind))
		}
		timeout := time.Duration(m.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			if local {
				timeout = llm.DefaultLocalTimeout
			} else {
				timeout = llm.DefaultCloudTimeout
			}
		}
		models = append(models, Model{Name: m.Name, Timeout: timeout, Local: local})
	}
	return models, nil
}

func hourWindow(field string, hours []int, fallback template.HourWindow) (template.HourWindow, error) {
	if len(hours) == 0 {
		return fallback, nil
	}
	if len(hours) != 2 {
		return template.HourWindow{}, apperrors.NewConfig(field, fmt.Sprintf("expected [start, end), got %d values", len(hours)))
	}
	w := template.HourWindow{StartHour: hours[0], EndHour: hours[1]}
	if w.StartHour < 0 || w.EndHour > 24 || w.StartHour >= w.EndHour {
		return template.HourWindow{}, apperrors.NewConfig(field, fmt.Sprintf("requires 0 <= start < end <= 24, got [%d, %d)", w.StartHour, w.EndHour))
	}
	return w, nil
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

// templatesDoc is the YAML shape of the workout template document.
type templatesDoc struct {
	Templates map[string]templateDoc `yaml:"templates"`
}

type templateDoc struct {
	Warmup          []string            `yaml:"warmup"`
	MainSets        map[string][]string `yaml:"main_sets"`
	Cooldown        []string            `yaml:"cooldown"`
	DurationMinutes map[string]int      `yaml:"duration_minutes"`
}

// LoadTemplates reads the per-discipline workout template document at
// path. When path is empty, built-in defaults are returned so the planner
// can always render a deterministic fallback.
func LoadTemplates(path string) (map[health.Discipline]template.WorkoutTemplate, error) {
	if path == "" {
		return DefaultTemplates(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfig("templates", fmt.Sprintf("cannot read template config %s: %v", path, err))
	}
	return parseTemplates(raw)
}

func parseTemplates(raw []byte) (map[health.Discipline]template.WorkoutTemplate, error) {
	var doc templatesDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, apperrors.NewConfig("templates", fmt.Sprintf("invalid YAML: %v", err))
	}
	if len(doc.Templates) == 0 {
		return nil, apperrors.NewConfig("templates", "missing required key templates")
	}

	out := DefaultTemplates()
	for name, td := range doc.Templates {
		d := health.Discipline(name)
		switch d {
		case health.DisciplineRun, health.DisciplineBike, health.DisciplineSwim, health.DisciplineStrength:
		default:
			return nil, apperrors.NewConfig("templates", fmt.Sprintf("unknown discipline %q", name))
		}

		t := template.WorkoutTemplate{
			Discipline:             d,
			Warmup:                 td.Warmup,
			Cooldown:               td.Cooldown,
			MainSets:               map[template.IntensityTier][]string{},
			DefaultDurationMinutes: map[template.IntensityTier]int{},
		}
		for tier, sets := range td.MainSets {
			it, err := intensityTier(tier)
			if err != nil {
				return nil, err
			}
			t.MainSets[it] = sets
		}
		for tier, mins := range td.DurationMinutes {
			it, err := intensityTier(tier)
			if err != nil {
				return nil, err
			}
			if mins <= 0 {
				return nil, apperrors.NewConfig("templates", fmt.Sprintf("%s duration for %s must be positive", name, tier))
			}
			t.DefaultDurationMinutes[it] = mins
		}
		if len(t.MainSets) == 0 {
			return nil, apperrors.NewConfig("templates", fmt.Sprintf("%s has no main_sets", name))
		}
		if _, ok := t.DefaultDurationMinutes[template.IntensityNormal]; !ok {
			return nil, apperrors.NewConfig("templates", fmt.Sprintf("%s has no normal-tier duration", name))
		}
		out[d] = t
	}
	return out, nil
}

func intensityTier(s string) (template.IntensityTier, error) {
	switch it := template.IntensityTier(s); it {
	case template.IntensityNormal, template.IntensityReduced, template.IntensityBackup:
		return it, nil
	default:
		return "", apperrors.NewConfig("templates", fmt.Sprintf("unknown intensity tier %q", s))
	}
}

// DefaultTemplates returns the built-in per-discipline recipes used when
// no template document is configured.
func DefaultTemplates() map[health.Discipline]template.WorkoutTemplate {
	mk := func(d health.Discipline, warmup []string, main map[template.IntensityTier][]string, cooldown []string, durations map[template.IntensityTier]int) template.WorkoutTemplate {
		return template.WorkoutTemplate{
			Discipline:             d,
			Warmup:                 warmup,
			MainSets:               main,
			Cooldown:               cooldown,
			DefaultDurationMinutes: durations,
		}
	}
	return map[health.Discipline]template.WorkoutTemplate{
		health.DisciplineRun: mk(health.DisciplineRun,
			[]string{"10 min easy jog", "4x20s strides"},
			map[template.IntensityTier][]string{
				template.IntensityNormal:  {"30 min steady run at zone 2-3"},
				template.IntensityReduced: {"20 min easy run at zone 2"},
				template.IntensityBackup:  {"15 min brisk walk or very easy jog"},
			},
			[]string{"5 min walk", "light stretching"},
			map[template.IntensityTier]int{
				template.IntensityNormal:  50,
				template.IntensityReduced: 35,
				template.IntensityBackup:  20,
			}),
		health.DisciplineBike: mk(health.DisciplineBike,
			[]string{"10 min easy spin"},
			map[template.IntensityTier][]string{
				template.IntensityNormal:  {"40 min endurance ride at zone 2", "3x3 min tempo"},
				template.IntensityReduced: {"30 min easy spin at zone 1-2"},
				template.IntensityBackup:  {"15 min recovery spin"},
			},
			[]string{"5 min easy spin"},
			map[template.IntensityTier]int{
				template.IntensityNormal:  60,
				template.IntensityReduced: 40,
				template.IntensityBackup:  20,
			}),
		health.DisciplineSwim: mk(health.DisciplineSwim,
			[]string{"200m easy freestyle", "4x50m drills"},
			map[template.IntensityTier][]string{
				template.IntensityNormal:  {"10x100m at moderate pace, 20s rest"},
				template.IntensityReduced: {"6x100m easy, 30s rest"},
				template.IntensityBackup:  {"400m continuous easy swim"},
			},
			[]string{"200m easy backstroke"},
			map[template.IntensityTier]int{
				template.IntensityNormal:  45,
				template.IntensityReduced: 30,
				template.IntensityBackup:  20,
			}),
		health.DisciplineStrength: mk(health.DisciplineStrength,
			[]string{"5 min row or bike", "dynamic mobility"},
			map[template.IntensityTier][]string{
				template.IntensityNormal:  {"squat 3x5", "bench press 3x5", "row 3x8"},
				template.IntensityReduced: {"squat 3x5 at 80% of usual load", "push-ups 3x10", "band pulls 3x15"},
				template.IntensityBackup:  {"bodyweight circuit: squats, push-ups, planks, 2 rounds"},
			},
			[]string{"light stretching"},
			map[template.IntensityTier]int{
				template.IntensityNormal:  60,
				template.IntensityReduced: 45,
				template.IntensityBackup:  25,
			}),
	}
}
