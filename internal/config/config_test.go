package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wellforge/fitcadence/internal/domain/health"
	"github.com/wellforge/fitcadence/internal/domain/template"
	apperrors "github.com/wellforge/fitcadence/internal/errors"
)

const validGoals = `
weekly_structure:
  run_sessions: 2
  strength_sessions: 3
preferences:
  preferred_workout_time: flexible
  morning_hours: [6, 9]
  evening_hours: [17, 21]
  user_timezone: Europe/Madrid
protected_keywords:
  - interview
  - CEO
safety:
  max_mutations_per_cycle: 5
models:
  - name: gpt-4o-mini
    kind: cloud
  - name: "local:llama3"
    kind: local
`

func TestParseGoalsValid(t *testing.T) {
	cfg, err := parseGoals([]byte(validGoals))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Goals.WeeklyTarget[health.DisciplineRun])
	assert.Equal(t, 3, cfg.Goals.WeeklyTarget[health.DisciplineStrength])
	assert.Equal(t, 0, cfg.Goals.WeeklyTarget[health.DisciplineSwim])
	assert.Equal(t, template.PreferFlexible, cfg.Goals.PreferredTime)
	assert.Equal(t, template.HourWindow{StartHour: 6, EndHour: 9}, cfg.Goals.MorningWindow)
	assert.Equal(t, "Europe/Madrid", cfg.Goals.UserTimezone)
	assert.Equal(t, []string{"interview", "CEO"}, cfg.Goals.ProtectedKeywords)
	assert.Equal(t, 5, cfg.Goals.Safety.MaxMutationsPerCycle)
	assert.Equal(t, DefaultMinNoticeHours, cfg.Goals.Safety.MinNoticeHours)
	assert.Equal(t, DefaultHorizonDays, cfg.HorizonDays)

	require.Len(t, cfg.Models, 2)
	assert.Equal(t, 30*time.Second, cfg.Models[0].Timeout)
	assert.False(t, cfg.Models[0].Local)
	assert.Equal(t, 120*time.Second, cfg.Models[1].Timeout)
	assert.True(t, cfg.Models[1].Local)
}

func TestParseGoalsMissingWeeklyStructure(t *testing.T) {
	_, err := parseGoals([]byte(`
preferences:
  user_timezone: UTC
`))
	require.Error(t, err)
	assert.True(t, apperrors.IsConfig(err))
}

func TestParseGoalsMissingTimezone(t *testing.T) {
	_, err := parseGoals([]byte(`
weekly_structure:
  run_sessions: 1
`))
	require.Error(t, err)
	assert.True(t, apperrors.IsConfig(err))
}

func TestParseGoalsBadWindow(t *testing.T) {
	_, err := parseGoals([]byte(`
weekly_structure:
  run_sessions: 1
preferences:
  user_timezone: UTC
  morning_hours: [9, 6]
`))
	require.Error(t, err)
	assert.True(t, apperrors.IsConfig(err))
}

func TestParseGoalsUnknownKeysIgnored(t *testing.T) {
	cfg, err := parseGoals([]byte(`
weekly_structure:
  run_sessions: 1
  crossfit_sessions: 4
preferences:
  user_timezone: UTC
  favorite_color: blue
`))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Goals.WeeklyTarget[health.DisciplineRun])
}

func TestParseGoalsNegativeTarget(t *testing.T) {
	_, err := parseGoals([]byte(`
weekly_structure:
  run_sessions: -1
preferences:
  user_timezone: UTC
`))
	require.Error(t, err)
	assert.True(t, apperrors.IsConfig(err))
}

func TestParseTemplatesOverridesDefaults(t *testing.T) {
	templates, err := parseTemplates([]byte(`
templates:
  run:
    warmup:
      - 5 min jog
    main_sets:
      normal:
        - 8x400m at 5k pace
      reduced:
        - 20 min easy
    cooldown:
      - walk
    duration_minutes:
      normal: 55
      reduced: 30
`))
	require.NoError(t, err)

	run := templates[health.DisciplineRun]
	assert.Equal(t, []string{"5 min jog"}, run.Warmup)
	assert.Equal(t, []string{"8x400m at 5k pace"}, run.MainSets[template.IntensityNormal])
	assert.Equal(t, 55, run.DurationFor(template.IntensityNormal))

	// Untouched disciplines keep the built-in defaults.
	assert.NotEmpty(t, templates[health.DisciplineSwim].MainSets[template.IntensityNormal])
}

func TestParseTemplatesRejectsUnknownTier(t *testing.T) {
	_, err := parseTemplates([]byte(`
templates:
  run:
    main_sets:
      maximal:
        - sprint
    duration_minutes:
      normal: 40
`))
	require.Error(t, err)
	assert.True(t, apperrors.IsConfig(err))
}

func TestDefaultTemplatesCoverAllDisciplines(t *testing.T) {
	templates := DefaultTemplates()
	for _, d := range []health.Discipline{health.DisciplineRun, health.DisciplineBike, health.DisciplineSwim, health.DisciplineStrength} {
		tmpl, ok := templates[d]
		require.True(t, ok, "missing template for %s", d)
		assert.NotEmpty(t, tmpl.MainSets[template.IntensityNormal])
		assert.NotEmpty(t, tmpl.MainSets[template.IntensityBackup])
		assert.Positive(t, tmpl.DurationFor(template.IntensityNormal))
	}
}
