package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wellforge/fitcadence/internal/domain/health"
	"github.com/wellforge/fitcadence/internal/domain/plan"
	"github.com/wellforge/fitcadence/internal/domain/template"
	apperrors "github.com/wellforge/fitcadence/internal/errors"
)

func sampleTemplate() template.WorkoutTemplate {
	return template.WorkoutTemplate{
		Discipline: health.DisciplineRun,
		Warmup:     []string{"10 min easy jog"},
		MainSets: map[template.IntensityTier][]string{
			template.IntensityNormal:  {"5x800m @ threshold"},
			template.IntensityReduced: {"3x800m @ easy"},
			template.IntensityBackup:  {"20 min walk"},
		},
		Cooldown:               []string{"5 min walk"},
		DefaultDurationMinutes: map[template.IntensityTier]int{template.IntensityNormal: 45, template.IntensityBackup: 20},
	}
}

func TestParseHappyPath(t *testing.T) {
	raw := "```markdown\nHere's your workout:\nOption A\nEasy 5k\nDetails here\n\nOption B\nTempo run\nMore details\n\nBackup (low energy)\n20 min walk\n```"

	w, err := Parse(raw, sampleTemplate(), template.IntensityNormal)

	require.NoError(t, err)
	assert.NotEmpty(t, w.OptionA.DetailedSteps)
	assert.NotEmpty(t, w.OptionB.DetailedSteps)
	assert.NotEmpty(t, w.Backup.DetailedSteps)
}

func TestParseMissingOptionBIsNonParseable(t *testing.T) {
	raw := "Option A\nEasy 5k\nDetails"

	_, err := Parse(raw, sampleTemplate(), template.IntensityNormal)

	assert.True(t, apperrors.IsValidation(err))
}

func TestParseAbsentBackupIsTemplateDerived(t *testing.T) {
	raw := "Option A\nEasy 5k\nwarm up\n\nOption B\nTempo\nwarm up"

	w, err := Parse(raw, sampleTemplate(), template.IntensityNormal)

	require.NoError(t, err)
	assert.NotEmpty(t, w.Backup.DetailedSteps)
}

type fakeClient struct {
	calls   []string
	results map[string]struct {
		text string
		err  error
	}
}

func (f *fakeClient) Generate(ctx context.Context, prompt, model string, deadline time.Time) (string, error) {
	f.calls = append(f.calls, model)
	r := f.results[model]
	return r.text, r.err
}

func TestChainGenerateFallsBackToSecondaryOnTimeout(t *testing.T) {
	client := &fakeClient{results: map[string]struct {
		text string
		err  error
	}{
		"primary":   {"", errors.New("context deadline exceeded")},
		"secondary": {"Option A\nEasy run\nsteps\n\nOption B\nTempo\nsteps\n\nBackup (low energy)\nwalk", nil},
	}}
	chain := Chain{Client: client, Models: []ModelSpec{{Name: "primary", Timeout: time.Second}, {Name: "secondary", Timeout: time.Second}}}
	req := plan.Request{Template: sampleTemplate(), IntensityTier: template.IntensityNormal, Date: time.Now()}

	w, err := chain.Generate(context.Background(), req, template.Goals{})

	require.NoError(t, err)
	assert.Equal(t, "secondary", w.Model)
	assert.False(t, w.Degraded)
}

func TestChainGenerateDegradesWhenAllModelsFail(t *testing.T) {
	client := &fakeClient{results: map[string]struct {
		text string
		err  error
	}{
		"primary":   {"", errors.New("timeout")},
		"secondary": {"", errors.New("timeout")},
	}}
	chain := Chain{Client: client, Models: []ModelSpec{{Name: "primary", Timeout: time.Second}, {Name: "secondary", Timeout: time.Second}}}
	req := plan.Request{Template: sampleTemplate(), IntensityTier: template.IntensityNormal, Date: time.Now()}

	w, err := chain.Generate(context.Background(), req, template.Goals{})

	require.Error(t, err)
	assert.True(t, apperrors.IsDegraded(err))
	assert.True(t, w.Degraded)
	assert.NotEmpty(t, w.OptionA.DetailedSteps)
}
