// Package llm renders prompts for the configured language model chain,
// invokes each model in order, and sanitizes/parses the response into a
// two-option workout, falling back to deterministic template text when
// every model fails.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wellforge/fitcadence/internal/domain/health"
	"github.com/wellforge/fitcadence/internal/domain/plan"
	"github.com/wellforge/fitcadence/internal/domain/template"
	apperrors "github.com/wellforge/fitcadence/internal/errors"
)

// Client is the small capability set the core requires of a language
// model endpoint. The core never branches on concrete implementations;
// internal/llmclient supplies the real adapters.
type Client interface {
	Generate(ctx context.Context, prompt, model string, deadline time.Time) (string, error)
}

// ModelSpec is one entry in the fallback chain.
type ModelSpec struct {
	Name    string
	Timeout time.Duration
}

// Per-call timeout defaults for local and cloud models.
const (
	DefaultLocalTimeout = 120 * time.Second
	DefaultCloudTimeout = 30 * time.Second
)

const descriptionCeiling = 8000

// BuildPrompt renders the prompt in a stable order: role line, goals
// summary, health snapshot, recent activity summary, the chosen
// template, and the two-option-plus-backup instruction.
func BuildPrompt(req plan.Request, goals template.Goals) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a fitness coach assistant generating a single day's workout.\n\n")

	fmt.Fprintf(&b, "## Goals\n")
	for d, n := range goals.WeeklyTarget {
		fmt.Fprintf(&b, "- %s: %d/week\n", d, n)
	}
	fmt.Fprintf(&b, "preferred time: %s\n\n", goals.PreferredTime)

	fmt.Fprintf(&b, "## Health Snapshot\n")
	fmt.Fprintf(&b, "recovery_tier=%s recovery_score=%.1f training_load_48h=%.1f\n\n",
		req.HealthSnapshot.Tier, req.HealthSnapshot.RecoveryScore, req.HealthSnapshot.TrainingLoad48h)

	fmt.Fprintf(&b, "## Recent Activity (7 days)\n%s\n\n", req.RecentActivitiesSummary)

	fmt.Fprintf(&b, "## Template: %s (%s)\n", req.Discipline, req.IntensityTier)
	fmt.Fprintf(&b, "%s\n\n", req.Template.Render(req.IntensityTier))

	fmt.Fprintf(&b, "## Instructions\n")
	fmt.Fprintf(&b, "Respond with exactly two labeled sections, \"Option A\" and \"Option B\", ")
	fmt.Fprintf(&b, "each a complete workout for %s at %s intensity on %s. ", req.Discipline, req.IntensityTier, req.Date.Format("2006-01-02"))
	fmt.Fprintf(&b, "Include a \"Backup (low energy)\" section for a low-recovery alternative.\n")

	return b.String()
}

// Chain invokes each configured model in order until one produces a
// parseable response, falling back to deterministic template text.
type Chain struct {
	Client Client
	Models []ModelSpec
}

// Generate walks the model chain and applies the sanitization contract.
func (c Chain) Generate(ctx context.Context, req plan.Request, goals template.Goals) (plan.Workout, error) {
	prompt := BuildPrompt(req, goals)

	for _, m := range c.Models {
		deadline := time.Now().Add(m.Timeout)
		callCtx, cancel := context.WithDeadline(ctx, deadline)
		raw, err := c.Client.Generate(callCtx, prompt, m.Name, deadline)
		cancel()
		if err != nil {
			// network/timeout/quota: move to the next model.
			continue
		}
		workout, perr := Parse(raw, req.Template, req.IntensityTier)
		if perr != nil {
			// non-parseable body: move to the next model.
			continue
		}
		workout.Model = m.Name
		return workout, nil
	}

	// Every model in the chain failed; deterministic template-only
	// fallback, flagged degraded.
	fallback := templateOnlyWorkout(req.Template, req.IntensityTier)
	return fallback, apperrors.NewDegraded("all configured models failed; using template-only fallback")
}

func templateOnlyWorkout(t template.WorkoutTemplate, tier template.IntensityTier) plan.Workout {
	rendered := t.Render(tier)
	opt := plan.Option{
		Summary:         fmt.Sprintf("%s (template)", t.Discipline),
		DetailedSteps:   strings.Split(rendered, "\n"),
		DurationMinutes: t.DurationFor(tier),
	}
	backup := plan.Option{
		Summary:         fmt.Sprintf("%s backup (template)", t.Discipline),
		DetailedSteps:   strings.Split(t.Render(template.IntensityBackup), "\n"),
		DurationMinutes: t.DurationFor(template.IntensityBackup),
	}
	return plan.Workout{
		OptionA:  opt,
		OptionB:  opt,
		Backup:   backup,
		Degraded: true,
	}
}

// Parse sanitizes raw model output and splits it into the two options
// and the backup.
func Parse(raw string, t template.WorkoutTemplate, tier template.IntensityTier) (plan.Workout, error) {
	clean := sanitize(raw)

	aIdx := indexOfSection(clean, "Option A")
	bIdx := indexOfSection(clean, "Option B")
	if aIdx < 0 || bIdx < 0 {
		return plan.Workout{}, apperrors.NewValidationMsg("response missing Option A or Option B section")
	}

	backupIdx := indexOfSection(clean, "Backup")

	var aEnd, bEnd int
	if bIdx > aIdx {
		aEnd = bIdx
	} else {
		aEnd = len(clean)
	}
	if backupIdx > bIdx {
		bEnd = backupIdx
	} else {
		bEnd = len(clean)
	}

	optA := parseOption(clean[aIdx:aEnd])
	optB := parseOption(clean[bIdx:bEnd])

	var backup plan.Option
	if backupIdx >= 0 {
		backup = parseOption(clean[backupIdx:])
	} else {
		backup = plan.Option{
			Summary:         fmt.Sprintf("%s backup (template)", t.Discipline),
			DetailedSteps:   strings.Split(t.Render(template.IntensityBackup), "\n"),
			DurationMinutes: t.DurationFor(template.IntensityBackup),
		}
	}

	return plan.Workout{
		OptionA: truncate(optA),
		OptionB: truncate(optB),
		Backup:  truncate(backup),
	}, nil
}

// sanitize strips Markdown code fences and any preamble before the first
// recognizable section heading.
func sanitize(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "```markdown", "")
	s = strings.ReplaceAll(s, "```", "")

	cut := indexOfSection(s, "Option A")
	if cut < 0 {
		cut = strings.Index(s, "# ")
	}
	if cut > 0 {
		s = s[cut:]
	}
	return strings.TrimSpace(s)
}

func indexOfSection(s, label string) int {
	candidates := []string{label, "## " + label, "# " + label, "**" + label + "**"}
	best := -1
	for _, c := range candidates {
		if i := strings.Index(s, c); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

func parseOption(section string) plan.Option {
	lines := strings.Split(section, "\n")
	var steps []string
	for _, l := range lines[1:] {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		steps = append(steps, l)
	}
	summary := strings.TrimSpace(lines[0])
	for _, label := range []string{"Option A", "Option B", "Backup (low energy)", "Backup", "##", "#", "**", ":"} {
		summary = strings.TrimSpace(strings.TrimPrefix(summary, label))
	}
	return plan.Option{
		Summary:       summary,
		DetailedSteps: steps,
	}
}

func truncate(o plan.Option) plan.Option {
	joined := strings.Join(o.DetailedSteps, "\n")
	if len(joined) <= descriptionCeiling {
		return o
	}
	joined = joined[:descriptionCeiling] + "…"
	o.DetailedSteps = strings.Split(joined, "\n")
	return o
}

// RecentActivitySummary renders a short human-readable line per activity,
// used to fill plan.Request.RecentActivitiesSummary.
func RecentActivitySummary(activities []health.Activity) string {
	if len(activities) == 0 {
		return "no recorded activity in the last 7 days"
	}
	var b strings.Builder
	for _, a := range activities {
		fmt.Fprintf(&b, "- %s: %s, %.0f min, load %.0f\n",
			a.Timestamp.Format("Mon 2006-01-02"), a.Discipline, a.DurationMinutes, a.TrainingLoad)
	}
	return b.String()
}
