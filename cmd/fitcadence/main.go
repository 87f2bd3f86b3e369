// Package main provides the fitcadence CLI: manual entry points for the
// planning cycle, reconciliation, and the ingestion collaborators.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/wellforge/fitcadence/internal/audit"
	"github.com/wellforge/fitcadence/internal/calendarclient"
	"github.com/wellforge/fitcadence/internal/clock"
	"github.com/wellforge/fitcadence/internal/config"
	"github.com/wellforge/fitcadence/internal/database"
	"github.com/wellforge/fitcadence/internal/domain/calendarevent"
	"github.com/wellforge/fitcadence/internal/domain/health"
	"github.com/wellforge/fitcadence/internal/domain/template"
	apperrors "github.com/wellforge/fitcadence/internal/errors"
	"github.com/wellforge/fitcadence/internal/llmclient"
	"github.com/wellforge/fitcadence/internal/lock"
	"github.com/wellforge/fitcadence/internal/orchestrator"
	"github.com/wellforge/fitcadence/internal/store"
	"github.com/wellforge/fitcadence/internal/wearableclient"
)

var (
	cfgFile       string
	templatesFile string
	dbPath        string
	migrations    string
	calCreds      string
	calToken      string
	calendarID    string
	openAIBaseURL string
	localLLMURL   string
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := &cobra.Command{
		Use:           "fitcadence",
		Short:         "Autonomous fitness-workout scheduler",
		Long:          "fitcadence reconciles a wearable health feed, a remote calendar, and declarative training goals into concrete scheduled workouts.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "goals.yaml", "goal config file")
	rootCmd.PersistentFlags().StringVar(&templatesFile, "templates", "", "workout template file (built-in defaults when empty)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "fitcadence.db", "database file path")
	rootCmd.PersistentFlags().StringVar(&migrations, "migrations", "migrations", "migrations directory path")
	rootCmd.PersistentFlags().StringVar(&calCreds, "calendar-credentials", "credentials.json", "Google OAuth client secret file")
	rootCmd.PersistentFlags().StringVar(&calToken, "calendar-token", "token.json", "stored Google OAuth token file")
	rootCmd.PersistentFlags().StringVar(&calendarID, "calendar-id", "primary", "target calendar id")
	rootCmd.PersistentFlags().StringVar(&openAIBaseURL, "openai-base-url", "", "OpenAI-compatible API base URL override")
	rootCmd.PersistentFlags().StringVar(&localLLMURL, "local-llm-url", "", "Ollama-compatible local model server URL")

	rootCmd.AddCommand(
		newPlanCmd(),
		newReconcileCmd(),
		newImportGarminCmd(),
		newImportCalendarCmd(),
		newRunAllCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return apperrors.ExitCode(err)
	}
	return 0
}

// appDeps bundles the opened collaborators for one command invocation.
type appDeps struct {
	db        *sql.DB
	cfg       config.Config
	templates map[health.Discipline]template.WorkoutTemplate
	health    *store.HealthStore
	audit     *audit.Store
}

func openDeps() (*appDeps, func(), error) {
	cfg, err := config.LoadGoals(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	templates, err := config.LoadTemplates(templatesFile)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.Open(database.Config{Path: dbPath, MigrationsPath: migrations})
	if err != nil {
		return nil, nil, apperrors.NewTransientExternal("failed to open database", err)
	}

	deps := &appDeps{
		db:        db,
		cfg:       cfg,
		templates: templates,
		health:    store.NewHealthStore(db),
		audit:     audit.NewStore(db),
	}
	return deps, func() { db.Close() }, nil
}

func (d *appDeps) orchestratorDeps(ctx context.Context) (orchestrator.Deps, error) {
	cal, err := calendarclient.New(ctx, calendarclient.Config{
		CredentialsFile: calCreds,
		TokenFile:       calToken,
		CalendarID:      calendarID,
	})
	if err != nil {
		return orchestrator.Deps{}, err
	}

	router := llmclient.Router{}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		router.Cloud = llmclient.NewOpenAI(key, openAIBaseURL)
	}
	if localLLMURL != "" {
		router.Local = llmclient.NewLocal(localLLMURL)
	}

	return orchestrator.Deps{
		Calendar:  cal,
		Health:    d.health,
		Audit:     d.audit,
		LM:        router,
		Clock:     clock.Real{},
		Config:    d.cfg,
		Templates: d.templates,
	}, nil
}

func newPlanCmd() *cobra.Command {
	var (
		days   int
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Run the planner over the forward horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			release, err := lock.Acquire(cfgFile)
			if err != nil {
				return err
			}
			defer release()

			deps, cleanup, err := openDeps()
			if err != nil {
				return err
			}
			defer cleanup()

			if days > 0 {
				deps.cfg.HorizonDays = days
			}

			ctx := cmd.Context()
			odeps, err := deps.orchestratorDeps(ctx)
			if err != nil {
				return err
			}

			orch := orchestrator.New(odeps)
			if dryRun {
				orch = orchestrator.NewDryRun(odeps)
			}
			summary, err := orch.RunCycle(ctx)
			if err != nil {
				return err
			}
			log.Printf("plan: %s", summary)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "planning horizon in days (config default when 0)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "record decisions without calendar writes")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile planned events against observed activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			release, err := lock.Acquire(cfgFile)
			if err != nil {
				return err
			}
			defer release()

			deps, cleanup, err := openDeps()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			odeps, err := deps.orchestratorDeps(ctx)
			if err != nil {
				return err
			}

			out, err := orchestrator.New(odeps).Reconcile(ctx, days)
			if err != nil {
				return err
			}
			log.Printf("reconcile: completed=%d missed=%d rescheduled=%d cancelled=%d",
				out.MarkedCompleted, out.MarkedMissed, out.Rescheduled, out.Cancelled)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "trailing window in days")
	return cmd
}

func newImportGarminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-garmin [files...]",
		Short: "Import Garmin Connect CSV exports",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, cleanup, err := openDeps()
			if err != nil {
				return err
			}
			defer cleanup()

			imp := wearableclient.Importer{Store: deps.health}
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return apperrors.NewValidationMsg(fmt.Sprintf("cannot open %s: %v", path, err))
				}
				result, err := imp.Import(cmd.Context(), f)
				f.Close()
				if err != nil {
					return err
				}
				log.Printf("import-garmin %s: imported=%d duplicates=%d skipped=%d",
					path, result.Imported, result.Duplicates, result.Skipped)
			}
			return nil
		},
	}
	return cmd
}

func newImportCalendarCmd() *cobra.Command {
	var (
		pastDays   int
		futureDays int
	)
	cmd := &cobra.Command{
		Use:   "import-calendar",
		Short: "Mirror remote calendar events into the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, cleanup, err := openDeps()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			cal, err := calendarclient.New(ctx, calendarclient.Config{
				CredentialsFile: calCreds,
				TokenFile:       calToken,
				CalendarID:      calendarID,
			})
			if err != nil {
				return err
			}

			now := clock.Real{}.Now()
			events, err := cal.List(ctx, now.AddDate(0, 0, -pastDays), now.AddDate(0, 0, futureDays))
			if err != nil {
				return err
			}

			mirror := store.NewCalendarMirror(deps.db)
			for _, e := range events {
				if err := mirror.UpsertEvent(ctx, e); err != nil {
					return err
				}
			}

			// Read back the mirrored window so the operator sees what
			// the store now holds, not just what this run fetched.
			mirrored, err := mirror.EventsIn(ctx, now.AddDate(0, 0, -pastDays), now.AddDate(0, 0, futureDays))
			if err != nil {
				return err
			}
			planned := 0
			for _, e := range mirrored {
				if calendarevent.IsPlannerOwned(e) {
					planned++
				}
			}
			log.Printf("import-calendar: fetched=%d mirrored=%d planner_owned=%d", len(events), len(mirrored), planned)
			return nil
		},
	}
	cmd.Flags().IntVar(&pastDays, "past", 7, "days of past events to mirror")
	cmd.Flags().IntVar(&futureDays, "future", 30, "days of future events to mirror")
	return cmd
}

func newRunAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-all",
		Short: "Run one composite cycle: ingest, reconcile, plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			release, err := lock.Acquire(cfgFile)
			if err != nil {
				return err
			}
			defer release()

			deps, cleanup, err := openDeps()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			odeps, err := deps.orchestratorDeps(ctx)
			if err != nil {
				return err
			}

			summary, err := orchestrator.New(odeps).RunCycle(ctx)
			if err != nil {
				return err
			}
			log.Printf("run-all: %s", summary)
			return nil
		},
	}
}
