package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hochfrequenz/sprint-orch/internal/config"
	"github.com/hochfrequenz/sprint-orch/internal/report"
	"github.com/hochfrequenz/sprint-orch/internal/runstore"
	"github.com/hochfrequenz/sprint-orch/internal/schedule"
	"github.com/hochfrequenz/sprint-orch/internal/sprint"
	"github.com/hochfrequenz/sprint-orch/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runParallel    bool
	runMaxParallel int
	historyLimit   int
)

// errUnhealthy makes check exit non-zero without repeating the printed report
var errUnhealthy = errors.New("environment not ready")

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run SELECTION [OWNER/REPO]",
		Short: "Run a sprint over a selection of issues",
		Long: `Run a sprint over a selection of issues.

SELECTION is a comma separated list of issue numbers and inclusive ranges:
  sprint-orch run 64-70
  sprint-orch run 1,3,5,7
  sprint-orch run 1-10 owner/repo`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runSprint,
	}
	runCmd.Flags().BoolVar(&runParallel, "parallel", false, "process items concurrently")
	runCmd.Flags().IntVar(&runMaxParallel, "max-parallel", 0, "concurrent items when --parallel is set (default from config)")
	rootCmd.AddCommand(runCmd)

	// check command
	checkCmd := &cobra.Command{
		Use:   "check [OWNER/REPO]",
		Short: "Run the readiness checks only",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCheck,
	}
	rootCmd.AddCommand(checkCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sprint runs",
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show")
	rootCmd.AddCommand(historyCmd)

	// schedule command
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run configured sprints on their cron schedules",
		RunE:  runSchedule,
	}
	rootCmd.AddCommand(scheduleCmd)
}

func optionalArg(args []string, i int) string {
	if len(args) > i {
		return args[i]
	}
	return ""
}

func runSprint(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := telemetry.Init(ctx, cfg.Telemetry, "sprint-orch", version); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer telemetry.Shutdown(context.WithoutCancel(ctx))

	env, err := newSprintEnv(ctx, cfg, logger, optionalArg(args, 1))
	if err != nil {
		return err
	}
	parallel := runParallel || cfg.Sprint.Parallel
	ctrl, cleanup, err := env.controller(ctx, parallel, runMaxParallel)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := ctrl.Run(ctx, args[0])
	if errors.Is(err, sprint.ErrEmptySelection) {
		return err
	}
	if errors.Is(err, sprint.ErrNotReady) {
		fmt.Println(report.Readiness(res.Report))
		return errors.New("readiness check failed, sprint aborted")
	}
	if res != nil {
		fmt.Println(report.Summary(res.Run.Snapshot()))
		if res.ReportPath != "" {
			fmt.Printf("\nReport saved: %s\n", res.ReportPath)
		}
	}
	return err
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	env, err := newSprintEnv(ctx, cfg, logger, optionalArg(args, 0))
	if err != nil {
		return err
	}
	rep := env.gate.Run(ctx)
	fmt.Println(report.Readiness(rep))
	if !rep.Healthy() {
		return errUnhealthy
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No sprint runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tREPO\tSELECTION\tSTATUS\tPROCESSED\tFAILED\tSKIPPED\tPRS\tDURATION")
	for _, r := range runs {
		repo := r.Repo
		if repo == "" {
			repo = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%d\t%d\t%d\t%s\n",
			humanize.Time(r.StartedAt), repo, r.Selection, r.Status,
			r.ProcessedCount, r.SelectedCount, r.FailedCount+r.FetchFailedCount,
			r.SkippedCount, r.ReviewRequestCount, report.FormatDuration(r.Duration()))
	}
	return w.Flush()
}

// activeConfigPath mirrors the lookup order of config.LoadWithLocalFallback
func activeConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if local := config.FindLocalConfig(); local != "" {
		return local
	}
	return config.DefaultConfigPath()
}

func runSchedule(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := telemetry.Init(ctx, cfg.Telemetry, "sprint-orch", version); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer telemetry.Shutdown(context.WithoutCancel(ctx))

	var current atomic.Pointer[config.Config]
	current.Store(cfg)

	runScheduled := func(ctx context.Context, s config.ScheduleConfig) error {
		cfg := current.Load()
		log := logger.With(zap.String("schedule", s.Name))
		env, err := newSprintEnv(ctx, cfg, log, s.Repo)
		if err != nil {
			return err
		}
		ctrl, cleanup, err := env.controller(ctx, cfg.Sprint.Parallel, 0)
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := ctrl.Run(ctx, s.Selection)
		if res != nil && res.ReportPath != "" {
			log.Info("report saved", zap.String("path", res.ReportPath))
		}
		return err
	}

	sched, err := schedule.NewScheduler(cfg.Schedules, runScheduled, logger.Named("schedule"))
	if err != nil {
		return err
	}
	if len(cfg.Schedules) == 0 {
		logger.Warn("no [[schedule]] entries configured, waiting for config changes")
	}
	for _, e := range sched.List(time.Now()) {
		logger.Info("schedule registered",
			zap.String("name", e.Name),
			zap.String("cron", e.Cron),
			zap.String("selection", e.Selection),
			zap.Time("next", e.Next))
	}

	path := activeConfigPath()
	watcher, err := schedule.NewConfigWatcher(path, func(changed string) {
		next, err := config.Load(changed)
		if err != nil {
			logger.Error("config reload failed, keeping previous schedules", zap.Error(err))
			return
		}
		if err := sched.Reload(next.Schedules); err != nil {
			logger.Error("schedule reload failed", zap.Error(err))
			return
		}
		current.Store(next)
	}, logger.Named("watcher"))
	if err != nil {
		logger.Warn("config file not watched", zap.String("path", path), zap.Error(err))
	} else {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	sched.Start(ctx)
	return nil
}
