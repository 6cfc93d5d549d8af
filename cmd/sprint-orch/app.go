package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hochfrequenz/sprint-orch/internal/config"
	"github.com/hochfrequenz/sprint-orch/internal/hosting"
	"github.com/hochfrequenz/sprint-orch/internal/logging"
	"github.com/hochfrequenz/sprint-orch/internal/notify"
	"github.com/hochfrequenz/sprint-orch/internal/prbot"
	"github.com/hochfrequenz/sprint-orch/internal/readiness"
	"github.com/hochfrequenz/sprint-orch/internal/report"
	"github.com/hochfrequenz/sprint-orch/internal/retry"
	"github.com/hochfrequenz/sprint-orch/internal/runstore"
	"github.com/hochfrequenz/sprint-orch/internal/sprint"
	"github.com/hochfrequenz/sprint-orch/internal/templates"
	"github.com/hochfrequenz/sprint-orch/internal/vcs"
	"github.com/hochfrequenz/sprint-orch/internal/workspace"
	"go.uber.org/zap"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithLocalFallback(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Logging.Level, cfg.Logging.Format)
}

// workDir is the working copy sprints run against
func workDir(cfg *config.Config) (string, error) {
	if cfg.General.ProjectRoot != "" {
		return cfg.General.ProjectRoot, nil
	}
	return os.Getwd()
}

// resolveRepo picks owner/repo from the argument, the config, then the origin remote
func resolveRepo(ctx context.Context, arg string, cfg *config.Config, git vcs.Client) string {
	if arg != "" {
		return arg
	}
	if cfg.Hosting.Repo != "" {
		return cfg.Hosting.Repo
	}
	remote, err := git.RemoteOrigin(ctx)
	if err != nil {
		return ""
	}
	return hosting.RepoFromRemote(remote)
}

// sprintEnv holds the collaborators shared by the run, check and schedule commands
type sprintEnv struct {
	cfg     *config.Config
	dir     string
	logger  *zap.Logger
	repo    string
	git     *vcs.Git
	hosting hosting.Client
	gate    *readiness.Gate
}

func newSprintEnv(ctx context.Context, cfg *config.Config, logger *zap.Logger, repoArg string) (*sprintEnv, error) {
	logger = logging.OrNop(logger)
	dir, err := workDir(cfg)
	if err != nil {
		return nil, err
	}
	git := vcs.NewGit(dir)
	repo := resolveRepo(ctx, repoArg, cfg, git)

	env := &sprintEnv{cfg: cfg, dir: dir, logger: logger, repo: repo, git: git}

	client, err := hosting.New(ctx, cfg.Hosting, repo, dir)
	if err != nil {
		// The gate reports the missing client as unauthenticated.
		logger.Warn("hosting client unavailable", zap.String("backend", cfg.Hosting.Backend), zap.Error(err))
	} else {
		env.hosting = client
	}

	var auth readiness.AuthChecker
	if env.hosting != nil {
		auth = env.hosting
	}
	env.gate = readiness.NewGate(auth, git, repo, logger.Named("readiness"))
	return env, nil
}

// workspaceOptions maps the config onto workspace options. Every run on dir
// shares one lock, so scheduled sprints never interleave git steps.
func workspaceOptions(cfg *config.Config, dir string) workspace.Options {
	return workspace.Options{
		PrimaryTrunk:  cfg.Sprint.PrimaryTrunk,
		FallbackTrunk: cfg.Sprint.FallbackTrunk,
		Retry: retry.Policy{
			MaxRetries:     cfg.Retry.MaxRetries,
			InitialBackoff: cfg.Retry.InitialBackoff.Duration(),
			MaxBackoff:     cfg.Retry.MaxBackoff.Duration(),
		},
		Lock: workspace.LockFor(dir),
	}
}

// controller wires a sprint controller. The returned cleanup closes the run history.
func (e *sprintEnv) controller(ctx context.Context, parallel bool, maxParallel int) (*sprint.Controller, func(), error) {
	cfg := e.cfg
	ws := workspace.NewManager(e.git, workspaceOptions(cfg, e.dir), e.logger.Named("workspace"))

	var creator prbot.Creator
	var fetcher sprint.Fetcher
	if e.hosting != nil {
		creator = e.hosting
		fetcher = e.hosting
	}
	pub := prbot.NewPublisher(creator, version, e.logger.Named("prbot")).
		WithTemplates(templates.DefaultLoader(e.dir))
	proc := sprint.NewProcessor(ws, pub, cfg.Sprint.MaxItemDuration.Duration(), e.logger.Named("processor"))

	writerOpts := []report.WriterOption{report.WithLogger(e.logger.Named("report"))}
	if cfg.Report.ObjectStore.Enabled() {
		sink, err := report.NewObjectStoreSink(cfg.Report.ObjectStore)
		if err != nil {
			return nil, nil, fmt.Errorf("report mirror: %w", err)
		}
		writerOpts = append(writerOpts, report.WithMirror(sink))
	}
	writer := report.NewWriter(cfg.ReportDir(), cfg.Report.Format, version, writerOpts...)

	deps := sprint.Deps{
		Items:     fetcher,
		Gate:      e.gate,
		Processor: proc,
		Reports:   writer,
		Notifier:  notify.New(cfg.Notifications),
		Logger:    e.logger.Named("sprint"),
	}

	cleanup := func() {}
	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		e.logger.Warn("run history disabled", zap.String("path", cfg.General.DatabasePath), zap.Error(err))
	} else {
		deps.History = store
		cleanup = func() { store.Close() }
	}

	if maxParallel <= 0 {
		maxParallel = cfg.Sprint.MaxParallel
	}
	ctrl := sprint.NewController(deps, sprint.Options{
		Repo:        e.repo,
		Parallel:    parallel,
		MaxParallel: maxParallel,
	})
	return ctrl, cleanup, nil
}
