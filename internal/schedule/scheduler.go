// Package schedule triggers configured sprints on cron expressions and
// reloads them when the config file changes.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hochfrequenz/sprint-orch/internal/config"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// RunFunc starts one scheduled sprint
type RunFunc func(ctx context.Context, s config.ScheduleConfig) error

// Entry describes a registered schedule
type Entry struct {
	Name      string
	Cron      string
	Selection string
	Repo      string
	Next      time.Time
}

// Scheduler manages scheduled sprint runs
type Scheduler struct {
	cron    *cron.Cron
	parser  cron.Parser
	run     RunFunc
	logger  *zap.Logger
	ctx     context.Context
	mu      sync.RWMutex
	entries map[string]cron.EntryID
	configs map[string]config.ScheduleConfig
}

// NewScheduler creates a scheduler for the given entries. Jobs run with the
// context passed to Start; a job whose previous run is still going is skipped.
func NewScheduler(schedules []config.ScheduleConfig, run RunFunc, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger.Sugar()}
	s := &Scheduler{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		run:    run,
		logger: logger,
		ctx:    context.Background(),
	}
	s.cron = cron.New(
		cron.WithParser(s.parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	if err := s.Reload(schedules); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseCron parses a five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// Reload replaces all registered schedules. On error the previous set stays active.
func (s *Scheduler) Reload(schedules []config.ScheduleConfig) error {
	type parsed struct {
		cfg   config.ScheduleConfig
		sched cron.Schedule
	}
	next := make([]parsed, 0, len(schedules))
	seen := make(map[string]bool, len(schedules))
	for _, cfg := range schedules {
		if cfg.Name == "" {
			return fmt.Errorf("schedule name is required")
		}
		if seen[cfg.Name] {
			return fmt.Errorf("duplicate schedule %q", cfg.Name)
		}
		seen[cfg.Name] = true
		sched, err := s.parser.Parse(cfg.Cron)
		if err != nil {
			return fmt.Errorf("schedule %s: invalid cron expression: %w", cfg.Name, err)
		}
		next = append(next, parsed{cfg: cfg, sched: sched})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.entries {
		s.cron.Remove(id)
	}
	s.entries = make(map[string]cron.EntryID, len(next))
	s.configs = make(map[string]config.ScheduleConfig, len(next))
	for _, p := range next {
		s.entries[p.cfg.Name] = s.cron.Schedule(p.sched, s.job(p.cfg))
		s.configs[p.cfg.Name] = p.cfg
	}
	s.logger.Info("schedules loaded", zap.Int("count", len(next)))
	return nil
}

func (s *Scheduler) job(cfg config.ScheduleConfig) cron.Job {
	cl := cronLogger{s.logger.Sugar()}
	return cron.NewChain(cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(func() {
		s.mu.RLock()
		ctx := s.ctx
		s.mu.RUnlock()

		log := s.logger.With(zap.String("schedule", cfg.Name), zap.String("selection", cfg.Selection))
		log.Info("scheduled sprint starting")
		if err := s.run(ctx, cfg); err != nil {
			log.Error("scheduled sprint failed", zap.Error(err))
			return
		}
		log.Info("scheduled sprint finished")
	}))
}

// NextRun returns the next activation of a schedule, or the zero time if unknown
func (s *Scheduler) NextRun(name string, from time.Time) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Schedule.Next(from)
}

// List returns all schedules sorted by name
func (s *Scheduler) List(from time.Time) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for name, id := range s.entries {
		cfg := s.configs[name]
		out = append(out, Entry{
			Name:      name,
			Cron:      cfg.Cron,
			Selection: cfg.Selection,
			Repo:      cfg.Repo,
			Next:      s.cron.Entry(id).Schedule.Next(from),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start runs the scheduler until ctx is done, then waits for running jobs
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
}

// cronLogger routes cron's logging through zap
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
