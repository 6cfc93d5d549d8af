// Package sprint runs a selection of work items through the readiness gate,
// the per-item state machine and the run bookkeeping.
package sprint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/sprint-orch/internal/domain"
	"github.com/hochfrequenz/sprint-orch/internal/notify"
	"github.com/hochfrequenz/sprint-orch/internal/retry"
	"github.com/hochfrequenz/sprint-orch/internal/selection"
	"github.com/hochfrequenz/sprint-orch/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrNotReady is returned when the readiness gate fails
	ErrNotReady = errors.New("readiness check failed")
	// ErrEmptySelection is returned when the selection names no items
	ErrEmptySelection = errors.New("selection contains no items")
)

// Fetcher retrieves work item metadata
type Fetcher interface {
	FetchItem(ctx context.Context, number int) (*domain.WorkItem, error)
}

// Gate runs the pre-flight checks
type Gate interface {
	Run(ctx context.Context) domain.ReadinessReport
}

// ItemProcessor drives one item to a terminal outcome
type ItemProcessor interface {
	Process(ctx context.Context, item *domain.WorkItem) domain.ItemResult
}

// ReportWriter persists a finished run and returns where it went
type ReportWriter interface {
	Write(ctx context.Context, run domain.RunSnapshot) (string, error)
}

// HistoryStore records finished runs
type HistoryStore interface {
	SaveRun(run domain.RunSnapshot, reportPath string) error
}

// Deps are the collaborators of a Controller. Reports, History, Notifier
// and Telemetry are optional.
type Deps struct {
	Items     Fetcher
	Gate      Gate
	Processor ItemProcessor
	Reports   ReportWriter
	History   HistoryStore
	Notifier  notify.Notifier
	Telemetry *telemetry.SprintInstruments
	Logger    *zap.Logger
}

// Options control a run
type Options struct {
	Repo        string
	Parallel    bool
	MaxParallel int
}

// Result is a finished run plus where its report was written
type Result struct {
	Run        *domain.SprintRun
	Report     domain.ReadinessReport
	ReportPath string
}

// Controller owns the run-level state machine
type Controller struct {
	deps Deps
	opts Options
	now  func() time.Time
}

// NewController creates a Controller
func NewController(deps Deps, opts Options) *Controller {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NoopNotifier{}
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.DefaultSprintInstruments()
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	return &Controller{deps: deps, opts: opts, now: time.Now}
}

// Run executes the sprint for the selection expression. A gate failure
// returns the failed run together with ErrNotReady. Cancellation stops
// dispatching; already dispatched items finish and the rest are recorded
// as failed, then the run completes and ctx's error is returned.
func (c *Controller) Run(ctx context.Context, expr string) (*Result, error) {
	ids := selection.Parse(expr)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmptySelection, expr)
	}

	run := domain.NewSprintRun(uuid.NewString(), c.opts.Repo)
	log := c.deps.Logger.With(zap.String("run", run.ID), zap.String("repo", c.opts.Repo))

	ctx, span := c.deps.Telemetry.StartRun(ctx, run.ID, c.opts.Repo, len(ids))
	ctx = retry.WithNotify(ctx, func(err error, wait time.Duration) {
		run.RecordRetry()
		c.deps.Telemetry.RecordRetry(ctx)
		log.Warn("retrying step", zap.Error(err), zap.Duration("wait", wait))
	})

	if err := run.Start(ids, c.now()); err != nil {
		return nil, err
	}
	log.Info("sprint started", zap.String("selection", selection.Format(ids)), zap.Int("items", len(ids)))

	res := &Result{Run: run}
	res.Report = c.deps.Gate.Run(ctx)
	if !res.Report.Healthy() {
		for _, check := range res.Report.Unhealthy() {
			log.Error("readiness check failed", zap.String("check", check.Name), zap.String("message", check.Message))
		}
		if err := run.Finish(domain.RunFailed, c.now()); err != nil {
			return nil, err
		}
		c.finish(ctx, res, false, log)
		c.deps.Telemetry.EndRun(ctx, span, run.Snapshot(), ErrNotReady)
		return res, ErrNotReady
	}

	items := c.fetch(ctx, run, ids, log)

	if c.opts.Parallel && c.opts.MaxParallel > 1 {
		c.processParallel(ctx, run, items, log)
	} else {
		c.processSequential(ctx, run, items, log)
	}

	if err := run.Finish(domain.RunComplete, c.now()); err != nil {
		return nil, err
	}
	c.finish(ctx, res, true, log)

	runErr := ctx.Err()
	c.deps.Telemetry.EndRun(ctx, span, run.Snapshot(), runErr)
	if runErr != nil {
		return res, fmt.Errorf("sprint interrupted: %w", runErr)
	}
	return res, nil
}

func (c *Controller) fetch(ctx context.Context, run *domain.SprintRun, ids []int, log *zap.Logger) []*domain.WorkItem {
	items := make([]*domain.WorkItem, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			_ = run.RecordFetchFailure(id, domain.ReasonCanceled)
			continue
		}
		item, err := c.deps.Items.FetchItem(ctx, id)
		if err != nil {
			log.Warn("failed to fetch item", zap.Int("item", id), zap.Error(err))
			_ = run.RecordFetchFailure(id, err.Error())
			continue
		}
		log.Debug("fetched item", zap.Int("item", id), zap.String("title", item.Title))
		items = append(items, item)
	}
	return items
}

func (c *Controller) processSequential(ctx context.Context, run *domain.SprintRun, items []*domain.WorkItem, log *zap.Logger) {
	for i, item := range items {
		if ctx.Err() != nil {
			c.cancelRemaining(run, items[i:], log)
			return
		}
		c.processOne(ctx, run, item, log)
	}
}

func (c *Controller) processParallel(ctx context.Context, run *domain.SprintRun, items []*domain.WorkItem, log *zap.Logger) {
	sem := semaphore.NewWeighted(int64(c.opts.MaxParallel))
	var wg sync.WaitGroup

	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			c.cancelRemaining(run, items[i:], log)
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			c.processOne(ctx, run, item, log)
		}()
	}
	wg.Wait()
}

func (c *Controller) cancelRemaining(run *domain.SprintRun, items []*domain.WorkItem, log *zap.Logger) {
	for _, item := range items {
		_ = run.Record(domain.ItemResult{Number: item.Number, Outcome: domain.OutcomeError, Reason: domain.ReasonCanceled})
	}
	log.Warn("sprint canceled", zap.Int("undispatched", len(items)))
}

// processOne isolates an item: a panic escaping the processor is recorded
// as a failure of that item only.
func (c *Controller) processOne(ctx context.Context, run *domain.SprintRun, item *domain.WorkItem, log *zap.Logger) {
	itemCtx, span := c.deps.Telemetry.StartItem(ctx, item.Number)

	var res domain.ItemResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				res = domain.ItemResult{Number: item.Number, Outcome: domain.OutcomeError, Reason: fmt.Sprint(r)}
			}
		}()
		res = c.deps.Processor.Process(itemCtx, item)
	}()
	res.Number = item.Number

	if err := run.Record(res); err != nil {
		log.Error("could not record item", zap.Int("item", item.Number), zap.Error(err))
	}
	c.deps.Telemetry.EndItem(itemCtx, span, res)

	fields := []zap.Field{
		zap.Int("item", item.Number),
		zap.String("outcome", string(res.Outcome)),
		zap.Duration("elapsed", res.Elapsed),
	}
	if res.Reason != "" {
		fields = append(fields, zap.String("reason", res.Reason))
	}
	if res.ReviewRequest != nil {
		fields = append(fields, zap.Int("pr", res.ReviewRequest.Number))
	}
	log.Info("item finished", fields...)
}

// finish writes the report (completed runs only), records history and
// notifies. None of these can change the run's status.
func (c *Controller) finish(ctx context.Context, res *Result, writeReport bool, log *zap.Logger) {
	ctx = context.WithoutCancel(ctx)
	snap := res.Run.Snapshot()

	if writeReport && c.deps.Reports != nil {
		path, err := c.deps.Reports.Write(ctx, snap)
		if err != nil {
			log.Error("could not save report", zap.Error(err))
		} else {
			res.ReportPath = path
		}
	}

	if c.deps.History != nil {
		if err := c.deps.History.SaveRun(snap, res.ReportPath); err != nil {
			log.Warn("could not record run history", zap.Error(err))
		}
	}

	if err := c.deps.Notifier.Send(ctx, notify.ForRun(snap)); err != nil {
		log.Warn("notification failed", zap.Error(err))
	}

	log.Info("sprint finished",
		zap.String("status", string(snap.Status)),
		zap.Int("processed", len(snap.Processed)),
		zap.Int("failed", len(snap.Failed)),
		zap.Int("skipped", len(snap.Skipped)),
		zap.Int("fetch_failed", len(snap.FetchFailed)),
		zap.Duration("duration", snap.Duration()))
}
