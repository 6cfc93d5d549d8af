package sprint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/sprint-orch/internal/domain"
	"github.com/hochfrequenz/sprint-orch/internal/workspace"
	"go.uber.org/zap"
)

// Preparer creates the branch an item is worked on
type Preparer interface {
	Prepare(ctx context.Context, item *domain.WorkItem) (workspace.Workspace, error)
}

// Publisher opens the review request for a prepared branch
type Publisher interface {
	Publish(ctx context.Context, item *domain.WorkItem, branch, base string) (*domain.ReviewRequest, error)
}

// Processor drives a single work item from start to a terminal outcome
type Processor struct {
	workspace   Preparer
	publisher   Publisher
	maxDuration time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewProcessor creates a Processor. maxDuration <= 0 disables the per-item deadline.
func NewProcessor(ws Preparer, pub Publisher, maxDuration time.Duration, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		workspace:   ws,
		publisher:   pub,
		maxDuration: maxDuration,
		logger:      logger,
		now:         time.Now,
	}
}

// Process returns the item's terminal outcome. It never panics: a panic in
// any step becomes OutcomeError. Closed items are skipped without touching
// the working copy.
func (p *Processor) Process(ctx context.Context, item *domain.WorkItem) domain.ItemResult {
	log := p.logger.With(zap.Int("item", item.Number))

	if item.IsClosed() {
		log.Info("item already closed, skipping")
		return domain.ItemResult{
			Number:  item.Number,
			Outcome: domain.OutcomeSkipped,
			Reason:  domain.ReasonAlreadyClosed,
		}
	}

	start := p.now()
	itemCtx, cancel := p.deadline(ctx)
	defer cancel()

	done := make(chan domain.ItemResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("item processing panicked", zap.Any("panic", r))
				done <- domain.ItemResult{
					Number:  item.Number,
					Outcome: domain.OutcomeError,
					Reason:  fmt.Sprint(r),
				}
			}
		}()
		done <- p.run(itemCtx, item, log)
	}()

	var res domain.ItemResult
	select {
	case res = <-done:
	case <-itemCtx.Done():
		res = domain.ItemResult{Number: item.Number}
	}

	if itemCtx.Err() != nil && res.Outcome != domain.OutcomeSuccess {
		res = p.interrupted(ctx, itemCtx, item, log)
	}
	res.Elapsed = p.now().Sub(start)
	return res
}

func (p *Processor) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.maxDuration > 0 {
		return context.WithTimeout(ctx, p.maxDuration)
	}
	return context.WithCancel(ctx)
}

func (p *Processor) interrupted(parent, itemCtx context.Context, item *domain.WorkItem, log *zap.Logger) domain.ItemResult {
	if parent.Err() != nil {
		log.Warn("item interrupted", zap.Error(parent.Err()))
		return domain.ItemResult{Number: item.Number, Outcome: domain.OutcomeError, Reason: domain.ReasonCanceled}
	}
	if errors.Is(itemCtx.Err(), context.DeadlineExceeded) {
		log.Warn("item exceeded its deadline", zap.Duration("max", p.maxDuration))
		return domain.ItemResult{Number: item.Number, Outcome: domain.OutcomeTimeout, Reason: domain.ReasonTimeout}
	}
	return domain.ItemResult{Number: item.Number, Outcome: domain.OutcomeError, Reason: itemCtx.Err().Error()}
}

func (p *Processor) run(ctx context.Context, item *domain.WorkItem, log *zap.Logger) domain.ItemResult {
	log.Info("processing item", zap.String("title", item.Title))

	ws, err := p.workspace.Prepare(ctx, item)
	if err != nil || ws.Branch == "" {
		log.Warn("could not create branch", zap.Error(err))
		return domain.ItemResult{
			Number:  item.Number,
			Outcome: domain.OutcomeBranchFailed,
			Reason:  domain.ReasonBranchFailed,
		}
	}

	// Change application happens outside the engine; the branch is published as is.

	res := domain.ItemResult{
		Number:  item.Number,
		Outcome: domain.OutcomeSuccess,
		Branch:  ws.Branch,
	}
	rr, err := p.publisher.Publish(ctx, item, ws.Branch, ws.Base)
	if err != nil {
		log.Warn("review request not created", zap.String("branch", ws.Branch), zap.Error(err))
		return res
	}
	res.ReviewRequest = rr
	return res
}
