package domain

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrInvalidTransition is returned for status changes outside idle -> running -> {failed|complete}
	ErrInvalidTransition = errors.New("invalid run status transition")
	// ErrRunFinished is returned when recording into a run that reached a terminal status
	ErrRunFinished = errors.New("run already finished")
)

// FailedItem records why a work item did not complete
type FailedItem struct {
	Number int
	Reason string
}

// SkippedItem records a work item that was deliberately not processed
type SkippedItem struct {
	Number int
	Reason string
}

// RunMetrics are counters derived while a run progresses
type RunMetrics struct {
	ItemsProcessed        int
	ReviewRequestsCreated int
	// AvgTimePerItem is the running mean of elapsed time over successful items
	AvgTimePerItem time.Duration
	RetryCount     int
}

// ItemResult is what the item processor reports for one work item
type ItemResult struct {
	Number        int
	Outcome       ItemOutcome
	Reason        string
	Branch        string
	ReviewRequest *ReviewRequest
	Elapsed       time.Duration
}

// SprintRun is the aggregate root of one invocation.
// All mutation goes through its methods, which share one mutex so that
// concurrent item workers can record outcomes safely.
type SprintRun struct {
	ID   string
	Repo string

	mu             sync.Mutex
	status         RunStatus
	selected       []int
	startedAt      time.Time
	finishedAt     time.Time
	processed      []int
	failed         []FailedItem
	skipped        []SkippedItem
	fetchFailed    []FailedItem
	reviewRequests []ReviewRequest
	metrics        RunMetrics
	avgSamples     int
}

// NewSprintRun creates an idle run
func NewSprintRun(id, repo string) *SprintRun {
	return &SprintRun{
		ID:     id,
		Repo:   repo,
		status: RunIdle,
	}
}

// Status returns the current run status
func (r *SprintRun) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Start moves an idle run to running with the given selection
func (r *SprintRun) Start(selected []int, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.transitionLocked(RunRunning); err != nil {
		return err
	}
	r.selected = append([]int(nil), selected...)
	r.startedAt = now
	return nil
}

// Finish moves a running run to a terminal status and freezes it.
// Result collections are sorted by item number so that the order
// does not depend on worker scheduling.
func (r *SprintRun) Finish(status RunStatus, now time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.transitionLocked(status); err != nil {
		return err
	}
	r.finishedAt = now

	sort.Ints(r.processed)
	sort.SliceStable(r.failed, func(i, j int) bool { return r.failed[i].Number < r.failed[j].Number })
	sort.SliceStable(r.skipped, func(i, j int) bool { return r.skipped[i].Number < r.skipped[j].Number })
	sort.SliceStable(r.fetchFailed, func(i, j int) bool { return r.fetchFailed[i].Number < r.fetchFailed[j].Number })
	sort.SliceStable(r.reviewRequests, func(i, j int) bool { return r.reviewRequests[i].Issue < r.reviewRequests[j].Issue })
	return nil
}

func (r *SprintRun) transitionLocked(to RunStatus) error {
	switch {
	case r.status == RunIdle && to == RunRunning:
	case r.status == RunRunning && to.Terminal():
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.status, to)
	}
	r.status = to
	return nil
}

// Record files an item result into the matching collection and updates metrics
func (r *SprintRun) Record(res ItemResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != RunRunning {
		return ErrRunFinished
	}

	switch {
	case res.Outcome == OutcomeSuccess:
		r.processed = append(r.processed, res.Number)
		r.metrics.ItemsProcessed++
		r.avgSamples++
		n := time.Duration(r.avgSamples)
		r.metrics.AvgTimePerItem = (r.metrics.AvgTimePerItem*(n-1) + res.Elapsed) / n
		if res.ReviewRequest != nil {
			r.reviewRequests = append(r.reviewRequests, *res.ReviewRequest)
			r.metrics.ReviewRequestsCreated++
		}
	case res.Outcome == OutcomeSkipped:
		r.skipped = append(r.skipped, SkippedItem{Number: res.Number, Reason: res.Reason})
	case res.Outcome.Failed():
		r.failed = append(r.failed, FailedItem{Number: res.Number, Reason: res.Reason})
	default:
		return fmt.Errorf("unknown outcome %q for item %d", res.Outcome, res.Number)
	}
	return nil
}

// RecordFetchFailure files an item whose metadata could not be retrieved
func (r *SprintRun) RecordFetchFailure(number int, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != RunRunning {
		return ErrRunFinished
	}
	r.fetchFailed = append(r.fetchFailed, FailedItem{Number: number, Reason: reason})
	return nil
}

// RecordRetry counts one re-attempt of an external operation
func (r *SprintRun) RecordRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == RunRunning {
		r.metrics.RetryCount++
	}
}

// RunSnapshot is an immutable copy of a run's state
type RunSnapshot struct {
	ID             string
	Repo           string
	Status         RunStatus
	Selected       []int
	StartedAt      time.Time
	FinishedAt     time.Time
	Processed      []int
	Failed         []FailedItem
	Skipped        []SkippedItem
	FetchFailed    []FailedItem
	ReviewRequests []ReviewRequest
	Metrics        RunMetrics
}

// Duration returns the wall-clock time between start and finish
func (s RunSnapshot) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// ReviewRequestFor returns the review request recorded for an item, if any
func (s RunSnapshot) ReviewRequestFor(issue int) (ReviewRequest, bool) {
	for _, rr := range s.ReviewRequests {
		if rr.Issue == issue {
			return rr, true
		}
	}
	return ReviewRequest{}, false
}

// Snapshot copies the current state
func (r *SprintRun) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunSnapshot{
		ID:             r.ID,
		Repo:           r.Repo,
		Status:         r.status,
		Selected:       append([]int(nil), r.selected...),
		StartedAt:      r.startedAt,
		FinishedAt:     r.finishedAt,
		Processed:      append([]int(nil), r.processed...),
		Failed:         append([]FailedItem(nil), r.failed...),
		Skipped:        append([]SkippedItem(nil), r.skipped...),
		FetchFailed:    append([]FailedItem(nil), r.fetchFailed...),
		ReviewRequests: append([]ReviewRequest(nil), r.reviewRequests...),
		Metrics:        r.metrics,
	}
}
