package sprint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hochfrequenz/sprint-orch/internal/domain"
	"github.com/hochfrequenz/sprint-orch/internal/notify"
	"github.com/hochfrequenz/sprint-orch/internal/report"
	"github.com/hochfrequenz/sprint-orch/internal/retry"
	"github.com/hochfrequenz/sprint-orch/internal/runstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu    sync.Mutex
	items map[int]*domain.WorkItem
	calls []int
}

func (f *fakeFetcher) FetchItem(_ context.Context, number int) (*domain.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, number)
	item, ok := f.items[number]
	if !ok {
		return nil, fmt.Errorf("item %d: not found", number)
	}
	return item, nil
}

func itemsOf(items ...*domain.WorkItem) *fakeFetcher {
	f := &fakeFetcher{items: map[int]*domain.WorkItem{}}
	for _, it := range items {
		f.items[it.Number] = it
	}
	return f
}

type fakeGate struct {
	report domain.ReadinessReport
	calls  int
}

func (g *fakeGate) Run(context.Context) domain.ReadinessReport {
	g.calls++
	return g.report
}

func healthyGate() *fakeGate {
	return &fakeGate{report: domain.ReadinessReport{Checks: []domain.CheckResult{
		{Name: "github", Healthy: true, Message: "Authenticated"},
		{Name: "git", Healthy: true, Message: "Repository OK"},
	}}}
}

type processorFunc func(ctx context.Context, item *domain.WorkItem) domain.ItemResult

func (f processorFunc) Process(ctx context.Context, item *domain.WorkItem) domain.ItemResult {
	return f(ctx, item)
}

type fakeReports struct {
	mu    sync.Mutex
	snaps []domain.RunSnapshot
	err   error
}

func (r *fakeReports) Write(_ context.Context, snap domain.RunSnapshot) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	if r.err != nil {
		return "", r.err
	}
	return "/tmp/SPRINT.json", nil
}

type fakeHistory struct {
	snaps []domain.RunSnapshot
	paths []string
}

func (h *fakeHistory) SaveRun(snap domain.RunSnapshot, path string) error {
	h.snaps = append(h.snaps, snap)
	h.paths = append(h.paths, path)
	return nil
}

type fakeNotifier struct {
	sent []notify.Notification
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, msg notify.Notification) error {
	n.sent = append(n.sent, msg)
	return n.err
}

func succeed(_ context.Context, item *domain.WorkItem) domain.ItemResult {
	return domain.ItemResult{
		Number:        item.Number,
		Outcome:       domain.OutcomeSuccess,
		ReviewRequest: &domain.ReviewRequest{Issue: item.Number, Number: 100 + item.Number},
	}
}

func TestController_ClosedAndOpenItem(t *testing.T) {
	dir := t.TempDir()
	fetcher := itemsOf(
		&domain.WorkItem{Number: 1, Title: "Old bug", State: domain.IssueClosed},
		&domain.WorkItem{Number: 2, Title: "Add login", State: domain.IssueOpen},
	)
	ws := &fakeWorkspace{}
	pub := &fakePublisher{}
	c := NewController(Deps{
		Items:     fetcher,
		Gate:      healthyGate(),
		Processor: NewProcessor(ws, pub, time.Minute, nil),
		Reports:   report.NewWriter(dir, "json", "1.0.0"),
	}, Options{Repo: "acme/widgets"})

	res, err := c.Run(context.Background(), "1,2")
	require.NoError(t, err)

	snap := res.Run.Snapshot()
	assert.Equal(t, domain.RunComplete, snap.Status)
	assert.Equal(t, []int{2}, snap.Processed)
	assert.Equal(t, []domain.SkippedItem{{Number: 1, Reason: "already closed"}}, snap.Skipped)
	assert.Empty(t, snap.Failed)
	require.Len(t, snap.ReviewRequests, 1)
	assert.Equal(t, domain.ReviewRequest{Issue: 2, Number: 102}, snap.ReviewRequests[0])
	assert.Equal(t, 1, snap.Metrics.ItemsProcessed)
	assert.Equal(t, 1, snap.Metrics.ReviewRequestsCreated)
	assert.Equal(t, []int{2}, ws.calls(), "closed items never touch the working copy")

	require.NotEmpty(t, res.ReportPath)
	data, err := os.ReadFile(res.ReportPath)
	require.NoError(t, err)
	var doc report.Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, []int{1, 2}, doc.SelectedItems)
	assert.Equal(t, "complete", doc.State.Status)
	assert.Equal(t, []int{2}, doc.State.Processed)
	assert.Equal(t, "acme/widgets", doc.Repo)
}

func TestController_GateFailureAborts(t *testing.T) {
	fetcher := itemsOf(&domain.WorkItem{Number: 1, State: domain.IssueOpen})
	gate := &fakeGate{report: domain.ReadinessReport{Checks: []domain.CheckResult{
		{Name: "github", Healthy: false, Message: "Not authenticated - run: gh auth login"},
		{Name: "git", Healthy: true, Message: "Repository OK"},
	}}}
	var processed atomic.Int32
	reports := &fakeReports{}
	history := &fakeHistory{}
	notifier := &fakeNotifier{}

	c := NewController(Deps{
		Items: fetcher,
		Gate:  gate,
		Processor: processorFunc(func(ctx context.Context, item *domain.WorkItem) domain.ItemResult {
			processed.Add(1)
			return succeed(ctx, item)
		}),
		Reports:  reports,
		History:  history,
		Notifier: notifier,
	}, Options{Repo: "acme/widgets"})

	res, err := c.Run(context.Background(), "1-3")
	require.ErrorIs(t, err, ErrNotReady)
	require.NotNil(t, res)

	snap := res.Run.Snapshot()
	assert.Equal(t, domain.RunFailed, snap.Status)
	assert.Empty(t, snap.Processed)
	assert.Empty(t, snap.Failed)
	assert.Empty(t, fetcher.calls, "nothing is fetched after a failed gate")
	assert.Zero(t, processed.Load())
	assert.Empty(t, reports.snaps, "no report for an aborted run")
	assert.Empty(t, res.ReportPath)
	require.Len(t, res.Report.Unhealthy(), 1)

	require.Len(t, history.snaps, 1)
	assert.Equal(t, domain.RunFailed, history.snaps[0].Status)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, notify.NotifyError, notifier.sent[0].Type)
}

func TestController_FetchFailureIsRecorded(t *testing.T) {
	fetcher := itemsOf(
		&domain.WorkItem{Number: 1, State: domain.IssueOpen},
		&domain.WorkItem{Number: 3, State: domain.IssueOpen},
	)
	c := NewController(Deps{
		Items:     fetcher,
		Gate:      healthyGate(),
		Processor: processorFunc(succeed),
	}, Options{})

	res, err := c.Run(context.Background(), "1-3")
	require.NoError(t, err)

	snap := res.Run.Snapshot()
	assert.Equal(t, []int{1, 3}, snap.Processed)
	require.Len(t, snap.FetchFailed, 1)
	assert.Equal(t, 2, snap.FetchFailed[0].Number)
	assert.Contains(t, snap.FetchFailed[0].Reason, "not found")
	assert.Empty(t, snap.Failed)
	assert.Equal(t, []int{1, 2, 3}, snap.Selected)
}

func TestController_FailuresAndAverage(t *testing.T) {
	fetcher := itemsOf(
		&domain.WorkItem{Number: 1, State: domain.IssueOpen},
		&domain.WorkItem{Number: 2, State: domain.IssueOpen},
		&domain.WorkItem{Number: 3, State: domain.IssueOpen},
		&domain.WorkItem{Number: 4, State: domain.IssueOpen},
	)
	elapsed := map[int]time.Duration{1: 100 * time.Millisecond, 2: 200 * time.Millisecond, 3: 300 * time.Millisecond}
	proc := processorFunc(func(ctx context.Context, item *domain.WorkItem) domain.ItemResult {
		if item.Number == 4 {
			return domain.ItemResult{Outcome: domain.OutcomeBranchFailed, Reason: domain.ReasonBranchFailed, Elapsed: time.Second}
		}
		res := succeed(ctx, item)
		res.Elapsed = elapsed[item.Number]
		return res
	})

	c := NewController(Deps{Items: fetcher, Gate: healthyGate(), Processor: proc}, Options{})
	res, err := c.Run(context.Background(), "1-4")
	require.NoError(t, err)

	snap := res.Run.Snapshot()
	assert.Equal(t, []int{1, 2, 3}, snap.Processed)
	assert.Equal(t, []domain.FailedItem{{Number: 4, Reason: "could not create branch"}}, snap.Failed)
	assert.Equal(t, 200*time.Millisecond, snap.Metrics.AvgTimePerItem, "failed items do not count toward the average")
	assert.Equal(t, 3, snap.Metrics.ReviewRequestsCreated)
}

func TestController_ProcessorPanicFailsOnlyThatItem(t *testing.T) {
	fetcher := itemsOf(
		&domain.WorkItem{Number: 1, State: domain.IssueOpen},
		&domain.WorkItem{Number: 2, State: domain.IssueOpen},
	)
	proc := processorFunc(func(ctx context.Context, item *domain.WorkItem) domain.ItemResult {
		if item.Number == 1 {
			panic("unexpected nil")
		}
		return succeed(ctx, item)
	})

	c := NewController(Deps{Items: fetcher, Gate: healthyGate(), Processor: proc}, Options{})
	res, err := c.Run(context.Background(), "1,2")
	require.NoError(t, err)

	snap := res.Run.Snapshot()
	assert.Equal(t, []int{2}, snap.Processed)
	assert.Equal(t, []domain.FailedItem{{Number: 1, Reason: "unexpected nil"}}, snap.Failed)
}

func TestController_ParallelMatchesSequential(t *testing.T) {
	newFetcher := func() *fakeFetcher {
		f := &fakeFetcher{items: map[int]*domain.WorkItem{}}
		for n := 1; n <= 8; n++ {
			state := domain.IssueOpen
			if n%4 == 0 {
				state = domain.IssueClosed
			}
			f.items[n] = &domain.WorkItem{Number: n, Title: fmt.Sprintf("Item %d", n), State: state}
		}
		return f
	}
	newProcessor := func(pub *fakePublisher) *Processor {
		ws := &fakeWorkspace{fail: map[int]error{3: errors.New("pull failed")}, delay: 5 * time.Millisecond}
		return NewProcessor(ws, pub, time.Minute, nil)
	}

	seq := NewController(Deps{Items: newFetcher(), Gate: healthyGate(), Processor: newProcessor(&fakePublisher{})}, Options{})
	seqRes, err := seq.Run(context.Background(), "1-8")
	require.NoError(t, err)

	par := NewController(Deps{Items: newFetcher(), Gate: healthyGate(), Processor: newProcessor(&fakePublisher{})},
		Options{Parallel: true, MaxParallel: 3})
	parRes, err := par.Run(context.Background(), "1-8")
	require.NoError(t, err)

	s, p := seqRes.Run.Snapshot(), parRes.Run.Snapshot()
	assert.Equal(t, s.Processed, p.Processed)
	assert.Equal(t, s.Failed, p.Failed)
	assert.Equal(t, s.Skipped, p.Skipped)
	assert.Equal(t, s.ReviewRequests, p.ReviewRequests)
	assert.Equal(t, []int{1, 2, 5, 6, 7}, p.Processed)
}

func TestController_ParallelRespectsLimit(t *testing.T) {
	f := &fakeFetcher{items: map[int]*domain.WorkItem{}}
	for n := 1; n <= 10; n++ {
		f.items[n] = &domain.WorkItem{Number: n, State: domain.IssueOpen}
	}

	var active, peak atomic.Int32
	proc := processorFunc(func(ctx context.Context, item *domain.WorkItem) domain.ItemResult {
		cur := active.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return succeed(ctx, item)
	})

	c := NewController(Deps{Items: f, Gate: healthyGate(), Processor: proc}, Options{Parallel: true, MaxParallel: 3})
	res, err := c.Run(context.Background(), "1-10")
	require.NoError(t, err)

	assert.Len(t, res.Run.Snapshot().Processed, 10)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Greater(t, peak.Load(), int32(1))
}

func TestController_Cancellation(t *testing.T) {
	fetcher := itemsOf(
		&domain.WorkItem{Number: 1, State: domain.IssueOpen},
		&domain.WorkItem{Number: 2, State: domain.IssueOpen},
		&domain.WorkItem{Number: 3, State: domain.IssueOpen},
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := processorFunc(func(ctx context.Context, item *domain.WorkItem) domain.ItemResult {
		if item.Number == 1 {
			cancel()
		}
		return succeed(ctx, item)
	})
	reports := &fakeReports{}

	c := NewController(Deps{Items: fetcher, Gate: healthyGate(), Processor: proc, Reports: reports}, Options{})
	res, err := c.Run(ctx, "1-3")
	require.ErrorIs(t, err, context.Canceled)

	snap := res.Run.Snapshot()
	assert.Equal(t, domain.RunComplete, snap.Status)
	assert.Equal(t, []int{1}, snap.Processed)
	assert.Equal(t, []domain.FailedItem{
		{Number: 2, Reason: "canceled"},
		{Number: 3, Reason: "canceled"},
	}, snap.Failed)
	require.Len(t, reports.snaps, 1, "an interrupted run still writes its report")
}

func TestController_EmptySelection(t *testing.T) {
	gate := healthyGate()
	c := NewController(Deps{Items: itemsOf(), Gate: gate, Processor: processorFunc(succeed)}, Options{})

	res, err := c.Run(context.Background(), "abc")
	require.ErrorIs(t, err, ErrEmptySelection)
	assert.Nil(t, res)
	assert.Zero(t, gate.calls)
}

func TestController_CountsRetries(t *testing.T) {
	fetcher := itemsOf(&domain.WorkItem{Number: 1, State: domain.IssueOpen})
	policy := retry.Policy{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	proc := processorFunc(func(ctx context.Context, item *domain.WorkItem) domain.ItemResult {
		attempts := 0
		_ = policy.Do(ctx, func() error {
			attempts++
			if attempts < 3 {
				return errors.New("index.lock exists")
			}
			return nil
		})
		return succeed(ctx, item)
	})

	c := NewController(Deps{Items: fetcher, Gate: healthyGate(), Processor: proc}, Options{})
	res, err := c.Run(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Run.Snapshot().Metrics.RetryCount)
}

func TestController_ReportFailureDoesNotFailRun(t *testing.T) {
	fetcher := itemsOf(&domain.WorkItem{Number: 1, State: domain.IssueOpen})
	notifier := &fakeNotifier{err: errors.New("slack down")}
	c := NewController(Deps{
		Items:     fetcher,
		Gate:      healthyGate(),
		Processor: processorFunc(succeed),
		Reports:   &fakeReports{err: errors.New("disk full")},
		Notifier:  notifier,
	}, Options{})

	res, err := c.Run(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunComplete, res.Run.Status())
	assert.Empty(t, res.ReportPath)
	assert.Len(t, notifier.sent, 1)
}

func TestController_RecordsHistory(t *testing.T) {
	store, err := runstore.New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	fetcher := itemsOf(
		&domain.WorkItem{Number: 5, State: domain.IssueOpen},
		&domain.WorkItem{Number: 6, State: domain.IssueClosed},
	)
	c := NewController(Deps{
		Items:     fetcher,
		Gate:      healthyGate(),
		Processor: NewProcessor(&fakeWorkspace{}, &fakePublisher{}, 0, nil),
		Reports:   &fakeReports{},
		History:   store,
	}, Options{Repo: "acme/widgets"})

	res, err := c.Run(context.Background(), "5-6")
	require.NoError(t, err)

	rec, err := store.GetRun(res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunComplete, rec.Status)
	assert.Equal(t, "/tmp/SPRINT.json", rec.ReportPath)
	assert.Len(t, rec.Items, 2)
}
