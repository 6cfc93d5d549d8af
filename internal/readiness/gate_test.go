package readiness

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hochfrequenz/sprint-orch/internal/domain"
	"github.com/hochfrequenz/sprint-orch/internal/vcs"
	"github.com/hochfrequenz/sprint-orch/internal/vcs/vcstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuth struct{ ok bool }

func (f fakeAuth) CheckAuthenticated(context.Context) bool { return f.ok }

type fakeWorkingCopy struct {
	statusErr error
	branch    string
	branchErr error
	delay     time.Duration
	calls     atomic.Int32
}

func (f *fakeWorkingCopy) CheckWorkingCopy(ctx context.Context) error {
	f.calls.Add(1)
	time.Sleep(f.delay)
	return f.statusErr
}

func (f *fakeWorkingCopy) CurrentBranch(ctx context.Context) (string, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	return f.branch, f.branchErr
}

func TestGate_AllHealthy(t *testing.T) {
	g := NewGate(fakeAuth{ok: true}, &fakeWorkingCopy{branch: "main"}, "acme/widgets", nil)

	report := g.Run(context.Background())
	require.True(t, report.Healthy())

	want := []domain.CheckResult{
		{Name: CheckGitHub, Healthy: true, Message: "Authenticated"},
		{Name: CheckGit, Healthy: true, Message: "Repository OK"},
		{Name: CheckRepo, Healthy: true, Message: "acme/widgets"},
		{Name: CheckBranch, Healthy: true, Message: "On branch: main"},
	}
	assert.Equal(t, want, report.Checks)
}

func TestGate_FailingChecks(t *testing.T) {
	tests := []struct {
		name    string
		auth    bool
		wc      *fakeWorkingCopy
		repo    string
		failing string
		message string
	}{
		{"unauthenticated", false, &fakeWorkingCopy{branch: "main"}, "a/b", CheckGitHub, "Not authenticated - run: gh auth login"},
		{"not a repository", true, &fakeWorkingCopy{branch: "main", statusErr: errors.New("no repo")}, "a/b", CheckGit, "Not a git repository"},
		{"no repository id", true, &fakeWorkingCopy{branch: "main"}, "", CheckRepo, "Could not detect repository"},
		{"detached head", true, &fakeWorkingCopy{branchErr: vcs.ErrDetachedHead}, "a/b", CheckBranch, "Could not determine branch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := NewGate(fakeAuth{ok: tt.auth}, tt.wc, tt.repo, nil).Run(context.Background())

			assert.False(t, report.Healthy())
			unhealthy := report.Unhealthy()
			require.Len(t, unhealthy, 1)
			assert.Equal(t, tt.failing, unhealthy[0].Name)
			assert.Equal(t, tt.message, unhealthy[0].Message)
			assert.Len(t, report.Checks, 4, "every check completes")
		})
	}
}

func TestGate_RunsChecksConcurrently(t *testing.T) {
	wc := &fakeWorkingCopy{branch: "main", delay: 100 * time.Millisecond}
	g := NewGate(fakeAuth{ok: true}, wc, "a/b", nil)

	start := time.Now()
	report := g.Run(context.Background())
	elapsed := time.Since(start)

	assert.True(t, report.Healthy())
	assert.Equal(t, int32(2), wc.calls.Load())
	assert.Less(t, elapsed, 190*time.Millisecond)
}

func TestGate_NilDependencies(t *testing.T) {
	report := NewGate(nil, nil, "a/b", nil).Run(context.Background())
	assert.False(t, report.Healthy())
	assert.Len(t, report.Unhealthy(), 3)
}

func TestGate_RealRepository(t *testing.T) {
	repo := vcstest.NewRepo(t)

	report := NewGate(fakeAuth{ok: true}, vcs.NewGit(repo.Dir), "acme/widgets", nil).Run(context.Background())
	assert.True(t, report.Healthy(), "%+v", report.Checks)

	notRepo := NewGate(fakeAuth{ok: true}, vcs.NewGit(t.TempDir()), "acme/widgets", nil).Run(context.Background())
	assert.False(t, notRepo.Healthy())
}
