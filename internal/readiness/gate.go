// Package readiness verifies the environment before a sprint touches anything.
package readiness

import (
	"context"
	"fmt"

	"github.com/hochfrequenz/sprint-orch/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Check names, in report order
const (
	CheckGitHub = "github"
	CheckGit    = "git"
	CheckRepo   = "repo"
	CheckBranch = "branch"
)

// AuthChecker reports whether the hosting service accepts our credentials
type AuthChecker interface {
	CheckAuthenticated(ctx context.Context) bool
}

// WorkingCopy is the read-only part of the version-control client
type WorkingCopy interface {
	CheckWorkingCopy(ctx context.Context) error
	CurrentBranch(ctx context.Context) (string, error)
}

// Gate runs the pre-flight checks
type Gate struct {
	auth   AuthChecker
	vcs    WorkingCopy
	repo   string
	logger *zap.Logger
}

// NewGate creates a gate for repo
func NewGate(auth AuthChecker, vcs WorkingCopy, repo string, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{auth: auth, vcs: vcs, repo: repo, logger: logger}
}

// Run executes all checks concurrently and waits for every one of them.
// Checks never fail the group; a failing probe is an unhealthy result.
func (g *Gate) Run(ctx context.Context) domain.ReadinessReport {
	probes := []func(context.Context) domain.CheckResult{
		g.checkGitHub,
		g.checkGit,
		g.checkRepo,
		g.checkBranch,
	}
	results := make([]domain.CheckResult, len(probes))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, probe := range probes {
		eg.Go(func() error {
			results[i] = probe(egCtx)
			return nil
		})
	}
	_ = eg.Wait()

	report := domain.ReadinessReport{Checks: results}
	for _, c := range results {
		g.logger.Debug("readiness check",
			zap.String("check", c.Name),
			zap.Bool("healthy", c.Healthy),
			zap.String("message", c.Message))
	}
	return report
}

func (g *Gate) checkGitHub(ctx context.Context) domain.CheckResult {
	if g.auth != nil && g.auth.CheckAuthenticated(ctx) {
		return domain.CheckResult{Name: CheckGitHub, Healthy: true, Message: "Authenticated"}
	}
	return domain.CheckResult{Name: CheckGitHub, Message: "Not authenticated - run: gh auth login"}
}

func (g *Gate) checkGit(ctx context.Context) domain.CheckResult {
	if g.vcs != nil && g.vcs.CheckWorkingCopy(ctx) == nil {
		return domain.CheckResult{Name: CheckGit, Healthy: true, Message: "Repository OK"}
	}
	return domain.CheckResult{Name: CheckGit, Message: "Not a git repository"}
}

func (g *Gate) checkRepo(context.Context) domain.CheckResult {
	if g.repo != "" {
		return domain.CheckResult{Name: CheckRepo, Healthy: true, Message: g.repo}
	}
	return domain.CheckResult{Name: CheckRepo, Message: "Could not detect repository"}
}

func (g *Gate) checkBranch(ctx context.Context) domain.CheckResult {
	if g.vcs != nil {
		if branch, err := g.vcs.CurrentBranch(ctx); err == nil {
			return domain.CheckResult{Name: CheckBranch, Healthy: true, Message: fmt.Sprintf("On branch: %s", branch)}
		}
	}
	return domain.CheckResult{Name: CheckBranch, Message: "Could not determine branch"}
}
