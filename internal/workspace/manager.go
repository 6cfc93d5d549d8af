// Package workspace materializes a fresh branch per work item in the
// sprint's working copy.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/hochfrequenz/sprint-orch/internal/domain"
	"github.com/hochfrequenz/sprint-orch/internal/retry"
	"github.com/hochfrequenz/sprint-orch/internal/vcs"
	"go.uber.org/zap"
)

// MaxSlugLength caps the title-derived part of a branch name
const MaxSlugLength = 30

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lower-cases title, collapses every run of non-alphanumerics into a
// single hyphen, strips edge hyphens and truncates to MaxSlugLength.
// Truncation can leave a trailing hyphen.
func Slug(title string) string {
	s := nonAlphanumeric.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if len(s) > MaxSlugLength {
		s = s[:MaxSlugLength]
	}
	return s
}

// BranchName returns issue-<number>-<slug>
func BranchName(item *domain.WorkItem) string {
	return fmt.Sprintf("issue-%d-%s", item.Number, Slug(item.Title))
}

// Workspace is a branch created for one item
type Workspace struct {
	Branch string
	// Base is the trunk the branch was created from
	Base string
}

// Options configures trunk names and step retries
type Options struct {
	PrimaryTrunk  string
	FallbackTrunk string
	Retry         retry.Policy
	// Lock serializes Prepare. Managers sharing a working copy pass the same
	// lock, see LockFor. Nil gives the Manager a lock of its own.
	Lock sync.Locker
}

// Manager creates item branches. All steps run against one working copy,
// so concurrent Prepare calls are serialized.
type Manager struct {
	vcs    vcs.Client
	opts   Options
	logger *zap.Logger
}

// NewManager creates a Manager for the given working copy
func NewManager(client vcs.Client, opts Options, logger *zap.Logger) *Manager {
	if opts.PrimaryTrunk == "" {
		opts.PrimaryTrunk = "main"
	}
	if opts.Lock == nil {
		opts.Lock = &sync.Mutex{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{vcs: client, opts: opts, logger: logger}
}

// Prepare switches to the trunk, pulls it and creates the item branch.
// The first failing step aborts; the returned Workspace is then zero.
func (m *Manager) Prepare(ctx context.Context, item *domain.WorkItem) (Workspace, error) {
	m.opts.Lock.Lock()
	defer m.opts.Lock.Unlock()

	branch := BranchName(item)
	log := m.logger.With(zap.Int("item", item.Number), zap.String("branch", branch))

	var base string
	err := m.opts.Retry.Do(ctx, func() error {
		var err error
		base, err = m.checkoutTrunk(ctx)
		return err
	})
	if err != nil {
		return Workspace{}, fmt.Errorf("checkout trunk: %w", err)
	}
	log.Debug("on trunk", zap.String("trunk", base))

	if err := m.opts.Retry.Do(ctx, func() error { return m.vcs.Pull(ctx) }); err != nil {
		return Workspace{}, fmt.Errorf("pull %s: %w", base, err)
	}

	err = m.opts.Retry.Do(ctx, func() error {
		err := m.vcs.CreateBranch(ctx, branch)
		if errors.Is(err, vcs.ErrBranchExists) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return Workspace{}, fmt.Errorf("create branch %s: %w", branch, err)
	}

	log.Info("branch created", zap.String("base", base))
	return Workspace{Branch: branch, Base: base}, nil
}

func (m *Manager) checkoutTrunk(ctx context.Context) (string, error) {
	primaryErr := m.vcs.Checkout(ctx, m.opts.PrimaryTrunk)
	if primaryErr == nil {
		return m.opts.PrimaryTrunk, nil
	}
	if m.opts.FallbackTrunk == "" || ctx.Err() != nil {
		return "", primaryErr
	}
	if err := m.vcs.Checkout(ctx, m.opts.FallbackTrunk); err != nil {
		return "", fmt.Errorf("%s: %v; %s: %w", m.opts.PrimaryTrunk, primaryErr, m.opts.FallbackTrunk, err)
	}
	return m.opts.FallbackTrunk, nil
}
