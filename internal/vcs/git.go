// Package vcs talks to the local git working copy a sprint runs in.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrDetachedHead is returned by CurrentBranch when HEAD does not point at a branch
var ErrDetachedHead = errors.New("HEAD is detached")

// ErrBranchExists is returned by CreateBranch when the branch is already present
var ErrBranchExists = errors.New("branch already exists")

// Client is the set of working-copy operations a sprint needs
type Client interface {
	// CheckWorkingCopy verifies Dir is a non-bare git working copy
	CheckWorkingCopy(ctx context.Context) error
	CurrentBranch(ctx context.Context) (string, error)
	RemoteOrigin(ctx context.Context) (string, error)
	Checkout(ctx context.Context, branch string) error
	Pull(ctx context.Context) error
	CreateBranch(ctx context.Context, name string) error
}

// Git operates on the working copy rooted at Dir. Read-only queries go
// through go-git; anything that mutates the working copy or talks to the
// remote runs the git binary so hooks, credentials and config apply.
type Git struct {
	Dir string
}

// NewGit creates a client for the working copy at dir
func NewGit(dir string) *Git {
	return &Git{Dir: dir}
}

var _ Client = (*Git)(nil)

func (g *Git) open() (*git.Repository, error) {
	return git.PlainOpenWithOptions(g.Dir, &git.PlainOpenOptions{DetectDotGit: true})
}

// CheckWorkingCopy opens the repository and its worktree
func (g *Git) CheckWorkingCopy(ctx context.Context) error {
	repo, err := g.open()
	if err != nil {
		return fmt.Errorf("open %s: %w", g.Dir, err)
	}
	if _, err := repo.Worktree(); err != nil {
		return fmt.Errorf("worktree %s: %w", g.Dir, err)
	}
	return nil
}

// CurrentBranch returns the short name of the checked-out branch.
// Works on unborn branches (fresh repositories without commits).
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	repo, err := g.open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", g.Dir, err)
	}

	head, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", fmt.Errorf("read HEAD: %w", err)
	}
	if head.Type() == plumbing.SymbolicReference && head.Target().IsBranch() {
		return head.Target().Short(), nil
	}
	return "", ErrDetachedHead
}

// RemoteOrigin returns the first URL of the origin remote
func (g *Git) RemoteOrigin(ctx context.Context) (string, error) {
	repo, err := g.open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", g.Dir, err)
	}
	remote, err := repo.Remote("origin")
	if err != nil {
		return "", fmt.Errorf("remote origin: %w", err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("remote origin has no URL")
	}
	return urls[0], nil
}

// Checkout switches to an existing branch
func (g *Git) Checkout(ctx context.Context, branch string) error {
	return g.run(ctx, "checkout", branch)
}

// Pull fast-forwards the current branch from its upstream
func (g *Git) Pull(ctx context.Context) error {
	return g.run(ctx, "pull", "--ff-only")
}

// CreateBranch creates name from HEAD and switches to it. An existing branch
// yields ErrBranchExists.
func (g *Git) CreateBranch(ctx context.Context, name string) error {
	repo, err := g.open()
	if err != nil {
		return fmt.Errorf("open %s: %w", g.Dir, err)
	}
	if _, err := repo.Reference(plumbing.NewBranchReferenceName(name), false); err == nil {
		return fmt.Errorf("git checkout: %w: %s", ErrBranchExists, name)
	}
	return g.run(ctx, "checkout", "-b", name)
}

func (g *Git) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("git %s: %w", args[0], ctxErr)
		}
		return fmt.Errorf("git %s: %s: %w", args[0], strings.TrimSpace(string(out)), err)
	}
	return nil
}
