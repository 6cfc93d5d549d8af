package vcs

import (
	"context"
	"strings"
	"testing"

	"github.com/hochfrequenz/sprint-orch/internal/vcs/vcstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGit_ReadOnlyQueries(t *testing.T) {
	repo := vcstest.NewRepo(t)
	g := NewGit(repo.Dir)
	ctx := context.Background()

	require.NoError(t, g.CheckWorkingCopy(ctx))

	branch, err := g.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)

	origin, err := g.RemoteOrigin(ctx)
	require.NoError(t, err)
	assert.Equal(t, repo.Origin, origin)
}

func TestGit_NotARepository(t *testing.T) {
	g := NewGit(t.TempDir())
	ctx := context.Background()

	assert.Error(t, g.CheckWorkingCopy(ctx))
	_, err := g.CurrentBranch(ctx)
	assert.Error(t, err)
	_, err = g.RemoteOrigin(ctx)
	assert.Error(t, err)
}

func TestGit_DetachedHead(t *testing.T) {
	repo := vcstest.NewRepo(t)
	repo.Git(t, "checkout", "--detach")

	_, err := NewGit(repo.Dir).CurrentBranch(context.Background())
	assert.ErrorIs(t, err, ErrDetachedHead)
}

func TestGit_BranchLifecycle(t *testing.T) {
	repo := vcstest.NewRepo(t)
	g := NewGit(repo.Dir)
	ctx := context.Background()

	require.NoError(t, g.CreateBranch(ctx, "issue-1-test"))
	branch, err := g.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "issue-1-test", branch)

	require.NoError(t, g.Checkout(ctx, "main"))
	require.NoError(t, g.Pull(ctx))

	branch, err = g.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestGit_CheckoutMissingBranch(t *testing.T) {
	repo := vcstest.NewRepo(t)

	err := NewGit(repo.Dir).Checkout(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "git checkout:"), err.Error())
}

func TestGit_CreateExistingBranchFails(t *testing.T) {
	repo := vcstest.NewRepo(t)
	g := NewGit(repo.Dir)
	ctx := context.Background()

	require.NoError(t, g.CreateBranch(ctx, "dup"))
	require.NoError(t, g.Checkout(ctx, "main"))
	err := g.CreateBranch(ctx, "dup")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBranchExists)
	assert.Contains(t, err.Error(), "dup")
}
