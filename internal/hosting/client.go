// Package hosting reads work items from and opens review requests on the
// source-control hosting service.
package hosting

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hochfrequenz/sprint-orch/internal/config"
	"github.com/hochfrequenz/sprint-orch/internal/domain"
)

// ErrNotFound is returned when the requested item does not exist
var ErrNotFound = errors.New("not found")

// Client is the hosting-service surface a sprint needs
type Client interface {
	FetchItem(ctx context.Context, number int) (*domain.WorkItem, error)
	// CreateReviewRequest opens a pull request from head into base
	CreateReviewRequest(ctx context.Context, title, body, head, base string) (*domain.ReviewRequest, error)
	CheckAuthenticated(ctx context.Context) bool
}

// New builds the client selected by cfg.Backend for repo (owner/name)
func New(ctx context.Context, cfg config.HostingConfig, repo, dir string) (Client, error) {
	switch cfg.Backend {
	case config.BackendAPI:
		return NewAPIClient(ctx, repo, cfg.ResolveToken(), cfg.APIBaseURL)
	case config.BackendGH, "":
		return NewGHClient(repo, dir), nil
	default:
		return nil, fmt.Errorf("unknown hosting backend %q", cfg.Backend)
	}
}

var remoteRepoPattern = regexp.MustCompile(`github\.com[:/](.+?)(?:\.git)?$`)

// RepoFromRemote extracts owner/repo from an https or ssh remote URL.
// Returns "" when the remote does not point at github.com.
func RepoFromRemote(remote string) string {
	m := remoteRepoPattern.FindStringSubmatch(strings.TrimSpace(remote))
	if m == nil {
		return ""
	}
	return m[1]
}

func splitRepo(repo string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository %q, want owner/name", repo)
	}
	return owner, name, nil
}

var pullNumberPattern = regexp.MustCompile(`/pull/(\d+)`)

// PullNumberFromURL returns the pull request number in a URL like
// https://github.com/owner/repo/pull/123, or 0 if there is none.
func PullNumberFromURL(url string) int {
	m := pullNumberPattern.FindStringSubmatch(url)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func labelsOrEmpty(labels []string) []string {
	if labels == nil {
		return []string{}
	}
	return labels
}
