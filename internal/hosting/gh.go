package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/hochfrequenz/sprint-orch/internal/domain"
)

// GHClient shells out to the gh CLI, reusing whatever auth it is configured with
type GHClient struct {
	Repo string
	// Dir is the working directory for gh invocations
	Dir string
	// Binary defaults to "gh"
	Binary string
}

// NewGHClient creates a gh-backed client for repo
func NewGHClient(repo, dir string) *GHClient {
	return &GHClient{Repo: repo, Dir: dir, Binary: "gh"}
}

var _ Client = (*GHClient)(nil)

type ghIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

func parseIssueFromJSON(data []byte) (*domain.WorkItem, error) {
	var gh ghIssue
	if err := json.Unmarshal(data, &gh); err != nil {
		return nil, err
	}
	if gh.Number == 0 {
		return nil, fmt.Errorf("issue payload has no number")
	}

	labels := make([]string, len(gh.Labels))
	for i, l := range gh.Labels {
		labels[i] = l.Name
	}

	return &domain.WorkItem{
		Number: gh.Number,
		Title:  gh.Title,
		Body:   gh.Body,
		State:  domain.IssueState(strings.ToUpper(gh.State)),
		Labels: labels,
	}, nil
}

// FetchItem runs gh issue view
func (c *GHClient) FetchItem(ctx context.Context, number int) (*domain.WorkItem, error) {
	out, err := c.run(ctx, "issue", "view", strconv.Itoa(number),
		"--repo", c.Repo,
		"--json", "number,title,body,labels,state")
	if err != nil {
		if strings.Contains(err.Error(), "Could not resolve to an Issue") {
			return nil, fmt.Errorf("issue #%d: %w", number, ErrNotFound)
		}
		return nil, fmt.Errorf("gh issue view: %w", err)
	}

	item, err := parseIssueFromJSON(out)
	if err != nil {
		return nil, fmt.Errorf("parse gh output: %w", err)
	}
	return item, nil
}

// CreateReviewRequest runs gh pr create and parses the URL it prints
func (c *GHClient) CreateReviewRequest(ctx context.Context, title, body, head, base string) (*domain.ReviewRequest, error) {
	out, err := c.run(ctx, "pr", "create",
		"--repo", c.Repo,
		"--title", title,
		"--body", body,
		"--head", head,
		"--base", base)
	if err != nil {
		return nil, fmt.Errorf("gh pr create: %w", err)
	}

	url := lastLine(string(out))
	num := PullNumberFromURL(url)
	if num == 0 {
		return nil, fmt.Errorf("gh pr create: no pull request URL in output %q", strings.TrimSpace(string(out)))
	}
	return &domain.ReviewRequest{Number: num, URL: url}, nil
}

// CheckAuthenticated runs gh auth status
func (c *GHClient) CheckAuthenticated(ctx context.Context) bool {
	_, err := c.run(ctx, "auth", "status")
	return err == nil
}

func (c *GHClient) run(ctx context.Context, args ...string) ([]byte, error) {
	bin := c.Binary
	if bin == "" {
		bin = "gh"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = c.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return out, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
