package hosting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/hochfrequenz/sprint-orch/internal/config"
	"github.com/hochfrequenz/sprint-orch/internal/domain"
	"golang.org/x/oauth2"
)

// APIClient talks to the GitHub REST API directly
type APIClient struct {
	owner string
	name  string
	gh    *github.Client
}

var _ Client = (*APIClient)(nil)

// NewAPIClient creates an API client authenticated with token.
// baseURL selects a GitHub Enterprise (or test) endpoint; empty means github.com.
func NewAPIClient(ctx context.Context, repo string, token config.Secret, baseURL string) (*APIClient, error) {
	if !token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set (hosting.token, GITHUB_TOKEN or GH_TOKEN)")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	return newAPIClient(repo, oauth2.NewClient(ctx, ts), baseURL)
}

func newAPIClient(repo string, httpClient *http.Client, baseURL string) (*APIClient, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	client := github.NewClient(httpClient)
	if baseURL != "" {
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("api base url: %w", err)
		}
	}
	return &APIClient{owner: owner, name: name, gh: client}, nil
}

// FetchItem reads one issue
func (c *APIClient) FetchItem(ctx context.Context, number int) (*domain.WorkItem, error) {
	issue, resp, err := c.gh.Issues.Get(ctx, c.owner, c.name, number)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("issue #%d: %w", number, ErrNotFound)
		}
		return nil, fmt.Errorf("get issue #%d: %w", number, err)
	}

	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}
	return &domain.WorkItem{
		Number: issue.GetNumber(),
		Title:  issue.GetTitle(),
		Body:   issue.GetBody(),
		State:  domain.IssueState(strings.ToUpper(issue.GetState())),
		Labels: labelsOrEmpty(labels),
	}, nil
}

// CreateReviewRequest opens a pull request
func (c *APIClient) CreateReviewRequest(ctx context.Context, title, body, head, base string) (*domain.ReviewRequest, error) {
	pr, _, err := c.gh.PullRequests.Create(ctx, c.owner, c.name, &github.NewPullRequest{
		Title: github.String(title),
		Body:  github.String(body),
		Head:  github.String(head),
		Base:  github.String(base),
	})
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusUnprocessableEntity {
			return nil, fmt.Errorf("create pull request %s -> %s: %s", head, base, ghErr.Message)
		}
		return nil, fmt.Errorf("create pull request: %w", err)
	}
	return &domain.ReviewRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}

// CheckAuthenticated asks the API for the authenticated user
func (c *APIClient) CheckAuthenticated(ctx context.Context) bool {
	_, _, err := c.gh.Users.Get(ctx, "")
	return err == nil
}
