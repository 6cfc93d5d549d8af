// Package prbot opens the review request for a prepared work item.
package prbot

import (
	"context"
	"errors"
	"fmt"

	"github.com/hochfrequenz/sprint-orch/internal/domain"
	"github.com/hochfrequenz/sprint-orch/internal/templates"
	"go.uber.org/zap"
)

const prBodyTemplate = `Closes #%d

## Summary
Implemented fix for: %s

---
Generated by sprint-orch v%s`

// Creator opens pull requests on the hosting service
type Creator interface {
	CreateReviewRequest(ctx context.Context, title, body, head, base string) (*domain.ReviewRequest, error)
}

// BuildTitle returns "Fix #<n>: <title>"
func BuildTitle(item *domain.WorkItem) string {
	return fmt.Sprintf("Fix #%d: %s", item.Number, item.Title)
}

// BuildBody constructs the review-request body
func BuildBody(item *domain.WorkItem, version string) string {
	return fmt.Sprintf(prBodyTemplate, item.Number, item.Title, version)
}

// Renderer renders review request text from named templates
type Renderer interface {
	Render(path string, data any) (string, error)
}

// Publisher opens one review request per item. A failed creation is
// reported to the caller once and never retried.
type Publisher struct {
	creator   Creator
	version   string
	logger    *zap.Logger
	templates Renderer
}

// NewPublisher creates a Publisher stamping bodies with version
func NewPublisher(creator Creator, version string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{creator: creator, version: version, logger: logger}
}

// WithTemplates renders titles and bodies through r. A template that fails
// to render falls back to the built-in text.
func (p *Publisher) WithTemplates(r Renderer) *Publisher {
	p.templates = r
	return p
}

func (p *Publisher) text(item *domain.WorkItem, branch, base string) (title, body string) {
	title, body = BuildTitle(item), BuildBody(item, p.version)
	if p.templates == nil {
		return title, body
	}

	data := templates.ReviewData{
		Number:  item.Number,
		Title:   item.Title,
		Body:    item.Body,
		Labels:  item.Labels,
		Branch:  branch,
		Base:    base,
		Version: p.version,
	}
	if t, err := p.templates.Render(templates.ReviewTitle, data); err != nil {
		p.logger.Warn("title template failed, using default", zap.Error(err))
	} else {
		title = t
	}
	if b, err := p.templates.Render(templates.ReviewBody, data); err != nil {
		p.logger.Warn("body template failed, using default", zap.Error(err))
	} else {
		body = b
	}
	return title, body
}

// Publish requests a merge of branch into base for item
func (p *Publisher) Publish(ctx context.Context, item *domain.WorkItem, branch, base string) (*domain.ReviewRequest, error) {
	if branch == "" {
		return nil, errors.New("publish: empty branch")
	}

	title, body := p.text(item, branch, base)
	rr, err := p.creator.CreateReviewRequest(ctx, title, body, branch, base)
	if err != nil {
		return nil, fmt.Errorf("publish #%d: %w", item.Number, err)
	}
	if rr == nil || rr.Number == 0 {
		return nil, fmt.Errorf("publish #%d: hosting service returned no review request number", item.Number)
	}

	rr.Issue = item.Number
	p.logger.Info("review request created",
		zap.Int("item", item.Number),
		zap.Int("pr", rr.Number),
		zap.String("url", rr.URL))
	return rr, nil
}
