// Package notify announces finished sprint runs.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hochfrequenz/sprint-orch/internal/config"
	"github.com/hochfrequenz/sprint-orch/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	RunID   string   // Optional run reference
	Links   []string // Optional review-request URLs
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// New builds the notifier set enabled in cfg
func New(cfg config.NotificationsConfig) Notifier {
	var notifiers []Notifier
	if cfg.SlackWebhook != "" {
		notifiers = append(notifiers, NewSlackNotifier(cfg.SlackWebhook))
	}
	if cfg.Desktop {
		notifiers = append(notifiers, NewDesktopNotifier(true))
	}
	switch len(notifiers) {
	case 0:
		return NoopNotifier{}
	case 1:
		return notifiers[0]
	default:
		return NewMultiNotifier(notifiers...)
	}
}

// ForRun summarizes a finished run
func ForRun(run domain.RunSnapshot) Notification {
	n := Notification{
		RunID: run.ID,
		Type:  NotifySuccess,
	}

	switch {
	case run.Status == domain.RunFailed:
		n.Type = NotifyError
		n.Title = fmt.Sprintf("Sprint on %s aborted", run.Repo)
		n.Message = "Readiness check failed, no items were touched"
		return n
	case len(run.Failed)+len(run.FetchFailed) > 0:
		n.Type = NotifyWarning
	}

	n.Title = fmt.Sprintf("Sprint on %s complete", run.Repo)

	parts := []string{fmt.Sprintf("%d/%d processed", len(run.Processed), len(run.Selected))}
	if len(run.Failed) > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", len(run.Failed)))
	}
	if len(run.Skipped) > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", len(run.Skipped)))
	}
	if len(run.FetchFailed) > 0 {
		parts = append(parts, fmt.Sprintf("%d not fetched", len(run.FetchFailed)))
	}
	n.Message = strings.Join(parts, ", ")

	for _, rr := range run.ReviewRequests {
		if rr.URL != "" {
			n.Links = append(n.Links, rr.URL)
		}
	}
	return n
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers and joins their errors
func (m *MultiNotifier) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(context.Context, Notification) error { return nil }
