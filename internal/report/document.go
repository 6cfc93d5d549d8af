// Package report persists and prints the outcome of a sprint run.
package report

import (
	"time"

	"github.com/hochfrequenz/sprint-orch/internal/domain"
)

// Document is the persisted form of a finished run
type Document struct {
	Version       string    `json:"version" yaml:"version"`
	RunID         string    `json:"runId" yaml:"runId"`
	Repo          string    `json:"repo" yaml:"repo"`
	SelectedItems []int     `json:"selectedItems" yaml:"selectedItems"`
	State         State     `json:"state" yaml:"state"`
	Metrics       Metrics   `json:"metrics" yaml:"metrics"`
	Timestamp     time.Time `json:"timestamp" yaml:"timestamp"`
}

// State mirrors the run's collections
type State struct {
	Status         string          `json:"status" yaml:"status"`
	Processed      []int           `json:"processed" yaml:"processed"`
	Failed         []Item          `json:"failed" yaml:"failed"`
	Skipped        []Item          `json:"skipped" yaml:"skipped"`
	FetchFailed    []Item          `json:"fetchFailed" yaml:"fetchFailed"`
	ReviewRequests []ReviewRequest `json:"reviewRequests" yaml:"reviewRequests"`
	StartTime      *time.Time      `json:"startTime" yaml:"startTime"`
	EndTime        *time.Time      `json:"endTime" yaml:"endTime"`
}

// Item is a work item with the reason it ended where it did
type Item struct {
	Number int    `json:"number" yaml:"number"`
	Reason string `json:"reason" yaml:"reason"`
}

// ReviewRequest links an item to its pull request
type ReviewRequest struct {
	Issue int    `json:"issue" yaml:"issue"`
	PR    int    `json:"pr" yaml:"pr"`
	URL   string `json:"url,omitempty" yaml:"url,omitempty"`
}

// Metrics are the run counters
type Metrics struct {
	ItemsProcessed        int     `json:"itemsProcessed" yaml:"itemsProcessed"`
	ReviewRequestsCreated int     `json:"reviewRequestsCreated" yaml:"reviewRequestsCreated"`
	AvgTimePerItemMs      float64 `json:"avgTimePerItemMs" yaml:"avgTimePerItemMs"`
	RetryCount            int     `json:"retryCount" yaml:"retryCount"`
}

// NewDocument converts a run snapshot. Collections are never nil so that
// empty buckets serialize as [] rather than null.
func NewDocument(snap domain.RunSnapshot, version string, now time.Time) Document {
	doc := Document{
		Version:       version,
		RunID:         snap.ID,
		Repo:          snap.Repo,
		SelectedItems: nonNil(snap.Selected),
		State: State{
			Status:         string(snap.Status),
			Processed:      nonNil(snap.Processed),
			Failed:         make([]Item, 0, len(snap.Failed)),
			Skipped:        make([]Item, 0, len(snap.Skipped)),
			FetchFailed:    make([]Item, 0, len(snap.FetchFailed)),
			ReviewRequests: make([]ReviewRequest, 0, len(snap.ReviewRequests)),
			StartTime:      timePtr(snap.StartedAt),
			EndTime:        timePtr(snap.FinishedAt),
		},
		Metrics: Metrics{
			ItemsProcessed:        snap.Metrics.ItemsProcessed,
			ReviewRequestsCreated: snap.Metrics.ReviewRequestsCreated,
			AvgTimePerItemMs:      float64(snap.Metrics.AvgTimePerItem) / float64(time.Millisecond),
			RetryCount:            snap.Metrics.RetryCount,
		},
		Timestamp: now.UTC(),
	}

	for _, f := range snap.Failed {
		doc.State.Failed = append(doc.State.Failed, Item{Number: f.Number, Reason: f.Reason})
	}
	for _, s := range snap.Skipped {
		doc.State.Skipped = append(doc.State.Skipped, Item{Number: s.Number, Reason: s.Reason})
	}
	for _, f := range snap.FetchFailed {
		doc.State.FetchFailed = append(doc.State.FetchFailed, Item{Number: f.Number, Reason: f.Reason})
	}
	for _, rr := range snap.ReviewRequests {
		doc.State.ReviewRequests = append(doc.State.ReviewRequests, ReviewRequest{Issue: rr.Issue, PR: rr.Number, URL: rr.URL})
	}
	return doc
}

func nonNil(ids []int) []int {
	if ids == nil {
		return []int{}
	}
	return ids
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
