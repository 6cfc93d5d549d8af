package domain

import "fmt"

// WorkItem is a tracked issue as reported by the hosting service.
// It is fetched once per run and never modified afterwards.
type WorkItem struct {
	Number int
	Title  string
	Body   string
	State  IssueState
	Labels []string
}

// IsClosed reports whether the hosting service considers the item closed
func (w *WorkItem) IsClosed() bool {
	return w.State == IssueClosed
}

// HasLabel reports whether the item carries the given label
func (w *WorkItem) HasLabel(name string) bool {
	for _, l := range w.Labels {
		if l == name {
			return true
		}
	}
	return false
}

func (w *WorkItem) String() string {
	return fmt.Sprintf("#%d %s", w.Number, w.Title)
}

// ReviewRequest links a work item to the pull request opened for it
type ReviewRequest struct {
	Issue  int
	Number int
	URL    string
}
