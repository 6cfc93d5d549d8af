package domain

// RunStatus represents the lifecycle state of a sprint run
type RunStatus string

const (
	RunIdle     RunStatus = "idle"
	RunRunning  RunStatus = "running"
	RunFailed   RunStatus = "failed"
	RunComplete RunStatus = "complete"
)

// Terminal reports whether no further transitions are possible
func (s RunStatus) Terminal() bool {
	return s == RunFailed || s == RunComplete
}

// IssueState is the lifecycle state reported by the hosting service
type IssueState string

const (
	IssueOpen   IssueState = "OPEN"
	IssueClosed IssueState = "CLOSED"
)

// ItemOutcome classifies how processing of a single work item ended
type ItemOutcome string

const (
	OutcomeSuccess      ItemOutcome = "success"
	OutcomeSkipped      ItemOutcome = "skipped"
	OutcomeBranchFailed ItemOutcome = "branch_failed"
	OutcomeTimeout      ItemOutcome = "timeout"
	OutcomeError        ItemOutcome = "error"
)

// Failed reports whether the outcome is filed under the run's failed items
func (o ItemOutcome) Failed() bool {
	switch o {
	case OutcomeBranchFailed, OutcomeTimeout, OutcomeError:
		return true
	}
	return false
}

// Failure reasons recorded for items
const (
	ReasonAlreadyClosed = "already closed"
	ReasonBranchFailed  = "could not create branch"
	ReasonTimeout       = "timeout"
	ReasonCanceled      = "canceled"
)
