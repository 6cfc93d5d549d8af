package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemOutcome_Failed(t *testing.T) {
	tests := []struct {
		outcome ItemOutcome
		want    bool
	}{
		{OutcomeSuccess, false},
		{OutcomeSkipped, false},
		{OutcomeBranchFailed, true},
		{OutcomeTimeout, true},
		{OutcomeError, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.outcome.Failed(), string(tt.outcome))
	}
}

func TestRunStatus_Terminal(t *testing.T) {
	assert.False(t, RunIdle.Terminal())
	assert.False(t, RunRunning.Terminal())
	assert.True(t, RunFailed.Terminal())
	assert.True(t, RunComplete.Terminal())
}

func TestReadinessReport_Healthy(t *testing.T) {
	assert.False(t, ReadinessReport{}.Healthy(), "empty report must not pass")

	report := ReadinessReport{Checks: []CheckResult{
		{Name: "github", Healthy: true},
		{Name: "git", Healthy: true},
	}}
	assert.True(t, report.Healthy())
	assert.Empty(t, report.Unhealthy())

	report.Checks = append(report.Checks, CheckResult{Name: "branch", Healthy: false, Message: "Could not determine branch"})
	assert.False(t, report.Healthy())
	assert.Equal(t, "branch", report.Unhealthy()[0].Name)
}

func TestWorkItem(t *testing.T) {
	item := &WorkItem{Number: 42, Title: "Add retry logic", State: IssueClosed, Labels: []string{"bug"}}
	assert.True(t, item.IsClosed())
	assert.True(t, item.HasLabel("bug"))
	assert.False(t, item.HasLabel("feature"))
	assert.Equal(t, "#42 Add retry logic", item.String())
}
