package domain

// CheckResult is the outcome of a single readiness probe
type CheckResult struct {
	Name    string
	Healthy bool
	Message string
}

// ReadinessReport aggregates all readiness probes of a run.
// It is never persisted.
type ReadinessReport struct {
	Checks []CheckResult
}

// Healthy is the logical AND of all checks. An empty report is not healthy.
func (r ReadinessReport) Healthy() bool {
	if len(r.Checks) == 0 {
		return false
	}
	for _, c := range r.Checks {
		if !c.Healthy {
			return false
		}
	}
	return true
}

// Unhealthy returns the failing checks in report order
func (r ReadinessReport) Unhealthy() []CheckResult {
	var out []CheckResult
	for _, c := range r.Checks {
		if !c.Healthy {
			out = append(out, c)
		}
	}
	return out
}
