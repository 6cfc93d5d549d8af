package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/hochfrequenz/sprint-orch/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205"))

	ruleStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	failStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	skipStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	warnStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))
)

const ruleWidth = 60

// Summary renders the end-of-run overview printed by the CLI
func Summary(snap domain.RunSnapshot) string {
	var b strings.Builder
	rule := ruleStyle.Render(strings.Repeat("═", ruleWidth))

	title := "SPRINT COMPLETE"
	if snap.Status == domain.RunFailed {
		title = "SPRINT FAILED"
	}

	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "  "+titleStyle.Render(title))
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "  Duration: %s\n", FormatDuration(snap.Duration()))
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "  Issues Processed: %d/%d\n", len(snap.Processed), len(snap.Selected))
	fmt.Fprintf(&b, "  PRs Created: %d\n", len(snap.ReviewRequests))
	if snap.Metrics.RetryCount > 0 {
		fmt.Fprintf(&b, "  Retries: %d\n", snap.Metrics.RetryCount)
	}

	if len(snap.ReviewRequests)+len(snap.Failed)+len(snap.Skipped)+len(snap.FetchFailed) > 0 {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "  Results:")
	}
	for _, rr := range snap.ReviewRequests {
		fmt.Fprintf(&b, "    %s #%d → PR #%d\n", okStyle.Render("✓"), rr.Issue, rr.Number)
	}
	for _, f := range snap.Failed {
		fmt.Fprintf(&b, "    %s #%d: %s\n", failStyle.Render("✗"), f.Number, f.Reason)
	}
	for _, s := range snap.Skipped {
		fmt.Fprintf(&b, "    %s #%d: %s\n", skipStyle.Render("-"), s.Number, s.Reason)
	}
	for _, f := range snap.FetchFailed {
		fmt.Fprintf(&b, "    %s #%d: fetch failed: %s\n", warnStyle.Render("!"), f.Number, f.Reason)
	}

	fmt.Fprintln(&b)
	fmt.Fprintln(&b, rule)
	return b.String()
}

// Readiness renders the pre-flight check results
func Readiness(r domain.ReadinessReport) string {
	var b strings.Builder
	fmt.Fprintln(&b, titleStyle.Render("SPRINT HEALTH CHECK"))
	fmt.Fprintln(&b)
	for _, c := range r.Checks {
		icon := okStyle.Render("✓")
		if !c.Healthy {
			icon = failStyle.Render("✗")
		}
		fmt.Fprintf(&b, "%s %s: %s\n", icon, c.Name, c.Message)
	}
	fmt.Fprintln(&b)
	if r.Healthy() {
		fmt.Fprintf(&b, "Overall: %s\n", okStyle.Render("Ready"))
	} else {
		fmt.Fprintf(&b, "Overall: %s\n", failStyle.Render("Issues detected"))
	}
	return b.String()
}

// FormatDuration renders d in words ("3 minutes"); anything below a second is "under a second"
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "under a second"
	}
	var zero time.Time
	return strings.TrimSpace(humanize.RelTime(zero, zero.Add(d), "", ""))
}
