package healthcheck

import (
	"context"
	"sort"
)

const (
	// StatusOK indicates check passed.
	StatusOK = "ok"
	// StatusWarn indicates check completed with warning.
	StatusWarn = "warn"
	// StatusError indicates check failed.
	StatusError = "error"
)

// CheckResult is one runtime check item produced by a checker.
type CheckResult struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Status   string         `json:"status"`
	Summary  string         `json:"summary"`
	Detail   string         `json:"detail,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Checker evaluates one or more runtime checks.
type Checker interface {
	ListChecks(ctx context.Context) []CheckResult
}

// Report is the combined result of every checker.
type Report struct {
	Status string        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// Evaluate runs every checker and folds the results into one report. The
// report status is the worst status seen.
func Evaluate(ctx context.Context, checkers ...Checker) Report {
	report := Report{Status: StatusOK, Checks: []CheckResult{}}
	for _, checker := range checkers {
		if checker == nil {
			continue
		}
		report.Checks = append(report.Checks, checker.ListChecks(ctx)...)
	}
	sort.SliceStable(report.Checks, func(i, j int) bool {
		return report.Checks[i].ID < report.Checks[j].ID
	})
	for _, item := range report.Checks {
		if severity(item.Status) > severity(report.Status) {
			report.Status = item.Status
		}
	}
	return report
}

func severity(status string) int {
	switch status {
	case StatusOK:
		return 0
	case StatusWarn:
		return 1
	default:
		return 2
	}
}
