// Package verify runs the preflight checks that gate the start of a run.
package verify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Checker is one preflight check.
type Checker interface {
	// Name returns a short label, e.g. "clean-tree".
	Name() string

	// Check inspects the environment. Passed=false blocks the run.
	Check(ctx context.Context) *Result
}

// Result contains the outcome of one check.
type Result struct {
	// Check is the name of the checker.
	Check string

	// Passed indicates whether the check passed.
	Passed bool

	// Output is what the user needs to fix, or a short confirmation.
	Output string

	// Duration is how long the check took.
	Duration time.Duration

	// Error holds the underlying error when the check could not run.
	Error error
}

// String returns a human-readable representation of the result.
func (r *Result) String() string {
	status := "PASS"
	if !r.Passed {
		status = "FAIL"
	}
	return fmt.Sprintf("[%s] %s (%v)", status, r.Check, r.Duration.Round(time.Millisecond))
}

// Results aggregates check results.
type Results struct {
	Results   []*Result
	AllPassed bool
}

// NewResults creates a Results and computes AllPassed.
func NewResults(results []*Result) *Results {
	allPassed := true
	for _, r := range results {
		if !r.Passed {
			allPassed = false
			break
		}
	}
	return &Results{Results: results, AllPassed: allPassed}
}

// Run runs every non-nil check in order.
func Run(ctx context.Context, checks ...Checker) *Results {
	var results []*Result
	for _, c := range checks {
		if c == nil {
			continue
		}
		results = append(results, c.Check(ctx))
	}
	return NewResults(results)
}

// Summary returns a human-readable summary of all results.
func (r *Results) Summary() string {
	if len(r.Results) == 0 {
		return "No preflight checks run"
	}

	var sb strings.Builder
	passed := len(r.Results) - len(r.FailedResults())

	if r.AllPassed {
		sb.WriteString(fmt.Sprintf("Preflight passed (%d/%d)\n", passed, len(r.Results)))
	} else {
		sb.WriteString(fmt.Sprintf("Preflight failed (%d/%d passed)\n", passed, len(r.Results)))
	}

	for _, result := range r.Results {
		sb.WriteString(fmt.Sprintf("  %s\n", result.String()))
		if !result.Passed && result.Output != "" {
			for _, line := range strings.Split(strings.TrimSpace(result.Output), "\n") {
				sb.WriteString(fmt.Sprintf("    %s\n", line))
			}
		}
	}

	return strings.TrimSuffix(sb.String(), "\n")
}

// FailedResults returns only the results that did not pass.
func (r *Results) FailedResults() []*Result {
	var failed []*Result
	for _, result := range r.Results {
		if !result.Passed {
			failed = append(failed, result)
		}
	}
	return failed
}

// Err returns nil when every check passed and otherwise an error carrying
// the summary.
func (r *Results) Err() error {
	if r.AllPassed {
		return nil
	}
	return fmt.Errorf("%s", r.Summary())
}
