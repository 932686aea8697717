package engine

import (
	"fmt"
	"time"

	"github.com/pengelbrecht/orch/internal/agent"
	"github.com/pengelbrecht/orch/internal/budget"
	"github.com/pengelbrecht/orch/internal/permission"
	"github.com/pengelbrecht/orch/internal/plan"
	"github.com/pengelbrecht/orch/internal/worktree"
)

// StatusKind is the outcome class of one task.
type StatusKind int

const (
	StatusSuccess StatusKind = iota
	StatusFailed
	StatusViolation
)

func (k StatusKind) String() string {
	switch k {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	default:
		return "permission_violation"
	}
}

// Status is a task outcome. Message is set for StatusFailed and Violations
// for StatusViolation.
type Status struct {
	Kind       StatusKind
	Message    string
	Violations []permission.Violation
}

func (s Status) String() string {
	switch s.Kind {
	case StatusFailed:
		return "failed: " + s.Message
	case StatusViolation:
		return fmt.Sprintf("permission violation (%d files)", len(s.Violations))
	default:
		return "success"
	}
}

// Failed returns a StatusFailed with msg.
func Failed(msg string) Status { return Status{Kind: StatusFailed, Message: msg} }

// AgentResult is what one delegated task produced.
type AgentResult struct {
	Agent         string
	TaskIndex     int
	Status        Status
	FilesModified []string
	Stdout        string
	Stderr        string
	Usage         agent.Usage
	Duration      time.Duration
}

// AttemptResult is the outcome of executing one plan.
type AttemptResult struct {
	Results         []AgentResult
	Violations      []permission.AgentViolations
	Merged          bool
	CleanupWarnings []worktree.CleanupWarning
}

// Failed returns the first result with StatusFailed.
func (a *AttemptResult) Failed() (AgentResult, bool) {
	for _, r := range a.Results {
		if r.Status.Kind == StatusFailed {
			return r, true
		}
	}
	return AgentResult{}, false
}

// RunResult is the outcome of a full run. Plan, Results and Violations
// describe the last attempt.
type RunResult struct {
	RunID           string
	Plan            *plan.Plan
	Results         []AgentResult
	Merged          bool
	Violations      []permission.AgentViolations
	Attempts        int
	CleanupWarnings []worktree.CleanupWarning
	Usage           agent.Usage
	Duration        time.Duration

	// Budget is the headroom left under the run's limits.
	Budget budget.Remaining
}

// Err explains a run that did not merge. It is nil for a merged run.
func (r *RunResult) Err() error {
	if r.Merged {
		return nil
	}
	if len(r.Violations) > 0 {
		return &Error{Kind: ReplanExhausted, Msg: fmt.Sprintf("permission violations remain after %d attempts", r.Attempts)}
	}
	for _, res := range r.Results {
		if res.Status.Kind == StatusFailed {
			return agentFailed(res.Agent, res.Status.Message, nil)
		}
	}
	return nil
}

func (r *RunResult) apply(p *plan.Plan, att *AttemptResult) {
	r.Plan = p
	r.Results = att.Results
	r.Merged = att.Merged
	r.Violations = att.Violations
	r.CleanupWarnings = append(r.CleanupWarnings, att.CleanupWarnings...)
}
