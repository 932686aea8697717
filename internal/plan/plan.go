// Package plan defines the task graph produced by the planner and the rules
// it must satisfy before anything runs.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Task is one unit of delegated work.
type Task struct {
	Agent       string   `json:"agent"`
	Instruction string   `json:"instruction"`
	FocusFiles  []string `json:"focus_files,omitempty"`
	DependsOn   []int    `json:"depends_on,omitempty"`

	// Model overrides the run's model for this task.
	Model string `json:"model,omitempty"`
}

// Plan is the planner's output: a summary and an ordered task list.
type Plan struct {
	Summary string `json:"summary"`
	Tasks   []Task `json:"tasks"`
}

// ErrInvalidPlan is matched by every *InvalidError.
var ErrInvalidPlan = errors.New("invalid plan")

// InvalidError reports a plan that failed validation. Index is -1 when the
// problem is not tied to one task.
type InvalidError struct {
	Index  int
	Reason string
}

func (e *InvalidError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid plan: %s", e.Reason)
	}
	return fmt.Sprintf("invalid plan: task %d: %s", e.Index, e.Reason)
}

func (e *InvalidError) Is(target error) bool { return target == ErrInvalidPlan }

func invalidf(index int, format string, args ...any) error {
	return &InvalidError{Index: index, Reason: fmt.Sprintf(format, args...)}
}

// JSON returns the plan as indented JSON.
func (p *Plan) JSON() string {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Markdown renders the plan as a markdown document.
func (p *Plan) Markdown() string {
	var b strings.Builder
	b.WriteString("# Plan\n\n")
	if p.Summary != "" {
		b.WriteString(p.Summary)
		b.WriteString("\n\n")
	}
	for i, t := range p.Tasks {
		fmt.Fprintf(&b, "## %d. `%s`\n\n", i, t.Agent)
		b.WriteString(t.Instruction)
		b.WriteString("\n\n")
		if len(t.FocusFiles) > 0 {
			b.WriteString("**Focus files:**\n\n")
			for _, f := range t.FocusFiles {
				fmt.Fprintf(&b, "- `%s`\n", f)
			}
			b.WriteString("\n")
		}
		if len(t.DependsOn) > 0 {
			deps := make([]string, len(t.DependsOn))
			for j, d := range t.DependsOn {
				deps[j] = fmt.Sprint(d)
			}
			fmt.Fprintf(&b, "**Depends on:** %s\n\n", strings.Join(deps, ", "))
		}
		if t.Model != "" {
			fmt.Fprintf(&b, "**Model:** `%s`\n\n", t.Model)
		}
	}
	return b.String()
}
