package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pengelbrecht/orch/internal/budget"
	"github.com/pengelbrecht/orch/internal/plan"
)

// HeadlessOutput prints engine events for non-interactive runs, either as
// [TAG] prefixed lines or as JSON Lines.
type HeadlessOutput struct {
	jsonl  bool
	writer io.Writer
	runID  string

	mu sync.Mutex
}

// NewHeadlessOutput creates a formatter that writes to stdout.
func NewHeadlessOutput(jsonl bool, runID string) *HeadlessOutput {
	return &HeadlessOutput{
		jsonl:  jsonl,
		writer: os.Stdout,
		runID:  runID,
	}
}

// SetWriter sets a custom writer (mainly for testing).
func (h *HeadlessOutput) SetWriter(w io.Writer) {
	h.writer = w
}

// Attach routes e's callbacks to h.
func (h *HeadlessOutput) Attach(e *Engine) {
	e.OnAttemptStart = h.Attempt
	e.OnPlan = h.Plan
	e.OnTaskStart = h.Task
	e.OnProgress = h.Progress
	e.OnTaskEnd = h.TaskEnd
	e.OnMerge = h.Merge
}

// Attempt outputs the start of a planning attempt.
func (h *HeadlessOutput) Attempt(attempt, max int) {
	if h.jsonl {
		h.writeJSON(map[string]any{"type": "attempt", "attempt": attempt, "max": max})
		return
	}
	h.printf("[ATTEMPT] %d/%d\n", attempt, max)
}

// Plan outputs the plan of an attempt.
func (h *HeadlessOutput) Plan(attempt int, p *plan.Plan) {
	if h.jsonl {
		h.writeJSON(map[string]any{"type": "plan", "attempt": attempt, "summary": p.Summary, "tasks": p.Tasks})
		return
	}
	h.printf("[PLAN] %s (%d tasks)\n", p.Summary, len(p.Tasks))
	for i, t := range p.Tasks {
		h.printf("[PLAN]   %d. %s: %s\n", i, t.Agent, oneLine(t.Instruction, 100))
	}
}

// Task outputs the start of a task.
func (h *HeadlessOutput) Task(index int, task plan.Task) {
	if h.jsonl {
		h.writeJSON(map[string]any{"type": "task", "index": index, "agent": task.Agent})
		return
	}
	h.printf("[TASK] %d %s\n", index, task.Agent)
}

// Progress outputs one line of agent tool use.
func (h *HeadlessOutput) Progress(agent, line string) {
	if h.jsonl {
		h.writeJSON(map[string]any{"type": "progress", "agent": agent, "text": line})
		return
	}
	h.printf("  [%s] %s\n", agent, line)
}

// TaskEnd outputs a task's outcome.
func (h *HeadlessOutput) TaskEnd(r *AgentResult) {
	if h.jsonl {
		data := map[string]any{
			"type":        "task_end",
			"index":       r.TaskIndex,
			"agent":       r.Agent,
			"status":      r.Status.Kind.String(),
			"files":       r.FilesModified,
			"duration_ms": r.Duration.Milliseconds(),
			"cost_usd":    r.Usage.CostUSD,
		}
		if r.Status.Message != "" {
			data["message"] = r.Status.Message
		}
		if len(r.Status.Violations) > 0 {
			data["violations"] = r.Status.Violations
		}
		h.writeJSON(data)
		return
	}
	h.printf("[TASK_END] %d %s - %s, %d files\n", r.TaskIndex, r.Agent, r.Status, len(r.FilesModified))
	for _, v := range r.Status.Violations {
		h.printf("[VIOLATION] %s\n", v.Reason)
	}
}

// Merge outputs a merge into the root tree.
func (h *HeadlessOutput) Merge(agent string, err error) {
	if h.jsonl {
		data := map[string]any{"type": "merge", "agent": agent, "ok": err == nil}
		if err != nil {
			data["error"] = err.Error()
		}
		h.writeJSON(data)
		return
	}
	if err != nil {
		h.printf("[MERGE] %s - failed: %v\n", agent, err)
		return
	}
	h.printf("[MERGE] %s\n", agent)
}

// Error outputs an error message.
func (h *HeadlessOutput) Error(err error) {
	if h.jsonl {
		h.writeJSON(map[string]any{"type": "error", "error": err.Error()})
		return
	}
	h.printf("\n[ERROR] %s\n", err.Error())
}

// Complete outputs the final summary.
func (h *HeadlessOutput) Complete(result *RunResult) {
	if h.jsonl {
		data := map[string]any{
			"type":         "complete",
			"run_id":       result.RunID,
			"merged":       result.Merged,
			"attempts":     result.Attempts,
			"duration_ms":  result.Duration.Milliseconds(),
			"total_cost":   result.Usage.CostUSD,
			"total_tokens": result.Usage.TotalTokens(),
		}
		if len(result.Violations) > 0 {
			data["violations"] = result.Violations
		}
		if left := budgetLeft(result.Budget); len(left) > 0 {
			data["budget_remaining"] = left
		}
		if err := result.Err(); err != nil {
			data["exit_reason"] = err.Error()
		}
		h.writeJSON(data)
		return
	}
	outcome := "merged"
	if !result.Merged {
		outcome = "rejected"
	}
	h.printf("[COMPLETE] Run %s %s\n", result.RunID, outcome)
	h.printf("[COMPLETE] %d attempts, %v, $%.4f\n", result.Attempts, result.Duration.Round(1000000000), result.Usage.CostUSD)
	h.printf("[COMPLETE] Tokens: %d\n", result.Usage.TotalTokens())
	if left := budgetLeft(result.Budget); len(left) > 0 {
		parts := make([]string, 0, len(left))
		for _, k := range []string{"invocations", "tokens", "cost_usd", "duration_ms"} {
			if v, ok := left[k]; ok {
				parts = append(parts, fmt.Sprintf("%s=%v", k, v))
			}
		}
		h.printf("[COMPLETE] Budget left: %s\n", strings.Join(parts, " "))
	}
	if err := result.Err(); err != nil {
		h.printf("[COMPLETE] Exit: %s\n", err)
	}
}

// Interrupted outputs when run is interrupted.
func (h *HeadlessOutput) Interrupted() {
	if h.jsonl {
		h.writeJSON(map[string]any{"type": "interrupted"})
		return
	}
	h.printf("\n[INTERRUPTED] Run interrupted by user\n")
}

func (h *HeadlessOutput) printf(format string, args ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(h.writer, format, args...)
}

// writeJSON writes a JSON object as a single line.
func (h *HeadlessOutput) writeJSON(data map[string]any) {
	if h.runID != "" {
		data["run_id"] = h.runID
	}
	b, err := json.Marshal(data)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintln(h.writer, string(b))
}

// budgetLeft keeps the limited entries of r; unlimited ones are -1.
func budgetLeft(r budget.Remaining) map[string]any {
	left := make(map[string]any)
	if r.Invocations >= 0 {
		left["invocations"] = r.Invocations
	}
	if r.Tokens >= 0 {
		left["tokens"] = r.Tokens
	}
	if r.Cost >= 0 {
		left["cost_usd"] = r.Cost
	}
	if r.Duration >= 0 {
		left["duration_ms"] = r.Duration.Milliseconds()
	}
	return left
}

func oneLine(s string, max int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' || c == '\r' {
			r[i] = ' '
		}
	}
	if len(r) > max {
		return string(r[:max-3]) + "..."
	}
	return string(r)
}
