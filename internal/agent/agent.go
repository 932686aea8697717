package agent

import (
	"context"
	"math"
	"time"
)

// Default invocation limits.
const (
	DefaultAgentTimeout   = 300 * time.Second
	DefaultPlannerTimeout = 120 * time.Second
	DefaultMaxTurns       = 50

	// costPerTurn converts a USD budget into a turn cap.
	costPerTurn = 0.05

	// pollInterval is how often the invoker checks the child for completion or timeout.
	pollInterval = 200 * time.Millisecond
)

// Tool allowlists passed to the external agent CLI.
var (
	AgentTools   = []string{"Bash", "Edit", "Read", "Write", "Grep", "Glob"}
	PlannerTools = []string{"Read", "Grep", "Glob", "Bash"}
)

// Provider runs one instruction in one working directory through an
// external agent CLI.
type Provider interface {
	// Name returns the provider's display name.
	Name() string

	// Available checks if the provider's CLI is installed and accessible.
	Available() bool

	// Invoke runs the external process to completion or timeout.
	Invoke(ctx context.Context, req Request) (*Output, error)
}

// Request is one unit of work for a Provider.
type Request struct {
	// Instruction is the task text given to the agent.
	Instruction string

	// SystemContext frames the agent: ownership, boundaries, output format.
	SystemContext string

	// WorkingDir is where the process runs, normally a worktree.
	WorkingDir string

	Options Options
}

// Options configures a single invocation.
type Options struct {
	// Timeout bounds wall-clock time. Zero uses DefaultAgentTimeout.
	Timeout time.Duration

	// Model selects the model, and through the Router, the provider.
	Model string

	// ReadOnly disables every write capability of the agent.
	ReadOnly bool

	// AllowedTools is the tool allowlist passed to the CLI.
	AllowedTools []string

	// MaxBudgetUSD caps spend for this invocation. Zero means no cap.
	MaxBudgetUSD float64

	// MaxTurns caps agent turns. Zero derives it from MaxBudgetUSD.
	MaxTurns int

	// Label names the invocation in logs and progress lines.
	Label string

	// OnProgress receives one-line summaries of agent tool use.
	OnProgress func(line string)
}

// Usage holds counters reported by the agent's event stream.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Turns        int
	CostUSD      float64
}

// Add returns the sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		Turns:        u.Turns + o.Turns,
		CostUSD:      u.CostUSD + o.CostUSD,
	}
}

// TotalTokens returns input plus output tokens.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// Output is the normalized result of an invocation.
type Output struct {
	// Stdout is the agent's final text, not the raw event stream.
	Stdout string

	// Stderr is everything the process wrote to stderr.
	Stderr string

	ExitCode int
	Usage    Usage
	Duration time.Duration

	// IsError is set when the stream's terminal event reported failure.
	IsError bool

	// Errors holds error messages reported inside the event stream.
	Errors []string
}

// Success reports whether the process exited cleanly and the stream did not
// end in an error.
func (o *Output) Success() bool {
	return o.ExitCode == 0 && !o.IsError
}

// MaxTurnsForBudget converts a USD budget into a turn cap.
func MaxTurnsForBudget(budgetUSD float64) int {
	if budgetUSD <= 0 {
		return DefaultMaxTurns
	}
	turns := int(math.Ceil(budgetUSD / costPerTurn))
	if turns < 1 {
		turns = 1
	}
	return turns
}

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DefaultAgentTimeout
}

func (o Options) maxTurns() int {
	if o.MaxTurns > 0 {
		return o.MaxTurns
	}
	return MaxTurnsForBudget(o.MaxBudgetUSD)
}
