// Package dock runs the read-only planning agent that turns a request into
// a validated task plan.
package dock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pengelbrecht/orch/internal/agent"
	"github.com/pengelbrecht/orch/internal/ownership"
	"github.com/pengelbrecht/orch/internal/permission"
	"github.com/pengelbrecht/orch/internal/plan"
	"github.com/pengelbrecht/orch/internal/prompt"
)

// ErrDockFailed is matched by every *Error.
var ErrDockFailed = errors.New("dock failed")

// Error reports a planner invocation that produced no usable plan.
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dock failed: %s: %v", e.Msg, e.Err)
	}
	return "dock failed: " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrDockFailed }

// ReplanContext carries the rejected attempt into the next planning call.
type ReplanContext struct {
	Previous   *plan.Plan
	Violations []permission.AgentViolations
	Attempt    int
}

// Planner invokes the dock agent.
type Planner struct {
	provider agent.Provider
	dir      *ownership.Directory
	root     string
	logger   *slog.Logger

	model      string
	timeout    time.Duration
	tools      []string
	onProgress func(string)

	mu    sync.Mutex
	usage agent.Usage
}

// Option configures a Planner.
type Option func(*Planner)

// WithModel sets the planner's model.
func WithModel(model string) Option {
	return func(p *Planner) { p.model = model }
}

// WithTimeout overrides DefaultPlannerTimeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Planner) { p.timeout = d }
}

// WithTools overrides agent.PlannerTools.
func WithTools(tools []string) Option {
	return func(p *Planner) {
		if len(tools) > 0 {
			p.tools = tools
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

// WithProgress forwards the planner's tool use summaries.
func WithProgress(fn func(string)) Option {
	return func(p *Planner) { p.onProgress = fn }
}

// New creates a Planner that runs in root, the repository's root tree.
func New(provider agent.Provider, dir *ownership.Directory, root string, opts ...Option) *Planner {
	p := &Planner{
		provider: provider,
		dir:      dir,
		root:     root,
		logger:   slog.Default(),
		timeout:  agent.DefaultPlannerTimeout,
		tools:    agent.PlannerTools,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan asks the dock agent for a plan. A non-nil replan switches to the
// replan context, which lists the previous attempt's violations. Invocation
// and extraction failures are *Error; an extracted plan that fails
// validation is returned as plan.ErrInvalidPlan.
func (p *Planner) Plan(ctx context.Context, request string, replan *ReplanContext) (*plan.Plan, error) {
	var system string
	if replan != nil {
		system = prompt.ReplanContext(p.dir, replan.Violations, replan.Attempt)
	} else {
		system = prompt.DockContext(p.dir)
	}

	out, err := p.provider.Invoke(ctx, agent.Request{
		Instruction:   request,
		SystemContext: system,
		WorkingDir:    p.root,
		Options: agent.Options{
			Timeout:      p.timeout,
			Model:        p.model,
			ReadOnly:     true,
			AllowedTools: p.tools,
			Label:        "dock",
			OnProgress:   p.onProgress,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Msg: "invoking planner", Err: err}
	}
	p.mu.Lock()
	p.usage = p.usage.Add(out.Usage)
	p.mu.Unlock()

	if out.ExitCode != 0 {
		return nil, &Error{Msg: fmt.Sprintf("exit code %d: %s", out.ExitCode, strings.TrimSpace(out.Stderr))}
	}

	result, err := plan.Extract(out.Stdout)
	if err != nil {
		if out.IsError && len(out.Errors) > 0 {
			return nil, &Error{Msg: "planner reported " + strings.Join(out.Errors, "; "), Err: err}
		}
		return nil, &Error{Msg: "could not parse plan from output", Err: err}
	}

	if err := plan.Validate(result, p.dir); err != nil {
		return nil, err
	}

	p.logger.Info("dock plan", "summary", result.Summary, "tasks", len(result.Tasks), "turns", out.Usage.Turns, "cost_usd", out.Usage.CostUSD)
	return result, nil
}

// Usage returns what every Plan call so far has spent.
func (p *Planner) Usage() agent.Usage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage
}
