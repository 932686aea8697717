// Package engine runs the plan, delegate, validate, merge loop: a plan is
// obtained from the planner, each task runs in its own worktree, every diff
// is checked against the ownership directory, and only clean attempts reach
// the root tree.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/pengelbrecht/orch/internal/agent"
	"github.com/pengelbrecht/orch/internal/budget"
	"github.com/pengelbrecht/orch/internal/dock"
	"github.com/pengelbrecht/orch/internal/metrics"
	"github.com/pengelbrecht/orch/internal/ownership"
	"github.com/pengelbrecht/orch/internal/permission"
	"github.com/pengelbrecht/orch/internal/plan"
	"github.com/pengelbrecht/orch/internal/prompt"
	"github.com/pengelbrecht/orch/internal/sidecar"
	"github.com/pengelbrecht/orch/internal/worktree"
)

// Planner produces a validated plan for a request.
type Planner interface {
	Plan(ctx context.Context, request string, replan *dock.ReplanContext) (*plan.Plan, error)
	Usage() agent.Usage
}

// MergePolicy decides when successful worktrees reach the root tree.
type MergePolicy int

const (
	// AllOrNothing merges every successful worktree only after a clean attempt.
	AllOrNothing MergePolicy = iota
	// Incremental merges each worktree as soon as its task succeeds.
	Incremental
)

func (p MergePolicy) String() string {
	if p == Incremental {
		return "incremental"
	}
	return "all-or-nothing"
}

// ParseMergePolicy accepts "all-or-nothing" and "incremental".
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all-or-nothing", "all_or_nothing", "allornothing":
		return AllOrNothing, nil
	case "incremental":
		return Incremental, nil
	}
	return AllOrNothing, fmt.Errorf("unknown merge policy %q", s)
}

// Defaults for RunConfig.
const (
	DefaultMaxReplanAttempts = 2
)

// TaskOptions applies to every task of a run.
type TaskOptions struct {
	// Model is the default model. A task's own Model overrides it.
	Model string

	// AgentTimeout bounds each task (0 = agent.DefaultAgentTimeout).
	AgentTimeout time.Duration

	// MaxBudgetUSD caps each task's spend (0 = no cap).
	MaxBudgetUSD float64

	// Tools is the agent tool allowlist (nil = agent.AgentTools).
	Tools []string
}

// RunConfig configures Run.
type RunConfig struct {
	TaskOptions

	// Request is the user's natural-language request.
	Request string

	// RunID tags worktrees and branches (empty = new uuid).
	RunID string

	// MaxReplanAttempts bounds replans after violations (0 = 2 default,
	// negative = no replanning).
	MaxReplanAttempts int

	MergePolicy MergePolicy

	// Limits caps the whole run, planner included.
	Limits budget.Limits
}

// ExecOptions configures ExecutePlan.
type ExecOptions struct {
	TaskOptions

	Policy MergePolicy

	// ContinueOnFailure runs every task even after one fails or violates.
	ContinueOnFailure bool

	Limits budget.Limits
}

// Engine runs plans against a repository.
type Engine struct {
	provider  agent.Provider
	workspace *worktree.Manager
	planner   Planner
	dir       *ownership.Directory
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	sidecars  sidecar.Store

	// Callbacks for live output (optional). They are called from the
	// goroutine running Run, except OnProgress which the provider may call
	// from its reader goroutine.
	OnAttemptStart func(attempt, maxAttempts int)
	OnPlan         func(attempt int, p *plan.Plan)
	OnTaskStart    func(index int, task plan.Task)
	OnTaskEnd      func(result *AgentResult)
	OnProgress     func(agent, line string)
	OnMerge        func(agent string, err error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics records run activity in m.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithTracer starts run and task spans from t.
func WithTracer(t trace.Tracer) Option { return func(e *Engine) { e.tracer = t } }

// WithSidecarStore sets how sidecars are decoded when listing pending
// change requests for subsystem agents.
func WithSidecarStore(s sidecar.Store) Option { return func(e *Engine) { e.sidecars = s } }

// New creates an Engine. planner may be nil when only ExecutePlan is used.
func New(provider agent.Provider, ws *worktree.Manager, planner Planner, dir *ownership.Directory, opts ...Option) *Engine {
	e := &Engine{
		provider:  provider,
		workspace: ws,
		planner:   planner,
		dir:       dir,
		logger:    slog.Default(),
		tracer:    noop.NewTracerProvider().Tracer("orch"),
		sidecars:  sidecar.YAMLStore{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run plans and executes request, replanning after permission violations.
// The returned error is set for planner failures, invalid plans, worktree
// failures and cancellation. A run that ends with violations or a failed
// task returns a RunResult whose Err method describes it.
func (e *Engine) Run(ctx context.Context, cfg RunConfig) (*RunResult, error) {
	if e.planner == nil {
		return nil, errors.New("engine has no planner")
	}
	switch {
	case cfg.MaxReplanAttempts == 0:
		cfg.MaxReplanAttempts = DefaultMaxReplanAttempts
	case cfg.MaxReplanAttempts < 0:
		cfg.MaxReplanAttempts = 0
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	ctx, span := e.tracer.Start(ctx, "orch.run", trace.WithAttributes(
		attribute.String("orch.run_id", cfg.RunID),
		attribute.String("orch.merge_policy", cfg.MergePolicy.String()),
	))
	defer span.End()

	start := time.Now()
	tracker := budget.NewTracker(cfg.Limits)
	result := &RunResult{RunID: cfg.RunID}
	taskUsage := agent.Usage{}
	plannerBase := e.planner.Usage()

	finish := func(err error) (*RunResult, error) {
		result.Usage = taskUsage.Add(e.planner.Usage())
		result.Usage = subtractUsage(result.Usage, plannerBase)
		result.Duration = time.Since(start)
		result.Budget = tracker.Remaining()
		outcome := "merged"
		switch {
		case err != nil:
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case !result.Merged:
			outcome = "rejected"
		}
		e.metrics.RunFinished("run", outcome)
		span.SetAttributes(attribute.Int("orch.attempts", result.Attempts), attribute.Bool("orch.merged", result.Merged))
		return result, err
	}

	var replan *dock.ReplanContext
	maxAttempts := cfg.MaxReplanAttempts + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		result.Attempts = attempt + 1
		e.metrics.AttemptStarted()
		if e.OnAttemptStart != nil {
			e.OnAttemptStart(attempt+1, maxAttempts)
		}
		e.logger.Info("attempt", "run_id", cfg.RunID, "attempt", attempt+1, "of", maxAttempts)

		before := e.planner.Usage()
		p, err := e.planner.Plan(ctx, cfg.Request, replan)
		spent := subtractUsage(e.planner.Usage(), before)
		tracker.Add(spent.InputTokens, spent.OutputTokens, spent.CostUSD)
		e.metrics.Spend(spent.InputTokens, spent.OutputTokens, spent.CostUSD)
		if err != nil {
			e.logger.Error("planning failed", "attempt", attempt+1, "error", err)
			return finish(err)
		}
		if e.OnPlan != nil {
			e.OnPlan(attempt+1, p)
		}
		e.logger.Info("plan", "summary", p.Summary, "tasks", len(p.Tasks))

		att, err := e.execute(ctx, cfg.RunID, p, ExecOptions{
			TaskOptions: cfg.TaskOptions,
			Policy:      cfg.MergePolicy,
		}, tracker)
		if att != nil {
			result.apply(p, att)
			for _, r := range att.Results {
				taskUsage = taskUsage.Add(r.Usage)
			}
		}
		if err != nil {
			return finish(err)
		}

		if att.Merged {
			e.logger.Info("run merged", "run_id", cfg.RunID, "tasks", len(att.Results))
			return finish(nil)
		}
		if len(att.Violations) == 0 {
			if r, ok := att.Failed(); ok {
				e.logger.Warn("run rejected", "agent", r.Agent, "reason", r.Status.Message)
			}
			return finish(nil)
		}

		e.logger.Warn("run rejected for permission violations", "attempt", attempt+1, "agents", len(att.Violations))
		replan = &dock.ReplanContext{Previous: p, Violations: att.Violations, Attempt: attempt + 1}
	}

	return finish(nil)
}

// ExecutePlan runs a prebuilt plan without planning or replanning. The
// returned attempt is non-nil whenever any task ran.
func (e *Engine) ExecutePlan(ctx context.Context, runID string, p *plan.Plan, opts ExecOptions) (*AttemptResult, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx, span := e.tracer.Start(ctx, "orch.execute", trace.WithAttributes(attribute.String("orch.run_id", runID)))
	defer span.End()

	att, err := e.execute(ctx, runID, p, opts, budget.NewTracker(opts.Limits))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return att, err
}

// execute runs one attempt of p and always cleans up the run's worktrees.
func (e *Engine) execute(ctx context.Context, runID string, p *plan.Plan, opts ExecOptions, tracker *budget.Tracker) (att *AttemptResult, err error) {
	order, err := plan.Order(p)
	if err != nil {
		return nil, err
	}

	att = &AttemptResult{}
	defer func() {
		att.CleanupWarnings = e.workspace.CleanupRun(context.WithoutCancel(ctx), runID)
	}()

	failed := false
	for _, idx := range order {
		if err := ctx.Err(); err != nil {
			return att, err
		}
		task := p.Tasks[idx]

		if stop, reason := tracker.ShouldStop(); stop {
			e.logger.Warn("budget exhausted, not starting task", "task", idx, "agent", task.Agent, "reason", reason)
			r := AgentResult{Agent: task.Agent, TaskIndex: idx, Status: Failed("budget exhausted: " + reason)}
			att.Results = append(att.Results, r)
			if e.OnTaskEnd != nil {
				e.OnTaskEnd(&r)
			}
			failed = true
			break
		}

		wt, err := e.workspace.Create(ctx, task.Agent, runID)
		if err != nil {
			return att, err
		}

		if e.OnTaskStart != nil {
			e.OnTaskStart(idx, task)
		}
		r, err := e.runTask(ctx, idx, task, wt, opts.TaskOptions)
		if err != nil {
			return att, err
		}
		tracker.Add(r.Usage.InputTokens, r.Usage.OutputTokens, r.Usage.CostUSD)
		e.metrics.Spend(r.Usage.InputTokens, r.Usage.OutputTokens, r.Usage.CostUSD)
		e.metrics.TaskFinished(r.Agent, r.Status.Kind.String(), r.Duration, len(r.Status.Violations))
		att.Results = append(att.Results, *r)
		if e.OnTaskEnd != nil {
			e.OnTaskEnd(r)
		}

		switch r.Status.Kind {
		case StatusSuccess:
			e.logger.Info("task succeeded", "task", idx, "agent", r.Agent, "files", len(r.FilesModified))
			if opts.Policy == Incremental {
				if err := e.merge(ctx, wt); err != nil {
					return att, err
				}
			}
		case StatusFailed:
			e.logger.Warn("task failed", "task", idx, "agent", r.Agent, "reason", r.Status.Message)
			failed = true
		case StatusViolation:
			e.logger.Warn("task violated permissions", "task", idx, "agent", r.Agent, "files", len(r.Status.Violations))
			att.Violations = append(att.Violations, permission.AgentViolations{Agent: r.Agent, Violations: r.Status.Violations})
			failed = true
		}

		if failed && !opts.ContinueOnFailure {
			break
		}
	}

	if failed {
		return att, nil
	}

	if opts.Policy == AllOrNothing {
		merged := make(map[string]bool)
		for _, r := range att.Results {
			wt, err := e.workspace.Get(runID, r.Agent)
			if err != nil || merged[wt.Path] {
				continue
			}
			merged[wt.Path] = true
			if err := e.merge(ctx, wt); err != nil {
				return att, err
			}
		}
	}
	att.Merged = true
	return att, nil
}

func (e *Engine) merge(ctx context.Context, wt *worktree.Worktree) error {
	err := e.workspace.Merge(ctx, wt)
	e.metrics.Merge(err == nil)
	if e.OnMerge != nil {
		e.OnMerge(wt.Agent, err)
	}
	if err != nil {
		e.logger.Error("merge failed", "agent", wt.Agent, "branch", wt.Branch, "error", err)
		return err
	}
	e.logger.Info("merged", "agent", wt.Agent, "branch", wt.Branch)
	return nil
}

// runTask runs one task in wt and classifies the result. Provider failures
// become StatusFailed; only an unregistered agent or a git failure while
// inspecting the worktree is returned as an error.
func (e *Engine) runTask(ctx context.Context, idx int, task plan.Task, wt *worktree.Worktree, opts TaskOptions) (*AgentResult, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "orch.task", trace.WithAttributes(
		attribute.String("orch.agent", task.Agent),
		attribute.Int("orch.task_index", idx),
	))
	defer span.End()

	role, ok := e.dir.RoleOf(task.Agent)
	if !ok {
		return nil, agentFailed(task.Agent, "agent is not registered in the ownership directory", nil)
	}

	var system string
	if role == ownership.RoleSkimsystem {
		system = prompt.SkimsystemContext(e.dir, task.Agent, task)
	} else {
		system = prompt.SubsystemContext(e.dir, task.Agent, task, e.pendingFor(task.Agent))
	}

	model := opts.Model
	if task.Model != "" {
		model = task.Model
	}
	tools := opts.Tools
	if len(tools) == 0 {
		tools = agent.AgentTools
	}

	out, err := e.provider.Invoke(ctx, agent.Request{
		Instruction:   task.Instruction,
		SystemContext: system,
		WorkingDir:    wt.Path,
		Options: agent.Options{
			Timeout:      opts.AgentTimeout,
			Model:        model,
			AllowedTools: tools,
			MaxBudgetUSD: opts.MaxBudgetUSD,
			Label:        task.Agent,
			OnProgress: func(line string) {
				if e.OnProgress != nil {
					e.OnProgress(task.Agent, line)
				}
			},
		},
	})

	res := &AgentResult{Agent: task.Agent, TaskIndex: idx}
	var te *agent.TimeoutError
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.As(err, &te):
		res.Status = Failed(err.Error())
		out = te.Partial
	case err != nil:
		res.Status = Failed(err.Error())
	case out.ExitCode != 0:
		res.Status = Failed(exitMessage(out))
	case out.IsError:
		res.Status = Failed("agent reported an error: " + strings.Join(out.Errors, "; "))
	default:
		if sig, reason := ParseSignals(out.Stdout); sig != SignalNone {
			res.Status = Failed(fmt.Sprintf("agent %s: %s", strings.ToLower(sig.String()), reason))
		}
	}
	if out != nil {
		res.Stdout = out.Stdout
		res.Stderr = out.Stderr
		res.Usage = out.Usage
	}

	if _, err := e.workspace.AutoCommit(ctx, wt); err != nil {
		return nil, agentFailed(task.Agent, "auto-commit failed", err)
	}
	entries, err := e.workspace.InspectDiff(ctx, wt)
	if err != nil {
		return nil, agentFailed(task.Agent, "diff inspection failed", err)
	}
	res.FilesModified = worktree.Paths(entries)

	// A diff outside the boundary is reported even when the agent also
	// failed; only violations are eligible for a replan.
	if v := permission.Check(task.Agent, role, entries, e.dir); len(v) > 0 {
		res.Status = Status{Kind: StatusViolation, Violations: v}
	}

	res.Duration = time.Since(start)
	span.SetAttributes(attribute.String("orch.status", res.Status.Kind.String()), attribute.Int("orch.files", len(res.FilesModified)))
	if res.Status.Kind != StatusSuccess {
		span.SetStatus(codes.Error, res.Status.String())
	}
	return res, nil
}

// pendingFor lists open change requests against files agent owns.
func (e *Engine) pendingFor(agentName string) []prompt.PendingGroup {
	root := e.workspace.RepoRoot()
	var skip []string
	if rel, err := filepath.Rel(root, e.workspace.Dir()); err == nil && !strings.HasPrefix(rel, "..") {
		skip = append(skip, filepath.ToSlash(rel))
	}
	entries, problems, err := sidecar.Scan(root, e.dir.SidecarSuffix(), e.sidecars, skip...)
	if err != nil {
		e.logger.Debug("sidecar scan failed", "error", err)
		return nil
	}
	for _, p := range problems {
		e.logger.Debug("unreadable sidecar", "path", p.Path, "error", p.Err)
	}

	globs := e.dir.Globs(agentName)
	var groups []prompt.PendingGroup
	for _, entry := range entries {
		if !ownership.MatchAny(globs, entry.Source) {
			continue
		}
		if pending := entry.File.Pending(""); len(pending) > 0 {
			groups = append(groups, prompt.PendingGroup{Sidecar: entry.Path, Source: entry.Source, Requests: pending})
		}
	}
	return groups
}

func exitMessage(out *agent.Output) string {
	msg := fmt.Sprintf("exit code %d", out.ExitCode)
	if s := strings.TrimSpace(out.Stderr); s != "" {
		const max = 500
		if len(s) > max {
			s = "..." + s[len(s)-max:]
		}
		msg += ": " + s
	}
	return msg
}

func subtractUsage(a, b agent.Usage) agent.Usage {
	return agent.Usage{
		InputTokens:  a.InputTokens - b.InputTokens,
		OutputTokens: a.OutputTokens - b.OutputTokens,
		Turns:        a.Turns - b.Turns,
		CostUSD:      a.CostUSD - b.CostUSD,
	}
}
