// Package skim runs the change-request lifecycle of a skimsystem: an
// integration step writes change requests into sidecars, each subsystem
// owner is handed the requests against its files, and the results merge
// only if every owner stayed clean.
package skim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/pengelbrecht/orch/internal/engine"
	"github.com/pengelbrecht/orch/internal/metrics"
	"github.com/pengelbrecht/orch/internal/ownership"
	"github.com/pengelbrecht/orch/internal/permission"
	"github.com/pengelbrecht/orch/internal/plan"
	"github.com/pengelbrecht/orch/internal/prompt"
	"github.com/pengelbrecht/orch/internal/sidecar"
	"github.com/pengelbrecht/orch/internal/worktree"
)

// Result is the outcome of one lifecycle run.
type Result struct {
	RunID             string
	Skimsystem        string
	IntegrationOutput string
	Packets           []WorkPacket
	Results           []engine.AgentResult
	Merged            bool
	Violations        []permission.AgentViolations
	CleanupWarnings   []worktree.CleanupWarning
}

// Lifecycle wires the integration runner, the sidecar scan and the engine.
type Lifecycle struct {
	engine    *engine.Engine
	dir       *ownership.Directory
	workspace *worktree.Manager
	runner    IntegrationRunner
	sidecars  sidecar.Store
	logger    *slog.Logger
	metrics   *metrics.Metrics
	task      engine.TaskOptions
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(lc *Lifecycle) {
		if l != nil {
			lc.logger = l
		}
	}
}

// WithSidecarStore sets how sidecars are decoded.
func WithSidecarStore(s sidecar.Store) Option { return func(lc *Lifecycle) { lc.sidecars = s } }

// WithMetrics records finished lifecycles in m.
func WithMetrics(m *metrics.Metrics) Option { return func(lc *Lifecycle) { lc.metrics = m } }

// WithTaskOptions sets the model, timeout and budget for delegated tasks.
func WithTaskOptions(o engine.TaskOptions) Option { return func(lc *Lifecycle) { lc.task = o } }

// New creates a Lifecycle. ws must be the worktree manager eng uses.
func New(eng *engine.Engine, dir *ownership.Directory, ws *worktree.Manager, runner IntegrationRunner, opts ...Option) *Lifecycle {
	lc := &Lifecycle{
		engine:    eng,
		dir:       dir,
		workspace: ws,
		runner:    runner,
		sidecars:  sidecar.YAMLStore{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(lc)
	}
	lc.logger = lc.logger.With("component", "skim")
	return lc
}

// Run executes the lifecycle for skimsystem. action is passed to the
// integration command and may be empty. An unknown skimsystem, an
// integration command that cannot start and an unreadable tree are
// ContextLoad errors.
func (lc *Lifecycle) Run(ctx context.Context, skimsystem, action string) (*Result, error) {
	skim, ok := lc.dir.Skimsystem(skimsystem)
	if !ok {
		return nil, engine.ContextLoadError(fmt.Sprintf("unknown skimsystem '%s'", skimsystem), nil)
	}
	res := &Result{RunID: uuid.NewString(), Skimsystem: skimsystem}

	lc.logger.Info("running integration", "skimsystem", skimsystem, "action", action)
	out, err := lc.runner.Run(ctx, skimsystem, action)
	if err != nil {
		return nil, engine.ContextLoadError("running skimsystem integration", err)
	}
	res.IntegrationOutput = out

	packets, problems, err := Collect(lc.workspace.RepoRoot(), skim.Owner, lc.dir, lc.sidecars, lc.skipDirs()...)
	if err != nil {
		return nil, engine.ContextLoadError("scanning sidecars", err)
	}
	for _, p := range problems {
		lc.logger.Warn("skipping unreadable sidecar", "path", p.Path, "error", p.Err)
	}
	res.Packets = packets

	if len(packets) == 0 {
		lc.logger.Info("no pending change requests", "skimsystem", skimsystem)
		res.Merged = true
		lc.metrics.RunFinished("skim", "merged")
		return res, nil
	}
	for _, wp := range packets {
		lc.logger.Info("work packet", "subsystem", wp.Subsystem, "agent", wp.Agent, "requests", wp.Requests(), "files", len(wp.Groups))
	}

	att, err := lc.engine.ExecutePlan(ctx, res.RunID, Plan(skimsystem, packets), engine.ExecOptions{
		TaskOptions:       lc.task,
		Policy:            engine.AllOrNothing,
		ContinueOnFailure: true,
	})
	if att != nil {
		res.Results = att.Results
		res.Merged = att.Merged
		res.Violations = att.Violations
		res.CleanupWarnings = att.CleanupWarnings
	}
	if err != nil {
		lc.metrics.RunFinished("skim", "error")
		return res, err
	}

	outcome := "merged"
	if !res.Merged {
		outcome = "rejected"
	}
	lc.metrics.RunFinished("skim", outcome)
	lc.logger.Info("skim finished", "skimsystem", skimsystem, "merged", res.Merged, "violations", len(res.Violations))
	return res, nil
}

// Plan turns packets into one task per subsystem owner.
func Plan(skimsystem string, packets []WorkPacket) *plan.Plan {
	p := &plan.Plan{Summary: fmt.Sprintf("Resolve change requests raised by %s", skimsystem)}
	for _, wp := range packets {
		p.Tasks = append(p.Tasks, plan.Task{
			Agent:       wp.Agent,
			Instruction: prompt.ChangeRequestInstruction(skimsystem, wp.Groups),
			FocusFiles:  wp.FocusFiles(),
		})
	}
	return p
}

func (lc *Lifecycle) skipDirs() []string {
	rel, err := filepath.Rel(lc.workspace.RepoRoot(), lc.workspace.Dir())
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil
	}
	return []string{filepath.ToSlash(rel)}
}
