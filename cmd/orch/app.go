package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pengelbrecht/orch/internal/agent"
	"github.com/pengelbrecht/orch/internal/config"
	"github.com/pengelbrecht/orch/internal/dock"
	"github.com/pengelbrecht/orch/internal/engine"
	"github.com/pengelbrecht/orch/internal/logging"
	"github.com/pengelbrecht/orch/internal/metrics"
	"github.com/pengelbrecht/orch/internal/ownership"
	"github.com/pengelbrecht/orch/internal/telemetry"
	"github.com/pengelbrecht/orch/internal/verify"
	"github.com/pengelbrecht/orch/internal/worktree"
)

// app holds everything a command needs for one repository.
type app struct {
	root      string
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
	dir       *ownership.Directory
	workspace *worktree.Manager
	router    *agent.Router
	metrics   *metrics.Metrics
	tracing   *telemetry.Provider
}

// openApp loads configuration, the ownership manifest and the worktree
// manager for the repository named by --path. Every failure is a
// ContextLoad error.
func openApp(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()
	path, _ := cmd.Flags().GetString("path")
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, engine.ContextLoadError("resolving repository path", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Log
	logCfg.File = cfg.LogPath()
	logger, logCloser, err := logging.New(logCfg)
	if err != nil {
		return nil, engine.ContextLoadError("opening log", err)
	}
	a := &app{root: root, cfg: cfg, logger: logger, logCloser: logCloser}

	dir, err := ownership.Load(root, cfg.ManifestPath())
	if err != nil {
		a.close()
		return nil, engine.ContextLoadError("loading ownership directory", err)
	}
	a.dir = dir.WithSidecarSuffix(cfg.Ownership.SidecarSuffix)

	ws, err := worktree.NewManager(root,
		worktree.WithDir(cfg.WorktreeDir()),
		worktree.WithLogger(logger.With("component", "worktree")),
	)
	if err != nil {
		a.close()
		return nil, engine.ContextLoadError("opening repository", err)
	}
	if _, err := ws.EnsureExcluded(ctx); err != nil {
		a.close()
		return nil, engine.ContextLoadError("excluding worktree directory", err)
	}
	a.workspace = ws

	a.router = agent.NewRouter(
		&agent.ClaudeProvider{Command: cfg.Providers.Claude.Command, Logger: logger.With("component", "claude")},
		&agent.CodexProvider{Command: cfg.Providers.Codex.Command, Logger: logger.With("component", "codex")},
	)

	tp, err := telemetry.Setup(ctx, cfg.Tracing, version)
	if err != nil {
		a.close()
		return nil, engine.ContextLoadError("starting tracing", err)
	}
	a.tracing = tp
	a.metrics = metrics.New()
	return a, nil
}

// close flushes metrics and spans, then closes the log.
func (a *app) close() {
	if path := a.cfg.MetricsPath(); path != "" && a.metrics != nil {
		if err := a.metrics.WriteTextfile(path); err != nil {
			a.logger.Warn("writing metrics textfile", "path", path, "error", err)
		}
	}
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.Warn("flushing traces", "error", err)
		}
		cancel()
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

func (a *app) planner(progress func(string)) *dock.Planner {
	return dock.New(a.router, a.dir, a.root,
		dock.WithModel(a.cfg.Dock.Model),
		dock.WithTimeout(a.cfg.Dock.Timeout),
		dock.WithTools(a.cfg.Dock.Tools),
		dock.WithLogger(a.logger.With("component", "dock")),
		dock.WithProgress(progress),
	)
}

func (a *app) engine(planner engine.Planner) *engine.Engine {
	return engine.New(a.router, a.workspace, planner, a.dir,
		engine.WithLogger(a.logger.With("component", "engine")),
		engine.WithMetrics(a.metrics),
		engine.WithTracer(a.tracing.Tracer()),
	)
}

// preflight checks the provider binaries the run will use and, when
// required, that the root tree has no uncommitted changes.
func (a *app) preflight(ctx context.Context, requireClean bool) error {
	commands := map[string]string{
		"claude": a.cfg.Providers.Claude.Command,
		"codex":  a.cfg.Providers.Codex.Command,
	}

	var checks []verify.Checker
	seen := map[string]bool{}
	for _, model := range []string{a.cfg.Agent.Model, a.cfg.Dock.Model} {
		name := a.router.Select(model).Name()
		if seen[name] {
			continue
		}
		seen[name] = true
		checks = append(checks, verify.NewCommand(name, commands[name]))
	}

	if requireClean {
		if ct := verify.NewCleanTree(a.root, a.ownFiles()...); ct != nil {
			checks = append(checks, ct)
		}
	}

	results := verify.Run(ctx, checks...)
	for _, r := range results.Results {
		a.logger.Debug("preflight", "check", r.Check, "passed", r.Passed, "duration", r.Duration)
	}
	if err := results.Err(); err != nil {
		return engine.ContextLoadError("preflight", err)
	}
	return nil
}

// ownFiles lists files orch itself writes inside the repository, relative
// to the root.
func (a *app) ownFiles() []string {
	var files []string
	for _, p := range []string{a.cfg.MetricsPath(), a.cfg.LogPath(), a.cfg.WorktreeDir()} {
		if p == "" {
			continue
		}
		rel, err := filepath.Rel(a.root, p)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		files = append(files, filepath.ToSlash(rel))
	}
	return files
}
