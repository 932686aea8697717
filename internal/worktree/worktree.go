package worktree

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultWorktreeDir is the default directory, relative to the repo root, for storing worktrees.
const DefaultWorktreeDir = ".orch/worktrees"

// BranchPrefix is the prefix for worktree branch names.
const BranchPrefix = "orch/"

// Worktree represents an active git worktree owned by one agent for one run.
type Worktree struct {
	Path       string    // Absolute path to worktree directory
	Branch     string    // Branch name (e.g., orch/<run>/<agent>)
	Agent      string    // Owning agent
	RunID      string    // Run that created it
	BaseCommit string    // HEAD of the root tree at creation
	Created    time.Time // When worktree was created
}

type key struct {
	runID string
	agent string
}

// Manager handles git worktree lifecycle.
type Manager struct {
	repoRoot    string // Root of main repository
	worktreeDir string // Base directory for worktrees (default: .orch/worktrees)
	logger      *slog.Logger

	mu     sync.Mutex
	active map[key]*Worktree
}

// Option configures a Manager.
type Option func(*Manager)

// WithDir overrides the worktree base directory. Relative paths resolve against the repo root.
func WithDir(dir string) Option {
	return func(m *Manager) {
		if dir == "" {
			return
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(m.repoRoot, dir)
		}
		m.worktreeDir = dir
	}
}

// WithLogger sets the logger used for cleanup warnings.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a worktree manager for the given repository.
// Returns error if not a git repository.
func NewManager(repoRoot string, opts ...Option) (*Manager, error) {
	// .git can be a directory (normal repo) or a file (worktree itself)
	info, err := os.Stat(filepath.Join(repoRoot, ".git"))
	if err != nil {
		return nil, ErrNotGitRepo
	}
	if !info.IsDir() && !info.Mode().IsRegular() {
		return nil, ErrNotGitRepo
	}

	m := &Manager{
		repoRoot:    repoRoot,
		worktreeDir: filepath.Join(repoRoot, DefaultWorktreeDir),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		active:      make(map[key]*Worktree),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "worktree")
	return m, nil
}

// RepoRoot returns the root of the main repository.
func (m *Manager) RepoRoot() string { return m.repoRoot }

// Dir returns the base directory for worktrees.
func (m *Manager) Dir() string { return m.worktreeDir }

// Create creates a new worktree for an agent within a run.
// Branch name: orch/<run-id>/<agent>
// Path: <worktreeDir>/<run-id>/<agent>
// The branch is created from the root tree's current HEAD. Creating the same
// (run, agent) pair twice returns the already registered worktree.
func (m *Manager) Create(ctx context.Context, agent, runID string) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if wt, ok := m.active[key{runID, agent}]; ok {
		return wt, nil
	}

	wtPath := m.worktreePath(runID, agent)
	branch := BranchName(runID, agent)

	base, err := git(ctx, m.repoRoot, "rev-parse", "HEAD")
	if err != nil {
		return nil, &Error{Op: CreateFailed, Path: wtPath, Msg: "reading HEAD", Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(wtPath), 0755); err != nil {
		return nil, &Error{Op: CreateFailed, Path: wtPath, Msg: err.Error(), Err: err}
	}

	if _, err := git(ctx, m.repoRoot, "worktree", "add", "-b", branch, wtPath, "HEAD"); err != nil {
		return nil, &Error{Op: CreateFailed, Path: wtPath, Msg: err.Error(), Err: err}
	}

	wt := &Worktree{
		Path:       wtPath,
		Branch:     branch,
		Agent:      agent,
		RunID:      runID,
		BaseCommit: base,
		Created:    time.Now(),
	}
	m.active[key{runID, agent}] = wt
	return wt, nil
}

// Remove deletes a worktree and its branch.
// Force removes even if there are uncommitted changes.
func (m *Manager) Remove(ctx context.Context, wt *Worktree) error {
	m.mu.Lock()
	delete(m.active, key{wt.RunID, wt.Agent})
	m.mu.Unlock()

	if _, err := git(ctx, m.repoRoot, "worktree", "remove", "--force", wt.Path); err != nil {
		return &Error{Op: RemoveFailed, Path: wt.Path, Msg: err.Error(), Err: err}
	}

	if m.branchExists(ctx, wt.Branch) {
		if _, err := git(ctx, m.repoRoot, "branch", "-D", wt.Branch); err != nil {
			return &Error{Op: RemoveFailed, Path: wt.Path, Msg: err.Error(), Err: err}
		}
	}
	return nil
}

// CleanupRun removes every registered worktree tagged with runID, then the
// run's directory. Failures never stop the sweep; each one is logged and
// returned as a warning.
func (m *Manager) CleanupRun(ctx context.Context, runID string) []CleanupWarning {
	var warnings []CleanupWarning

	for _, wt := range m.Active(runID) {
		if err := m.Remove(ctx, wt); err != nil {
			m.logger.Warn("worktree cleanup failed", "path", wt.Path, "branch", wt.Branch, "error", err)
			warnings = append(warnings, CleanupWarning{Path: wt.Path, Branch: wt.Branch, Err: err})
		}
	}

	runDir := filepath.Join(m.worktreeDir, runID)
	if err := os.RemoveAll(runDir); err != nil {
		m.logger.Warn("run directory cleanup failed", "path", runDir, "error", err)
		warnings = append(warnings, CleanupWarning{Path: runDir, Err: err})
	}

	// Drop stale administrative entries left behind by directories removed above.
	if _, err := git(ctx, m.repoRoot, "worktree", "prune"); err != nil {
		m.logger.Warn("worktree prune failed", "error", err)
		warnings = append(warnings, CleanupWarning{Path: m.worktreeDir, Err: err})
	}

	return warnings
}

// Get returns the registered worktree for a run/agent pair.
func (m *Manager) Get(runID, agent string) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wt, ok := m.active[key{runID, agent}]
	if !ok {
		return nil, ErrWorktreeNotFound
	}
	return wt, nil
}

// Active returns the registered worktrees of a run, oldest first.
func (m *Manager) Active(runID string) []*Worktree {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Worktree
	for k, wt := range m.active {
		if k.runID == runID {
			out = append(out, wt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].Agent < out[j].Agent
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out
}

// List returns all orch worktrees known to git, including ones left behind
// by earlier processes.
func (m *Manager) List(ctx context.Context) ([]*Worktree, error) {
	output, err := git(ctx, m.repoRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, &Error{Op: GitFailed, Msg: err.Error(), Err: err}
	}
	return parseWorktreeList(strings.NewReader(output))
}

// Prune removes worktrees and branches left behind by earlier runs.
// Worktrees registered in this process are skipped.
func (m *Manager) Prune(ctx context.Context) ([]*Worktree, []CleanupWarning, error) {
	stale, err := m.List(ctx)
	if err != nil {
		return nil, nil, err
	}

	var removed []*Worktree
	var warnings []CleanupWarning
	for _, wt := range stale {
		if _, err := m.Get(wt.RunID, wt.Agent); err == nil {
			continue
		}
		if err := m.Remove(ctx, wt); err != nil {
			warnings = append(warnings, CleanupWarning{Path: wt.Path, Branch: wt.Branch, Err: err})
			continue
		}
		removed = append(removed, wt)
	}
	return removed, warnings, nil
}

// BranchName returns the branch name for an agent's worktree in a run.
func BranchName(runID, agent string) string {
	return BranchPrefix + runID + "/" + agent
}

// worktreePath returns the path for an agent's worktree in a run.
func (m *Manager) worktreePath(runID, agent string) string {
	return filepath.Join(m.worktreeDir, runID, agent)
}

// branchExists checks if a branch exists.
func (m *Manager) branchExists(ctx context.Context, branch string) bool {
	code, err := gitExitCode(ctx, m.repoRoot, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil && code == 0
}

// parseWorktreeList parses the output of `git worktree list --porcelain`.
// Format:
//
//	worktree /path/to/worktree
//	HEAD <commit>
//	branch refs/heads/<branch>
//	<blank line>
func parseWorktreeList(r io.Reader) ([]*Worktree, error) {
	var worktrees []*Worktree
	var current *Worktree

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "worktree "):
			current = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD ") && current != nil:
			current.BaseCommit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch ") && current != nil:
			branch := strings.TrimPrefix(line, "branch refs/heads/")
			current.Branch = branch

			// orch/<run>/<agent>
			if rest, ok := strings.CutPrefix(branch, BranchPrefix); ok {
				if runID, agent, ok := strings.Cut(rest, "/"); ok {
					current.RunID = runID
					current.Agent = agent
					worktrees = append(worktrees, current)
				}
			}
			current = nil
		case line == "":
			current = nil
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse worktree list: %w", err)
	}

	return worktrees, nil
}
