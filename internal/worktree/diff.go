package worktree

import (
	"context"
	"fmt"
	"strings"
)

// ChangeKind classifies one changed path.
type ChangeKind int

const (
	Modified ChangeKind = iota
	Added
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Deleted:
		return "deleted"
	default:
		return "modified"
	}
}

// DiffEntry is one path changed inside a worktree.
type DiffEntry struct {
	Path string
	Kind ChangeKind
}

// Paths returns the paths of entries in order.
func Paths(entries []DiffEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

// InspectDiff returns every path the agent touched in wt: uncommitted changes
// against HEAD, untracked files, and commits made since the base commit.
// A path reported by more than one source keeps its first classification.
func (m *Manager) InspectDiff(ctx context.Context, wt *Worktree) ([]DiffEntry, error) {
	var entries []DiffEntry
	seen := make(map[string]bool)
	add := func(batch []DiffEntry) {
		for _, e := range batch {
			if seen[e.Path] {
				continue
			}
			seen[e.Path] = true
			entries = append(entries, e)
		}
	}

	uncommitted, err := gitRaw(ctx, wt.Path, "diff", "-z", "--no-renames", "--name-status", "HEAD")
	if err != nil {
		return nil, &Error{Op: GitFailed, Path: wt.Path, Msg: err.Error(), Err: err}
	}
	add(parseNameStatus(uncommitted))

	untracked, err := gitRaw(ctx, wt.Path, "ls-files", "-z", "--others", "--exclude-standard")
	if err != nil {
		return nil, &Error{Op: GitFailed, Path: wt.Path, Msg: err.Error(), Err: err}
	}
	var fresh []DiffEntry
	for _, p := range fields(untracked) {
		fresh = append(fresh, DiffEntry{Path: p, Kind: Added})
	}
	add(fresh)

	if wt.BaseCommit != "" {
		committed, err := gitRaw(ctx, wt.Path, "diff", "-z", "--no-renames", "--name-status", wt.BaseCommit+"..HEAD")
		if err != nil {
			return nil, &Error{Op: GitFailed, Path: wt.Path, Msg: err.Error(), Err: err}
		}
		add(parseNameStatus(committed))
	}

	return entries, nil
}

// parseNameStatus parses `git diff -z --name-status` output: a status
// field followed by the path, all NUL separated. Copy and rename statuses
// carry two paths; the destination is kept.
func parseNameStatus(output string) []DiffEntry {
	var out []DiffEntry
	f := fields(output)
	for i := 0; i < len(f); {
		status := f[i]
		n := 1
		if strings.HasPrefix(status, "R") || strings.HasPrefix(status, "C") {
			n = 2
		}
		if i+n >= len(f) {
			break
		}
		kind := Modified
		switch {
		case strings.HasPrefix(status, "A"):
			kind = Added
		case strings.HasPrefix(status, "D"):
			kind = Deleted
		}
		out = append(out, DiffEntry{Path: f[i+n], Kind: kind})
		i += n + 1
	}
	return out
}

// AutoCommit stages everything in wt and commits it. It returns false when
// there was nothing to commit.
func (m *Manager) AutoCommit(ctx context.Context, wt *Worktree) (bool, error) {
	if _, err := git(ctx, wt.Path, "add", "-A"); err != nil {
		return false, &Error{Op: GitFailed, Path: wt.Path, Msg: err.Error(), Err: err}
	}

	code, err := gitExitCode(ctx, wt.Path, "diff", "--cached", "--quiet")
	if err != nil {
		return false, &Error{Op: GitFailed, Path: wt.Path, Msg: err.Error(), Err: err}
	}
	if code == 0 {
		return false, nil
	}

	msg := fmt.Sprintf("orch: agent '%s' changes", wt.Agent)
	if _, err := git(ctx, wt.Path, "commit", "-m", msg); err != nil {
		return false, &Error{Op: GitFailed, Path: wt.Path, Msg: err.Error(), Err: err}
	}
	return true, nil
}

// Merge merges wt's branch into the root tree's current branch with a merge
// commit. Conflicts are not resolved: the merge is aborted and reported.
func (m *Manager) Merge(ctx context.Context, wt *Worktree) error {
	msg := fmt.Sprintf("orch: merge agent '%s' changes", wt.Agent)
	if _, err := git(ctx, m.repoRoot, "merge", "--no-ff", wt.Branch, "-m", msg); err != nil {
		if _, abortErr := git(ctx, m.repoRoot, "merge", "--abort"); abortErr != nil {
			m.logger.Debug("merge abort failed", "branch", wt.Branch, "error", abortErr)
		}
		return &Error{Op: GitFailed, Path: m.repoRoot, Msg: err.Error(), Err: err}
	}
	return nil
}
