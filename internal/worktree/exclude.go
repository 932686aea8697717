package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureExcluded adds the worktree base directory to the repository's
// info/exclude file so that worktrees never show up as untracked files in
// the root tree. Returns true if the file was modified.
// Directories outside the repo root need no entry and are left alone.
func (m *Manager) EnsureExcluded(ctx context.Context) (bool, error) {
	rel, err := filepath.Rel(m.repoRoot, m.worktreeDir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false, nil
	}
	pattern := "/" + filepath.ToSlash(rel) + "/"

	excludePath, err := git(ctx, m.repoRoot, "rev-parse", "--git-path", "info/exclude")
	if err != nil {
		return false, &Error{Op: GitFailed, Path: m.repoRoot, Msg: err.Error(), Err: err}
	}
	if !filepath.IsAbs(excludePath) {
		excludePath = filepath.Join(m.repoRoot, excludePath)
	}

	existing, err := os.ReadFile(excludePath)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("reading %s: %w", excludePath, err)
	}
	for _, line := range strings.Split(string(existing), "\n") {
		if strings.TrimSpace(line) == pattern {
			return false, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(excludePath), 0755); err != nil {
		return false, fmt.Errorf("creating %s: %w", filepath.Dir(excludePath), err)
	}

	content := string(existing)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += "# orch agent worktrees\n" + pattern + "\n"

	if err := os.WriteFile(excludePath, []byte(content), 0644); err != nil {
		return false, fmt.Errorf("writing %s: %w", excludePath, err)
	}
	return true, nil
}
