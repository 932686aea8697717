package verify

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// CleanTree checks that the repository has no uncommitted changes. Agent
// worktrees branch from HEAD, so uncommitted work in the root is invisible
// to agents and can make the final merge fail.
type CleanTree struct {
	dir     string
	exclude []string
}

// NewCleanTree creates a clean-tree check for dir. Paths under any of the
// exclude prefixes (slash-separated, relative to dir) are ignored. Returns
// nil if dir is not a git repository.
func NewCleanTree(dir string, exclude ...string) *CleanTree {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	if err != nil || !info.IsDir() {
		return nil
	}
	return &CleanTree{dir: dir, exclude: exclude}
}

// Name returns "clean-tree".
func (v *CleanTree) Name() string {
	return "clean-tree"
}

// Check runs git status and passes when nothing outside the exclusions is
// modified, staged or untracked.
func (v *CleanTree) Check(ctx context.Context) *Result {
	start := time.Now()
	result := &Result{Check: v.Name()}

	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain", "--untracked-files=all")
	cmd.Dir = v.dir

	output, err := cmd.Output()
	result.Duration = time.Since(start)

	if err != nil {
		result.Error = err
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			result.Output = "git command not found"
		} else {
			result.Output = err.Error()
		}
		return result
	}

	dirty := v.filter(strings.TrimSpace(string(output)))
	if dirty == "" {
		result.Passed = true
		result.Output = "working tree clean"
		return result
	}

	result.Output = "commit or stash these changes first:\n" + dirty
	return result
}

// filter drops porcelain lines ("XY PATH" or "XY OLD -> NEW") whose path
// falls under an excluded prefix.
func (v *CleanTree) filter(output string) string {
	if output == "" {
		return ""
	}

	var kept []string
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		path := ""
		if len(line) > 3 {
			path = line[3:]
		}
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		if !v.excluded(path) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func (v *CleanTree) excluded(path string) bool {
	for _, prefix := range v.exclude {
		if prefix == "" {
			continue
		}
		if path == strings.TrimSuffix(prefix, "/") || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}
