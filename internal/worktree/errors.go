package worktree

import (
	"errors"
	"fmt"
)

// ErrNotGitRepo is returned when the directory is not a git repository.
var ErrNotGitRepo = errors.New("not a git repository")

// ErrWorktreeNotFound is returned when no worktree is registered for a run/agent pair.
var ErrWorktreeNotFound = errors.New("worktree not found")

// Op classifies a worktree failure.
type Op string

const (
	CreateFailed Op = "create_failed"
	RemoveFailed Op = "remove_failed"
	GitFailed    Op = "git_failed"
)

// Error is returned by every Manager operation that shells out to git.
type Error struct {
	Op   Op
	Path string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch e.Op {
	case CreateFailed:
		return fmt.Sprintf("worktree create failed at %s: %s", e.Path, e.Msg)
	case RemoveFailed:
		return fmt.Sprintf("worktree remove failed at %s: %s", e.Path, e.Msg)
	default:
		return fmt.Sprintf("git failed: %s", e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same Op, so callers can write
// errors.Is(err, &worktree.Error{Op: worktree.GitFailed}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == e.Op
}

// IsOp reports whether err is a worktree *Error with the given Op.
func IsOp(err error, op Op) bool {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Op == op
	}
	return false
}

// CleanupWarning records a worktree that could not be fully torn down.
type CleanupWarning struct {
	Path   string
	Branch string
	Err    error
}

func (w CleanupWarning) String() string {
	if w.Branch != "" {
		return fmt.Sprintf("%s (%s): %v", w.Path, w.Branch, w.Err)
	}
	return fmt.Sprintf("%s: %v", w.Path, w.Err)
}
