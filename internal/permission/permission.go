// Package permission decides whether an agent's diff stays inside the files it owns.
package permission

import (
	"fmt"
	"strings"

	"github.com/pengelbrecht/orch/internal/ownership"
	"github.com/pengelbrecht/orch/internal/worktree"
)

// Violation is one path an agent was not allowed to touch.
type Violation struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (v Violation) String() string {
	return v.Path + ": " + v.Reason
}

// AgentViolations groups the violations of one agent.
type AgentViolations struct {
	Agent      string      `json:"agent"`
	Violations []Violation `json:"violations"`
}

// CheckAgent resolves agent's role in dir and runs Check.
func CheckAgent(agent string, entries []worktree.DiffEntry, dir *ownership.Directory) []Violation {
	role, _ := dir.RoleOf(agent)
	return Check(agent, role, entries, dir)
}

// Check returns one violation per entry that agent, acting in role, may not
// change. Subsystem agents are confined to their globs, skimsystem agents to
// sidecar files, and unregistered agents (RoleNone) may change nothing.
func Check(agent string, role ownership.Role, entries []worktree.DiffEntry, dir *ownership.Directory) []Violation {
	var violations []Violation

	switch role {
	case ownership.RoleSubsystem:
		globs := dir.Globs(agent)
		for _, e := range entries {
			if !ownership.MatchAny(globs, e.Path) {
				violations = append(violations, Violation{
					Path:   e.Path,
					Reason: fmt.Sprintf("Subsystem agent '%s' modified '%s' outside its declared globs", agent, e.Path),
				})
			}
		}
	case ownership.RoleSkimsystem:
		suffix := dir.SidecarSuffix()
		for _, e := range entries {
			if !strings.HasSuffix(e.Path, suffix) {
				violations = append(violations, Violation{
					Path:   e.Path,
					Reason: fmt.Sprintf("Skimsystem agent '%s' modified non-sidecar file '%s' (only *%s files are allowed)", agent, e.Path, suffix),
				})
			}
		}
	default:
		for _, e := range entries {
			violations = append(violations, Violation{
				Path:   e.Path,
				Reason: fmt.Sprintf("Agent '%s' is not registered in the ownership directory", agent),
			})
		}
	}

	return violations
}
