package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pengelbrecht/orch/internal/engine"
	"github.com/pengelbrecht/orch/internal/ownership"
	"github.com/pengelbrecht/orch/internal/permission"
	"github.com/pengelbrecht/orch/internal/plan"
	"github.com/pengelbrecht/orch/internal/skim"
	"github.com/pengelbrecht/orch/internal/worktree"
)

func TestWrite_Merged(t *testing.T) {
	var buf bytes.Buffer
	Write(&buf, FromRun(&engine.RunResult{
		Merged: true,
		Results: []engine.AgentResult{
			{Agent: "core-agent", Status: engine.Status{Kind: engine.StatusSuccess}, FilesModified: []string{"a", "b"}},
		},
	}))

	out := buf.String()
	assert.Contains(t, out, "All agent changes merged successfully.")
	assert.Contains(t, out, "Agent results:")
	assert.Contains(t, out, "core-agent (2 files)")
	assert.NotContains(t, out, "FAIL")
}

func TestWrite_Violations(t *testing.T) {
	var buf bytes.Buffer
	Write(&buf, FromRun(&engine.RunResult{
		Attempts: 3,
		Violations: []permission.AgentViolations{{
			Agent:      "core-agent",
			Violations: []permission.Violation{{Path: "src/cli.rs", Reason: "outside its declared globs"}},
		}},
		Results: []engine.AgentResult{
			{Agent: "core-agent", Status: engine.Status{Kind: engine.StatusViolation}},
			{Agent: "cli-agent", Status: engine.Failed("exit code 1")},
		},
		CleanupWarnings: []worktree.CleanupWarning{{Path: "/tmp/wt", Err: errors.New("busy")}},
	}))

	out := buf.String()
	assert.Contains(t, out, "FAIL:")
	assert.Contains(t, out, "permission violations remain after 3 attempts")
	assert.Contains(t, out, "Agent 'core-agent' violations:")
	assert.Contains(t, out, "  - src/cli.rs: outside its declared globs")
	assert.Contains(t, out, "[DENIED]")
	assert.Contains(t, out, "exit code 1 cli-agent (0 files)")
	assert.Contains(t, out, "Cleanup warnings:")
	assert.Contains(t, out, "/tmp/wt: busy")
}

func TestFromSkim(t *testing.T) {
	o := FromSkim(&skim.Result{Merged: false, Violations: []permission.AgentViolations{{Agent: "a"}}})
	assert.Equal(t, "permission violations", o.Reason)

	o = FromSkim(&skim.Result{Merged: true})
	assert.Empty(t, o.Reason)
}

func TestPlan(t *testing.T) {
	p := &plan.Plan{
		Summary: "Add the Spread node",
		Tasks: []plan.Task{
			{Agent: "core-agent", Instruction: "Add Spread to the AST", FocusFiles: []string{"src/ast.rs"}},
		},
	}
	out := Plan(p, 80)
	assert.Contains(t, out, "Add the Spread node")
	assert.Contains(t, out, "core-agent")
	assert.Contains(t, out, "src/ast.rs")
}

func TestAgents(t *testing.T) {
	dir, err := ownership.New(ownership.Spec{
		Subsystems: []ownership.Subsystem{
			{Name: "core", Owner: "core-agent", Files: []string{"src/ast.rs", "src/parser.rs"}},
		},
		Skimsystems: []ownership.Skimsystem{
			{Name: "code-quality", Owner: "quality-agent"},
		},
	}, "")
	require.NoError(t, err)

	out := Agents(dir)
	lines := strings.Split(out, "\n")
	var core, quality string
	for _, l := range lines {
		switch {
		case strings.Contains(l, "core-agent"):
			core = l
		case strings.Contains(l, "quality-agent"):
			quality = l
		}
	}
	assert.Contains(t, core, "subsystem")
	assert.Contains(t, core, "src/ast.rs src/parser.rs")
	assert.Contains(t, quality, "skimsystem")
	assert.Contains(t, quality, "**/*.bog")
}

func TestWorktrees(t *testing.T) {
	assert.Contains(t, Worktrees(nil), "No orch worktrees.")

	out := Worktrees([]*worktree.Worktree{{RunID: "r1", Agent: "core-agent", Branch: "orch/r1/core-agent", Path: "/x"}})
	assert.Contains(t, out, "orch/r1/core-agent")
}
