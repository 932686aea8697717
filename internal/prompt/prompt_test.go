package prompt

import (
	"strings"
	"testing"

	"github.com/pengelbrecht/orch/internal/ownership"
	"github.com/pengelbrecht/orch/internal/permission"
	"github.com/pengelbrecht/orch/internal/plan"
	"github.com/pengelbrecht/orch/internal/sidecar"
)

const manifest = `subsystems:
  - name: core
    owner: core-agent
    description: Parser and AST
    status: green
    files: ["src/ast.rs", "src/parser.rs"]
  - name: cli
    owner: cli-agent
    files: ["src/cli/**"]
skimsystems:
  - name: code-standards
    owner: style-agent
    description: Naming and structure review
    targets: [core]
    principles:
      - Functions stay under fifty lines
      - No abbreviations in public names
agents:
  core-agent: Owns the language core
policies:
  review: required
`

func testDirectory(t *testing.T) *ownership.Directory {
	t.Helper()
	spec, err := ownership.Parse([]byte(manifest))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	dir, err := ownership.New(spec, manifest)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return dir
}

func assertContains(t *testing.T, prompt string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q\n---\n%s", want, prompt)
		}
	}
}

func TestDockContext(t *testing.T) {
	p := DockContext(testDirectory(t))

	assertContains(t, p,
		"You are the dock agent",
		"READ-ONLY",
		"## Repository Declarations\n\nsubsystems:",
		"## Agent Registry\n\n- cli-agent (role: subsystem)\n- core-agent (role: subsystem): Owns the language core\n- style-agent (role: skimsystem)",
		"- **core** (owner: core-agent, status: green): Parser and AST\n  files: src/ast.rs, src/parser.rs",
		"- **cli** (owner: cli-agent)\n  files: src/cli/**",
		"- **code-standards** (owner: style-agent, targets: core): Naming and structure review",
		"2. Skimsystem agents can ONLY modify *.bog sidecar files",
		`"depends_on": [0]`,
		`"model": "string (optional)`,
	)

	if strings.Index(p, "**cli**") > strings.Index(p, "**core**") {
		t.Error("subsystems should be listed in name order")
	}
	if strings.Contains(p, "PREVIOUS ATTEMPT FAILED") {
		t.Error("first-attempt context should not mention a failed attempt")
	}
}

func TestReplanContext(t *testing.T) {
	dir := testDirectory(t)
	violations := []permission.AgentViolations{
		{Agent: "core-agent", Violations: []permission.Violation{
			{Path: "src/cli/mod.rs", Reason: "Subsystem agent 'core-agent' modified 'src/cli/mod.rs' outside its declared globs"},
			{Path: "README.md", Reason: "Subsystem agent 'core-agent' modified 'README.md' outside its declared globs"},
		}},
		{Agent: "style-agent", Violations: []permission.Violation{
			{Path: "src/ast.rs", Reason: "Skimsystem agent 'style-agent' modified non-sidecar file 'src/ast.rs' (only *.bog files are allowed)"},
		}},
	}

	p := ReplanContext(dir, violations, 1)

	if !strings.HasPrefix(p, DockContext(dir)) {
		t.Error("replan context should start with the dock context")
	}
	assertContains(t, p,
		"## PREVIOUS ATTEMPT FAILED (attempt 1)",
		"Your previous plan was rejected due to permission violations:\n\nAgent 'core-agent' violated permissions:\n  - src/cli/mod.rs: Subsystem agent",
		"\n  - README.md: Subsystem agent 'core-agent' modified 'README.md' outside its declared globs\n",
		"Agent 'style-agent' violated permissions:\n  - src/ast.rs: Skimsystem agent",
		"Please produce a corrected plan.",
	)
}

func TestSubsystemContext(t *testing.T) {
	dir := testDirectory(t)
	task := plan.Task{Agent: "core-agent", Instruction: "Add a Spread node", FocusFiles: []string{"src/ast.rs"}}
	pending := []PendingGroup{{
		Sidecar: "src/parser.rs.bog",
		Source:  "src/parser.rs",
		Requests: []sidecar.ChangeRequest{
			{ID: "cr-1", Target: "fn(parse)", Description: "split parse"},
		},
	}}

	p := SubsystemContext(dir, "core-agent", task, pending)

	assertContains(t, p,
		"You are core-agent, a subsystem agent",
		"### core (green)\nParser and AST\nFiles: src/ast.rs, src/parser.rs",
		"## Pending Change Requests\n\n### src/parser.rs (1 pending)\n- [cr-1] fn(parse): split parse",
		"## Policies\n- review: required",
		"## File Boundary (STRICT)\nYou may ONLY modify files matching these patterns:\n- src/ast.rs\n- src/parser.rs\n",
		"## Task\nAdd a Spread node",
		"## Focus Files\n- src/ast.rs",
		"## Guidelines",
	)
}

func TestSubsystemContext_OmitsEmptySections(t *testing.T) {
	p := SubsystemContext(testDirectory(t), "cli-agent", plan.Task{Instruction: "Add a flag"}, nil)

	if strings.Contains(p, "Pending Change Requests") {
		t.Error("no pending section expected without requests")
	}
	assertContains(t, p, "- src/cli/**", "## Focus Files\n(none specified)")
	if strings.Contains(p, "\n\n\n") {
		t.Errorf("prompt has stray blank lines:\n%s", p)
	}
}

func TestSkimsystemContext(t *testing.T) {
	task := plan.Task{Instruction: "Review naming in the parser", FocusFiles: []string{"src/parser.rs"}}
	p := SkimsystemContext(testDirectory(t), "style-agent", task)

	assertContains(t, p,
		"You are style-agent, a skimsystem agent",
		"### code-standards\nNaming and structure review",
		"## Principles\n- [code-standards] Functions stay under fifty lines\n- [code-standards] No abbreviations in public names",
		"You may ONLY modify *.bog sidecar files",
		"from: style-agent",
		"status: pending",
		"## Task\nReview naming in the parser",
	)
	if strings.Contains(p, "File Boundary") {
		t.Error("skimsystem context should not carry the subsystem boundary")
	}
}

func TestChangeRequestInstruction(t *testing.T) {
	groups := []PendingGroup{
		{Source: "src/ast.rs", Requests: []sidecar.ChangeRequest{{ID: "a1", Target: "fn(new)", Description: "rename"}}},
		{Source: "src/parser.rs", Requests: []sidecar.ChangeRequest{
			{ID: "p1", Target: "fn(parse)", Description: "split"},
			{ID: "p2", Target: "fn(lex)", Description: "inline"},
		}},
	}

	got := ChangeRequestInstruction("code-standards", groups)

	assertContains(t, got,
		"raised by the code-standards skimsystem",
		"### src/ast.rs\n- [a1] fn(new): rename",
		"### src/parser.rs\n- [p1] fn(parse): split\n- [p2] fn(lex): inline",
		"status: resolved",
		"status: denied",
	)
}
