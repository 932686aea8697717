package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pengelbrecht/orch/internal/agent"
	"github.com/pengelbrecht/orch/internal/engine"
	"github.com/pengelbrecht/orch/internal/permission"
	"github.com/pengelbrecht/orch/internal/plan"
)

func testPlan() *plan.Plan {
	return &plan.Plan{
		Summary: "Add the Spread node",
		Tasks: []plan.Task{
			{Agent: "core-agent", Instruction: "Add Spread to the AST"},
			{Agent: "cli-agent", Instruction: "Print Spread nodes"},
		},
	}
}

func update(t *testing.T, m Model, msgs ...tea.Msg) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func TestNew(t *testing.T) {
	m := New(Config{RunID: "run-1", Request: "add spread"})

	if m.runID != "run-1" {
		t.Errorf("expected runID 'run-1', got '%s'", m.runID)
	}
	if m.request != "add spread" {
		t.Errorf("expected request 'add spread', got '%s'", m.request)
	}
	if !m.running {
		t.Error("expected running to be true")
	}
	if m.selected != -1 {
		t.Errorf("expected no selection, got %d", m.selected)
	}
}

func TestUpdateQuit(t *testing.T) {
	tests := []struct {
		name string
		msg  tea.KeyMsg
	}{
		{"q", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}},
		{"ctrl+c", tea.KeyMsg{Type: tea.KeyCtrlC}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(Config{})
			next, cmd := m.Update(tt.msg)
			if !next.(Model).quitting {
				t.Error("expected quitting to be true")
			}
			if cmd == nil {
				t.Error("expected quit command")
			}
		})
	}
}

func TestUpdateWindowSize(t *testing.T) {
	m := update(t, New(Config{}), tea.WindowSizeMsg{Width: 120, Height: 40})

	if m.width != 120 || m.height != 40 {
		t.Errorf("expected 120x40, got %dx%d", m.width, m.height)
	}
	if m.viewport.Width != m.outputWidth()-4 {
		t.Errorf("expected viewport width %d, got %d", m.outputWidth()-4, m.viewport.Width)
	}
}

func TestUpdateAttemptAndPlan(t *testing.T) {
	m := update(t, New(Config{}),
		AttemptMsg{Attempt: 2, Max: 3},
		PlanMsg{Attempt: 2, Plan: testPlan()},
	)

	if m.attempt != 2 || m.maxAttempts != 3 {
		t.Errorf("expected attempt 2/3, got %d/%d", m.attempt, m.maxAttempts)
	}
	if m.summary != "Add the Spread node" {
		t.Errorf("unexpected summary %q", m.summary)
	}
	if len(m.taskInfos) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(m.taskInfos))
	}
	for _, info := range m.taskInfos {
		if info.Status != TaskPending {
			t.Errorf("task %d: expected pending, got %d", info.Index, info.Status)
		}
	}
}

func TestUpdateTaskLifecycle(t *testing.T) {
	p := testPlan()
	m := update(t, New(Config{}),
		PlanMsg{Attempt: 1, Plan: p},
		TaskStartMsg{Index: 0, Task: p.Tasks[0]},
	)
	if m.taskInfos[0].Status != TaskRunning {
		t.Errorf("expected running, got %d", m.taskInfos[0].Status)
	}
	if m.current != "core-agent" {
		t.Errorf("expected current agent core-agent, got %q", m.current)
	}

	m = update(t, m,
		TaskEndMsg{Result: engine.AgentResult{
			Agent:         "core-agent",
			TaskIndex:     0,
			Status:        engine.Status{Kind: engine.StatusSuccess},
			FilesModified: []string{"src/ast.rs"},
			Usage:         agent.Usage{InputTokens: 100, OutputTokens: 50, CostUSD: 0.25},
		}},
		TaskEndMsg{Result: engine.AgentResult{
			Agent:     "cli-agent",
			TaskIndex: 1,
			Status: engine.Status{
				Kind:       engine.StatusViolation,
				Violations: []permission.Violation{{Path: "src/ast.rs", Reason: "owned by core"}},
			},
		}},
	)

	if m.taskInfos[0].Status != TaskSuccess || m.taskInfos[0].Files != 1 {
		t.Errorf("unexpected task 0: %+v", m.taskInfos[0])
	}
	if m.taskInfos[1].Status != TaskViolation {
		t.Errorf("expected violation, got %d", m.taskInfos[1].Status)
	}
	if m.finished() != 2 {
		t.Errorf("expected 2 finished, got %d", m.finished())
	}
	if m.cost != 0.25 || m.tokens != 150 {
		t.Errorf("expected $0.25 and 150 tokens, got $%v and %d", m.cost, m.tokens)
	}
	if !strings.Contains(m.viewport.View(), "violation: src/ast.rs: owned by core") {
		t.Error("expected violation line in output")
	}
}

func TestUpdateFailedTask(t *testing.T) {
	m := update(t, New(Config{}),
		PlanMsg{Plan: testPlan()},
		TaskEndMsg{Result: engine.AgentResult{Agent: "core-agent", TaskIndex: 0, Status: engine.Failed("exit code 1")}},
	)
	if m.taskInfos[0].Status != TaskFailed {
		t.Errorf("expected failed, got %d", m.taskInfos[0].Status)
	}
	if m.taskInfos[0].Message != "failed: exit code 1" {
		t.Errorf("unexpected message %q", m.taskInfos[0].Message)
	}
}

func TestUpdateTaskOutOfRange(t *testing.T) {
	m := update(t, New(Config{}),
		PlanMsg{Plan: testPlan()},
		TaskStartMsg{Index: 7, Task: plan.Task{Agent: "ghost"}},
	)
	for _, info := range m.taskInfos {
		if info.Status != TaskPending {
			t.Errorf("task %d changed: %d", info.Index, info.Status)
		}
	}
}

func TestSelectTaskFiltersOutput(t *testing.T) {
	m := update(t, New(Config{}),
		tea.WindowSizeMsg{Width: 140, Height: 40},
		PlanMsg{Plan: testPlan()},
		ProgressMsg{Agent: "core-agent", Line: "editing ast"},
		ProgressMsg{Agent: "cli-agent", Line: "editing printer"},
	)

	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.selected != 0 {
		t.Fatalf("expected selection 0, got %d", m.selected)
	}
	out := m.viewport.View()
	if !strings.Contains(out, "editing ast") || strings.Contains(out, "editing printer") {
		t.Errorf("expected only core-agent output, got:\n%s", out)
	}

	// Past the last task wraps back to all output.
	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab}, tea.KeyMsg{Type: tea.KeyTab})
	if m.selected != -1 {
		t.Fatalf("expected no selection, got %d", m.selected)
	}
	if !strings.Contains(m.viewport.View(), "editing printer") {
		t.Error("expected all output after clearing selection")
	}
}

func TestOutputIsCapped(t *testing.T) {
	m := New(Config{})
	for i := 0; i < maxOutputLines+10; i++ {
		m.appendOutput("core-agent", "line")
	}
	if len(m.outputLines) != maxOutputLines {
		t.Errorf("expected %d lines, got %d", maxOutputLines, len(m.outputLines))
	}
}

func TestUpdateRunComplete(t *testing.T) {
	tests := []struct {
		name   string
		msg    RunCompleteMsg
		status string
	}{
		{"merged", RunCompleteMsg{Result: &engine.RunResult{Merged: true}}, "MERGED"},
		{"rejected", RunCompleteMsg{Result: &engine.RunResult{Attempts: 3, Violations: []permission.AgentViolations{{Agent: "a"}}}}, "REJECTED"},
		{"error", RunCompleteMsg{Err: errors.New("planner failed")}, "REJECTED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := update(t, New(Config{Request: "add spread"}), tea.WindowSizeMsg{Width: 120, Height: 40}, tt.msg)
			if m.running {
				t.Error("expected running to be false")
			}
			if !strings.Contains(m.renderHeader(), tt.status) {
				t.Errorf("expected header to contain %s, got %q", tt.status, m.renderHeader())
			}
		})
	}
}

func TestView(t *testing.T) {
	m := New(Config{Request: "add spread"})
	if m.View() != "Loading...\n" {
		t.Errorf("expected loading view before sizing, got %q", m.View())
	}

	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40}, PlanMsg{Plan: testPlan()})
	view := m.View()
	for _, want := range []string{"orch: add spread", "RUNNING", "core-agent", "Agent Output"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q", want)
		}
	}

	m.quitting = true
	if m.View() != "" {
		t.Error("expected empty view when quitting")
	}
}

func TestHelpToggle(t *testing.T) {
	m := update(t, New(Config{}), tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'?'}})
	if !m.showHelp {
		t.Error("expected help to be shown")
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'?'}})
	if m.showHelp {
		t.Error("expected help to be hidden")
	}
}

func TestTaskItem(t *testing.T) {
	tests := []struct {
		name string
		info TaskInfo
		desc string
	}{
		{"pending", TaskInfo{Agent: "core-agent", Instruction: "Add\nSpread"}, "Add Spread"},
		{"success", TaskInfo{Agent: "core-agent", Status: TaskSuccess, Files: 3}, "3 files"},
		{"failed", TaskInfo{Agent: "core-agent", Status: TaskFailed, Message: "failed: boom"}, "failed: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := taskItem{info: tt.info}
			if !strings.Contains(item.Title(), "core-agent") {
				t.Errorf("title missing agent: %q", item.Title())
			}
			if !strings.Contains(item.Description(), tt.desc) {
				t.Errorf("expected description to contain %q, got %q", tt.desc, item.Description())
			}
			if item.FilterValue() != "core-agent" {
				t.Errorf("unexpected filter value %q", item.FilterValue())
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00"},
		{65 * time.Second, "1:05"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncate("a much longer string", 10); got != "a much ..." {
		t.Errorf("got %q", got)
	}
}

func TestAttach(t *testing.T) {
	var got []tea.Msg
	e := &engine.Engine{}
	Attach(e, func(msg tea.Msg) { got = append(got, msg) })

	e.OnAttemptStart(1, 3)
	e.OnProgress("core-agent", "hello")
	e.OnMerge("core-agent", nil)
	e.OnTaskEnd(&engine.AgentResult{Agent: "core-agent"})

	if len(got) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(got))
	}
	if _, ok := got[0].(AttemptMsg); !ok {
		t.Errorf("expected AttemptMsg, got %T", got[0])
	}
	if p, ok := got[1].(ProgressMsg); !ok || p.Line != "hello" {
		t.Errorf("unexpected progress message %#v", got[1])
	}
	if _, ok := got[3].(TaskEndMsg); !ok {
		t.Errorf("expected TaskEndMsg, got %T", got[3])
	}
}
