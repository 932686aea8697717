package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/lipgloss"

	"github.com/pengelbrecht/orch/internal/plan"
)

// TaskStatus is a task's state in the current attempt.
type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskRunning
	TaskSuccess
	TaskFailed
	TaskViolation
)

// TaskInfo holds task information for display.
type TaskInfo struct {
	Index       int
	Agent       string
	Instruction string
	Status      TaskStatus
	Files       int
	Message     string
	IsSelected  bool
	AnimFrame   int
}

// taskItem implements list.Item for task display.
type taskItem struct {
	info TaskInfo
}

var (
	iconPending   = lipgloss.NewStyle().Foreground(mutedColor).Render("○")
	iconSuccess   = lipgloss.NewStyle().Foreground(successColor).Render("●")
	iconFailed    = lipgloss.NewStyle().Foreground(errorColor).Render("✗")
	iconViolation = lipgloss.NewStyle().Foreground(warningColor).Render("⊘")

	// Pulsing colors for the running indicator
	pulseColors = []lipgloss.Color{"214", "215", "216", "215"}
)

func (t taskItem) Title() string {
	icon := iconPending
	switch t.info.Status {
	case TaskRunning:
		icon = lipgloss.NewStyle().Foreground(pulseColors[t.info.AnimFrame%len(pulseColors)]).Render("◐")
	case TaskSuccess:
		icon = iconSuccess
	case TaskFailed:
		icon = iconFailed
	case TaskViolation:
		icon = iconViolation
	}

	prefix := "  "
	if t.info.IsSelected {
		prefix = lipgloss.NewStyle().Foreground(primaryColor).Bold(true).Render("▶") + " "
	}
	return fmt.Sprintf("%s%s %d %s", prefix, icon, t.info.Index, t.info.Agent)
}

func (t taskItem) Description() string {
	switch t.info.Status {
	case TaskSuccess:
		return fmt.Sprintf("  %d files", t.info.Files)
	case TaskFailed, TaskViolation:
		return "  " + truncate(t.info.Message, taskPanelWidth-6)
	}
	return "  " + truncate(oneLine(t.info.Instruction), taskPanelWidth-6)
}

func (t taskItem) FilterValue() string {
	return t.info.Agent
}

// setPlan replaces the task list with p's tasks, all pending.
func (m *Model) setPlan(p *plan.Plan) {
	m.taskInfos = make([]TaskInfo, len(p.Tasks))
	for i, t := range p.Tasks {
		m.taskInfos[i] = TaskInfo{Index: i, Agent: t.Agent, Instruction: t.Instruction}
	}
	m.selected = -1
	m.refreshTasks()
}

// updateTask applies fn to the task at index, if it exists.
func (m *Model) updateTask(index int, fn func(*TaskInfo)) {
	if index < 0 || index >= len(m.taskInfos) {
		return
	}
	fn(&m.taskInfos[index])
	m.refreshTasks()
}

func (m *Model) refreshTasks() {
	items := make([]list.Item, len(m.taskInfos))
	for i, info := range m.taskInfos {
		info.AnimFrame = m.animFrame
		info.IsSelected = i == m.selected
		items[i] = taskItem{info: info}
	}
	m.tasks.SetItems(items)
}

// finished counts tasks that are no longer pending or running.
func (m *Model) finished() int {
	n := 0
	for _, t := range m.taskInfos {
		if t.Status >= TaskSuccess {
			n++
		}
	}
	return n
}
