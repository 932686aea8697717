package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Layout constants
const (
	taskPanelWidth = 35 // Fixed width for task panel
	minHeight      = 10
	chromeHeight   = 6 // header, two status lines, footer, borders
)

// Color palette
var (
	primaryColor   = lipgloss.Color("205") // Pink
	secondaryColor = lipgloss.Color("86")  // Cyan
	mutedColor     = lipgloss.Color("241") // Gray
	successColor   = lipgloss.Color("78")  // Green
	warningColor   = lipgloss.Color("214") // Orange
	errorColor     = lipgloss.Color("196") // Red
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 1)

	statusItemStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	statusLabelStyle = lipgloss.NewStyle().
				Foreground(mutedColor)

	taskPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor)

	outputPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(secondaryColor)

	helpPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 1)

	keyStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true)

	descStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	agentStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	runningStyle = lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true)

	mergedStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	rejectedStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)
)

// renderHeader renders the request and the run state.
func (m Model) renderHeader() string {
	left := titleStyle.Render("orch: " + truncate(oneLine(m.request), m.width/2))

	var status string
	switch {
	case m.running:
		status = runningStyle.Render("● RUNNING")
	case m.err == nil && m.result != nil && m.result.Merged:
		status = mergedStyle.Render("✓ MERGED")
	default:
		status = rejectedStyle.Render("✗ REJECTED")
	}

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(status) - 2
	if padding < 0 {
		padding = 0
	}
	return headerStyle.Width(m.width).Render(left + strings.Repeat(" ", padding) + status)
}

// renderStatusBar renders attempt, current agent, time and spend, then a
// progress bar over the attempt's tasks.
func (m Model) renderStatusBar() string {
	item := func(label, value string) string {
		return statusLabelStyle.Render(label+" ") + statusItemStyle.Render(value)
	}

	stats := strings.Join([]string{
		item("Run:", truncate(m.runID, 8)),
		item("Attempt:", fmt.Sprintf("%d/%d", m.attempt, m.maxAttempts)),
		item("Agent:", m.current),
		item("Time:", formatDuration(time.Since(m.startTime))),
		item("Cost:", fmt.Sprintf("$%.4f", m.cost)),
		item("Tokens:", fmt.Sprintf("%d", m.tokens)),
	}, " │ ")

	var bar string
	if n := len(m.taskInfos); n > 0 {
		bar = m.progress.ViewAs(float64(m.finished()) / float64(n))
	}
	return statusBarStyle.Width(m.width).Render(lipgloss.JoinVertical(lipgloss.Left, stats, bar))
}

// formatDuration formats a duration as MM:SS or HH:MM:SS.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	mins := d / time.Minute
	d -= mins * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, mins, s)
	}
	return fmt.Sprintf("%d:%02d", mins, s)
}

func (m Model) contentHeight() int {
	h := m.height - chromeHeight
	if h < minHeight {
		h = minHeight
	}
	return h
}

func (m Model) outputWidth() int {
	w := m.width - taskPanelWidth - 4
	if w < 20 {
		w = 20
	}
	return w
}

// renderMainContent renders the task list beside the output pane.
func (m Model) renderMainContent() string {
	height := m.contentHeight()

	tasksTitle := "Tasks"
	if m.summary != "" {
		tasksTitle = truncate(m.summary, taskPanelWidth-4)
	}
	taskPanel := taskPanelStyle.
		Width(taskPanelWidth).
		Height(height).
		Render(lipgloss.JoinVertical(lipgloss.Left, panelTitleStyle.Render(tasksTitle), m.tasks.View()))

	outputTitle := "Agent Output"
	if m.selected >= 0 && m.selected < len(m.taskInfos) {
		outputTitle += " · " + m.taskInfos[m.selected].Agent
	}
	outputPanel := outputPanelStyle.
		Width(m.outputWidth()).
		Height(height).
		Render(lipgloss.JoinVertical(lipgloss.Left, panelTitleStyle.Render(outputTitle), m.viewport.View()))

	return lipgloss.JoinHorizontal(lipgloss.Top, taskPanel, outputPanel)
}

// renderFooter renders the short key help.
func (m Model) renderFooter() string {
	return footerStyle.Width(m.width).Render(m.help.ShortHelpView(m.keys.ShortHelp()))
}

func truncate(s string, max int) string {
	if max < 4 {
		max = 4
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
