// Package tui implements the live terminal view of an orch run.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pengelbrecht/orch/internal/engine"
	"github.com/pengelbrecht/orch/internal/plan"
)

const maxOutputLines = 2000

type outputLine struct {
	agent string
	text  string
}

// Model is the main TUI model for orch.
type Model struct {
	runID   string
	request string

	// State
	attempt     int
	maxAttempts int
	summary     string
	current     string
	running     bool
	quitting    bool
	showHelp    bool
	result      *engine.RunResult
	err         error
	animFrame   int
	selected    int
	cost        float64
	tokens      int
	startTime   time.Time
	taskInfos   []TaskInfo
	outputLines []outputLine

	// Embedded bubbles components
	keys     KeyMap
	help     help.Model
	viewport viewport.Model
	tasks    list.Model
	progress progress.Model

	// Dimensions
	width  int
	height int
}

// Config holds TUI configuration.
type Config struct {
	RunID   string
	Request string
}

// New creates a new TUI model.
func New(cfg Config) Model {
	vp := viewport.New(80, 20)
	vp.SetContent("Waiting for the planner...")

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	taskList := list.New([]list.Item{}, delegate, taskPanelWidth-4, 10)
	taskList.SetShowTitle(false)
	taskList.SetShowStatusBar(false)
	taskList.SetShowHelp(false)
	taskList.SetFilteringEnabled(false)

	h := help.New()
	h.Styles.ShortKey = keyStyle
	h.Styles.ShortDesc = descStyle
	h.Styles.FullKey = keyStyle
	h.Styles.FullDesc = descStyle

	return Model{
		runID:     cfg.RunID,
		request:   cfg.Request,
		keys:      DefaultKeyMap(),
		help:      h,
		viewport:  vp,
		tasks:     taskList,
		progress:  progress.New(progress.WithDefaultGradient()),
		running:   true,
		selected:  -1,
		startTime: time.Now(),
	}
}

// Message types sent by the engine callbacks.
type (
	// AttemptMsg signals a new planning attempt.
	AttemptMsg struct {
		Attempt int
		Max     int
	}

	// PlanMsg carries an attempt's plan.
	PlanMsg struct {
		Attempt int
		Plan    *plan.Plan
	}

	// TaskStartMsg signals a task started.
	TaskStartMsg struct {
		Index int
		Task  plan.Task
	}

	// TaskEndMsg carries a finished task.
	TaskEndMsg struct {
		Result engine.AgentResult
	}

	// ProgressMsg is one line of agent activity.
	ProgressMsg struct {
		Agent string
		Line  string
	}

	// MergeMsg signals a worktree merge into the root tree.
	MergeMsg struct {
		Agent string
		Err   error
	}

	// RunCompleteMsg signals the run has finished.
	RunCompleteMsg struct {
		Result *engine.RunResult
		Err    error
	}

	tickMsg time.Time
)

func tick() tea.Cmd {
	return tea.Tick(300*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
			return m, nil
		case key.Matches(msg, m.keys.Top):
			m.viewport.GotoTop()
			return m, nil
		case key.Matches(msg, m.keys.Bottom):
			m.viewport.GotoBottom()
			return m, nil
		case key.Matches(msg, m.keys.NextTask):
			m.selectTask(m.selected + 1)
			return m, nil
		case key.Matches(msg, m.keys.PrevTask):
			m.selectTask(m.selected - 1)
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.resize()

	case tickMsg:
		if m.running {
			m.animFrame++
			m.refreshTasks()
			cmds = append(cmds, tick())
		}

	case AttemptMsg:
		m.attempt = msg.Attempt
		m.maxAttempts = msg.Max
		m.appendOutput("", fmt.Sprintf("── attempt %d/%d ──", msg.Attempt, msg.Max))

	case PlanMsg:
		m.summary = msg.Plan.Summary
		m.setPlan(msg.Plan)
		m.appendOutput("", "plan: "+msg.Plan.Summary)

	case TaskStartMsg:
		m.current = msg.Task.Agent
		m.updateTask(msg.Index, func(t *TaskInfo) { t.Status = TaskRunning })
		m.appendOutput(msg.Task.Agent, "started")

	case TaskEndMsg:
		r := msg.Result
		m.cost += r.Usage.CostUSD
		m.tokens += r.Usage.TotalTokens()
		m.updateTask(r.TaskIndex, func(t *TaskInfo) {
			t.Files = len(r.FilesModified)
			t.Message = r.Status.String()
			switch r.Status.Kind {
			case engine.StatusSuccess:
				t.Status = TaskSuccess
			case engine.StatusFailed:
				t.Status = TaskFailed
			default:
				t.Status = TaskViolation
			}
		})
		m.appendOutput(r.Agent, r.Status.String())
		for _, v := range r.Status.Violations {
			m.appendOutput(r.Agent, "violation: "+v.String())
		}

	case ProgressMsg:
		m.appendOutput(msg.Agent, msg.Line)

	case MergeMsg:
		if msg.Err != nil {
			m.appendOutput(msg.Agent, "merge failed: "+msg.Err.Error())
		} else {
			m.appendOutput(msg.Agent, "merged")
		}

	case RunCompleteMsg:
		m.running = false
		m.result = msg.Result
		m.err = msg.Err
		switch {
		case msg.Err != nil:
			m.appendOutput("", "error: "+msg.Err.Error())
		case msg.Result != nil && msg.Result.Merged:
			m.appendOutput("", "All agent changes merged successfully.")
		case msg.Result != nil:
			if err := msg.Result.Err(); err != nil {
				m.appendOutput("", "rejected: "+err.Error())
			}
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "Loading...\n"
	}

	main := m.renderMainContent()
	if m.showHelp {
		main = helpPanelStyle.Width(m.width - 2).Render(m.help.FullHelpView(m.keys.FullHelp()))
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderStatusBar(),
		main,
		m.renderFooter(),
	)
}

func (m *Model) resize() {
	height := m.contentHeight()
	m.viewport.Width = m.outputWidth() - 4
	m.viewport.Height = height - 3
	m.tasks.SetSize(taskPanelWidth-4, height-3)
	m.progress.Width = m.width - 20
}

func (m *Model) appendOutput(agent, text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		m.outputLines = append(m.outputLines, outputLine{agent: agent, text: line})
	}
	if over := len(m.outputLines) - maxOutputLines; over > 0 {
		m.outputLines = m.outputLines[over:]
	}
	m.renderOutput()
	m.viewport.GotoBottom()
}

// renderOutput fills the viewport, limited to the selected task's agent
// when one is selected.
func (m *Model) renderOutput() {
	filter := ""
	if m.selected >= 0 && m.selected < len(m.taskInfos) {
		filter = m.taskInfos[m.selected].Agent
	}
	var b strings.Builder
	for _, l := range m.outputLines {
		if filter != "" && l.agent != filter {
			continue
		}
		if l.agent != "" {
			b.WriteString(agentStyle.Render("["+l.agent+"]") + " ")
		}
		b.WriteString(l.text)
		b.WriteByte('\n')
	}
	m.viewport.SetContent(b.String())
}

// selectTask moves the selection; -1 and out-of-range values show every
// agent's output.
func (m *Model) selectTask(i int) {
	if i < -1 || i >= len(m.taskInfos) {
		i = -1
	}
	m.selected = i
	m.refreshTasks()
	m.renderOutput()
	m.viewport.GotoBottom()
}

// Attach routes e's callbacks to send, usually tea.Program.Send.
func Attach(e *engine.Engine, send func(tea.Msg)) {
	e.OnAttemptStart = func(attempt, max int) { send(AttemptMsg{Attempt: attempt, Max: max}) }
	e.OnPlan = func(attempt int, p *plan.Plan) { send(PlanMsg{Attempt: attempt, Plan: p}) }
	e.OnTaskStart = func(idx int, t plan.Task) { send(TaskStartMsg{Index: idx, Task: t}) }
	e.OnTaskEnd = func(r *engine.AgentResult) { send(TaskEndMsg{Result: *r}) }
	e.OnProgress = func(agent, line string) { send(ProgressMsg{Agent: agent, Line: line}) }
	e.OnMerge = func(agent string, err error) { send(MergeMsg{Agent: agent, Err: err}) }
}

// Run shows the live view while run executes. Quitting the view cancels
// the context handed to run; the view stays open after run returns until
// the user quits.
func Run(ctx context.Context, e *engine.Engine, cfg Config, run func(context.Context) (*engine.RunResult, error)) (*engine.RunResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(New(cfg), tea.WithAltScreen())
	Attach(e, p.Send)

	type outcome struct {
		res *engine.RunResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := run(ctx)
		p.Send(RunCompleteMsg{Result: res, Err: err})
		done <- outcome{res, err}
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("running tui: %w", err)
	}
	cancel()
	o := <-done
	return o.res, o.err
}
