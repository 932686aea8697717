package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// ClaudeProvider runs the Claude Code CLI in stream-json mode.
type ClaudeProvider struct {
	// Command is the path to the claude binary. Defaults to "claude".
	Command string

	Logger *slog.Logger
}

// NewClaudeProvider creates a Claude provider with default settings.
func NewClaudeProvider() *ClaudeProvider {
	return &ClaudeProvider{Command: "claude"}
}

// Name returns "claude".
func (p *ClaudeProvider) Name() string {
	return "claude"
}

// Available checks if the claude CLI is installed and accessible.
func (p *ClaudeProvider) Available() bool {
	_, err := exec.LookPath(p.command())
	return err == nil
}

// Invoke runs claude with the request's instruction and system context.
func (p *ClaudeProvider) Invoke(ctx context.Context, req Request) (*Output, error) {
	spec := processSpec{
		Command: p.command(),
		Args:    p.args(req),
		Dir:     req.WorkingDir,
		Env:     childEnv(),
		Timeout: req.Options.timeout(),
	}
	return invokeCLI(ctx, p.Logger, spec, &claudeDecoder{workDir: req.WorkingDir}, req)
}

func (p *ClaudeProvider) args(req Request) []string {
	opts := req.Options
	args := []string{"-p", req.Instruction}
	if req.SystemContext != "" {
		args = append(args, "--system-prompt", req.SystemContext)
	}
	args = append(args, "--output-format", "stream-json", "--verbose")
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	args = append(args, "--max-turns", strconv.Itoa(opts.maxTurns()))
	if opts.MaxBudgetUSD > 0 {
		args = append(args, "--max-budget-usd", strconv.FormatFloat(opts.MaxBudgetUSD, 'f', -1, 64))
	}
	if opts.ReadOnly {
		args = append(args, "--permission-mode", "plan", "--disallowedTools", "Edit,Write,MultiEdit,NotebookEdit")
	} else {
		args = append(args, "--dangerously-skip-permissions")
	}
	return args
}

// command returns the claude binary path.
func (p *ClaudeProvider) command() string {
	if p.Command != "" {
		return p.Command
	}
	return "claude"
}

// claude stream-json events.
type claudeEvent struct {
	Type         string         `json:"type"`
	Subtype      string         `json:"subtype"`
	SessionID    string         `json:"session_id"`
	Model        string         `json:"model"`
	Message      *claudeMessage `json:"message"`
	Result       string         `json:"result"`
	IsError      bool           `json:"is_error"`
	NumTurns     int            `json:"num_turns"`
	TotalCostUSD float64        `json:"total_cost_usd"`
	Usage        *claudeUsage   `json:"usage"`
}

type claudeMessage struct {
	Content []claudeContent `json:"content"`
	Usage   *claudeUsage    `json:"usage"`
}

type claudeContent struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type claudeUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

func (u *claudeUsage) input() int {
	return u.InputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens
}

type claudeDecoder struct {
	workDir string
}

func (d *claudeDecoder) decode(line []byte, st *StreamState, progress func(string)) {
	var ev claudeEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return
	}

	switch ev.Type {
	case "system":
		if ev.Subtype == "init" {
			st.SessionID = ev.SessionID
			st.Model = ev.Model
		}

	case "assistant":
		if ev.Message == nil {
			return
		}
		st.Usage.Turns++
		if u := ev.Message.Usage; u != nil {
			st.Usage.InputTokens += u.input()
			st.Usage.OutputTokens += u.OutputTokens
		}
		var text []string
		for _, c := range ev.Message.Content {
			switch c.Type {
			case "text":
				if strings.TrimSpace(c.Text) != "" {
					text = append(text, c.Text)
				}
			case "tool_use":
				progress(summarizeTool(c.Name, c.Input, d.workDir))
			}
		}
		if len(text) > 0 {
			st.lastAssistant = strings.Join(text, "\n")
		}

	case "result":
		st.HasResult = true
		st.ResultText = ev.Result
		st.IsError = ev.IsError
		if ev.IsError && ev.Subtype != "" {
			st.errors = append(st.errors, ev.Subtype)
		}
		if ev.NumTurns > 0 {
			st.Usage.Turns = ev.NumTurns
		}
		if ev.TotalCostUSD > 0 {
			st.Usage.CostUSD = ev.TotalCostUSD
		}
		if u := ev.Usage; u != nil {
			st.Usage.InputTokens = u.input()
			st.Usage.OutputTokens = u.OutputTokens
		}
	}
}
