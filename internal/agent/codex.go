package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"strings"
)

// CodexProvider runs the OpenAI Codex CLI (`codex exec --json`).
// Codex has no separate system prompt, so the system context is prepended
// to the instruction.
type CodexProvider struct {
	// Command is the path to the codex binary. Defaults to "codex".
	Command string

	Logger *slog.Logger
}

// NewCodexProvider creates a Codex provider with default settings.
func NewCodexProvider() *CodexProvider {
	return &CodexProvider{Command: "codex"}
}

// Name returns "codex".
func (p *CodexProvider) Name() string {
	return "codex"
}

// Available checks if the codex CLI is installed and accessible.
func (p *CodexProvider) Available() bool {
	_, err := exec.LookPath(p.command())
	return err == nil
}

// Invoke runs codex exec in the request's working directory.
func (p *CodexProvider) Invoke(ctx context.Context, req Request) (*Output, error) {
	spec := processSpec{
		Command: p.command(),
		Args:    p.args(req),
		Dir:     req.WorkingDir,
		Env:     childEnv(),
		Timeout: req.Options.timeout(),
	}
	return invokeCLI(ctx, p.Logger, spec, &codexDecoder{workDir: req.WorkingDir}, req)
}

func (p *CodexProvider) args(req Request) []string {
	args := []string{"exec", "--json", "--skip-git-repo-check"}
	if req.Options.Model != "" {
		args = append(args, "--model", req.Options.Model)
	}
	sandbox := "workspace-write"
	if req.Options.ReadOnly {
		sandbox = "read-only"
	}
	args = append(args, "--sandbox", sandbox)
	if req.WorkingDir != "" {
		args = append(args, "-C", req.WorkingDir)
	}
	return append(args, codexPrompt(req))
}

func codexPrompt(req Request) string {
	if req.SystemContext == "" {
		return req.Instruction
	}
	return req.SystemContext + "\n\n---\n\n## Instruction\n\n" + req.Instruction
}

// command returns the codex binary path.
func (p *CodexProvider) command() string {
	if p.Command != "" {
		return p.Command
	}
	return "codex"
}

// codex exec --json events.
type codexEvent struct {
	Type     string      `json:"type"`
	ThreadID string      `json:"thread_id"`
	Item     *codexItem  `json:"item"`
	Usage    *codexUsage `json:"usage"`
	Error    *codexError `json:"error"`
	Message  string      `json:"message"`
}

type codexItem struct {
	ID      string        `json:"id"`
	Type    string        `json:"type"`
	Text    string        `json:"text"`
	Command string        `json:"command"`
	Status  string        `json:"status"`
	Changes []codexChange `json:"changes"`
	Server  string        `json:"server"`
	Tool    string        `json:"tool"`
	Query   string        `json:"query"`
	Message string        `json:"message"`
}

type codexChange struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

type codexUsage struct {
	InputTokens       int `json:"input_tokens"`
	CachedInputTokens int `json:"cached_input_tokens"`
	OutputTokens      int `json:"output_tokens"`
}

type codexError struct {
	Message string `json:"message"`
}

type codexDecoder struct {
	workDir string
}

func (d *codexDecoder) decode(line []byte, st *StreamState, progress func(string)) {
	var ev codexEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return
	}

	switch ev.Type {
	case "thread.started":
		st.SessionID = ev.ThreadID

	case "turn.completed":
		st.Usage.Turns++
		if u := ev.Usage; u != nil {
			st.Usage.InputTokens += u.InputTokens + u.CachedInputTokens
			st.Usage.OutputTokens += u.OutputTokens
		}
		// A completed turn is the terminal event; its text is the last agent message.
		st.HasResult = true
		st.ResultText = st.lastAssistant

	case "turn.failed":
		st.HasResult = true
		st.IsError = true
		st.ResultText = st.lastAssistant
		if ev.Error != nil {
			st.errors = append(st.errors, ev.Error.Message)
		}

	case "error":
		if ev.Message != "" {
			st.errors = append(st.errors, ev.Message)
		}

	case "item.started", "item.updated", "item.completed":
		if ev.Item != nil {
			d.item(ev.Type, ev.Item, st, progress)
		}
	}
}

func (d *codexDecoder) item(evType string, it *codexItem, st *StreamState, progress func(string)) {
	switch it.Type {
	case "agent_message":
		if evType == "item.completed" && strings.TrimSpace(it.Text) != "" {
			st.lastAssistant = it.Text
		}
	case "command_execution":
		if evType == "item.started" {
			progress("Bash " + truncate(oneLine(it.Command), maxCommandLen))
		}
	case "file_change":
		if evType == "item.completed" {
			for _, c := range it.Changes {
				progress("Edit " + shortenPath(c.Path, d.workDir))
			}
		}
	case "mcp_tool_call":
		if evType == "item.started" {
			progress("MCP " + it.Server + "." + it.Tool)
		}
	case "web_search":
		if evType == "item.started" {
			progress("WebSearch " + it.Query)
		}
	case "error":
		if it.Message != "" {
			st.errors = append(st.errors, it.Message)
		}
	}
}
