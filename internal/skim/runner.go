package skim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultCommand is the integration command template. {name} is replaced by
// the skimsystem name and {action} by the requested action.
const DefaultCommand = "bog skim . --name {name} --action {action}"

// IntegrationRunner runs the external step that writes change requests into
// sidecars before work is delegated.
type IntegrationRunner interface {
	Run(ctx context.Context, skimsystem, action string) (string, error)
}

// CommandRunner runs an integration command template in Dir.
type CommandRunner struct {
	// Command is the template. Defaults to DefaultCommand.
	Command string
	Dir     string
}

// NewCommandRunner creates a runner for template in dir.
func NewCommandRunner(template, dir string) *CommandRunner {
	return &CommandRunner{Command: template, Dir: dir}
}

// Run executes the command and returns its combined stdout and stderr. A
// nonzero exit is not an error: the output is passed on as is. Only a
// command that cannot be started fails.
func (r *CommandRunner) Run(ctx context.Context, skimsystem, action string) (string, error) {
	args := r.args(skimsystem, action)
	if len(args) == 0 {
		return "", errors.New("integration command is empty")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = r.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out.String(), nil
		}
		return "", fmt.Errorf("%s: %w", args[0], err)
	}
	return out.String(), nil
}

// args expands the template. Without an action, the {action} token and the
// flag in front of it are dropped.
func (r *CommandRunner) args(skimsystem, action string) []string {
	template := r.Command
	if template == "" {
		template = DefaultCommand
	}
	fields := strings.Fields(template)

	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if strings.Contains(f, "{action}") {
			if action == "" {
				if n := len(out); n > 0 && strings.HasPrefix(out[n-1], "-") {
					out = out[:n-1]
				}
				continue
			}
			f = strings.ReplaceAll(f, "{action}", action)
		}
		out = append(out, strings.ReplaceAll(f, "{name}", skimsystem))
	}
	return out
}
