package verify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Command checks that an executable is on PATH.
type Command struct {
	label   string
	command string
}

// NewCommand checks the first word of command, so "claude --verbose" looks
// up "claude".
func NewCommand(label, command string) *Command {
	return &Command{label: label, command: command}
}

func (c *Command) Name() string {
	return c.label
}

func (c *Command) Check(ctx context.Context) *Result {
	start := time.Now()
	result := &Result{Check: c.label}

	fields := strings.Fields(c.command)
	if len(fields) == 0 {
		result.Output = "no command configured"
		result.Duration = time.Since(start)
		return result
	}

	path, err := exec.LookPath(fields[0])
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err
		result.Output = fmt.Sprintf("%s not found on PATH", fields[0])
		return result
	}
	result.Passed = true
	result.Output = path
	return result
}
