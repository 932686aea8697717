package agent

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// processSpec describes one external process to run.
type processSpec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration

	// Poll overrides pollInterval, for tests.
	Poll time.Duration
}

// processResult is what is left of a process once it has been reaped.
type processResult struct {
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// runProcess starts spec with stdin closed and drains stdout and stderr on
// two goroutines so that neither pipe can fill up and stall the child.
// Every stdout line is handed to onLine from the stdout goroutine.
//
// The caller polls for completion on a fixed interval. When the timeout
// elapses the process group is killed, both readers are joined and the child
// is reaped before a *TimeoutError is returned.
func runProcess(ctx context.Context, spec processSpec, onLine func([]byte)) (*processResult, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdin = nil
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &IOError{Op: "stdout pipe", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &IOError{Op: "stderr pipe", Err: err}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", spec.Command, ErrNotFound)
		}
		return nil, &IOError{Op: "start", Err: err}
	}

	var stderrBuf lockedBuffer
	var readers errgroup.Group
	readers.Go(func() error {
		return readLines(stdout, onLine)
	})
	readers.Go(func() error {
		_, err := io.Copy(&stderrBuf, stderr)
		return err
	})

	joined := make(chan error, 1)
	go func() { joined <- readers.Wait() }()

	poll := spec.Poll
	if poll <= 0 {
		poll = pollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	// abort kills the child, joins both readers and reaps it.
	abort := func() *processResult {
		killProcessGroup(cmd)
		<-joined
		_ = cmd.Wait()
		return &processResult{
			Stderr:   stderrBuf.String(),
			ExitCode: -1,
			Duration: time.Since(start),
		}
	}

	for {
		select {
		case readErr := <-joined:
			waitErr := cmd.Wait()
			res := &processResult{
				Stderr:   stderrBuf.String(),
				Duration: time.Since(start),
			}
			if waitErr != nil {
				var exitErr *exec.ExitError
				if !errors.As(waitErr, &exitErr) {
					return res, &IOError{Op: "wait", Err: waitErr}
				}
				res.ExitCode = exitErr.ExitCode()
			}
			if readErr != nil && !errors.Is(readErr, os.ErrClosed) {
				return res, &IOError{Op: "read", Err: readErr}
			}
			return res, nil

		case <-ticker.C:
			if spec.Timeout > 0 && time.Since(start) >= spec.Timeout {
				res := abort()
				return res, &TimeoutError{After: spec.Timeout}
			}

		case <-ctx.Done():
			res := abort()
			return res, ctx.Err()
		}
	}
}

// readLines feeds each newline-terminated line of r to onLine. Lines have no
// length limit; a trailing line without newline is delivered too.
func readLines(r io.Reader, onLine func([]byte)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 && onLine != nil {
			onLine(bytes.TrimRight(line, "\r\n"))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// Keep draining so the child never blocks on a full pipe.
			_, _ = io.Copy(io.Discard, r)
			return err
		}
	}
}

// childEnv returns the current environment without variables that would make
// a nested agent CLI believe it runs inside another agent session.
func childEnv(extra ...string) []string {
	var env []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "CLAUDECODE=") {
			continue
		}
		env = append(env, kv)
	}
	return append(env, extra...)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
