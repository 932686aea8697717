package agent

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when the agent CLI binary cannot be found.
var ErrNotFound = errors.New("agent executable not found")

// ErrTimeout is matched by every *TimeoutError.
var ErrTimeout = errors.New("agent timed out")

// TimeoutError is returned when the process outlived its timeout and was killed.
// Partial carries whatever output had been produced before the kill.
type TimeoutError struct {
	After   time.Duration
	Partial *Output
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("agent timed out after %v", e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// IOError wraps failures to spawn or talk to the process.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
