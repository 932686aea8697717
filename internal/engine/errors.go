package engine

import (
	"errors"
	"fmt"
)

// Sentinels matched by *Error through errors.Is.
var (
	ErrContextLoad     = errors.New("context load failed")
	ErrAgentFailed     = errors.New("agent failed")
	ErrReplanExhausted = errors.New("replan attempts exhausted")
)

// Kind classifies an engine error.
type Kind int

const (
	ContextLoad Kind = iota
	AgentFailed
	ReplanExhausted
)

func (k Kind) sentinel() error {
	switch k {
	case ContextLoad:
		return ErrContextLoad
	case AgentFailed:
		return ErrAgentFailed
	default:
		return ErrReplanExhausted
	}
}

// Error is a run-level failure. Agent is set for AgentFailed.
type Error struct {
	Kind  Kind
	Agent string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	var b string
	switch e.Kind {
	case ContextLoad:
		b = "failed to load repository context: " + e.Msg
	case AgentFailed:
		b = fmt.Sprintf("agent '%s' failed: %s", e.Agent, e.Msg)
	default:
		b = "replan exhausted: " + e.Msg
	}
	if e.Err != nil {
		b += ": " + e.Err.Error()
	}
	return b
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind.sentinel() }

// ContextLoadError wraps a preflight failure.
func ContextLoadError(msg string, err error) error {
	return &Error{Kind: ContextLoad, Msg: msg, Err: err}
}

func agentFailed(agent, msg string, err error) error {
	return &Error{Kind: AgentFailed, Agent: agent, Msg: msg, Err: err}
}
