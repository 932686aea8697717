package engine

import (
	"regexp"
)

// Signal is a control marker an agent may put in its final message.
type Signal int

const (
	// SignalNone indicates no signal was detected in the output.
	SignalNone Signal = iota

	// SignalBlocked means the agent could not proceed (missing credentials,
	// contradictory instructions, a change needed outside its files).
	SignalBlocked

	// SignalEject means the agent stopped for something it must not do in a
	// worktree, such as a large install.
	SignalEject
)

// String returns the string representation of the signal.
func (s Signal) String() string {
	switch s {
	case SignalBlocked:
		return "BLOCKED"
	case SignalEject:
		return "EJECT"
	default:
		return "NONE"
	}
}

// Signals are enclosed in <promise>...</promise> tags.
var (
	blockedPattern = regexp.MustCompile(`<promise>BLOCKED:\s*(.+?)</promise>`)
	ejectPattern   = regexp.MustCompile(`<promise>EJECT:\s*(.+?)</promise>`)
)

// ParseSignals scans agent output for a control signal and its reason.
// BLOCKED is checked before EJECT.
func ParseSignals(output string) (Signal, string) {
	if m := blockedPattern.FindStringSubmatch(output); len(m) > 1 {
		return SignalBlocked, m[1]
	}
	if m := ejectPattern.FindStringSubmatch(output); len(m) > 1 {
		return SignalEject, m[1]
	}
	return SignalNone, ""
}
