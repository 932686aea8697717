// Package budget caps what a single orch run may spend across the planner
// and every delegated agent.
package budget

import (
	"fmt"
	"sync"
	"time"
)

// Limits bounds a run. Zero means unlimited.
type Limits struct {
	MaxInvocations int
	MaxTokens      int
	MaxCost        float64
	MaxDuration    time.Duration
}

// Usage is what a run has spent so far.
type Usage struct {
	Invocations int
	TokensIn    int
	TokensOut   int
	Cost        float64
	StartTime   time.Time
}

// TotalTokens returns input plus output tokens.
func (u Usage) TotalTokens() int {
	return u.TokensIn + u.TokensOut
}

// Remaining is the headroom left under each limit. -1 means unlimited.
type Remaining struct {
	Invocations int
	Tokens      int
	Cost        float64
	Duration    time.Duration
}

// Tracker accumulates usage against limits. It is safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	limits Limits
	usage  Usage
}

// NewTracker starts the clock for a run.
func NewTracker(limits Limits) *Tracker {
	return &Tracker{
		limits: limits,
		usage:  Usage{StartTime: time.Now()},
	}
}

// Add records one agent invocation.
func (t *Tracker) Add(tokensIn, tokensOut int, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage.Invocations++
	t.usage.TokensIn += tokensIn
	t.usage.TokensOut += tokensOut
	t.usage.Cost += cost
}

// ShouldStop reports whether any limit has been reached, and which.
func (t *Tracker) ShouldStop() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, u := t.limits, t.usage
	switch {
	case l.MaxInvocations > 0 && u.Invocations >= l.MaxInvocations:
		return true, fmt.Sprintf("invocation limit reached (%d/%d)", u.Invocations, l.MaxInvocations)
	case l.MaxTokens > 0 && u.TotalTokens() >= l.MaxTokens:
		return true, fmt.Sprintf("token limit reached (%d/%d)", u.TotalTokens(), l.MaxTokens)
	case l.MaxCost > 0 && u.Cost >= l.MaxCost:
		return true, fmt.Sprintf("cost limit reached ($%.2f/$%.2f)", u.Cost, l.MaxCost)
	case l.MaxDuration > 0 && time.Since(u.StartTime) >= l.MaxDuration:
		return true, fmt.Sprintf("duration limit reached (%s)", l.MaxDuration)
	}
	return false, ""
}

// Remaining returns the headroom under each limit.
func (t *Tracker) Remaining() Remaining {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := Remaining{Invocations: -1, Tokens: -1, Cost: -1, Duration: -1}
	l, u := t.limits, t.usage
	if l.MaxInvocations > 0 {
		r.Invocations = max(0, l.MaxInvocations-u.Invocations)
	}
	if l.MaxTokens > 0 {
		r.Tokens = max(0, l.MaxTokens-u.TotalTokens())
	}
	if l.MaxCost > 0 {
		r.Cost = max(0, l.MaxCost-u.Cost)
	}
	if l.MaxDuration > 0 {
		r.Duration = max(0, l.MaxDuration-time.Since(u.StartTime))
	}
	return r
}
