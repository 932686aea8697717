package agent

import (
	"bytes"
	"sync"
)

// StreamState accumulates what an agent event stream has reported so far.
type StreamState struct {
	mu sync.Mutex

	SessionID string
	Model     string
	Usage     Usage

	// ResultText is set by the terminal result event.
	ResultText string
	HasResult  bool
	IsError    bool

	// lastAssistant is the most recent assistant text, used when no result
	// event arrives.
	lastAssistant string
	errors        []string
}

// FinalText returns the result event text, or the last assistant text if the
// stream ended without one.
func (s *StreamState) FinalText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.HasResult {
		return s.ResultText
	}
	return s.lastAssistant
}

// Errors returns error messages reported inside the stream.
func (s *StreamState) Errors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.errors...)
}

// Snapshot returns a copy of the counters.
func (s *StreamState) Snapshot() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Usage
}

// eventDecoder understands one CLI family's NDJSON events. Lines it cannot
// decode and event types it does not know are ignored.
type eventDecoder interface {
	decode(line []byte, st *StreamState, progress func(string))
}

// StreamParser feeds stdout lines to a decoder and relays progress lines.
type StreamParser struct {
	decoder    eventDecoder
	state      *StreamState
	onProgress func(string)
}

func newStreamParser(dec eventDecoder, onProgress func(string)) *StreamParser {
	return &StreamParser{
		decoder:    dec,
		state:      &StreamState{},
		onProgress: onProgress,
	}
}

// State returns the accumulated stream state.
func (p *StreamParser) State() *StreamState { return p.state }

// Feed handles one stdout line.
func (p *StreamParser) Feed(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return
	}
	p.state.mu.Lock()
	var pending []string
	p.decoder.decode(line, p.state, func(s string) { pending = append(pending, s) })
	p.state.mu.Unlock()

	if p.onProgress == nil {
		return
	}
	for _, s := range pending {
		p.onProgress(s)
	}
}
