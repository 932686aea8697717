package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNoPlan is returned when no strategy finds a plan in the text.
var ErrNoPlan = errors.New("no plan found in planner output")

// envelopeFields are the string fields a CLI wrapper may carry the real payload in.
var envelopeFields = []string{"result", "content", "text", "output", "message", "response"}

const maxEnvelopeDepth = 3

// Extract finds a plan in loosely structured planner output. It tries, in
// order: the whole text as a plan; a JSON envelope whose string field holds
// the payload; a fenced code block; the first balanced {...} span; and
// finally a repaired version of that span.
func Extract(text string) (*Plan, error) {
	if p, ok := extract(text, 0); ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoPlan, preview(text))
}

func extract(text string, depth int) (*Plan, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}

	if p, ok := parse(text); ok {
		return p, true
	}

	if depth < maxEnvelopeDepth {
		if inner, ok := envelopePayloads(text); ok {
			for _, s := range inner {
				if p, ok := extract(s, depth+1); ok {
					return p, true
				}
			}
		}
	}

	if block, ok := fencedBlock(text); ok {
		if p, ok := parse(block); ok {
			return p, true
		}
	}

	candidate, balanced := braceSpan(text)
	if candidate == "" {
		return nil, false
	}
	if balanced {
		if p, ok := parse(candidate); ok {
			return p, true
		}
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil, false
	}
	return parse(repaired)
}

// parse decodes s as a plan. An object without a "tasks" key is not a plan.
func parse(s string) (*Plan, bool) {
	var probe struct {
		Summary string           `json:"summary"`
		Tasks   *json.RawMessage `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(s), &probe); err != nil || probe.Tasks == nil {
		return nil, false
	}
	var p Plan
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, false
	}
	if p.Tasks == nil {
		p.Tasks = []Task{}
	}
	return &p, true
}

// envelopePayloads returns the string values of known envelope fields.
func envelopePayloads(text string) ([]string, bool) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return nil, false
	}
	var out []string
	for _, field := range envelopeFields {
		raw, ok := env[field]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			out = append(out, s)
		}
	}
	return out, len(out) > 0
}

// fencedBlock returns the contents of the first ```json block, or of the
// first plain ``` block if there is no json-tagged one.
func fencedBlock(text string) (string, bool) {
	if body, ok := fenceAfter(text, "```json"); ok {
		return body, true
	}
	return fenceAfter(text, "```")
}

func fenceAfter(text, opener string) (string, bool) {
	start := strings.Index(text, opener)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(opener):]
	// Skip an info string on the opening line, e.g. ```JSON or ```jsonc.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.Contains(rest[:nl], "{") {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// braceSpan returns the text from the first '{' to its matching '}'. The
// depth counter does not know about string literals, so a brace inside a
// quoted string shifts the match. If the braces never balance, the rest of
// the text is returned with balanced=false.
func braceSpan(text string) (span string, balanced bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return text[start:], false
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	const max = 200
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
