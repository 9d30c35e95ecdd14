// Package streamevent parses the Agent's newline-delimited JSON stdout
// protocol into a closed set of typed events.
package streamevent

import (
	"encoding/json"
	"strings"
)

// Kind identifies which variant of the Event sum type a value holds.
type Kind int

const (
	// KindNone is the zero value; Parse never returns an Event of this
	// kind (it returns nil, false for a line that produces no event).
	KindNone Kind = iota
	KindTextDelta
	KindResult
	KindUserReceipt
)

// Event is a parsed line of the Agent's stdout stream. Exactly one of the
// typed accessors is meaningful, selected by Kind.
type Event struct {
	Kind Kind

	// TextDelta fields.
	Text string

	// Result fields.
	ResultText string
	SessionID  *string
	Cost       *float64
	Tokens     *int
}

// envelope is used for the initial type dispatch.
type envelope struct {
	Type string `json:"type"`
}

// streamEventEnvelope matches {"type":"stream_event","event":{...}}.
type streamEventEnvelope struct {
	Event struct {
		Type  string `json:"type"`
		Delta struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
	} `json:"event"`
}

// resultEnvelope matches {"type":"result",...}.
type resultEnvelope struct {
	Result    string   `json:"result"`
	SessionID *string  `json:"session_id"`
	CostUSD   *float64 `json:"cost_usd"`
	TotalCost *float64 `json:"total_cost_usd"`
	Usage     *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Parse parses one line of the Agent's stdout stream. It returns
// (nil, false) for empty/whitespace lines, truncated JSON, an unrecognized
// top-level type, or a stream_event envelope whose inner shape doesn't
// match the text_delta pattern exactly. It never panics.
func Parse(line string) (*Event, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return nil, false
	}

	switch env.Type {
	case "stream_event":
		var se streamEventEnvelope
		if err := json.Unmarshal([]byte(trimmed), &se); err != nil {
			return nil, false
		}
		if se.Event.Type != "content_block_delta" || se.Event.Delta.Type != "text_delta" {
			return nil, false
		}
		if se.Event.Delta.Text == "" {
			return nil, false
		}
		return &Event{Kind: KindTextDelta, Text: se.Event.Delta.Text}, true

	case "result":
		var r resultEnvelope
		if err := json.Unmarshal([]byte(trimmed), &r); err != nil {
			return nil, false
		}
		cost := r.CostUSD
		if cost == nil {
			cost = r.TotalCost
		}
		var tokens *int
		if r.Usage != nil {
			sum := r.Usage.InputTokens + r.Usage.OutputTokens
			tokens = &sum
		}
		return &Event{
			Kind:       KindResult,
			ResultText: r.Result,
			SessionID:  r.SessionID,
			Cost:       cost,
			Tokens:     tokens,
		}, true

	case "user":
		return &Event{Kind: KindUserReceipt}, true

	default:
		return nil, false
	}
}
