// Package normalize reduces heterogeneous model backend output to one event
// vocabulary.
//
// Backends either stream (emitting Events as they arrive) or answer
// atomically (a Completion). An Accumulator folds a stream back into a
// Completion and Replay expands a Completion into the events a stream would
// have produced, so callers never special-case either shape.
package normalize

import "encoding/json"

// EventType names a canonical stream event.
type EventType string

const (
	EventMessageStart  EventType = "message_start"
	EventTextDelta     EventType = "text_delta"
	EventToolUseStart  EventType = "tool_use_start"
	EventToolUseDelta  EventType = "tool_use_delta"
	EventToolUseEnd    EventType = "tool_use_end"
	EventThinkingDelta EventType = "thinking_delta"
	EventUsage         EventType = "usage"
	EventMessageEnd    EventType = "message_end"
	EventError         EventType = "error"
)

// StopReason is the normalized reason a backend stopped generating.
type StopReason string

const (
	StopEndTurn       StopReason = "end_turn"
	StopToolUse       StopReason = "tool_use"
	StopMaxTokens     StopReason = "max_tokens"
	StopSequence      StopReason = "stop_sequence"
	StopContentFilter StopReason = "content_filter"
)

// Usage is token accounting for one model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add returns the field-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{InputTokens: u.InputTokens + o.InputTokens, OutputTokens: u.OutputTokens + o.OutputTokens}
}

// Event is one canonical stream event. Which fields are set depends on Type.
type Event struct {
	Type        EventType  `json:"type"`
	Text        string     `json:"text,omitempty"`
	ToolID      string     `json:"tool_id,omitempty"`
	ToolName    string     `json:"tool_name,omitempty"`
	PartialJSON string     `json:"partial_json,omitempty"`
	Usage       Usage      `json:"usage"`
	StopReason  StopReason `json:"stop_reason,omitempty"`
	Err         error      `json:"-"`
}

func MessageStart() Event { return Event{Type: EventMessageStart} }

func TextDelta(text string) Event { return Event{Type: EventTextDelta, Text: text} }

func ThinkingDelta(text string) Event { return Event{Type: EventThinkingDelta, Text: text} }

func ToolUseStart(id, name string) Event {
	return Event{Type: EventToolUseStart, ToolID: id, ToolName: name}
}

func ToolUseDelta(id, fragment string) Event {
	return Event{Type: EventToolUseDelta, ToolID: id, PartialJSON: fragment}
}

func ToolUseEnd(id, name string) Event {
	return Event{Type: EventToolUseEnd, ToolID: id, ToolName: name}
}

func UsageEvent(input, output int) Event {
	return Event{Type: EventUsage, Usage: Usage{InputTokens: input, OutputTokens: output}}
}

func MessageEnd(stop StopReason, usage Usage) Event {
	return Event{Type: EventMessageEnd, StopReason: stop, Usage: usage}
}

func ErrorEvent(err error) Event { return Event{Type: EventError, Err: err} }

// emptyInput is what unparseable tool arguments degrade to.
var emptyInput = json.RawMessage(`{}`)
