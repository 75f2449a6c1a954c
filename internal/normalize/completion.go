package normalize

import (
	"github.com/haasonsaas/warden/pkg/models"
)

// Kind is how a completed response is interpreted by the turn engine.
type Kind string

const (
	KindText      Kind = "text"
	KindToolCalls Kind = "tool_calls"
)

// Completion is the atomic shape of one model response.
type Completion struct {
	Text       string            `json:"text,omitempty"`
	Thinking   string            `json:"thinking,omitempty"`
	ToolCalls  []models.ToolCall `json:"tool_calls,omitempty"`
	StopReason StopReason        `json:"stop_reason"`
	Usage      Usage             `json:"usage"`

	// InvalidToolInputs lists tool call ids whose streamed arguments did not
	// parse and were replaced with an empty object.
	InvalidToolInputs []string `json:"invalid_tool_inputs,omitempty"`
}

// Classify reports whether c is plain text or a request for tool calls. A
// response is tool calls only when it carries calls and stopped for tool use;
// anything else is text, even if stray calls are attached.
func Classify(c *Completion) Kind {
	if c != nil && len(c.ToolCalls) > 0 && c.StopReason == StopToolUse {
		return KindToolCalls
	}
	return KindText
}

// Replay expands c into the events a streaming backend would have emitted.
func Replay(c *Completion) []Event {
	if c == nil {
		return nil
	}
	events := make([]Event, 0, 4+3*len(c.ToolCalls))
	events = append(events, MessageStart())
	if c.Thinking != "" {
		events = append(events, ThinkingDelta(c.Thinking))
	}
	if c.Text != "" {
		events = append(events, TextDelta(c.Text))
	}
	for _, call := range c.ToolCalls {
		input := string(call.Input)
		if input == "" {
			input = string(emptyInput)
		}
		events = append(events,
			ToolUseStart(call.ID, call.Name),
			ToolUseDelta(call.ID, input),
			ToolUseEnd(call.ID, call.Name),
		)
	}
	if c.Usage != (Usage{}) {
		events = append(events, UsageEvent(c.Usage.InputTokens, c.Usage.OutputTokens))
	}
	events = append(events, MessageEnd(c.StopReason, c.Usage))
	return events
}
