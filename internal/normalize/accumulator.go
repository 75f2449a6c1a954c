package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/haasonsaas/warden/pkg/models"
)

// ErrStreamFailed is returned for an error event that carries no error.
var ErrStreamFailed = errors.New("stream reported an error")

type toolBuilder struct {
	id    string
	name  string
	buf   strings.Builder
	input json.RawMessage
	done  bool
	bad   bool
}

func (b *toolBuilder) finalize() {
	if b.done {
		return
	}
	b.done = true
	raw := bytes.TrimSpace([]byte(b.buf.String()))
	if len(raw) == 0 {
		b.input = emptyInput
		return
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		b.input = emptyInput
		b.bad = true
		return
	}
	b.input = compact.Bytes()
}

// Accumulator folds a stream of events into a Completion. Tool arguments are
// buffered per tool id and parsed once, when that tool's end event arrives
// or, for tools the backend never closed, when Final is called.
//
// An Accumulator is not safe for concurrent use.
type Accumulator struct {
	text     strings.Builder
	thinking strings.Builder
	builders map[string]*toolBuilder
	order    []string
	usage    Usage
	stop     StopReason
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	a := &Accumulator{}
	a.Reset()
	return a
}

// Reset discards all accumulated state.
func (a *Accumulator) Reset() {
	a.text.Reset()
	a.thinking.Reset()
	a.builders = make(map[string]*toolBuilder)
	a.order = nil
	a.usage = Usage{}
	a.stop = ""
}

func (a *Accumulator) builder(id, name string) *toolBuilder {
	b, ok := a.builders[id]
	if !ok {
		b = &toolBuilder{id: id, name: name}
		a.builders[id] = b
		a.order = append(a.order, id)
	}
	if b.name == "" {
		b.name = name
	}
	return b
}

func (a *Accumulator) observeUsage(u Usage) {
	// Backends repeat cumulative counts; the last non-zero report wins.
	if u.InputTokens > 0 {
		a.usage.InputTokens = u.InputTokens
	}
	if u.OutputTokens > 0 {
		a.usage.OutputTokens = u.OutputTokens
	}
}

// Add applies one event. It returns an error only for error events.
func (a *Accumulator) Add(ev Event) error {
	switch ev.Type {
	case EventTextDelta:
		a.text.WriteString(ev.Text)
	case EventThinkingDelta:
		a.thinking.WriteString(ev.Text)
	case EventToolUseStart:
		a.builder(ev.ToolID, ev.ToolName)
	case EventToolUseDelta:
		b := a.builder(ev.ToolID, ev.ToolName)
		if !b.done {
			b.buf.WriteString(ev.PartialJSON)
		}
	case EventToolUseEnd:
		a.builder(ev.ToolID, ev.ToolName).finalize()
	case EventUsage:
		a.observeUsage(ev.Usage)
	case EventMessageEnd:
		a.observeUsage(ev.Usage)
		if ev.StopReason != "" {
			a.stop = ev.StopReason
		}
	case EventError:
		if ev.Err != nil {
			return ev.Err
		}
		return ErrStreamFailed
	}
	return nil
}

// Final returns the accumulated response. Unterminated tool calls are
// finalized, and a missing stop reason is inferred from whether any tool
// calls arrived.
func (a *Accumulator) Final() *Completion {
	c := &Completion{
		Text:       a.text.String(),
		Thinking:   a.thinking.String(),
		StopReason: a.stop,
		Usage:      a.usage,
	}
	for _, id := range a.order {
		b := a.builders[id]
		b.finalize()
		if b.bad {
			c.InvalidToolInputs = append(c.InvalidToolInputs, id)
		}
		c.ToolCalls = append(c.ToolCalls, models.ToolCall{ID: b.id, Name: b.name, Input: b.input})
	}
	if c.StopReason == "" {
		c.StopReason = StopEndTurn
		if len(c.ToolCalls) > 0 {
			c.StopReason = StopToolUse
		}
	}
	return c
}

// Drain reads events until the channel closes, calling onEvent for each in
// arrival order, and returns the accumulated completion. On an error event
// or ctx cancellation the rest of the stream is discarded in the background
// so the producer never blocks.
func Drain(ctx context.Context, events <-chan Event, onEvent func(Event)) (*Completion, error) {
	acc := NewAccumulator()
	for {
		select {
		case <-ctx.Done():
			go discard(events)
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return acc.Final(), nil
			}
			if onEvent != nil {
				onEvent(ev)
			}
			if err := acc.Add(ev); err != nil {
				go discard(events)
				return nil, err
			}
		}
	}
}

func discard(events <-chan Event) {
	for range events {
	}
}
