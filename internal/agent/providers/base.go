package providers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/haasonsaas/warden/internal/agent"
	"github.com/haasonsaas/warden/internal/normalize"
	"github.com/haasonsaas/warden/pkg/models"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	defaultMaxTokens  = 4096
	maxRetryDelay     = 30 * time.Second
)

// BaseProvider holds the retry configuration shared by all providers.
type BaseProvider struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

// NewBaseProvider creates a base provider with sane defaults.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	return BaseProvider{
		name:       name,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Name returns the provider identifier.
func (b *BaseProvider) Name() string {
	return b.name
}

// Retry runs op up to maxRetries times, backing off exponentially between
// attempts while the failure is retryable. Providers call it only around the
// part of a request that precedes the first streamed event; once output has
// reached the caller a failure is final.
func (b *BaseProvider) Retry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt < b.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !normalize.IsRetryable(lastErr) || attempt == b.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.backoff(attempt)):
		}
	}
	return lastErr
}

func (b *BaseProvider) backoff(attempt int) time.Duration {
	d := b.retryDelay << uint(attempt)
	if d <= 0 || d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// wrap attaches provider and model to err unless it is already classified.
func (b *BaseProvider) wrap(err error, model string) error {
	if err == nil {
		return nil
	}
	var pe *normalize.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return normalize.NewProviderError(b.name, model, err)
}

// emitter delivers events to the consumer unless ctx ends first.
type emitter struct {
	ctx    context.Context
	events chan normalize.Event
}

func newEmitter(ctx context.Context) *emitter {
	return &emitter{ctx: ctx, events: make(chan normalize.Event)}
}

func (e *emitter) send(ev normalize.Event) bool {
	select {
	case e.events <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e *emitter) fail(err error) {
	e.send(normalize.ErrorEvent(err))
}

func (e *emitter) close() {
	close(e.events)
}


func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}

// mergeToolMessages folds runs of consecutive tool-role messages into one
// message carrying all their results, for backends that require every result
// of a round in a single turn.
func mergeToolMessages(messages []agent.CompletionMessage) []agent.CompletionMessage {
	out := make([]agent.CompletionMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "tool" && len(out) > 0 && out[len(out)-1].Role == "tool" {
			last := &out[len(out)-1]
			last.ToolResults = append(last.ToolResults, msg.ToolResults...)
			continue
		}
		if msg.Role == "tool" {
			msg.ToolResults = append([]models.ToolResult(nil), msg.ToolResults...)
		}
		out = append(out, msg)
	}
	return out
}

func toolCall(id, name string, input json.RawMessage) models.ToolCall {
	return models.ToolCall{ID: id, Name: name, Input: input}
}
