package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/warden/internal/agent"
	"github.com/haasonsaas/warden/internal/normalize"
	"github.com/haasonsaas/warden/pkg/models"
)

func TestNewBaseProviderDefaults(t *testing.T) {
	b := NewBaseProvider("x", 0, 0)
	if b.maxRetries != defaultMaxRetries {
		t.Errorf("maxRetries = %d, want %d", b.maxRetries, defaultMaxRetries)
	}
	if b.retryDelay != defaultRetryDelay {
		t.Errorf("retryDelay = %v, want %v", b.retryDelay, defaultRetryDelay)
	}
	if b.Name() != "x" {
		t.Errorf("Name() = %q", b.Name())
	}
}

func TestRetry(t *testing.T) {
	rateLimited := normalize.NewProviderError("p", "m", errors.New("x")).WithStatus(429)
	badRequest := normalize.NewProviderError("p", "m", errors.New("x")).WithStatus(400)

	tests := []struct {
		name      string
		failures  []error
		wantCalls int
		wantErr   bool
	}{
		{name: "success first try", wantCalls: 1},
		{name: "retryable then success", failures: []error{rateLimited, rateLimited}, wantCalls: 3},
		{name: "non-retryable stops", failures: []error{badRequest}, wantCalls: 1, wantErr: true},
		{name: "exhausted", failures: []error{rateLimited, rateLimited, rateLimited, rateLimited}, wantCalls: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBaseProvider("p", 3, time.Millisecond)
			calls := 0
			err := b.Retry(context.Background(), func() error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			})
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	b := NewBaseProvider("p", 5, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- b.Retry(ctx, func() error {
			calls++
			return normalize.NewProviderError("p", "m", errors.New("x")).WithStatus(503)
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Retry did not return after cancel")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestBackoffCapped(t *testing.T) {
	b := NewBaseProvider("p", 3, time.Second)
	if got := b.backoff(0); got != time.Second {
		t.Errorf("backoff(0) = %v", got)
	}
	if got := b.backoff(2); got != 4*time.Second {
		t.Errorf("backoff(2) = %v", got)
	}
	if got := b.backoff(10); got != maxRetryDelay {
		t.Errorf("backoff(10) = %v, want cap %v", got, maxRetryDelay)
	}
}

func TestEmitterStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := newEmitter(ctx)
	cancel()
	if e.send(normalize.TextDelta("x")) {
		t.Error("send succeeded with no reader after cancel")
	}
}

func TestMergeToolMessages(t *testing.T) {
	in := []agent.CompletionMessage{
		{Role: "user", Content: "go"},
		{Role: "assistant", ToolCalls: []models.ToolCall{{ID: "a"}, {ID: "b"}}},
		{Role: "tool", ToolResults: []models.ToolResult{{ToolCallID: "a"}}},
		{Role: "tool", ToolResults: []models.ToolResult{{ToolCallID: "b"}}},
		{Role: "assistant", Content: "done"},
	}
	out := mergeToolMessages(in)
	if len(out) != 4 {
		t.Fatalf("len = %d, want 4", len(out))
	}
	if got := out[2].ToolResults; len(got) != 2 || got[0].ToolCallID != "a" || got[1].ToolCallID != "b" {
		t.Errorf("merged results = %+v", got)
	}
	if len(in[2].ToolResults) != 1 {
		t.Error("input message was mutated")
	}
}
