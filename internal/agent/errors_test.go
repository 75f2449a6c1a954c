package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/haasonsaas/warden/internal/normalize"
)

func TestNewToolError(t *testing.T) {
	tests := []struct {
		cause         error
		wantType      ToolErrorType
		wantRetryable bool
	}{
		{context.DeadlineExceeded, ToolErrorTimeout, true},
		{errors.New("dial tcp: connection refused"), ToolErrorNetwork, true},
		{errors.New("429 rate limit exceeded"), ToolErrorRateLimit, true},
		{errors.New("open /etc/shadow: permission denied"), ToolErrorPermission, false},
		{errors.New("invalid input parameter"), ToolErrorInvalidInput, false},
		{errors.New("exit status 2"), ToolErrorExecution, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.wantType), func(t *testing.T) {
			err := NewToolError("run_command", tt.cause)
			if err.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", err.Type, tt.wantType)
			}
			if IsToolRetryable(err) != tt.wantRetryable {
				t.Errorf("IsToolRetryable() = %v, want %v", IsToolRetryable(err), tt.wantRetryable)
			}
			if !errors.Is(err, tt.cause) {
				t.Error("ToolError does not unwrap to its cause")
			}
		})
	}
}

func TestToolError_Builders(t *testing.T) {
	err := NewToolError("read_file", errors.New("boom")).
		WithType(ToolErrorPanic).
		WithToolCallID("toolu_01").
		WithAttempts(2)

	for _, want := range []string{"tool:panic", "read_file", "attempts=2"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Error() = %q, missing %q", err.Error(), want)
		}
	}
	if IsToolRetryable(err) {
		t.Error("panics are never retried")
	}

	wrapped := fmt.Errorf("round 3: %w", err)
	got, ok := GetToolError(wrapped)
	if !ok || got.ToolCallID != "toolu_01" {
		t.Errorf("GetToolError() = %+v, %v", got, ok)
	}
	if _, ok := GetToolError(errors.New("plain")); ok {
		t.Error("GetToolError() matched a plain error")
	}
}

func TestNewTurnError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    normalize.Code
		wantMessage string
	}{
		{
			name:        "provider error keeps its code and message",
			err:         normalize.NewProviderError("anthropic", "m", errors.New("boom")).WithStatus(429).WithMessage("slow down"),
			wantCode:    normalize.CodeRateLimit,
			wantMessage: "slow down",
		},
		{
			name:        "cancelled context",
			err:         context.Canceled,
			wantCode:    normalize.CodeCancelled,
			wantMessage: "context canceled",
		},
		{
			name:        "unclassified error",
			err:         errors.New("something odd"),
			wantCode:    normalize.CodeUnknown,
			wantMessage: "something odd",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := newTurnError(tt.err, 4)
			if te.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", te.Code, tt.wantCode)
			}
			if te.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", te.Message, tt.wantMessage)
			}
			if te.Iteration != 4 {
				t.Errorf("Iteration = %d, want 4", te.Iteration)
			}
			if !errors.Is(te, tt.err) {
				t.Error("should unwrap to cause")
			}
		})
	}
}

func TestTurnError_Error(t *testing.T) {
	err := &TurnError{Code: normalize.CodeMaxIterations, Message: "no final answer", Iteration: 20}
	want := "turn failed at iteration 20: [MAX_ITERATIONS] no final answer"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	bare := &TurnError{Code: normalize.CodeTimeout, Iteration: 1}
	if got := bare.Error(); got != "turn failed at iteration 1: [TIMEOUT]" {
		t.Errorf("Error() = %q", got)
	}
}
