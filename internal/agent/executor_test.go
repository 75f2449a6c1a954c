package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/warden/pkg/models"
)

// mockTool implements Tool for testing
type mockTool struct {
	name        string
	description string
	schema      json.RawMessage
	execFunc    func(ctx context.Context, params json.RawMessage) (*ToolResult, error)
	execCount   atomic.Int32
}

func (m *mockTool) Name() string            { return m.name }
func (m *mockTool) Description() string     { return m.description }
func (m *mockTool) Schema() json.RawMessage { return m.schema }
func (m *mockTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	m.execCount.Add(1)
	if m.execFunc != nil {
		return m.execFunc(ctx, params)
	}
	return &ToolResult{Content: "success"}, nil
}

func mustRegister(t *testing.T, registry *ToolRegistry, tools ...Tool) {
	t.Helper()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.Name(), err)
		}
	}
}

func TestExecutor_Execute_Success(t *testing.T) {
	registry := NewToolRegistry()
	mustRegister(t, registry, &mockTool{
		name: "test_tool",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "result"}, nil
		},
	})

	executor := NewExecutor(registry, nil)
	result := executor.Execute(context.Background(), models.ToolCall{
		ID:    "call-1",
		Name:  "test_tool",
		Input: json.RawMessage(`{}`),
	})

	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if !result.Success || result.Output != "result" {
		t.Errorf("result = %+v, want success with %q", result, "result")
	}
	if result.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", result.Attempts)
	}

	tr := result.ToolResult()
	if tr.ToolCallID != "call-1" || tr.Content != "result" || tr.IsError {
		t.Errorf("ToolResult() = %+v", tr)
	}
}

func TestExecutor_Execute_ToolReportsError(t *testing.T) {
	registry := NewToolRegistry()
	mustRegister(t, registry, &mockTool{
		name: "grumpy",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "no such file", IsError: true}, nil
		},
	})

	result := NewExecutor(registry, nil).Execute(context.Background(), models.ToolCall{ID: "c", Name: "grumpy"})
	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if result.Success {
		t.Error("Success = true, want false")
	}
	if tr := result.ToolResult(); !tr.IsError || tr.Content != "no such file" {
		t.Errorf("ToolResult() = %+v", tr)
	}
}

func TestExecutor_Execute_NoRetryByDefault(t *testing.T) {
	tool := &mockTool{
		name: "flaky_tool",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return nil, errors.New("timeout: connection timeout")
		},
	}
	registry := NewToolRegistry()
	mustRegister(t, registry, tool)

	result := NewExecutor(registry, nil).Execute(context.Background(), models.ToolCall{ID: "c", Name: "flaky_tool"})
	if result.Error == nil {
		t.Fatal("expected error")
	}
	if got := tool.execCount.Load(); got != 1 {
		t.Errorf("executions = %d, want 1", got)
	}
}

func TestExecutor_Execute_Retry(t *testing.T) {
	var attempts atomic.Int32
	registry := NewToolRegistry()
	mustRegister(t, registry, &mockTool{
		name: "flaky_tool",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			if attempts.Add(1) < 3 {
				return nil, errors.New("timeout: connection timeout")
			}
			return &ToolResult{Content: "success"}, nil
		},
	})

	config := DefaultExecutorConfig()
	config.DefaultRetries = 3
	config.RetryBackoff = time.Millisecond

	executor := NewExecutor(registry, config)
	result := executor.Execute(context.Background(), models.ToolCall{
		ID:    "call-1",
		Name:  "flaky_tool",
		Input: json.RawMessage(`{}`),
	})

	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
}

func TestExecutor_Execute_NonRetryable(t *testing.T) {
	tool := &mockTool{
		name: "bad_tool",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return nil, errors.New("invalid input: missing required field")
		},
	}
	registry := NewToolRegistry()
	mustRegister(t, registry, tool)

	config := DefaultExecutorConfig()
	config.DefaultRetries = 3

	result := NewExecutor(registry, config).Execute(context.Background(), models.ToolCall{ID: "call-1", Name: "bad_tool"})
	if result.Error == nil {
		t.Fatal("expected error")
	}
	if got := tool.execCount.Load(); got != 1 {
		t.Errorf("executions = %d, want 1 (no retry for non-retryable)", got)
	}
	if tr := result.ToolResult(); !tr.IsError {
		t.Errorf("ToolResult() = %+v, want IsError", tr)
	}
}

func TestExecutor_Execute_Timeout(t *testing.T) {
	registry := NewToolRegistry()
	mustRegister(t, registry, &mockTool{
		name: "slow_tool",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			select {
			case <-time.After(5 * time.Second):
				return &ToolResult{Content: "done"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	config := DefaultExecutorConfig()
	config.DefaultTimeout = 50 * time.Millisecond

	result := NewExecutor(registry, config).Execute(context.Background(), models.ToolCall{ID: "call-1", Name: "slow_tool"})
	if result.Error == nil {
		t.Fatal("expected timeout error")
	}
	toolErr, ok := GetToolError(result.Error)
	if !ok {
		t.Fatalf("expected ToolError, got %T", result.Error)
	}
	if toolErr.Type != ToolErrorTimeout {
		t.Errorf("type = %s, want timeout", toolErr.Type)
	}
}

func TestExecutor_Execute_IgnoresContextStillTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	registry := NewToolRegistry()
	mustRegister(t, registry, &mockTool{
		name: "stubborn",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			<-release
			return &ToolResult{Content: "late"}, nil
		},
	})

	config := DefaultExecutorConfig()
	config.DefaultTimeout = 30 * time.Millisecond

	start := time.Now()
	result := NewExecutor(registry, config).Execute(context.Background(), models.ToolCall{ID: "c", Name: "stubborn"})
	if !errors.Is(result.Error, ErrToolTimeout) {
		t.Fatalf("error = %v, want ErrToolTimeout", result.Error)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Execute took %v", elapsed)
	}
}

func TestExecutor_Execute_Panic(t *testing.T) {
	registry := NewToolRegistry()
	mustRegister(t, registry, &mockTool{
		name: "explosive",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			panic("kaboom")
		},
	})

	result := NewExecutor(registry, nil).Execute(context.Background(), models.ToolCall{ID: "c", Name: "explosive"})
	if !errors.Is(result.Error, ErrToolPanic) {
		t.Fatalf("error = %v, want ErrToolPanic", result.Error)
	}
	toolErr, _ := GetToolError(result.Error)
	if toolErr.Type != ToolErrorPanic {
		t.Errorf("type = %s, want panic", toolErr.Type)
	}
}

func TestExecutor_Execute_UnknownTool(t *testing.T) {
	result := NewExecutor(NewToolRegistry(), nil).Execute(context.Background(), models.ToolCall{ID: "c", Name: "ghost"})
	if !errors.Is(result.Error, ErrToolNotFound) {
		t.Fatalf("error = %v, want ErrToolNotFound", result.Error)
	}
}

func TestExecutor_ExecuteAll_Parallel(t *testing.T) {
	var running atomic.Int32
	var maxConcurrent atomic.Int32

	registry := NewToolRegistry()
	mustRegister(t, registry, &mockTool{
		name: "concurrent_tool",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			current := running.Add(1)
			defer running.Add(-1)

			for {
				old := maxConcurrent.Load()
				if current <= old || maxConcurrent.CompareAndSwap(old, current) {
					break
				}
			}

			time.Sleep(50 * time.Millisecond)
			return &ToolResult{Content: string(params)}, nil
		},
	})

	config := DefaultExecutorConfig()
	config.MaxConcurrency = 3

	executor := NewExecutor(registry, config)

	calls := make([]models.ToolCall, 5)
	for i := range calls {
		calls[i] = models.ToolCall{
			ID:    fmt.Sprintf("call-%d", i),
			Name:  "concurrent_tool",
			Input: json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
		}
	}

	results := executor.ExecuteAll(context.Background(), calls)
	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}

	for i, r := range results {
		if r.Error != nil {
			t.Errorf("result %d: unexpected error: %v", i, r.Error)
		}
		if r.ToolCallID != calls[i].ID {
			t.Errorf("result %d: ToolCallID = %s, want %s", i, r.ToolCallID, calls[i].ID)
		}
		if r.Output != string(calls[i].Input) {
			t.Errorf("result %d: Output = %s, want %s", i, r.Output, calls[i].Input)
		}
	}

	if maxConcurrent.Load() > 3 {
		t.Errorf("max concurrent = %d, want <= 3", maxConcurrent.Load())
	}
	if maxConcurrent.Load() < 2 {
		t.Errorf("max concurrent = %d, want calls to overlap", maxConcurrent.Load())
	}
}

func TestExecutor_ExecuteAll_Empty(t *testing.T) {
	if got := NewExecutor(NewToolRegistry(), nil).ExecuteAll(context.Background(), nil); got != nil {
		t.Errorf("ExecuteAll(nil) = %v, want nil", got)
	}
}

func TestExecutor_Backpressure(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	registry := NewToolRegistry()
	mustRegister(t, registry, &mockTool{
		name: "blocking_tool",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return &ToolResult{Content: "done"}, nil
		},
	})

	config := DefaultExecutorConfig()
	config.MaxConcurrency = 1

	executor := NewExecutor(registry, config)

	done := make(chan struct{})
	go func() {
		defer close(done)
		executor.Execute(context.Background(), models.ToolCall{ID: "blocking", Name: "blocking_tool"})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result := executor.Execute(ctx, models.ToolCall{ID: "waiting", Name: "blocking_tool"})
	if result.Error == nil {
		t.Fatal("expected error due to backpressure")
	}
	if result.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", result.Attempts)
	}

	close(release)
	<-done
}

func TestExecutor_ConfigureTool(t *testing.T) {
	executor := NewExecutor(NewToolRegistry(), nil)
	executor.ConfigureTool("custom_tool", ToolConfig{
		Timeout: 100 * time.Millisecond,
		Retries: 5,
	})
	executor.ConfigureTool("keep_retries", ToolConfig{Retries: -1})

	tests := []struct {
		name        string
		tool        string
		wantTimeout time.Duration
		wantRetries int
	}{
		{"override", "custom_tool", 100 * time.Millisecond, 5},
		{"negative retries keeps default", "keep_retries", 30 * time.Second, 0},
		{"unconfigured", "other", 30 * time.Second, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timeout, retries, _ := executor.settings(tt.tool)
			if timeout != tt.wantTimeout {
				t.Errorf("timeout = %v, want %v", timeout, tt.wantTimeout)
			}
			if retries != tt.wantRetries {
				t.Errorf("retries = %d, want %d", retries, tt.wantRetries)
			}
		})
	}
}
