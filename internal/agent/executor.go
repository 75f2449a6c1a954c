package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/haasonsaas/warden/internal/observability"
	"github.com/haasonsaas/warden/pkg/models"
)

// ExecutorConfig configures the parallel tool executor behavior including
// concurrency limits, timeouts, and retry strategies.
type ExecutorConfig struct {
	// MaxConcurrency limits the number of parallel tool executions
	// Default: 5
	MaxConcurrency int

	// DefaultTimeout is the default timeout for tool execution
	// Default: 30s
	DefaultTimeout time.Duration

	// DefaultRetries is the number of retries for retryable errors. Tools
	// may have side effects, so the default is 0.
	DefaultRetries int

	// RetryBackoff is the initial backoff duration between retries
	// Default: 100ms
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential backoff
	// Default: 5s
	MaxRetryBackoff time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency:  5,
		DefaultTimeout:  30 * time.Second,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

// ToolConfig holds per-tool overrides. A negative Retries keeps the default.
type ToolConfig struct {
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
}

// Executor runs tool calls through the registry with bounded concurrency,
// per-call timeouts and panic recovery.
type Executor struct {
	registry   *ToolRegistry
	config     ExecutorConfig
	logger     *slog.Logger
	toolConfig map[string]ToolConfig
	mu         sync.RWMutex

	sem chan struct{}
}

// NewExecutor creates an executor. A nil config uses DefaultExecutorConfig.
func NewExecutor(registry *ToolRegistry, config *ExecutorConfig) *Executor {
	cfg := *DefaultExecutorConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.MaxRetryBackoff <= 0 {
		cfg.MaxRetryBackoff = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		registry:   registry,
		config:     cfg,
		logger:     logger.With("component", "executor"),
		toolConfig: make(map[string]ToolConfig),
		sem:        make(chan struct{}, cfg.MaxConcurrency),
	}
}

// ConfigureTool sets per-tool configuration overrides for the named tool.
func (e *Executor) ConfigureTool(name string, config ToolConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toolConfig[name] = config
}

func (e *Executor) settings(name string) (timeout time.Duration, retries int, backoff time.Duration) {
	timeout, retries, backoff = e.config.DefaultTimeout, e.config.DefaultRetries, e.config.RetryBackoff

	e.mu.RLock()
	tc, ok := e.toolConfig[name]
	e.mu.RUnlock()
	if !ok {
		return
	}
	if tc.Timeout > 0 {
		timeout = tc.Timeout
	}
	if tc.Retries >= 0 {
		retries = tc.Retries
	}
	if tc.RetryBackoff > 0 {
		backoff = tc.RetryBackoff
	}
	return
}

// ExecutionResult is the outcome of one tool call.
type ExecutionResult struct {
	ToolCallID string
	ToolName   string
	Success    bool
	Output     string
	Error      error
	Duration   time.Duration
	Attempts   int
}

// ToolResult converts r into the history representation. Failures carry the
// error text and IsError.
func (r *ExecutionResult) ToolResult() models.ToolResult {
	if r.Error != nil {
		return models.ToolResult{ToolCallID: r.ToolCallID, Content: r.Error.Error(), IsError: true}
	}
	return models.ToolResult{ToolCallID: r.ToolCallID, Content: r.Output, IsError: !r.Success}
}

// ExecuteAll executes calls concurrently. Results are returned in the same
// order as calls regardless of completion order.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []*ExecutionResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]*ExecutionResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, tc)
		}(i, call)
	}
	wg.Wait()
	return results
}

// Execute runs a single call, retrying retryable failures when configured.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) *ExecutionResult {
	start := time.Now()
	result := &ExecutionResult{ToolCallID: call.ID, ToolName: call.Name}

	ctx, span := e.config.Tracer.TraceToolExecution(ctx, call.Name, call.ID)
	defer span.End()
	defer func() {
		result.Duration = time.Since(start)
		status := "success"
		switch {
		case result.Error != nil:
			status = "error"
			observability.RecordError(span, result.Error)
		case !result.Success:
			status = "failed"
		}
		e.config.Metrics.RecordToolExecution(call.Name, status, result.Duration.Seconds())
		e.logger.Debug("tool executed",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"status", status,
			"attempts", result.Attempts,
			"duration", result.Duration)
	}()

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		result.Error = NewToolError(call.Name, ctx.Err()).
			WithType(ToolErrorTimeout).
			WithToolCallID(call.ID)
		return result
	}

	timeout, maxRetries, backoff := e.settings(call.Name)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result.Attempts = attempt + 1

		out, err := e.executeWithTimeout(ctx, call, timeout)
		if err == nil {
			result.Success = !out.IsError
			result.Output = out.Content
			return result
		}
		lastErr = err

		if !IsToolRetryable(err) || ctx.Err() != nil || attempt >= maxRetries {
			break
		}

		sleep := backoff * time.Duration(1<<uint(attempt))
		if sleep > e.config.MaxRetryBackoff {
			sleep = e.config.MaxRetryBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
		}
	}

	if te, ok := GetToolError(lastErr); ok {
		te.WithAttempts(result.Attempts)
	}
	result.Error = lastErr
	return result
}

// executeWithTimeout runs the call in its own goroutine so a tool that
// ignores its context cannot hold the round past timeout.
func (e *Executor) executeWithTimeout(ctx context.Context, call models.ToolCall, timeout time.Duration) (*ToolResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type execResult struct {
		result *ToolResult
		err    error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("tool panicked", "tool", call.Name, "panic", r, "stack", string(debug.Stack()))
				err := NewToolError(call.Name, fmt.Errorf("%w: %v", ErrToolPanic, r)).
					WithType(ToolErrorPanic).
					WithToolCallID(call.ID)
				resultCh <- execResult{err: err}
			}
		}()

		result, err := e.registry.Execute(execCtx, call.Name, call.Input)
		if err != nil {
			resultCh <- execResult{err: NewToolError(call.Name, err).WithToolCallID(call.ID)}
			return
		}
		if result == nil {
			result = &ToolResult{}
		}
		resultCh <- execResult{result: result}
	}()

	select {
	case res := <-resultCh:
		return res.result, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, NewToolError(call.Name, ctx.Err()).
				WithType(ToolErrorTimeout).
				WithToolCallID(call.ID).
				WithMessage("context cancelled")
		}
		return nil, NewToolError(call.Name, ErrToolTimeout).
			WithType(ToolErrorTimeout).
			WithToolCallID(call.ID).
			WithMessage(fmt.Sprintf("execution timed out after %s", timeout))
	}
}
