package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Logger writes audit events through an async buffer. Log never blocks: when
// the buffer is full the event is dropped and counted. A nil or disabled
// Logger accepts every call and does nothing.
//
// Usage:
//
//	logger, err := audit.NewLogger(audit.Config{
//	    Enabled: true,
//	    Output:  "file:/var/log/warden/audit.log",
//	})
//	defer logger.Close()
//
//	logger.LogToolDenied(ctx, sessionID, "run_command", "call-123", "timeout")
type Logger struct {
	config     Config
	output     io.WriteCloser
	slogger    *slog.Logger
	buffer     chan *Event
	wg         sync.WaitGroup
	done       chan struct{}
	closeOnce  sync.Once
	eventTypes map[EventType]bool
	dropped    atomic.Int64
}

// NewLogger creates a new audit logger with the given configuration.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}

	var output io.WriteCloser
	switch {
	case config.Output == "stdout" || config.Output == "":
		output = nopCloser{os.Stdout}
	case config.Output == "stderr":
		output = nopCloser{os.Stderr}
	case strings.HasPrefix(config.Output, "file:"):
		path := strings.TrimPrefix(config.Output, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		output = f
	default:
		return nil, fmt.Errorf("unsupported audit output: %s", config.Output)
	}
	return newLogger(config, output), nil
}

func newLogger(config Config, output io.WriteCloser) *Logger {
	if config.Level == "" {
		config.Level = LevelInfo
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.MaxFieldSize <= 0 {
		config.MaxFieldSize = 1024
	}

	eventTypes := make(map[EventType]bool)
	for _, et := range config.EventTypes {
		eventTypes[et] = true
	}

	l := &Logger{
		config:     config,
		output:     output,
		buffer:     make(chan *Event, config.BufferSize),
		done:       make(chan struct{}),
		eventTypes: eventTypes,
	}

	opts := &slog.HandlerOptions{Level: l.slogLevel()}
	var handler slog.Handler
	if config.Format == FormatText {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}
	l.slogger = slog.New(handler).With("component", "audit")

	l.wg.Add(1)
	go l.writeLoop()
	return l
}

// Close flushes remaining events and closes the output.
func (l *Logger) Close() error {
	if l == nil || !l.config.Enabled || l.done == nil {
		return nil
	}
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		err = l.output.Close()
	})
	return err
}

// Dropped returns how many events were discarded because the buffer was full.
func (l *Logger) Dropped() int64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Log enqueues an audit event.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if l == nil || !l.config.Enabled || l.buffer == nil {
		return
	}
	if len(l.eventTypes) > 0 && !l.eventTypes[event.Type] {
		return
	}
	if !l.shouldLog(event.Level) {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		if event.TraceID == "" {
			event.TraceID = sc.TraceID().String()
		}
		if event.SpanID == "" {
			event.SpanID = sc.SpanID().String()
		}
	}

	select {
	case l.buffer <- event:
	default:
		l.dropped.Add(1)
	}
}

// LogTurnStarted records a turn leaving the queue.
func (l *Logger) LogTurnStarted(ctx context.Context, sessionID, channel string) {
	l.Log(ctx, &Event{
		Type:      EventTurnStarted,
		Level:     LevelInfo,
		SessionID: sessionID,
		Channel:   channel,
		Action:    "turn_started",
	})
}

// LogTurnCompleted records the terminal result of a turn.
func (l *Logger) LogTurnCompleted(ctx context.Context, sessionID, outcome, code string, iterations, toolCalls int, duration time.Duration) {
	level := LevelInfo
	if code != "" {
		level = LevelWarn
	}
	l.Log(ctx, &Event{
		Type:      EventTurnCompleted,
		Level:     level,
		SessionID: sessionID,
		Action:    "turn_completed",
		Duration:  duration,
		Error:     code,
		Details: map[string]any{
			"outcome":    outcome,
			"iterations": iterations,
			"tool_calls": toolCalls,
		},
	})
}

// LogToolInvocation records a tool call the model requested. The input is
// hashed unless IncludeToolInput is set.
func (l *Logger) LogToolInvocation(ctx context.Context, sessionID, toolName, toolCallID string, input json.RawMessage) {
	if l == nil || !l.config.Enabled {
		return
	}
	details := map[string]any{}
	if l.config.IncludeToolInput && input != nil {
		details["input"] = l.truncate(string(input))
	} else if input != nil {
		details["input_hash"] = hashString(string(input))
	}

	l.Log(ctx, &Event{
		Type:       EventToolInvocation,
		Level:      LevelInfo,
		SessionID:  sessionID,
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Action:     "tool_invoked",
		Details:    details,
	})
}

// LogToolCompletion records the result of an executed tool call.
func (l *Logger) LogToolCompletion(ctx context.Context, sessionID, toolName, toolCallID string, success bool, output string) {
	if l == nil || !l.config.Enabled {
		return
	}
	level := LevelInfo
	if !success {
		level = LevelWarn
	}

	details := map[string]any{"success": success}
	if l.config.IncludeToolOutput && output != "" {
		details["output"] = l.truncate(output)
	} else if output != "" {
		details["output_size"] = len(output)
	}

	l.Log(ctx, &Event{
		Type:       EventToolCompletion,
		Level:      level,
		SessionID:  sessionID,
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Action:     "tool_completed",
		Details:    details,
	})
}

// LogToolDenied records a tool call that did not run.
func (l *Logger) LogToolDenied(ctx context.Context, sessionID, toolName, toolCallID, reason string) {
	l.Log(ctx, &Event{
		Type:       EventToolDenied,
		Level:      LevelWarn,
		SessionID:  sessionID,
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Action:     "tool_denied",
		Details:    map[string]any{"reason": reason},
	})
}

// LogApprovalRequested records a request parked for a human decision.
func (l *Logger) LogApprovalRequested(ctx context.Context, requestID, sessionID, toolName, riskLevel, channel string) {
	l.Log(ctx, &Event{
		Type:      EventApprovalRequested,
		Level:     LevelInfo,
		SessionID: sessionID,
		ToolName:  toolName,
		RequestID: requestID,
		Channel:   channel,
		Action:    "approval_requested",
		Details:   map[string]any{"risk_level": riskLevel},
	})
}

// LogApprovalDecided records any approval outcome, including policy ones.
func (l *Logger) LogApprovalDecided(ctx context.Context, requestID, sessionID, toolName string, approved bool, source, reason, decidedBy string, wait time.Duration) {
	level := LevelInfo
	if !approved {
		level = LevelWarn
	}
	l.Log(ctx, &Event{
		Type:      EventApprovalDecided,
		Level:     level,
		SessionID: sessionID,
		ToolName:  toolName,
		RequestID: requestID,
		UserID:    decidedBy,
		Action:    "approval_decided",
		Duration:  wait,
		Details: map[string]any{
			"approved": approved,
			"source":   source,
			"reason":   reason,
		},
	})
}

// LogSessionCompact records a history compaction.
func (l *Logger) LogSessionCompact(ctx context.Context, sessionID string, before, after int) {
	l.Log(ctx, &Event{
		Type:      EventSessionCompact,
		Level:     LevelInfo,
		SessionID: sessionID,
		Action:    "session_compacted",
		Details: map[string]any{
			"messages_before_compact": before,
			"messages_after_compact":  after,
		},
	})
}

// LogError records a failure outside the turn result, such as a failed save.
func (l *Logger) LogError(ctx context.Context, eventType EventType, sessionID, action string, err error) {
	if err == nil {
		return
	}
	l.Log(ctx, &Event{
		Type:      eventType,
		Level:     LevelError,
		SessionID: sessionID,
		Action:    action,
		Error:     err.Error(),
	})
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case <-ticker.C:
			l.flushBuffer()
		case <-l.done:
			l.flushBuffer()
			return
		}
	}
}

func (l *Logger) flushBuffer() {
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		default:
			return
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	attrs := []any{
		"audit_id", event.ID,
		"audit_type", event.Type,
		"action", event.Action,
		"timestamp", event.Timestamp.Format(time.RFC3339Nano),
	}

	optional := []struct {
		key, val string
	}{
		{"session_id", event.SessionID},
		{"tool_name", event.ToolName},
		{"tool_call_id", event.ToolCallID},
		{"request_id", event.RequestID},
		{"user_id", event.UserID},
		{"channel", event.Channel},
		{"trace_id", event.TraceID},
		{"span_id", event.SpanID},
		{"error", event.Error},
	}
	for _, f := range optional {
		if f.val != "" {
			attrs = append(attrs, f.key, f.val)
		}
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration_ms", event.Duration.Milliseconds())
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	switch event.Level {
	case LevelDebug:
		l.slogger.Debug("audit", attrs...)
	case LevelWarn:
		l.slogger.Warn("audit", attrs...)
	case LevelError:
		l.slogger.Error("audit", attrs...)
	default:
		l.slogger.Info("audit", attrs...)
	}
}

func (l *Logger) truncate(s string) string {
	if len(s) > l.config.MaxFieldSize {
		return s[:l.config.MaxFieldSize] + "...(truncated)"
	}
	return s
}

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

func (l *Logger) shouldLog(level Level) bool {
	if level == "" {
		level = LevelInfo
	}
	return levelRank[level] >= levelRank[l.config.Level]
}

func (l *Logger) slogLevel() slog.Level {
	switch l.config.Level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// hashString creates a SHA256 hash of a string (first 16 chars).
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
