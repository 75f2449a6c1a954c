package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/warden/internal/approval"
	"github.com/haasonsaas/warden/internal/compaction"
	"github.com/haasonsaas/warden/internal/normalize"
	"github.com/haasonsaas/warden/internal/observability"
	"github.com/haasonsaas/warden/pkg/models"
)

// DefaultMaxIterations bounds the model calls of one turn.
const DefaultMaxIterations = 20

// DeniedToolResult is the result recorded for a call that was not approved.
const DeniedToolResult = "Tool call was denied and did not run."

// Approver decides whether a tool call may run. *approval.Gateway satisfies it.
type Approver interface {
	RequestApproval(ctx context.Context, in approval.Input) approval.Response
	UpdateExecutionResult(requestID string, result approval.ExecutionResult) bool
}

// MemoryRetriever returns long-term memory relevant to query, or "".
type MemoryRetriever interface {
	Retrieve(ctx context.Context, sessionID, query string) (string, error)
}

// ContextGuard keeps history inside the model's context window.
// *compaction.Guard satisfies it.
type ContextGuard interface {
	CheckStatus(messages []models.Message) compaction.Status
	AutoCompress(ctx context.Context, messages []models.Message) []models.Message
}

// EngineConfig wires an Engine. Provider and Tools are required.
type EngineConfig struct {
	Provider LLMProvider
	Tools    *ToolRegistry

	// Executor runs approved calls. Default: NewExecutor(Tools, nil).
	Executor *Executor

	// Approver gates each call. Nil approves everything.
	Approver Approver

	Policy      ToolPolicy
	Memory      MemoryRetriever
	Guard       ContextGuard
	ResultGuard *ToolResultGuard

	// Model overrides the provider's default model.
	Model string

	// MaxIterations bounds model calls per turn. Default: 20.
	MaxIterations int

	MaxTokens            int
	EnableThinking       bool
	ThinkingBudgetTokens int

	// OnCompact is called after the guard shrinks a session's history.
	OnCompact func(ctx context.Context, sessionID string, before, after int)

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Engine runs turns. It holds no per-session state; callers serialize turns
// of one session, normally through a lane.
type Engine struct {
	cfg    EngineConfig
	logger *slog.Logger
}

// NewEngine validates cfg and fills defaults.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Provider == nil {
		return nil, ErrNoProvider
	}
	if cfg.Tools == nil {
		cfg.Tools = NewToolRegistry()
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Executor == nil {
		cfg.Executor = NewExecutor(cfg.Tools, &ExecutorConfig{
			Logger:  cfg.Logger,
			Metrics: cfg.Metrics,
			Tracer:  cfg.Tracer,
		})
	}
	return &Engine{cfg: cfg, logger: cfg.Logger.With("component", "engine")}, nil
}

// ResultKind is the terminal shape of a turn.
type ResultKind string

const (
	ResultText  ResultKind = "text"
	ResultError ResultKind = "error"
)

// TurnResult is what a caller always gets back from a turn.
type TurnResult struct {
	Kind       ResultKind      `json:"kind"`
	Text       string          `json:"text,omitempty"`
	Error      *TurnError      `json:"error,omitempty"`
	Iterations int             `json:"iterations"`
	Usage      normalize.Usage `json:"usage"`
	ToolCalls  int             `json:"tool_calls"`

	// Messages are the history entries this turn appended, in order.
	Messages []models.Message `json:"-"`
}

// TurnOptions carries per-turn callbacks and context.
type TurnOptions struct {
	// OnDelta receives text deltas in arrival order. Nil selects the
	// non-streaming call when the provider supports it.
	OnDelta func(text string)

	// Channel locates the conversation for approval prompts.
	Channel *approval.ChannelContext
}

// RunTurn appends message to the session and drives the model until it
// answers in text, fails, or exhausts the iteration bound. It never returns
// nil and never panics on backend failure.
func (e *Engine) RunTurn(ctx context.Context, session *models.Session, message string, opts TurnOptions) *TurnResult {
	ctx = observability.AddSessionID(ctx, session.ID)
	ctx, span := e.cfg.Tracer.TraceTurn(ctx, session.ID)
	defer span.End()

	started := time.Now()
	tools, message := e.cfg.Policy.ToolsFor(message, e.cfg.Tools.List())
	user := newMessage(session.ID, models.RoleUser, message)
	session.Append(user)

	result := e.loop(ctx, session, message, tools, opts)
	result.Messages = appendedSince(session.History, user.ID)

	outcome, code := string(result.Kind), ""
	if result.Error != nil {
		code = string(result.Error.Code)
		observability.RecordError(span, result.Error)
	}
	observability.SetAttributes(span, "turn.iterations", result.Iterations, "turn.outcome", outcome)
	e.cfg.Metrics.RecordTurn(outcome, code, result.Iterations)
	e.logger.Info("turn finished",
		"session_id", session.ID,
		"outcome", outcome,
		"code", code,
		"iterations", result.Iterations,
		"tool_calls", result.ToolCalls,
		"duration", time.Since(started))
	return result
}

func (e *Engine) loop(ctx context.Context, session *models.Session, message string, tools []Tool, opts TurnOptions) *TurnResult {
	result := &TurnResult{}
	offered := make(map[string]bool, len(tools))
	for _, t := range tools {
		offered[t.Name()] = true
	}

	for iteration := 1; iteration <= e.cfg.MaxIterations; iteration++ {
		result.Iterations = iteration

		memory := ""
		if iteration == 1 {
			memory = e.retrieveMemory(ctx, session.ID, message)
		}
		e.guardContext(ctx, session)

		completion, err := e.complete(ctx, e.buildRequest(session, tools, memory), iteration, opts.OnDelta)
		if err != nil {
			result.Kind = ResultError
			result.Error = newTurnError(err, iteration)
			return result
		}
		result.Usage = result.Usage.Add(completion.Usage)

		if completion.StopReason == normalize.StopContentFilter {
			result.Kind = ResultError
			result.Text = completion.Text
			result.Error = &TurnError{
				Code:      normalize.CodeContentFilter,
				Message:   "response blocked by content filter",
				Iteration: iteration,
			}
			return result
		}

		assistant := newMessage(session.ID, models.RoleAssistant, completion.Text)
		assistant.InputTokens = completion.Usage.InputTokens
		assistant.OutputTokens = completion.Usage.OutputTokens

		if normalize.Classify(completion) == normalize.KindText {
			session.Append(assistant)
			result.Kind = ResultText
			result.Text = completion.Text
			return result
		}

		assistant.ToolCalls = completion.ToolCalls
		assistant.Reasoning = completion.Thinking
		session.Append(assistant)
		result.ToolCalls += len(completion.ToolCalls)

		session.Append(e.runTools(ctx, session.ID, completion.ToolCalls, offered, opts)...)
	}

	result.Kind = ResultError
	result.Error = &TurnError{
		Code:      normalize.CodeMaxIterations,
		Message:   fmt.Sprintf("no final answer after %d iterations", e.cfg.MaxIterations),
		Iteration: e.cfg.MaxIterations,
		Cause:     ErrMaxIterations,
	}
	return result
}

func (e *Engine) retrieveMemory(ctx context.Context, sessionID, query string) string {
	if e.cfg.Memory == nil {
		return ""
	}
	memory, err := e.cfg.Memory.Retrieve(ctx, sessionID, query)
	if err != nil {
		e.logger.Warn("memory retrieval failed", "session_id", sessionID, "error", err)
		return ""
	}
	return memory
}

func (e *Engine) guardContext(ctx context.Context, session *models.Session) {
	if e.cfg.Guard == nil {
		return
	}
	status := e.cfg.Guard.CheckStatus(session.History)
	if !status.NeedsCompression {
		return
	}
	before := len(session.History)
	session.ReplaceHistory(e.cfg.Guard.AutoCompress(ctx, session.History))
	e.logger.Info("context compressed",
		"session_id", session.ID,
		"tokens", status.CurrentTokens,
		"max_tokens", status.MaxTokens,
		"messages_before", before,
		"messages_after", len(session.History))
	if e.cfg.OnCompact != nil {
		e.cfg.OnCompact(ctx, session.ID, before, len(session.History))
	}
}

// buildRequest assembles model input from the whole history. System-role
// history entries (compaction summaries) join the system prompt, and
// reasoning is replayed only for assistant messages after the last user
// message.
func (e *Engine) buildRequest(session *models.Session, tools []Tool, memory string) *CompletionRequest {
	history := repairTranscript(session.History)

	lastUser := -1
	for i, msg := range history {
		if msg.Role == models.RoleUser {
			lastUser = i
		}
	}

	system := []string{}
	if session.SystemPrompt != "" {
		system = append(system, session.SystemPrompt)
	}
	if memory != "" {
		system = append(system, "Relevant memory:\n"+memory)
	}

	messages := make([]CompletionMessage, 0, len(history))
	for i, msg := range history {
		if msg.Role == models.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		cm := CompletionMessage{
			Role:        string(msg.Role),
			Content:     msg.Content,
			ToolCalls:   msg.ToolCalls,
			ToolResults: msg.ToolResults,
		}
		if msg.Role == models.RoleAssistant && i > lastUser {
			cm.Reasoning = msg.Reasoning
		}
		messages = append(messages, cm)
	}

	model := session.Model
	if model == "" {
		model = e.cfg.Model
	}
	return &CompletionRequest{
		Model:                model,
		System:               strings.Join(system, "\n\n"),
		Messages:             messages,
		Tools:                tools,
		MaxTokens:            e.cfg.MaxTokens,
		EnableThinking:       e.cfg.EnableThinking,
		ThinkingBudgetTokens: e.cfg.ThinkingBudgetTokens,
	}
}

// complete performs one model call. Text deltas reach onDelta as they
// arrive; tool-call events are accumulated only.
func (e *Engine) complete(ctx context.Context, req *CompletionRequest, iteration int, onDelta func(string)) (*normalize.Completion, error) {
	provider := e.cfg.Provider.Name()
	ctx, span := e.cfg.Tracer.TraceLLMRequest(ctx, provider, req.Model, iteration)
	defer span.End()

	start := time.Now()
	completion, err := e.call(ctx, req, onDelta)

	status := "success"
	var usage normalize.Usage
	if err != nil {
		status = string(normalize.CodeOf(err))
		observability.RecordError(span, err)
		e.logger.Warn("model call failed",
			"provider", provider,
			"iteration", iteration,
			"code", status,
			"error", err)
	} else {
		usage = completion.Usage
		if len(completion.InvalidToolInputs) > 0 {
			e.logger.Warn("tool call arguments did not parse", "tool_call_ids", completion.InvalidToolInputs)
		}
	}
	e.cfg.Metrics.RecordLLMRequest(provider, req.Model, status, time.Since(start).Seconds(), usage.InputTokens, usage.OutputTokens)
	return completion, err
}

func (e *Engine) call(ctx context.Context, req *CompletionRequest, onDelta func(string)) (*normalize.Completion, error) {
	if onDelta == nil {
		if c, ok := e.cfg.Provider.(Completer); ok {
			return c.Complete(ctx, req)
		}
	}
	events, err := e.cfg.Provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return normalize.Drain(ctx, events, func(ev normalize.Event) {
		if ev.Type == normalize.EventTextDelta && onDelta != nil && ev.Text != "" {
			onDelta(ev.Text)
		}
	})
}

// runTools obtains a decision for every call in order, runs the approved
// ones concurrently, and returns one tool message per call in request order.
func (e *Engine) runTools(ctx context.Context, sessionID string, calls []models.ToolCall, offered map[string]bool, opts TurnOptions) []models.Message {
	results := make([]models.ToolResult, len(calls))
	requestIDs := make([]string, len(calls))
	var approved []models.ToolCall
	var approvedIdx []int

	for i, call := range calls {
		if !offered[call.Name] {
			results[i] = models.ToolResult{
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("Tool %q is not available.", call.Name),
				IsError:    true,
			}
			continue
		}

		if e.cfg.Approver != nil {
			resp := e.cfg.Approver.RequestApproval(ctx, approval.Input{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Input:      call.Input,
				SessionID:  sessionID,
				Context:    opts.Channel,
			})
			requestIDs[i] = resp.RequestID
			if !resp.Approved {
				e.logger.Info("tool call denied",
					"session_id", sessionID,
					"tool", call.Name,
					"tool_call_id", call.ID,
					"source", resp.Source,
					"reason", resp.Reason)
				results[i] = models.ToolResult{ToolCallID: call.ID, Content: DeniedToolResult, IsError: true}
				continue
			}
		}
		approved = append(approved, call)
		approvedIdx = append(approvedIdx, i)
	}

	for j, res := range e.cfg.Executor.ExecuteAll(ctx, approved) {
		i := approvedIdx[j]
		results[i] = res.ToolResult()
		if e.cfg.Approver != nil && requestIDs[i] != "" {
			exec := approval.ExecutionResult{
				Success:     res.Error == nil && res.Success,
				Output:      res.Output,
				Duration:    res.Duration,
				CompletedAt: time.Now(),
			}
			if res.Error != nil {
				exec.Error = res.Error.Error()
			}
			e.cfg.Approver.UpdateExecutionResult(requestIDs[i], exec)
		}
	}

	messages := make([]models.Message, len(calls))
	for i, call := range calls {
		res := e.cfg.ResultGuard.Apply(call.Name, results[i])
		msg := newMessage(sessionID, models.RoleTool, "")
		msg.ToolResults = []models.ToolResult{res}
		msg.IsError = res.IsError
		messages[i] = msg
	}
	return messages
}

func newMessage(sessionID string, role models.Role, content string) models.Message {
	return models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// appendedSince returns copies of the messages from the one with id onward.
// Compaction may have folded that message into a summary, in which case the
// whole history is returned.
func appendedSince(history []models.Message, id string) []models.Message {
	from := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].ID == id {
			from = i
			break
		}
	}
	out := make([]models.Message, len(history)-from)
	for i := range out {
		out[i] = history[from+i].Clone()
	}
	return out
}
