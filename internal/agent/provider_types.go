package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/warden/internal/normalize"
	"github.com/haasonsaas/warden/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations translate a CompletionRequest into the backend's native
// call and translate the backend's response into canonical normalize events,
// so the turn engine never special-cases a vendor. Retrying transient failures
// is the provider's concern; the engine never retries a failed call.
//
// Implementations must be safe for concurrent use. The returned channel is
// closed when the response ends; a failure mid-stream is delivered as an
// error event rather than as a returned error.
type LLMProvider interface {
	// Name returns the provider identifier used in logs and metrics.
	Name() string

	// Stream sends a request and returns the response as canonical events.
	Stream(ctx context.Context, req *CompletionRequest) (<-chan normalize.Event, error)
}

// Completer is implemented by providers that can also return a response in
// one piece. The result is equivalent to draining Stream.
type Completer interface {
	Complete(ctx context.Context, req *CompletionRequest) (*normalize.Completion, error)
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	// Model specifies which LLM model to use. If empty, the provider's
	// default model is used.
	Model string `json:"model"`

	// System is the system prompt. It is kept separate from Messages because
	// most backends carry it out of band.
	System string `json:"system,omitempty"`

	// Messages contains the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools lists the tools offered to the model for this call.
	Tools []Tool `json:"-"`

	// MaxTokens limits the length of the generated response. If 0 the
	// provider's default is used.
	MaxTokens int `json:"max_tokens,omitempty"`

	// EnableThinking requests the backend's secondary reasoning channel
	// where supported.
	EnableThinking       bool `json:"enable_thinking,omitempty"`
	ThinkingBudgetTokens int  `json:"thinking_budget_tokens,omitempty"`
}

// CompletionMessage represents a single message in a conversation.
//
// Role values: "user", "assistant", "tool".
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`

	// Reasoning is set only on assistant messages of the tool-call round that
	// is still open; earlier rounds never carry it.
	Reasoning string `json:"reasoning,omitempty"`
}

// Tool is a capability the model can ask the runtime to invoke.
type Tool interface {
	// Name is the identifier the model uses to request the tool.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema returns the JSON Schema of the tool's input object.
	Schema() json.RawMessage

	// Execute runs the tool. A returned error is a tool failure, not a turn
	// failure; it is folded into the conversation as an error result.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the output of a tool execution.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}
