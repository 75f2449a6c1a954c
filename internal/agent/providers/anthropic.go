// Package providers implements agent.LLMProvider for the supported model
// backends.
//
// Every provider turns its backend's native stream into the canonical
// normalize.Event vocabulary, so the turn engine handles Anthropic, OpenAI,
// Gemini and Bedrock output identically. Retryable failures that happen
// before the first event are retried with exponential backoff; anything after
// that is delivered as an error event.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/haasonsaas/warden/internal/agent"
	"github.com/haasonsaas/warden/internal/agent/toolconv"
	"github.com/haasonsaas/warden/internal/normalize"
)

// maxEmptyStreamEvents is the number of consecutive events without output
// after which a stream is treated as malformed.
const maxEmptyStreamEvents = 300

// AnthropicProvider implements agent.LLMProvider for Anthropic's Messages API.
//
// AnthropicProvider is safe for concurrent use.
type AnthropicProvider struct {
	BaseProvider
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig holds configuration for an AnthropicProvider.
type AnthropicConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint.
	BaseURL string

	// MaxRetries bounds attempts for retryable failures. Default: 3
	MaxRetries int

	// RetryDelay is the base exponential backoff delay. Default: 1s
	RetryDelay time.Duration

	// DefaultModel is used when a request names no model.
	// Default: "claude-sonnet-4-20250514"
	DefaultModel string
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	// Retries are ours; the SDK's own would double them.
	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		BaseProvider: NewBaseProvider("anthropic", config.MaxRetries, config.RetryDelay),
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
	}, nil
}

// Stream sends req and returns the response as canonical events.
func (p *AnthropicProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan normalize.Event, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	model := string(params.Model)

	out := newEmitter(ctx)
	go func() {
		defer out.close()

		// The SDK reports HTTP failures on the first Next call, so opening
		// the stream and reading its first event is the retryable unit.
		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var started bool
		err := p.Retry(ctx, func() error {
			stream = p.client.Messages.NewStreaming(ctx, params)
			if stream.Next() {
				started = true
				return nil
			}
			err := stream.Err()
			stream.Close()
			return p.wrapError(err, model)
		})
		if err != nil {
			out.fail(err)
			return
		}
		defer stream.Close()
		if !started {
			out.send(normalize.MessageEnd(normalize.StopEndTurn, normalize.Usage{}))
			return
		}
		p.processStream(stream, out, model)
	}()
	return out.events, nil
}

// processStream maps Anthropic's SSE events onto canonical events. Content
// blocks are keyed by index; tool blocks are translated to their tool id.
func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out *emitter, model string) {
	toolIDs := make(map[int64]string)
	toolNames := make(map[int64]string)
	stop := normalize.StopReason("")
	emptyEvents := 0

	for first := true; first || stream.Next(); first = false {
		event := stream.Current()
		produced := true
		var ev normalize.Event
		var extra []normalize.Event

		switch event.Type {
		case "message_start":
			ev = normalize.MessageStart()
			if in := event.Message.Usage.InputTokens; in > 0 {
				extra = append(extra, normalize.UsageEvent(int(in), int(event.Message.Usage.OutputTokens)))
			}

		case "content_block_start":
			block := event.ContentBlock
			if block.Type != "tool_use" {
				produced = false
				break
			}
			toolIDs[event.Index] = block.ID
			toolNames[event.Index] = block.Name
			ev = normalize.ToolUseStart(block.ID, block.Name)

		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				ev = normalize.TextDelta(event.Delta.Text)
			case "thinking_delta":
				ev = normalize.ThinkingDelta(event.Delta.Thinking)
			case "input_json_delta":
				id, ok := toolIDs[event.Index]
				if !ok {
					produced = false
					break
				}
				ev = normalize.ToolUseDelta(id, event.Delta.PartialJSON)
			default:
				produced = false
			}

		case "content_block_stop":
			id, ok := toolIDs[event.Index]
			if !ok {
				produced = false
				break
			}
			ev = normalize.ToolUseEnd(id, toolNames[event.Index])
			delete(toolIDs, event.Index)

		case "message_delta":
			if event.Delta.StopReason != "" {
				stop = anthropicStopReason(string(event.Delta.StopReason))
			}
			ev = normalize.UsageEvent(int(event.Usage.InputTokens), int(event.Usage.OutputTokens))

		case "message_stop":
			out.send(normalize.MessageEnd(stop, normalize.Usage{}))
			return

		default:
			produced = false
		}

		if !produced {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				out.fail(p.wrapError(fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyEvents), model))
				return
			}
			continue
		}
		emptyEvents = 0
		if !out.send(ev) {
			return
		}
		for _, e := range extra {
			if !out.send(e) {
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		out.fail(p.wrapError(err, model))
		return
	}
	// Stream closed without message_stop; report what arrived.
	out.send(normalize.MessageEnd(stop, normalize.Usage{}))
}

// Complete sends req without streaming and returns the atomic response.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*normalize.Completion, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	model := string(params.Model)

	var msg *anthropic.Message
	err = p.Retry(ctx, func() error {
		var callErr error
		msg, callErr = p.client.Messages.New(ctx, params)
		return p.wrapError(callErr, model)
	})
	if err != nil {
		return nil, err
	}
	return anthropicCompletion(msg), nil
}

func anthropicCompletion(msg *anthropic.Message) *normalize.Completion {
	c := &normalize.Completion{
		StopReason: anthropicStopReason(string(msg.StopReason)),
		Usage: normalize.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	var text, thinking strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "thinking":
			thinking.WriteString(block.Thinking)
		case "tool_use":
			input := block.Input
			if len(input) == 0 || !json.Valid(input) {
				input = json.RawMessage(`{}`)
			}
			c.ToolCalls = append(c.ToolCalls, toolCall(block.ID, block.Name, input))
		}
	}
	c.Text = text.String()
	c.Thinking = thinking.String()
	return c
}

func anthropicStopReason(reason string) normalize.StopReason {
	switch anthropic.StopReason(reason) {
	case anthropic.StopReasonToolUse:
		return normalize.StopToolUse
	case anthropic.StopReasonMaxTokens:
		return normalize.StopMaxTokens
	case anthropic.StopReasonStopSequence:
		return normalize.StopSequence
	case anthropic.StopReasonRefusal:
		return normalize.StopContentFilter
	case "":
		return ""
	default:
		return normalize.StopEndTurn
	}
}

func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.getModel(req.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := toolconv.ToAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}
	if req.EnableThinking {
		budget := int64(req.ThinkingBudgetTokens)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}
	return params, nil
}

// convertMessages translates history into Anthropic content blocks. All
// results of one tool round travel in a single user message. Reasoning is not
// replayed: Anthropic only accepts thinking blocks with the signature it
// issued, which history does not keep.
func (p *AnthropicProvider) convertMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range mergeToolMessages(messages) {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input: %w", err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func (p *AnthropicProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var pe *normalize.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return p.wrapStreamError(err, model)
	}

	providerErr := normalize.NewProviderError(p.name, model, err).WithStatus(apiErr.StatusCode)
	requestID := apiErr.RequestID
	if raw := apiErr.RawJSON(); raw != "" {
		var payload anthropicErrorPayload
		if json.Unmarshal([]byte(raw), &payload) == nil {
			if payload.Error.Message != "" {
				providerErr = providerErr.WithMessage(payload.Error.Message)
			}
			if payload.Error.Type != "" {
				providerErr = providerErr.WithErrorType(payload.Error.Type)
			}
			if payload.RequestID != "" {
				requestID = payload.RequestID
			}
		}
	}
	if requestID != "" {
		providerErr = providerErr.WithRequestID(requestID)
	}
	return providerErr
}

// streamErrorPrefix precedes the payload of an SSE error event in the SDK's
// stream error.
const streamErrorPrefix = "received error while streaming: "

// wrapStreamError classifies an in-stream error event, such as an
// overloaded_error sent after the response headers.
func (p *AnthropicProvider) wrapStreamError(err error, model string) error {
	msg := err.Error()
	idx := strings.Index(msg, streamErrorPrefix)
	if idx < 0 {
		return p.wrap(err, model)
	}
	var payload anthropicErrorPayload
	if json.Unmarshal([]byte(msg[idx+len(streamErrorPrefix):]), &payload) != nil {
		return p.wrap(err, model)
	}
	providerErr := normalize.NewProviderError(p.name, model, err)
	if payload.Error.Type != "" {
		providerErr = providerErr.WithErrorType(payload.Error.Type)
	}
	if payload.Error.Message != "" {
		providerErr = providerErr.WithMessage(payload.Error.Message)
	}
	if payload.RequestID != "" {
		providerErr = providerErr.WithRequestID(payload.RequestID)
	}
	return providerErr
}
