package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/haasonsaas/warden/internal/agent"
	"github.com/haasonsaas/warden/internal/agent/toolconv"
	"github.com/haasonsaas/warden/internal/normalize"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements agent.LLMProvider for OpenAI's chat completions
// API and compatible endpoints.
//
// Key differences from the Anthropic provider:
//   - The system prompt travels as the first message.
//   - Tool calls stream by index; ids may be missing on compatible servers.
//   - Each tool result is a separate message.
//
// OpenAIProvider is safe for concurrent use.
type OpenAIProvider struct {
	BaseProvider
	client       *openai.Client
	defaultModel string
}

// OpenAIConfig holds configuration for an OpenAIProvider.
type OpenAIConfig struct {
	APIKey string

	// BaseURL points the client at an OpenAI-compatible endpoint.
	BaseURL string

	MaxRetries int
	RetryDelay time.Duration

	// DefaultModel is used when a request names no model. Default: "gpt-4o"
	DefaultModel string
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gpt-4o"
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if base := strings.TrimSpace(config.BaseURL); base != "" {
		clientConfig.BaseURL = strings.TrimRight(base, "/")
	}

	return &OpenAIProvider{
		BaseProvider: NewBaseProvider("openai", config.MaxRetries, config.RetryDelay),
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: config.DefaultModel,
	}, nil
}

// Stream sends req and returns the response as canonical events.
func (p *OpenAIProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan normalize.Event, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}
	chatReq.Stream = true
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	out := newEmitter(ctx)
	go func() {
		defer out.close()

		var stream *openai.ChatCompletionStream
		err := p.Retry(ctx, func() error {
			var openErr error
			stream, openErr = p.client.CreateChatCompletionStream(ctx, chatReq)
			return p.wrapError(openErr, chatReq.Model)
		})
		if err != nil {
			out.fail(err)
			return
		}
		defer stream.Close()
		p.processStream(stream, out, chatReq.Model)
	}()
	return out.events, nil
}

// openAIToolState tracks one streamed tool call, keyed by its index.
type openAIToolState struct {
	id   string
	name string
	done bool
}

func (p *OpenAIProvider) processStream(stream *openai.ChatCompletionStream, out *emitter, model string) {
	if !out.send(normalize.MessageStart()) {
		return
	}

	calls := make(map[int]*openAIToolState)
	var order []int
	var stop normalize.StopReason

	// closeCalls ends every open call in the order the calls started.
	closeCalls := func() bool {
		for _, idx := range order {
			call := calls[idx]
			if call.done {
				continue
			}
			call.done = true
			if !out.send(normalize.ToolUseEnd(call.id, call.name)) {
				return false
			}
		}
		return true
	}

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			out.fail(p.wrapError(err, model))
			return
		}

		if response.Usage != nil {
			if !out.send(normalize.UsageEvent(response.Usage.PromptTokens, response.Usage.CompletionTokens)) {
				return
			}
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		delta := choice.Delta
		if delta.ReasoningContent != "" {
			if !out.send(normalize.ThinkingDelta(delta.ReasoningContent)) {
				return
			}
		}
		if delta.Content != "" {
			if !out.send(normalize.TextDelta(delta.Content)) {
				return
			}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call, ok := calls[index]
			if !ok {
				id := tc.ID
				if id == "" {
					id = fmt.Sprintf("call_%d", index)
				}
				call = &openAIToolState{id: id, name: tc.Function.Name}
				calls[index] = call
				order = append(order, index)
				if !out.send(normalize.ToolUseStart(call.id, call.name)) {
					return
				}
			}
			if call.name == "" && tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				if !out.send(normalize.ToolUseDelta(call.id, tc.Function.Arguments)) {
					return
				}
			}
		}

		if choice.FinishReason != "" && choice.FinishReason != openai.FinishReasonNull {
			stop = openAIStopReason(choice.FinishReason)
			if !closeCalls() {
				return
			}
		}
	}

	if !closeCalls() {
		return
	}
	out.send(normalize.MessageEnd(stop, normalize.Usage{}))
}

// Complete sends req without streaming and returns the atomic response.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*normalize.Completion, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	var resp openai.ChatCompletionResponse
	err = p.Retry(ctx, func() error {
		var callErr error
		resp, callErr = p.client.CreateChatCompletion(ctx, chatReq)
		return p.wrapError(callErr, chatReq.Model)
	})
	if err != nil {
		return nil, err
	}

	c := &normalize.Completion{
		Usage: normalize.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if len(resp.Choices) == 0 {
		c.StopReason = normalize.StopEndTurn
		return c, nil
	}
	choice := resp.Choices[0]
	c.Text = choice.Message.Content
	c.Thinking = choice.Message.ReasoningContent
	c.StopReason = openAIStopReason(choice.FinishReason)
	for i, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		input := json.RawMessage(tc.Function.Arguments)
		if len(input) == 0 || !json.Valid(input) {
			input = json.RawMessage(`{}`)
		}
		c.ToolCalls = append(c.ToolCalls, toolCall(id, tc.Function.Name, input))
	}
	return c, nil
}

func openAIStopReason(reason openai.FinishReason) normalize.StopReason {
	switch reason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return normalize.StopToolUse
	case openai.FinishReasonLength:
		return normalize.StopMaxTokens
	case openai.FinishReasonContentFilter:
		return normalize.StopContentFilter
	case "", openai.FinishReasonNull:
		return ""
	default:
		return normalize.StopEndTurn
	}
}

func (p *OpenAIProvider) buildRequest(req *agent.CompletionRequest) (openai.ChatCompletionRequest, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: p.convertMessages(req.Messages, req.System),
		Tools:    toolconv.ToOpenAITools(req.Tools),
	}

	maxTokens := maxTokensOrDefault(req.MaxTokens)
	if isReasoningModel(model) {
		chatReq.MaxCompletionTokens = maxTokens
	} else {
		chatReq.MaxTokens = maxTokens
	}
	return chatReq, nil
}

// isReasoningModel reports whether model rejects max_tokens in favour of
// max_completion_tokens.
func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	return strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4") || strings.HasPrefix(m, "gpt-5")
}

func (p *OpenAIProvider) convertMessages(messages []agent.CompletionMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}

		case "assistant":
			oaiMsg := openai.ChatCompletionMessage{
				Role:             openai.ChatMessageRoleAssistant,
				Content:          msg.Content,
				ReasoningContent: msg.Reasoning,
			}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, oaiMsg)

		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    msg.Role,
				Content: msg.Content,
			})
		}
	}
	return result
}

func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var pe *normalize.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := normalize.NewProviderError(p.name, model, err).WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		if apiErr.Type != "" {
			providerErr = providerErr.WithErrorType(apiErr.Type)
		} else if code, ok := apiErr.Code.(string); ok && code != "" {
			providerErr = providerErr.WithErrorType(code)
		}
		return providerErr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return normalize.NewProviderError(p.name, model, err).WithStatus(reqErr.HTTPStatusCode)
	}
	return p.wrap(err, model)
}
