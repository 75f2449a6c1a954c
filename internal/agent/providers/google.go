package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/warden/internal/agent"
	"github.com/haasonsaas/warden/internal/agent/toolconv"
	"github.com/haasonsaas/warden/internal/normalize"
	"google.golang.org/genai"
)

// GoogleProvider implements agent.LLMProvider for the Gemini API.
//
// Gemini delivers each function call whole, so a call arrives as a
// start/delta/end triple in one step. Calls without an id get a generated
// one.
type GoogleProvider struct {
	BaseProvider
	client       *genai.Client
	defaultModel string
}

// GoogleConfig holds configuration for a GoogleProvider.
type GoogleConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string // Default: "gemini-2.0-flash"
}

// NewGoogleProvider creates a Gemini provider.
func NewGoogleProvider(config GoogleConfig) (*GoogleProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gemini-2.0-flash"
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(config.BaseURL); base != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleProvider{
		BaseProvider: NewBaseProvider("google", config.MaxRetries, config.RetryDelay),
		client:       client,
		defaultModel: config.DefaultModel,
	}, nil
}

// Stream sends req and returns the response as canonical events.
func (p *GoogleProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan normalize.Event, error) {
	model := p.getModel(req.Model)
	contents := p.convertMessages(req.Messages)
	config := p.buildConfig(req)

	out := newEmitter(ctx)
	go func() {
		defer out.close()

		var next func() (*genai.GenerateContentResponse, error, bool)
		var stop func()
		var first *genai.GenerateContentResponse
		err := p.Retry(ctx, func() error {
			next, stop = iter.Pull2(p.client.Models.GenerateContentStream(ctx, model, contents, config))
			resp, err, ok := next()
			if err != nil {
				stop()
				return p.wrapError(err, model)
			}
			if !ok {
				resp = nil
			}
			first = resp
			return nil
		})
		if err != nil {
			out.fail(err)
			return
		}
		defer stop()

		if !out.send(normalize.MessageStart()) {
			return
		}
		state := &geminiStreamState{}
		for resp := first; resp != nil; {
			if !p.emitResponse(resp, state, out) {
				return
			}
			var err error
			var ok bool
			resp, err, ok = next()
			if err != nil {
				out.fail(p.wrapError(err, model))
				return
			}
			if !ok {
				break
			}
		}

		stopReason := state.stop
		if state.sawCall && (stopReason == "" || stopReason == normalize.StopEndTurn) {
			stopReason = normalize.StopToolUse
		}
		out.send(normalize.MessageEnd(stopReason, normalize.Usage{}))
	}()
	return out.events, nil
}

type geminiStreamState struct {
	stop    normalize.StopReason
	sawCall bool
}

func (p *GoogleProvider) emitResponse(resp *genai.GenerateContentResponse, state *geminiStreamState, out *emitter) bool {
	for _, ev := range geminiEvents(resp, state) {
		if !out.send(ev) {
			return false
		}
	}
	return true
}

// geminiEvents translates one streamed response into canonical events.
func geminiEvents(resp *genai.GenerateContentResponse, state *geminiStreamState) []normalize.Event {
	var events []normalize.Event
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		candidate := resp.Candidates[0]
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.FunctionCall != nil {
					id := part.FunctionCall.ID
					if id == "" {
						id = generateToolCallID()
					}
					args, err := json.Marshal(part.FunctionCall.Args)
					if err != nil || part.FunctionCall.Args == nil {
						args = []byte(`{}`)
					}
					name := part.FunctionCall.Name
					events = append(events,
						normalize.ToolUseStart(id, name),
						normalize.ToolUseDelta(id, string(args)),
						normalize.ToolUseEnd(id, name),
					)
					state.sawCall = true
					continue
				}
				if part.Text == "" {
					continue
				}
				if part.Thought {
					events = append(events, normalize.ThinkingDelta(part.Text))
				} else {
					events = append(events, normalize.TextDelta(part.Text))
				}
			}
		}
		if candidate.FinishReason != "" {
			state.stop = geminiStopReason(candidate.FinishReason)
		}
	}
	if u := resp.UsageMetadata; u != nil {
		events = append(events, normalize.UsageEvent(int(u.PromptTokenCount), int(u.CandidatesTokenCount)))
	}
	return events
}

// Complete sends req without streaming and returns the atomic response.
func (p *GoogleProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*normalize.Completion, error) {
	model := p.getModel(req.Model)
	contents := p.convertMessages(req.Messages)
	config := p.buildConfig(req)

	var resp *genai.GenerateContentResponse
	err := p.Retry(ctx, func() error {
		var callErr error
		resp, callErr = p.client.Models.GenerateContent(ctx, model, contents, config)
		return p.wrapError(callErr, model)
	})
	if err != nil {
		return nil, err
	}

	acc := normalize.NewAccumulator()
	state := &geminiStreamState{}
	for _, ev := range geminiEvents(resp, state) {
		_ = acc.Add(ev)
	}
	stopReason := state.stop
	if state.sawCall && (stopReason == "" || stopReason == normalize.StopEndTurn) {
		stopReason = normalize.StopToolUse
	}
	_ = acc.Add(normalize.MessageEnd(stopReason, normalize.Usage{}))
	return acc.Final(), nil
}

func geminiStopReason(reason genai.FinishReason) normalize.StopReason {
	switch reason {
	case genai.FinishReasonMaxTokens:
		return normalize.StopMaxTokens
	case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent,
		genai.FinishReasonSPII, genai.FinishReasonRecitation:
		return normalize.StopContentFilter
	default:
		return normalize.StopEndTurn
	}
}

// convertMessages translates history into Gemini contents. Tool results are
// user-side function responses, named after the call they answer.
func (p *GoogleProvider) convertMessages(messages []agent.CompletionMessage) []*genai.Content {
	names := make(map[string]string)
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			names[tc.ID] = tc.Name
		}
	}

	var result []*genai.Content
	for _, msg := range mergeToolMessages(messages) {
		if msg.Role == "system" {
			continue
		}
		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == "assistant" {
			content.Role = genai.RoleModel
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Input, &args); err != nil {
				args = make(map[string]any)
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args},
			})
		}
		for _, tr := range msg.ToolResults {
			var response map[string]any
			if err := json.Unmarshal([]byte(tr.Content), &response); err != nil || response == nil {
				response = map[string]any{"result": tr.Content}
			}
			if tr.IsError {
				response["error"] = true
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       tr.ToolCallID,
					Name:     names[tr.ToolCallID],
					Response: response,
				},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

func (p *GoogleProvider) buildConfig(req *agent.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Tools: toolconv.ToGeminiTools(req.Tools),
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	maxTokens := min(maxTokensOrDefault(req.MaxTokens), math.MaxInt32)
	// #nosec G115 -- bounded by min above
	config.MaxOutputTokens = int32(maxTokens)

	if req.EnableThinking {
		thinking := &genai.ThinkingConfig{IncludeThoughts: true}
		if req.ThinkingBudgetTokens > 0 {
			budget := int32(min(req.ThinkingBudgetTokens, math.MaxInt32)) // #nosec G115
			thinking.ThinkingBudget = &budget
		}
		config.ThinkingConfig = thinking
	}
	return config
}

func (p *GoogleProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *GoogleProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var pe *normalize.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		providerErr := normalize.NewProviderError(p.name, model, err).WithStatus(apiErr.Code)
		if apiErr.Status != "" {
			providerErr = providerErr.WithErrorType(apiErr.Status)
		}
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		return providerErr
	}
	return p.wrap(err, model)
}

// generateToolCallID returns an id for a function call Gemini left unnamed.
func generateToolCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
