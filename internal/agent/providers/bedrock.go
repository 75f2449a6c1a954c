package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/haasonsaas/warden/internal/agent"
	"github.com/haasonsaas/warden/internal/agent/toolconv"
	"github.com/haasonsaas/warden/internal/normalize"
)

// BedrockProvider implements agent.LLMProvider for AWS Bedrock's Converse
// API. Authentication uses explicit credentials when configured and the
// default AWS chain otherwise.
type BedrockProvider struct {
	BaseProvider
	client       *bedrockruntime.Client
	defaultModel string
}

// BedrockConfig holds configuration for a BedrockProvider.
type BedrockConfig struct {
	// Region is the AWS region. Default: "us-east-1"
	Region string

	// Explicit credentials. Empty AccessKeyID uses the default chain.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewBedrockProvider creates a Bedrock provider.
func NewBedrockProvider(cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)))
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	// Retries are ours.
	client := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		o.RetryMaxAttempts = 1
	})

	return &BedrockProvider{
		BaseProvider: NewBaseProvider("bedrock", cfg.MaxRetries, cfg.RetryDelay),
		client:       client,
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Stream sends req and returns the response as canonical events.
func (p *BedrockProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan normalize.Event, error) {
	input, err := p.buildInput(req)
	if err != nil {
		return nil, err
	}
	model := aws.ToString(input.ModelId)
	streamInput := &bedrockruntime.ConverseStreamInput{
		ModelId:         input.ModelId,
		Messages:        input.Messages,
		System:          input.System,
		InferenceConfig: input.InferenceConfig,
		ToolConfig:      input.ToolConfig,
	}

	out := newEmitter(ctx)
	go func() {
		defer out.close()

		var stream *bedrockruntime.ConverseStreamOutput
		err := p.Retry(ctx, func() error {
			var openErr error
			stream, openErr = p.client.ConverseStream(ctx, streamInput)
			return p.wrapError(openErr, model)
		})
		if err != nil {
			out.fail(err)
			return
		}

		eventStream := stream.GetStream()
		defer eventStream.Close()

		if !out.send(normalize.MessageStart()) {
			return
		}
		state := newBedrockStreamState()
		for event := range eventStream.Events() {
			for _, ev := range state.translate(event) {
				if !out.send(ev) {
					return
				}
			}
		}
		if err := eventStream.Err(); err != nil {
			out.fail(p.wrapError(err, model))
			return
		}
		// MessageStop precedes the metadata event, so the end is reported
		// once the stream is drained.
		out.send(normalize.MessageEnd(state.stop, normalize.Usage{}))
	}()
	return out.events, nil
}

// bedrockStreamState maps content block indexes to tool ids.
type bedrockStreamState struct {
	tools map[int32]bedrockTool
	stop  normalize.StopReason
}

type bedrockTool struct {
	id   string
	name string
}

func newBedrockStreamState() *bedrockStreamState {
	return &bedrockStreamState{tools: make(map[int32]bedrockTool)}
}

func (s *bedrockStreamState) translate(event types.ConverseStreamOutput) []normalize.Event {
	switch ev := event.(type) {
	case *types.ConverseStreamOutputMemberContentBlockStart:
		toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse)
		if !ok {
			return nil
		}
		tool := bedrockTool{id: aws.ToString(toolUse.Value.ToolUseId), name: aws.ToString(toolUse.Value.Name)}
		s.tools[aws.ToInt32(ev.Value.ContentBlockIndex)] = tool
		return []normalize.Event{normalize.ToolUseStart(tool.id, tool.name)}

	case *types.ConverseStreamOutputMemberContentBlockDelta:
		switch delta := ev.Value.Delta.(type) {
		case *types.ContentBlockDeltaMemberText:
			if delta.Value != "" {
				return []normalize.Event{normalize.TextDelta(delta.Value)}
			}
		case *types.ContentBlockDeltaMemberReasoningContent:
			if text, ok := delta.Value.(*types.ReasoningContentBlockDeltaMemberText); ok && text.Value != "" {
				return []normalize.Event{normalize.ThinkingDelta(text.Value)}
			}
		case *types.ContentBlockDeltaMemberToolUse:
			tool, ok := s.tools[aws.ToInt32(ev.Value.ContentBlockIndex)]
			if ok && delta.Value.Input != nil {
				return []normalize.Event{normalize.ToolUseDelta(tool.id, *delta.Value.Input)}
			}
		}

	case *types.ConverseStreamOutputMemberContentBlockStop:
		index := aws.ToInt32(ev.Value.ContentBlockIndex)
		tool, ok := s.tools[index]
		if !ok {
			return nil
		}
		delete(s.tools, index)
		return []normalize.Event{normalize.ToolUseEnd(tool.id, tool.name)}

	case *types.ConverseStreamOutputMemberMessageStop:
		s.stop = bedrockStopReason(ev.Value.StopReason)

	case *types.ConverseStreamOutputMemberMetadata:
		if u := ev.Value.Usage; u != nil {
			return []normalize.Event{normalize.UsageEvent(int(aws.ToInt32(u.InputTokens)), int(aws.ToInt32(u.OutputTokens)))}
		}
	}
	return nil
}

// Complete sends req through the non-streaming Converse call.
func (p *BedrockProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*normalize.Completion, error) {
	input, err := p.buildInput(req)
	if err != nil {
		return nil, err
	}
	model := aws.ToString(input.ModelId)

	var output *bedrockruntime.ConverseOutput
	err = p.Retry(ctx, func() error {
		var callErr error
		output, callErr = p.client.Converse(ctx, input)
		return p.wrapError(callErr, model)
	})
	if err != nil {
		return nil, err
	}
	return bedrockCompletion(output), nil
}

func bedrockCompletion(output *bedrockruntime.ConverseOutput) *normalize.Completion {
	c := &normalize.Completion{StopReason: bedrockStopReason(output.StopReason)}
	if u := output.Usage; u != nil {
		c.Usage = normalize.Usage{
			InputTokens:  int(aws.ToInt32(u.InputTokens)),
			OutputTokens: int(aws.ToInt32(u.OutputTokens)),
		}
	}
	msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return c
	}

	var text, thinking strings.Builder
	for _, block := range msg.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			text.WriteString(b.Value)
		case *types.ContentBlockMemberReasoningContent:
			if r, ok := b.Value.(*types.ReasoningContentBlockMemberReasoningText); ok {
				thinking.WriteString(aws.ToString(r.Value.Text))
			}
		case *types.ContentBlockMemberToolUse:
			input := json.RawMessage(`{}`)
			if b.Value.Input != nil {
				if raw, err := b.Value.Input.MarshalSmithyDocument(); err == nil && json.Valid(raw) {
					input = raw
				}
			}
			c.ToolCalls = append(c.ToolCalls, toolCall(aws.ToString(b.Value.ToolUseId), aws.ToString(b.Value.Name), input))
		}
	}
	c.Text = text.String()
	c.Thinking = thinking.String()
	return c
}

func bedrockStopReason(reason types.StopReason) normalize.StopReason {
	switch reason {
	case types.StopReasonToolUse:
		return normalize.StopToolUse
	case types.StopReasonMaxTokens:
		return normalize.StopMaxTokens
	case types.StopReasonStopSequence:
		return normalize.StopSequence
	case types.StopReasonGuardrailIntervened, types.StopReasonContentFiltered:
		return normalize.StopContentFilter
	case "":
		return ""
	default:
		return normalize.StopEndTurn
	}
}

func (p *BedrockProvider) buildInput(req *agent.CompletionRequest) (*bedrockruntime.ConverseInput, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to convert messages: %w", err)
	}

	maxTokens := min(maxTokensOrDefault(req.MaxTokens), math.MaxInt32)
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: messages,
		InferenceConfig: &types.InferenceConfiguration{
			// #nosec G115 -- bounded by min above
			MaxTokens: aws.Int32(int32(maxTokens)),
		},
		ToolConfig: toolconv.ToBedrockTools(req.Tools),
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	return input, nil
}

// convertMessages translates history into Converse messages. All results of
// one tool round travel in a single user message.
func (p *BedrockProvider) convertMessages(messages []agent.CompletionMessage) ([]types.Message, error) {
	result := make([]types.Message, 0, len(messages))
	for _, msg := range mergeToolMessages(messages) {
		if msg.Role == "system" {
			continue
		}

		var content []types.ContentBlock
		if msg.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
		}
		for _, tr := range msg.ToolResults {
			status := types.ToolResultStatusSuccess
			if tr.IsError {
				status = types.ToolResultStatusError
			}
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(tr.ToolCallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: tr.Content}},
					Status:    status,
				},
			})
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input: %w", err)
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(input),
				},
			})
		}
		if len(content) == 0 {
			continue
		}

		role := types.ConversationRoleUser
		if msg.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}
	return result, nil
}

func (p *BedrockProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var pe *normalize.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	providerErr := normalize.NewProviderError(p.name, model, err)
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		providerErr = providerErr.WithStatus(respErr.HTTPStatusCode()).WithRequestID(respErr.ServiceRequestID())
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		providerErr = providerErr.WithErrorType(apiErr.ErrorCode())
		if msg := apiErr.ErrorMessage(); msg != "" {
			providerErr = providerErr.WithMessage(msg)
		}
	}
	return providerErr
}
