package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/haasonsaas/warden/internal/agent"
	"github.com/haasonsaas/warden/internal/normalize"
	"github.com/haasonsaas/warden/pkg/models"
	"google.golang.org/genai"
)

func TestNewGoogleProviderRequiresKey(t *testing.T) {
	if _, err := NewGoogleProvider(GoogleConfig{}); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestGeminiEventsFunctionCalls(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "weighing options", Thought: true},
				{Text: "Let me look."},
				{FunctionCall: &genai.FunctionCall{Name: "read_file", Args: map[string]any{"path": "a"}}},
				{FunctionCall: &genai.FunctionCall{ID: "given", Name: "list_dir"}},
			}},
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 8, CandidatesTokenCount: 4},
	}

	state := &geminiStreamState{}
	events := geminiEvents(resp, state)
	if !state.sawCall {
		t.Error("sawCall not set")
	}

	acc := normalize.NewAccumulator()
	for _, ev := range events {
		if err := acc.Add(ev); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	c := acc.Final()
	if c.Thinking != "weighing options" || c.Text != "Let me look." {
		t.Errorf("text = %q thinking = %q", c.Text, c.Thinking)
	}
	if len(c.ToolCalls) != 2 {
		t.Fatalf("ToolCalls = %+v", c.ToolCalls)
	}
	if !strings.HasPrefix(c.ToolCalls[0].ID, "call_") || string(c.ToolCalls[0].Input) != `{"path":"a"}` {
		t.Errorf("first = %+v", c.ToolCalls[0])
	}
	if c.ToolCalls[1].ID != "given" || string(c.ToolCalls[1].Input) != `{}` {
		t.Errorf("second = %+v", c.ToolCalls[1])
	}
	if c.Usage != (normalize.Usage{InputTokens: 8, OutputTokens: 4}) {
		t.Errorf("Usage = %+v", c.Usage)
	}
}

func TestGenerateToolCallIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := generateToolCallID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestGoogleConvertMessages(t *testing.T) {
	p := &GoogleProvider{defaultModel: "gemini-2.0-flash"}
	contents := p.convertMessages([]agent.CompletionMessage{
		{Role: "user", Content: "go"},
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "a", Name: "read_file", Input: json.RawMessage(`{"path":"x"}`)},
			{ID: "b", Name: "list_dir", Input: json.RawMessage(`{}`)},
		}},
		{Role: "tool", ToolResults: []models.ToolResult{{ToolCallID: "a", Content: "contents"}}},
		{Role: "tool", ToolResults: []models.ToolResult{{ToolCallID: "b", Content: `{"entries":2}`, IsError: true}}},
	})
	if len(contents) != 3 {
		t.Fatalf("len = %d, want 3", len(contents))
	}
	if contents[1].Role != genai.RoleModel {
		t.Errorf("assistant role = %q", contents[1].Role)
	}
	results := contents[2].Parts
	if len(results) != 2 {
		t.Fatalf("function responses = %d, want 2", len(results))
	}
	if results[0].FunctionResponse.Name != "read_file" || results[0].FunctionResponse.Response["result"] != "contents" {
		t.Errorf("first response = %+v", results[0].FunctionResponse)
	}
	if results[1].FunctionResponse.Name != "list_dir" || results[1].FunctionResponse.Response["error"] != true {
		t.Errorf("second response = %+v", results[1].FunctionResponse)
	}
}

func TestGoogleBuildConfig(t *testing.T) {
	p := &GoogleProvider{}
	cfg := p.buildConfig(&agent.CompletionRequest{System: "sys", EnableThinking: true, ThinkingBudgetTokens: 2048})
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "sys" {
		t.Error("system instruction missing")
	}
	if cfg.MaxOutputTokens != defaultMaxTokens {
		t.Errorf("MaxOutputTokens = %d", cfg.MaxOutputTokens)
	}
	if cfg.ThinkingConfig == nil || !cfg.ThinkingConfig.IncludeThoughts || *cfg.ThinkingConfig.ThinkingBudget != 2048 {
		t.Errorf("ThinkingConfig = %+v", cfg.ThinkingConfig)
	}
}

func TestGoogleWrapError(t *testing.T) {
	p := &GoogleProvider{BaseProvider: NewBaseProvider("google", 0, 0)}
	err := p.wrapError(fmt.Errorf("stream: %w", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}), "gemini")
	var pe *normalize.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("got %T", err)
	}
	if pe.Code != normalize.CodeRateLimit || pe.Status != 429 || pe.Message != "quota" {
		t.Errorf("ProviderError = %+v", pe)
	}
	if p.wrapError(nil, "m") != nil {
		t.Error("nil error wrapped")
	}
}

func TestGeminiStopReason(t *testing.T) {
	tests := map[genai.FinishReason]normalize.StopReason{
		genai.FinishReasonStop:              normalize.StopEndTurn,
		genai.FinishReasonMaxTokens:         normalize.StopMaxTokens,
		genai.FinishReasonSafety:            normalize.StopContentFilter,
		genai.FinishReasonProhibitedContent: normalize.StopContentFilter,
	}
	for in, want := range tests {
		if got := geminiStopReason(in); got != want {
			t.Errorf("geminiStopReason(%q) = %q, want %q", in, got, want)
		}
	}
}
