package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/warden/internal/normalize"
)

// DefaultSummaryLength is the target summary size in characters.
const DefaultSummaryLength = 2000

// ProviderSummarizer condenses transcripts with a model call. It satisfies
// compaction.Summarizer.
type ProviderSummarizer struct {
	provider  LLMProvider
	model     string
	maxLength int
}

// NewProviderSummarizer returns a summarizer using provider. An empty model
// uses the provider's default.
func NewProviderSummarizer(provider LLMProvider, model string, maxLength int) *ProviderSummarizer {
	if maxLength <= 0 {
		maxLength = DefaultSummaryLength
	}
	return &ProviderSummarizer{provider: provider, model: model, maxLength: maxLength}
}

// Summarize sends transcript to the model without tools and returns its text.
func (s *ProviderSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	if s == nil || s.provider == nil {
		return "", ErrNoProvider
	}
	req := &CompletionRequest{
		Model:  s.model,
		System: "You summarize conversations for an assistant that will continue them.",
		Messages: []CompletionMessage{{
			Role:    "user",
			Content: summarizationPrompt(transcript, s.maxLength),
		}},
	}

	var completion *normalize.Completion
	var err error
	if c, ok := s.provider.(Completer); ok {
		completion, err = c.Complete(ctx, req)
	} else {
		var events <-chan normalize.Event
		events, err = s.provider.Stream(ctx, req)
		if err == nil {
			completion, err = normalize.Drain(ctx, events, nil)
		}
	}
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}

	summary := strings.TrimSpace(completion.Text)
	if summary == "" {
		return "", errors.New("summarize: empty response")
	}
	return summary, nil
}

func summarizationPrompt(transcript string, maxLength int) string {
	var sb strings.Builder
	sb.WriteString("Please summarize the following conversation concisely. ")
	fmt.Fprintf(&sb, "Keep the summary under %d characters. ", maxLength)
	sb.WriteString("Focus on:\n")
	sb.WriteString("- Key topics discussed\n")
	sb.WriteString("- Important decisions or conclusions\n")
	sb.WriteString("- Any pending tasks or questions\n")
	sb.WriteString("- Tool executions and their outcomes\n\n")
	sb.WriteString("Conversation:\n\n")
	sb.WriteString(transcript)
	return sb.String()
}
