// Package compaction keeps conversation history inside a model's context
// window. It estimates token usage, splits history into chunks and folds the
// oldest messages into a summary when the window fills up.
package compaction

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/warden/pkg/models"
)

const (
	// CharsPerToken is the approximate character-to-token ratio for estimation.
	CharsPerToken = 4

	// DefaultContextWindow is the fallback context window size in tokens.
	DefaultContextWindow = 100000

	// DefaultSummaryFallback is returned when there is nothing to summarize.
	DefaultSummaryFallback = "No prior history."

	// BaseChunkRatio is the share of the context window one summarization
	// chunk may use.
	BaseChunkRatio = 0.4
)

// EstimateTokens estimates the token count of one message at ~4 chars per token.
func EstimateTokens(msg models.Message) int {
	chars := len(msg.Content) + len(msg.Reasoning)
	for _, tc := range msg.ToolCalls {
		chars += len(tc.Name) + len(tc.Input)
	}
	for _, tr := range msg.ToolResults {
		chars += len(tr.Content)
	}
	return (chars + CharsPerToken - 1) / CharsPerToken
}

// EstimateMessagesTokens estimates total tokens across all messages.
func EstimateMessagesTokens(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(msg)
	}
	return total
}

// ChunkMessagesByMaxTokens splits messages into chunks no larger than
// maxTokens. A single message larger than the limit gets a chunk of its own.
func ChunkMessagesByMaxTokens(messages []models.Message, maxTokens int) [][]models.Message {
	if len(messages) == 0 {
		return nil
	}
	if maxTokens <= 0 {
		return [][]models.Message{messages}
	}

	var chunks [][]models.Message
	var current []models.Message
	currentTokens := 0
	for _, msg := range messages {
		tokens := EstimateTokens(msg)
		if len(current) > 0 && currentTokens+tokens > maxTokens {
			chunks = append(chunks, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, msg)
		currentTokens += tokens
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// Summarizer condenses a formatted transcript into a short summary.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// SummarizeChunks summarizes messages chunk by chunk, then merges the chunk
// summaries with one more pass when there is more than one.
func SummarizeChunks(ctx context.Context, messages []models.Message, summarizer Summarizer, maxChunkTokens int) (string, error) {
	if len(messages) == 0 {
		return DefaultSummaryFallback, nil
	}
	if summarizer == nil {
		return "", fmt.Errorf("summarizer is nil")
	}

	chunks := ChunkMessagesByMaxTokens(messages, maxChunkTokens)
	if len(chunks) == 1 {
		return summarizer.Summarize(ctx, FormatMessagesForSummary(chunks[0]))
	}

	summaries := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		summary, err := summarizer.Summarize(ctx, FormatMessagesForSummary(chunk))
		if err != nil {
			return "", fmt.Errorf("summarizing chunk %d: %w", i, err)
		}
		summaries = append(summaries, summary)
	}

	var sb strings.Builder
	for i, s := range summaries {
		fmt.Fprintf(&sb, "Part %d summary:\n%s\n\n", i+1, s)
	}
	return summarizer.Summarize(ctx, sb.String())
}

// FormatMessagesForSummary renders messages as a plain transcript.
func FormatMessagesForSummary(messages []models.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&sb, "[%s]: %s", msg.Role, msg.Content)
		for _, tc := range msg.ToolCalls {
			fmt.Fprintf(&sb, "\n  [Tool call %s: %s]", tc.Name, truncateString(string(tc.Input), 200))
		}
		for _, tr := range msg.ToolResults {
			fmt.Fprintf(&sb, "\n  [Tool result: %s]", truncateString(tr.Content, 200))
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}
