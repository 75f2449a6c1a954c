package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/haasonsaas/warden/pkg/models"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name     string
		msg      models.Message
		expected int
	}{
		{"empty message", models.Message{}, 0},
		{"short content", models.Message{Content: "Hello"}, 2},
		{"exact multiple", models.Message{Content: "12345678"}, 2},
		{"with tool call", models.Message{Content: "Hi", ToolCalls: []models.ToolCall{{Name: "ls", Input: []byte("{}")}}}, 2},
		{"with tool result", models.Message{ToolResults: []models.ToolResult{{Content: "result!!"}}}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.msg); got != tt.expected {
				t.Errorf("EstimateTokens() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestChunkMessagesByMaxTokens(t *testing.T) {
	msgs := []models.Message{
		{Content: strings.Repeat("a", 40)}, // 10 tokens
		{Content: strings.Repeat("b", 40)},
		{Content: strings.Repeat("c", 200)}, // 50 tokens, oversized
		{Content: strings.Repeat("d", 4)},
	}
	chunks := ChunkMessagesByMaxTokens(msgs, 20)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 2 || len(chunks[1]) != 1 || len(chunks[2]) != 1 {
		t.Errorf("chunk sizes = %d %d %d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	if ChunkMessagesByMaxTokens(nil, 10) != nil {
		t.Error("expected nil for empty input")
	}
}

type mockSummarizer struct {
	calls []string
	err   error
}

func (m *mockSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	m.calls = append(m.calls, transcript)
	if m.err != nil {
		return "", m.err
	}
	return fmt.Sprintf("summary %d", len(m.calls)), nil
}

func TestSummarizeChunks(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		got, err := SummarizeChunks(context.Background(), nil, &mockSummarizer{}, 10)
		if err != nil || got != DefaultSummaryFallback {
			t.Errorf("got %q, %v", got, err)
		}
	})

	t.Run("nil summarizer", func(t *testing.T) {
		_, err := SummarizeChunks(context.Background(), []models.Message{{Content: "x"}}, nil, 10)
		if err == nil {
			t.Error("expected error")
		}
	})

	t.Run("multi chunk merges", func(t *testing.T) {
		s := &mockSummarizer{}
		msgs := []models.Message{
			{Role: models.RoleUser, Content: strings.Repeat("a", 40)},
			{Role: models.RoleAssistant, Content: strings.Repeat("b", 40)},
		}
		got, err := SummarizeChunks(context.Background(), msgs, s, 10)
		if err != nil {
			t.Fatalf("SummarizeChunks: %v", err)
		}
		if len(s.calls) != 3 {
			t.Fatalf("summarizer calls = %d, want 3", len(s.calls))
		}
		if !strings.Contains(s.calls[2], "Part 2 summary:\nsummary 2") {
			t.Errorf("merge transcript = %q", s.calls[2])
		}
		if got != "summary 3" {
			t.Errorf("got %q", got)
		}
	})
}

func TestFormatMessagesForSummary(t *testing.T) {
	out := FormatMessagesForSummary([]models.Message{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{Name: "read_file", Input: []byte(`{"path":"a"}`)}}},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{{Content: "contents"}}},
	})
	if !strings.Contains(out, `[Tool call read_file: {"path":"a"}]`) {
		t.Errorf("missing tool call in %q", out)
	}
	if !strings.Contains(out, "[Tool result: contents]") {
		t.Errorf("missing tool result in %q", out)
	}
}

func TestTruncateString(t *testing.T) {
	if got := truncateString("hello", 10); got != "hello" {
		t.Errorf("got %q", got)
	}
	if got := truncateString("hello world", 5); got != "hello..." {
		t.Errorf("got %q", got)
	}
	if got := truncateString("日本語", 4); got != "日..." {
		t.Errorf("got %q, want cut on a rune boundary", got)
	}
}

func TestSummarizerErrorSurfaces(t *testing.T) {
	s := &mockSummarizer{err: errors.New("boom")}
	_, err := SummarizeChunks(context.Background(), []models.Message{{Content: "x"}}, s, 10)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("err = %v", err)
	}
}
