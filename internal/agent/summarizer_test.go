package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/warden/internal/normalize"
)

func TestProviderSummarizer(t *testing.T) {
	t.Run("streaming provider", func(t *testing.T) {
		provider := newScriptedProvider(textStep("  user asked about lanes  "))
		s := NewProviderSummarizer(provider, "small-model", 500)

		summary, err := s.Summarize(context.Background(), "[user]: how do lanes work?")
		if err != nil {
			t.Fatalf("Summarize: %v", err)
		}
		if summary != "user asked about lanes" {
			t.Errorf("summary = %q", summary)
		}

		req := provider.calls()[0]
		if req.Model != "small-model" || len(req.Tools) != 0 {
			t.Errorf("request model/tools = %q/%d", req.Model, len(req.Tools))
		}
		prompt := req.Messages[0].Content
		if !strings.Contains(prompt, "under 500 characters") || !strings.HasSuffix(prompt, "[user]: how do lanes work?") {
			t.Errorf("prompt = %q", prompt)
		}
	})

	t.Run("atomic provider", func(t *testing.T) {
		provider := &atomicProvider{scriptedProvider: newScriptedProvider(textStep("short"))}
		summary, err := NewProviderSummarizer(provider, "", 0).Summarize(context.Background(), "x")
		if err != nil || summary != "short" {
			t.Fatalf("Summarize() = %q, %v", summary, err)
		}
		if provider.completes != 1 {
			t.Errorf("Complete calls = %d, want 1", provider.completes)
		}
	})

	t.Run("provider error", func(t *testing.T) {
		boom := normalize.NewProviderError("scripted", "m", errors.New("down")).WithStatus(503)
		_, err := NewProviderSummarizer(newScriptedProvider(scriptStep{err: boom}), "", 0).Summarize(context.Background(), "x")
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want wrapped provider error", err)
		}
	})

	t.Run("empty answer", func(t *testing.T) {
		_, err := NewProviderSummarizer(newScriptedProvider(textStep("   ")), "", 0).Summarize(context.Background(), "x")
		if err == nil {
			t.Error("expected error for empty summary")
		}
	})

	t.Run("no provider", func(t *testing.T) {
		var s *ProviderSummarizer
		if _, err := s.Summarize(context.Background(), "x"); !errors.Is(err, ErrNoProvider) {
			t.Errorf("err = %v, want ErrNoProvider", err)
		}
	})
}
