package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/warden/pkg/models"
)

// GuardConfig configures a Guard.
type GuardConfig struct {
	// MaxTokens is the model's context window. Default: DefaultContextWindow.
	MaxTokens int

	// Threshold is the fraction of MaxTokens at which history needs
	// compression. Default: 0.8.
	Threshold float64

	// HistoryShare is the fraction of MaxTokens the kept tail may use after
	// compression. Default: 0.5.
	HistoryShare float64

	// Summarizer condenses dropped messages. Nil uses a count-only note.
	Summarizer Summarizer

	Logger *slog.Logger
}

// Status reports how full the context window is.
type Status struct {
	NeedsCompression bool `json:"needs_compression"`
	CurrentTokens    int  `json:"current_tokens"`
	MaxTokens        int  `json:"max_tokens"`
}

// Guard decides when history must shrink and shrinks it.
type Guard struct {
	maxTokens    int
	threshold    float64
	historyShare float64
	summarizer   Summarizer
	logger       *slog.Logger
}

// NewGuard creates a guard, filling defaults for zero fields.
func NewGuard(cfg GuardConfig) *Guard {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultContextWindow
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = 0.8
	}
	if cfg.HistoryShare <= 0 || cfg.HistoryShare > 1 {
		cfg.HistoryShare = 0.5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Guard{
		maxTokens:    cfg.MaxTokens,
		threshold:    cfg.Threshold,
		historyShare: cfg.HistoryShare,
		summarizer:   cfg.Summarizer,
		logger:       cfg.Logger.With("component", "compaction"),
	}
}

// CheckStatus estimates the token usage of messages.
func (g *Guard) CheckStatus(messages []models.Message) Status {
	current := EstimateMessagesTokens(messages)
	return Status{
		NeedsCompression: float64(current) >= float64(g.maxTokens)*g.threshold,
		CurrentTokens:    current,
		MaxTokens:        g.maxTokens,
	}
}

// AutoCompress keeps the most recent messages that fit the history share and
// replaces the rest with one system summary message. The kept tail never
// starts with a tool result whose call was dropped, and always includes the
// latest user message, even when that exceeds the share. The input is not
// modified.
func (g *Guard) AutoCompress(ctx context.Context, messages []models.Message) []models.Message {
	budget := int(float64(g.maxTokens) * g.historyShare)

	start := len(messages)
	kept := 0
	for i := len(messages) - 1; i >= 0; i-- {
		tokens := EstimateTokens(messages[i])
		if kept+tokens > budget && start < len(messages) {
			break
		}
		kept += tokens
		start = i
	}
	for start > 0 && start < len(messages) && messages[start].Role == models.RoleTool {
		start--
	}
	if last := lastUserIndex(messages); last >= 0 && start > last {
		start = last
	}
	if start == 0 {
		return messages
	}

	dropped := messages[:start]
	summary := g.summarize(ctx, dropped)

	sessionID := ""
	if len(messages) > 0 {
		sessionID = messages[0].SessionID
	}
	out := make([]models.Message, 0, len(messages)-start+1)
	out = append(out, models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleSystem,
		Content:   "Summary of earlier conversation:\n" + summary,
		Metadata:  map[string]any{"compacted_messages": len(dropped)},
		CreatedAt: time.Now(),
	})
	out = append(out, messages[start:]...)

	g.logger.Info("history compacted",
		"dropped_messages", len(dropped),
		"dropped_tokens", EstimateMessagesTokens(dropped),
		"kept_messages", len(messages)-start)
	return out
}

func (g *Guard) summarize(ctx context.Context, dropped []models.Message) string {
	fallback := fmt.Sprintf("%d earlier messages compacted.", len(dropped))
	if g.summarizer == nil {
		return fallback
	}
	summary, err := SummarizeChunks(ctx, dropped, g.summarizer, int(float64(g.maxTokens)*BaseChunkRatio))
	if err != nil || summary == "" {
		g.logger.Warn("summarization failed, using fallback", "error", err)
		return fallback
	}
	return summary
}

func lastUserIndex(messages []models.Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return i
		}
	}
	return -1
}
