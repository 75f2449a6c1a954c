// Package channels delivers approval prompts to messaging platforms.
//
// Delivery is best-effort: the approval gateway logs failures and falls back
// on its timeout, so adapters here only send and edit plain text messages.
package channels

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/time/rate"
)

// OutboundMessage is a text message addressed to a chat.
type OutboundMessage struct {
	ChatID   string `json:"chat_id"`
	ThreadID string `json:"thread_id,omitempty"`
	Text     string `json:"text"`
}

// MessageRef identifies a delivered message so it can be edited later.
type MessageRef struct {
	Platform  string `json:"platform"`
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

// Messenger sends and edits messages on one platform.
type Messenger interface {
	Platform() string
	SendMessage(ctx context.Context, msg OutboundMessage) (MessageRef, error)
	EditMessage(ctx context.Context, ref MessageRef, text string) error
}

// Router dispatches messages to the messenger registered for a platform.
type Router struct {
	mu         sync.RWMutex
	messengers map[string]Messenger
	limiters   map[string]*rate.Limiter
	logger     *slog.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		messengers: make(map[string]Messenger),
		limiters:   make(map[string]*rate.Limiter),
		logger:     logger.With("component", "channels"),
	}
}

// Register adds m, replacing any messenger for the same platform. Sends and
// edits are throttled by DefaultRates for the platform, if it has one.
func (r *Router) Register(m Messenger) {
	if m == nil {
		return
	}
	r.RegisterWithRate(m, DefaultRates[m.Platform()])
}

// RegisterWithRate adds m with its own throttle. A zero rate disables
// throttling.
func (r *Router) RegisterWithRate(m Messenger, limit Rate) {
	if m == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	platform := m.Platform()
	r.messengers[platform] = m
	delete(r.limiters, platform)
	if limit.Enabled() {
		r.limiters[platform] = newLimiter(limit)
	}
	r.logger.Debug("registered messenger", "platform", platform, "rate", limit.PerSecond)
}

// Platforms lists registered platforms in sorted order.
func (r *Router) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.messengers))
	for p := range r.messengers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// get returns the messenger for platform once its throttle admits a call.
func (r *Router) get(ctx context.Context, platform string) (Messenger, error) {
	r.mu.RLock()
	m, ok := r.messengers[platform]
	limiter := r.limiters[platform]
	r.mu.RUnlock()
	if !ok {
		return nil, NewError(ErrCodeNotFound, "no messenger for platform "+platform, ErrUnknownPlatform)
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, ErrRateLimit("throttled until the deadline", err).WithPlatform(platform)
		}
	}
	return m, nil
}

// SendMessage delivers msg through the messenger for platform.
func (r *Router) SendMessage(ctx context.Context, platform string, msg OutboundMessage) (MessageRef, error) {
	if msg.ChatID == "" {
		return MessageRef{}, ErrInvalidInput("chat id is required", nil)
	}
	m, err := r.get(ctx, platform)
	if err != nil {
		return MessageRef{}, err
	}
	ref, err := m.SendMessage(ctx, msg)
	if err != nil {
		return MessageRef{}, err
	}
	if ref.Platform == "" {
		ref.Platform = platform
	}
	return ref, nil
}

// EditMessage replaces the text of a previously delivered message.
func (r *Router) EditMessage(ctx context.Context, ref MessageRef, text string) error {
	if ref.MessageID == "" {
		return ErrInvalidInput("message id is required", nil)
	}
	m, err := r.get(ctx, ref.Platform)
	if err != nil {
		return err
	}
	return m.EditMessage(ctx, ref, text)
}
