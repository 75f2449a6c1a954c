// Package slack posts approval prompts to Slack channels.
package slack

import (
	"context"
	"errors"

	"github.com/slack-go/slack"

	"github.com/haasonsaas/warden/internal/channels"
)

const platform = "slack"

// Client is the subset of the Slack Web API the messenger uses.
type Client interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
}

var _ Client = (*slack.Client)(nil)

// Messenger implements channels.Messenger for Slack.
type Messenger struct {
	client Client
}

// New creates a messenger authenticated with a bot token.
func New(botToken string) *Messenger {
	return NewWithClient(slack.New(botToken))
}

// NewWithClient wraps an existing client.
func NewWithClient(client Client) *Messenger {
	return &Messenger{client: client}
}

func (m *Messenger) Platform() string { return platform }

// SendMessage posts msg, threading it under ThreadID when set.
func (m *Messenger) SendMessage(ctx context.Context, msg channels.OutboundMessage) (channels.MessageRef, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if msg.ThreadID != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ThreadID))
	}
	channelID, ts, err := m.client.PostMessageContext(ctx, msg.ChatID, opts...)
	if err != nil {
		return channels.MessageRef{}, wrap("failed to post message", err)
	}
	return channels.MessageRef{Platform: platform, ChatID: channelID, MessageID: ts}, nil
}

// EditMessage updates the message identified by ref.
func (m *Messenger) EditMessage(ctx context.Context, ref channels.MessageRef, text string) error {
	if _, _, _, err := m.client.UpdateMessageContext(ctx, ref.ChatID, ref.MessageID, slack.MsgOptionText(text, false)); err != nil {
		return wrap("failed to update message", err)
	}
	return nil
}

func wrap(message string, err error) error {
	var rateLimited *slack.RateLimitedError
	if errors.As(err, &rateLimited) {
		return channels.ErrRateLimit(message, err).WithPlatform(platform)
	}
	return channels.ErrInternal(message, err).WithPlatform(platform)
}
