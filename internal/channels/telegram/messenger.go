// Package telegram sends approval prompts through a Telegram bot.
package telegram

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/haasonsaas/warden/internal/channels"
)

const platform = "telegram"

// BotClient is the subset of bot.Bot the messenger uses.
type BotClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
}

var _ BotClient = (*bot.Bot)(nil)

// Messenger implements channels.Messenger for Telegram.
type Messenger struct {
	client BotClient
}

// New creates a messenger for the bot identified by token.
func New(token string) (*Messenger, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, channels.ErrAuthentication("failed to create bot", err).WithPlatform(platform)
	}
	return NewWithClient(b), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client BotClient) *Messenger {
	return &Messenger{client: client}
}

func (m *Messenger) Platform() string { return platform }

// SendMessage sends msg. Numeric chat ids are sent as integers, anything else
// (such as @channelname) as a string.
func (m *Messenger) SendMessage(ctx context.Context, msg channels.OutboundMessage) (channels.MessageRef, error) {
	params := &bot.SendMessageParams{
		ChatID: chatID(msg.ChatID),
		Text:   msg.Text,
	}
	if msg.ThreadID != "" {
		threadID, err := strconv.Atoi(msg.ThreadID)
		if err != nil {
			return channels.MessageRef{}, channels.ErrInvalidInput("invalid thread id", err).WithPlatform(platform)
		}
		params.MessageThreadID = threadID
	}

	sent, err := m.client.SendMessage(ctx, params)
	if err != nil {
		return channels.MessageRef{}, wrap("failed to send message", err)
	}
	ref := channels.MessageRef{Platform: platform, ChatID: msg.ChatID}
	if sent != nil {
		ref.MessageID = strconv.Itoa(sent.ID)
	}
	return ref, nil
}

// EditMessage replaces the text of a sent message.
func (m *Messenger) EditMessage(ctx context.Context, ref channels.MessageRef, text string) error {
	messageID, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return channels.ErrInvalidInput("invalid message id", err).WithPlatform(platform)
	}
	_, err = m.client.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    chatID(ref.ChatID),
		MessageID: messageID,
		Text:      text,
	})
	if err != nil {
		return wrap("failed to edit message", err)
	}
	return nil
}

func chatID(raw string) any {
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return id
	}
	return raw
}

func wrap(message string, err error) error {
	text := err.Error()
	if strings.Contains(text, "Too Many Requests") || strings.Contains(text, "429") {
		return channels.ErrRateLimit(message, err).WithPlatform(platform)
	}
	return channels.ErrInternal(message, err).WithPlatform(platform)
}
