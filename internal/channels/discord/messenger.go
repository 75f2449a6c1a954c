// Package discord posts approval prompts to Discord channels over the REST API.
package discord

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/warden/internal/channels"
)

const platform = "discord"

// Session is the subset of discordgo.Session the messenger uses. REST calls
// do not need an open gateway connection.
type Session interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ Session = (*discordgo.Session)(nil)

// Messenger implements channels.Messenger for Discord.
type Messenger struct {
	session Session
}

// New creates a messenger authenticated with a bot token.
func New(token string) (*Messenger, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, channels.ErrAuthentication("failed to create Discord session", err).WithPlatform(platform)
	}
	return NewWithSession(dg), nil
}

// NewWithSession wraps an existing session.
func NewWithSession(session Session) *Messenger {
	return &Messenger{session: session}
}

func (m *Messenger) Platform() string { return platform }

// SendMessage posts msg. Threads are channels in Discord, so ThreadID wins
// over ChatID when set.
func (m *Messenger) SendMessage(ctx context.Context, msg channels.OutboundMessage) (channels.MessageRef, error) {
	channelID := msg.ChatID
	if msg.ThreadID != "" {
		channelID = msg.ThreadID
	}
	sent, err := m.session.ChannelMessageSend(channelID, msg.Text, discordgo.WithContext(ctx))
	if err != nil {
		return channels.MessageRef{}, wrap("failed to send message", err)
	}
	ref := channels.MessageRef{Platform: platform, ChatID: channelID}
	if sent != nil {
		ref.MessageID = sent.ID
	}
	return ref, nil
}

// EditMessage edits a previously sent message.
func (m *Messenger) EditMessage(ctx context.Context, ref channels.MessageRef, text string) error {
	if _, err := m.session.ChannelMessageEdit(ref.ChatID, ref.MessageID, text, discordgo.WithContext(ctx)); err != nil {
		return wrap("failed to edit message", err)
	}
	return nil
}

func wrap(message string, err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusTooManyRequests:
			return channels.ErrRateLimit(message, err).WithPlatform(platform)
		case http.StatusUnauthorized, http.StatusForbidden:
			return channels.ErrAuthentication(message, err).WithPlatform(platform)
		}
	}
	return channels.ErrInternal(message, err).WithPlatform(platform)
}
