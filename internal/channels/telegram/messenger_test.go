package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/haasonsaas/warden/internal/channels"
)

type mockBot struct {
	sent   *bot.SendMessageParams
	edited *bot.EditMessageTextParams
	err    error
}

func (m *mockBot) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	m.sent = params
	if m.err != nil {
		return nil, m.err
	}
	return &models.Message{ID: 42}, nil
}

func (m *mockBot) EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error) {
	m.edited = params
	if m.err != nil {
		return nil, m.err
	}
	return &models.Message{ID: params.MessageID}, nil
}

func TestMessenger_SendMessage(t *testing.T) {
	tests := []struct {
		name   string
		chatID string
		want   any
	}{
		{"numeric chat", "-100123", int64(-100123)},
		{"channel username", "@ops", "@ops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockBot{}
			m := NewWithClient(client)
			ref, err := m.SendMessage(context.Background(), channels.OutboundMessage{ChatID: tt.chatID, Text: "approve?"})
			if err != nil {
				t.Fatalf("SendMessage() error = %v", err)
			}
			if client.sent.ChatID != tt.want {
				t.Errorf("ChatID = %#v, want %#v", client.sent.ChatID, tt.want)
			}
			if ref.MessageID != "42" || ref.ChatID != tt.chatID || ref.Platform != "telegram" {
				t.Errorf("ref = %+v", ref)
			}
		})
	}
}

func TestMessenger_SendMessageThread(t *testing.T) {
	client := &mockBot{}
	m := NewWithClient(client)

	if _, err := m.SendMessage(context.Background(), channels.OutboundMessage{ChatID: "1", ThreadID: "7", Text: "x"}); err != nil {
		t.Fatal(err)
	}
	if client.sent.MessageThreadID != 7 {
		t.Errorf("MessageThreadID = %d", client.sent.MessageThreadID)
	}

	_, err := m.SendMessage(context.Background(), channels.OutboundMessage{ChatID: "1", ThreadID: "general", Text: "x"})
	if channels.GetErrorCode(err) != channels.ErrCodeInvalidInput {
		t.Errorf("expected invalid input for non-numeric thread, got %v", err)
	}
}

func TestMessenger_EditMessage(t *testing.T) {
	client := &mockBot{}
	m := NewWithClient(client)

	err := m.EditMessage(context.Background(), channels.MessageRef{Platform: "telegram", ChatID: "99", MessageID: "42"}, "approved")
	if err != nil {
		t.Fatalf("EditMessage() error = %v", err)
	}
	if client.edited.MessageID != 42 || client.edited.Text != "approved" || client.edited.ChatID != int64(99) {
		t.Errorf("edited = %+v", client.edited)
	}

	if err := m.EditMessage(context.Background(), channels.MessageRef{ChatID: "99", MessageID: "abc"}, "x"); err == nil {
		t.Error("expected error for non-numeric message id")
	}
}

func TestMessenger_RateLimit(t *testing.T) {
	m := NewWithClient(&mockBot{err: errors.New("Too Many Requests: retry after 5")})
	_, err := m.SendMessage(context.Background(), channels.OutboundMessage{ChatID: "1", Text: "x"})
	if channels.GetErrorCode(err) != channels.ErrCodeRateLimit {
		t.Errorf("code = %s", channels.GetErrorCode(err))
	}
}
