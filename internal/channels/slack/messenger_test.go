package slack

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"github.com/haasonsaas/warden/internal/channels"
)

type mockClient struct {
	postChannel string
	postOpts    int
	updateTS    string
	err         error
}

func (m *mockClient) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	m.postChannel = channelID
	m.postOpts = len(options)
	if m.err != nil {
		return "", "", m.err
	}
	return channelID, "1700000000.000100", nil
}

func (m *mockClient) UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error) {
	m.updateTS = timestamp
	if m.err != nil {
		return "", "", "", m.err
	}
	return channelID, timestamp, "", nil
}

func TestMessenger_SendMessage(t *testing.T) {
	client := &mockClient{}
	m := NewWithClient(client)

	ref, err := m.SendMessage(context.Background(), channels.OutboundMessage{ChatID: "C123", ThreadID: "1699.1", Text: "approve?"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if ref.Platform != "slack" || ref.ChatID != "C123" || ref.MessageID != "1700000000.000100" {
		t.Errorf("ref = %+v", ref)
	}
	if client.postOpts != 2 {
		t.Errorf("expected text and thread options, got %d", client.postOpts)
	}
}

func TestMessenger_EditMessage(t *testing.T) {
	client := &mockClient{}
	m := NewWithClient(client)

	ref := channels.MessageRef{Platform: "slack", ChatID: "C123", MessageID: "1700000000.000100"}
	if err := m.EditMessage(context.Background(), ref, "approved"); err != nil {
		t.Fatalf("EditMessage() error = %v", err)
	}
	if client.updateTS != ref.MessageID {
		t.Errorf("updated %q, want %q", client.updateTS, ref.MessageID)
	}
}

func TestMessenger_ErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want channels.ErrorCode
	}{
		{"rate limited", &slack.RateLimitedError{RetryAfter: time.Second}, channels.ErrCodeRateLimit},
		{"other", errors.New("channel_not_found"), channels.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewWithClient(&mockClient{err: tt.err})
			_, err := m.SendMessage(context.Background(), channels.OutboundMessage{ChatID: "C1", Text: "x"})
			if got := channels.GetErrorCode(err); got != tt.want {
				t.Errorf("code = %s, want %s", got, tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Error("cause should be preserved")
			}
		})
	}
}
