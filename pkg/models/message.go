package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Message is one entry in a session's ordered history.
type Message struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`

	// Reasoning holds the secondary reasoning emitted alongside a tool-call round.
	// It is only replayed to the model while that round is still open.
	Reasoning string `json:"reasoning,omitempty"`

	InputTokens  int            `json:"input_tokens,omitempty"`
	OutputTokens int            `json:"output_tokens,omitempty"`
	IsError      bool           `json:"is_error,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolCallID returns the correlation id of a tool-role message, or "".
func (m *Message) ToolCallID() string {
	if m == nil || m.Role != RoleTool || len(m.ToolResults) == 0 {
		return ""
	}
	return m.ToolResults[0].ToolCallID
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = tc
			if tc.Input != nil {
				out.ToolCalls[i].Input = append(json.RawMessage(nil), tc.Input...)
			}
		}
	}
	if m.ToolResults != nil {
		out.ToolResults = append([]ToolResult(nil), m.ToolResults...)
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// ValidateHistory checks that every tool-result message references a tool call
// emitted by an earlier assistant message.
func ValidateHistory(history []Message) error {
	known := make(map[string]struct{})
	for i, msg := range history {
		switch msg.Role {
		case RoleAssistant:
			for _, tc := range msg.ToolCalls {
				known[tc.ID] = struct{}{}
			}
		case RoleTool:
			if len(msg.ToolResults) == 0 {
				return fmt.Errorf("message %d: tool message without result", i)
			}
			for _, tr := range msg.ToolResults {
				if _, ok := known[tr.ToolCallID]; !ok {
					return fmt.Errorf("message %d: unknown tool call id %q", i, tr.ToolCallID)
				}
			}
		}
	}
	return nil
}
