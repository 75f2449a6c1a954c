package models

import (
	"encoding/json"
	"testing"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleSystem, "system"},
		{RoleTool, "tool"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
			if !tt.constant.Valid() {
				t.Errorf("%q should be valid", tt.constant)
			}
		})
	}

	if Role("robot").Valid() {
		t.Error("unknown role should be invalid")
	}
}

func TestMessage_ToolCallID(t *testing.T) {
	msg := &Message{Role: RoleTool, ToolResults: []ToolResult{{ToolCallID: "call_1"}}}
	if got := msg.ToolCallID(); got != "call_1" {
		t.Errorf("ToolCallID() = %q, want call_1", got)
	}
	if got := (&Message{Role: RoleAssistant}).ToolCallID(); got != "" {
		t.Errorf("assistant ToolCallID() = %q, want empty", got)
	}
	var nilMsg *Message
	if got := nilMsg.ToolCallID(); got != "" {
		t.Errorf("nil ToolCallID() = %q", got)
	}
}

func TestMessage_CloneIsDeep(t *testing.T) {
	orig := Message{
		Role:      RoleAssistant,
		ToolCalls: []ToolCall{{ID: "a", Name: "read_file", Input: json.RawMessage(`{"path":"x"}`)}},
		Metadata:  map[string]any{"k": "v"},
	}
	clone := orig.Clone()
	clone.ToolCalls[0].Input[2] = 'X'
	clone.Metadata["k"] = "changed"

	if string(orig.ToolCalls[0].Input) != `{"path":"x"}` {
		t.Errorf("original input mutated: %s", orig.ToolCalls[0].Input)
	}
	if orig.Metadata["k"] != "v" {
		t.Errorf("original metadata mutated")
	}
}

func TestValidateHistory(t *testing.T) {
	tests := []struct {
		name    string
		history []Message
		wantErr bool
	}{
		{
			name: "valid round",
			history: []Message{
				{Role: RoleUser, Content: "hi"},
				{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "a", Name: "t"}}},
				{Role: RoleTool, ToolResults: []ToolResult{{ToolCallID: "a", Content: "ok"}}},
			},
		},
		{
			name: "orphan result",
			history: []Message{
				{Role: RoleUser, Content: "hi"},
				{Role: RoleTool, ToolResults: []ToolResult{{ToolCallID: "missing"}}},
			},
			wantErr: true,
		},
		{
			name:    "empty tool message",
			history: []Message{{Role: RoleTool}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHistory(tt.history)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateHistory() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSession_CloneAndAppend(t *testing.T) {
	s := NewSession("s1")
	s.Append(Message{Role: RoleUser, Content: "one"})
	if s.History[0].SessionID != "s1" {
		t.Errorf("SessionID = %q, want s1", s.History[0].SessionID)
	}

	clone := s.Clone()
	clone.Append(Message{Role: RoleUser, Content: "two"})
	if len(s.History) != 1 {
		t.Errorf("original history len = %d, want 1", len(s.History))
	}
	if len(clone.History) != 2 {
		t.Errorf("clone history len = %d, want 2", len(clone.History))
	}
}
