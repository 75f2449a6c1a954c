package agent

import (
	"strings"
	"testing"
)

func toolNames(tools []Tool) string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return strings.Join(names, ",")
}

func TestToolPolicy_ToolsFor(t *testing.T) {
	tools := []Tool{
		&mockTool{name: "delete_file"},
		&mockTool{name: "read_file"},
		&mockTool{name: "run_command"},
	}

	tests := []struct {
		name        string
		policy      ToolPolicy
		message     string
		wantTools   string
		wantMessage string
	}{
		{"default mode offers all", ToolPolicy{}, "hi", "delete_file,read_file,run_command", "hi"},
		{"never", ToolPolicy{Mode: ToolModeNever}, "hi", "", "hi"},
		{"always ignores prefix", ToolPolicy{Mode: ToolModeAlways}, "/chat hi", "delete_file,read_file,run_command", "/chat hi"},
		{"auto strips prefix", ToolPolicy{Mode: ToolModeAuto}, "  /chat hello", "", "hello"},
		{"bare prefix", ToolPolicy{Mode: ToolModeAuto}, "/chat", "", ""},
		{"prefix then newline", ToolPolicy{Mode: ToolModeAuto}, "/chat\nhello", "", "hello"},
		{"longer word is not the prefix", ToolPolicy{Mode: ToolModeAuto}, "/chatter hi", "delete_file,read_file,run_command", "/chatter hi"},
		{"custom prefix", ToolPolicy{Mode: ToolModeAuto, ChatOnlyPrefix: "!talk"}, "!talk hey", "", "hey"},
		{"allow list", ToolPolicy{Allow: []string{"read_*"}}, "x", "read_file", "x"},
		{"deny wins over allow", ToolPolicy{Allow: []string{"*_file"}, Deny: []string{"delete_*"}}, "x", "read_file", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offered, message := tt.policy.ToolsFor(tt.message, tools)
			if got := toolNames(offered); got != tt.wantTools {
				t.Errorf("tools = %q, want %q", got, tt.wantTools)
			}
			if message != tt.wantMessage {
				t.Errorf("message = %q, want %q", message, tt.wantMessage)
			}
		})
	}
}

func TestToolPolicy_Validate(t *testing.T) {
	for _, mode := range []ToolMode{"", ToolModeAlways, ToolModeNever, ToolModeAuto} {
		if err := (ToolPolicy{Mode: mode}).Validate(); err != nil {
			t.Errorf("Validate(%q) = %v", mode, err)
		}
	}
	if err := (ToolPolicy{Mode: "sometimes"}).Validate(); err == nil {
		t.Error("Validate(sometimes) succeeded, want error")
	}
}
