package agent

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ToolMode decides whether tools are offered to the model at all.
type ToolMode string

const (
	// ToolModeAlways offers tools on every message.
	ToolModeAlways ToolMode = "always"
	// ToolModeNever runs pure chat.
	ToolModeNever ToolMode = "never"
	// ToolModeAuto offers tools unless the message opts out with the
	// chat-only prefix.
	ToolModeAuto ToolMode = "auto"
)

// DefaultChatOnlyPrefix marks a message that should be answered without tools
// in auto mode.
const DefaultChatOnlyPrefix = "/chat"

// ToolPolicy decides which tools a turn may offer. Allow and Deny hold tool
// name globs; Deny wins and an empty Allow permits everything.
type ToolPolicy struct {
	Mode           ToolMode `yaml:"mode" json:"mode"`
	Allow          []string `yaml:"allow" json:"allow,omitempty"`
	Deny           []string `yaml:"deny" json:"deny,omitempty"`
	ChatOnlyPrefix string   `yaml:"chat_only_prefix" json:"chat_only_prefix,omitempty"`
}

// Validate rejects unknown modes.
func (p ToolPolicy) Validate() error {
	switch p.Mode {
	case "", ToolModeAlways, ToolModeNever, ToolModeAuto:
		return nil
	}
	return fmt.Errorf("unknown tool mode %q", p.Mode)
}

// ToolsFor returns the tools to offer for message and the message with any
// chat-only prefix removed.
func (p ToolPolicy) ToolsFor(message string, tools []Tool) ([]Tool, string) {
	switch p.Mode {
	case ToolModeNever:
		return nil, message
	case ToolModeAuto, "":
		prefix := p.ChatOnlyPrefix
		if prefix == "" {
			prefix = DefaultChatOnlyPrefix
		}
		if rest, ok := cutChatPrefix(strings.TrimSpace(message), prefix); ok {
			return nil, rest
		}
	}

	offered := make([]Tool, 0, len(tools))
	for _, t := range tools {
		if p.Allows(t.Name()) {
			offered = append(offered, t)
		}
	}
	return offered, message
}

// cutChatPrefix strips prefix from message when it stands alone as the first
// word, so "/chatter" does not match "/chat".
func cutChatPrefix(message, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(message, prefix)
	if !ok {
		return message, false
	}
	if rest != "" {
		if r, _ := utf8.DecodeRuneInString(rest); !unicode.IsSpace(r) {
			return message, false
		}
	}
	return strings.TrimSpace(rest), true
}

// Allows reports whether the named tool passes the allow and deny lists.
func (p ToolPolicy) Allows(name string) bool {
	if matchesToolPatterns(p.Deny, name) {
		return false
	}
	return len(p.Allow) == 0 || matchesToolPatterns(p.Allow, name)
}
