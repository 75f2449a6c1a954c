package config

import (
	"fmt"
	"time"
)

// AgentConfig configures the turn engine and the tool executor.
type AgentConfig struct {
	SystemPrompt string `yaml:"system_prompt"`

	// Model overrides the provider's default model for new sessions.
	Model string `yaml:"model"`

	// MaxIterations bounds model calls per turn. Default: 20.
	MaxIterations int `yaml:"max_iterations"`

	// MaxConcurrentTools bounds parallel tool execution. Default: 5.
	MaxConcurrentTools int `yaml:"max_concurrent_tools"`

	// ToolTimeout is the default per-call tool timeout. Default: 30s.
	ToolTimeout time.Duration `yaml:"tool_timeout"`

	// ToolRetries retries retryable tool failures. Tools may have side
	// effects, so the default is 0.
	ToolRetries int `yaml:"tool_retries"`

	ToolPolicy ToolPolicyConfig `yaml:"tool_policy"`
}

// ToolPolicyConfig decides which tools are offered to the model.
type ToolPolicyConfig struct {
	// Mode is always, never or auto. Default: always.
	Mode  string   `yaml:"mode" jsonschema:"enum=always,enum=never,enum=auto"`
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`

	// ChatOnlyPrefix disables tools for a message in auto mode. Default: /chat.
	ChatOnlyPrefix string `yaml:"chat_only_prefix"`
}

func applyAgentDefaults(cfg *AgentConfig) {
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 20
	}
	if cfg.MaxConcurrentTools == 0 {
		cfg.MaxConcurrentTools = 5
	}
	if cfg.ToolTimeout == 0 {
		cfg.ToolTimeout = 30 * time.Second
	}
	if cfg.ToolPolicy.Mode == "" {
		cfg.ToolPolicy.Mode = "always"
	}
	if cfg.ToolPolicy.ChatOnlyPrefix == "" {
		cfg.ToolPolicy.ChatOnlyPrefix = "/chat"
	}
}

func (c AgentConfig) validate() []string {
	var issues []string
	if c.MaxIterations < 1 {
		issues = append(issues, "agent.max_iterations must be >= 1")
	}
	if c.MaxConcurrentTools < 1 {
		issues = append(issues, "agent.max_concurrent_tools must be >= 1")
	}
	if c.ToolRetries < 0 {
		issues = append(issues, "agent.tool_retries must be >= 0")
	}
	switch c.ToolPolicy.Mode {
	case "always", "never", "auto":
	default:
		issues = append(issues, fmt.Sprintf("agent.tool_policy.mode must be always, never or auto, got %q", c.ToolPolicy.Mode))
	}
	return issues
}
