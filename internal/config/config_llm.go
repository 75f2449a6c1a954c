package config

import (
	"fmt"
	"sort"
	"time"
)

// LLMConfig selects and configures model backends.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider" json:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers" json:"providers"`

	// MaxTokens caps each response. Zero uses the provider default.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens,omitempty"`

	EnableThinking       bool `yaml:"enable_thinking" json:"enable_thinking,omitempty"`
	ThinkingBudgetTokens int  `yaml:"thinking_budget_tokens" json:"thinking_budget_tokens,omitempty"`
}

// LLMProviderConfig configures one backend. Type defaults to the map key, so
// a provider entry named "anthropic" needs no explicit type.
type LLMProviderConfig struct {
	Type         string `yaml:"type" json:"type,omitempty" jsonschema:"enum=anthropic,enum=openai,enum=google,enum=bedrock"`
	APIKey       string `yaml:"api_key" json:"api_key,omitempty"`
	DefaultModel string `yaml:"default_model" json:"default_model,omitempty"`
	BaseURL      string `yaml:"base_url" json:"base_url,omitempty"`

	// MaxRetries bounds attempts for retryable failures before the first
	// streamed event. RetryDelay is the base of the exponential backoff.
	MaxRetries int           `yaml:"max_retries" json:"max_retries,omitempty"`
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay,omitempty"`

	// Bedrock only. Empty credentials use the default AWS chain.
	Region          string `yaml:"region" json:"region,omitempty"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key,omitempty"`
	SessionToken    string `yaml:"session_token" json:"session_token,omitempty"`
}

// ProviderType returns the backend type for the provider configured under
// name.
func (c LLMProviderConfig) ProviderType(name string) string {
	if c.Type != "" {
		return c.Type
	}
	return name
}

// ProviderNames returns the configured provider names, sorted.
func (c LLMConfig) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
}

func (c LLMConfig) validate() []string {
	var issues []string
	if len(c.Providers) == 0 {
		issues = append(issues, "llm.providers must configure at least one provider")
	} else if _, ok := c.Providers[c.DefaultProvider]; !ok {
		issues = append(issues, fmt.Sprintf("llm.default_provider %q is not configured under llm.providers", c.DefaultProvider))
	}
	for _, name := range c.ProviderNames() {
		p := c.Providers[name]
		switch p.ProviderType(name) {
		case "anthropic", "openai", "google", "bedrock":
		default:
			issues = append(issues, fmt.Sprintf("llm.providers.%s.type %q is not one of anthropic, openai, google, bedrock", name, p.ProviderType(name)))
		}
		if p.MaxRetries < 0 {
			issues = append(issues, fmt.Sprintf("llm.providers.%s.max_retries must be >= 0", name))
		}
	}
	if c.MaxTokens < 0 {
		issues = append(issues, "llm.max_tokens must be >= 0")
	}
	if c.EnableThinking && c.ThinkingBudgetTokens < 0 {
		issues = append(issues, "llm.thinking_budget_tokens must be >= 0")
	}
	return issues
}
