package providers

import (
	"fmt"

	"github.com/haasonsaas/warden/internal/agent"
	"github.com/haasonsaas/warden/internal/config"
)

// New builds the provider configured under name. An empty name selects
// cfg.DefaultProvider.
func New(cfg config.LLMConfig, name string) (agent.LLMProvider, error) {
	if name == "" {
		name = cfg.DefaultProvider
	}
	pc, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("llm provider %q is not configured (have %v)", name, cfg.ProviderNames())
	}

	switch pc.ProviderType(name) {
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			MaxRetries:   pc.MaxRetries,
			RetryDelay:   pc.RetryDelay,
			DefaultModel: pc.DefaultModel,
		})
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			MaxRetries:   pc.MaxRetries,
			RetryDelay:   pc.RetryDelay,
			DefaultModel: pc.DefaultModel,
		})
	case "google":
		return NewGoogleProvider(GoogleConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			MaxRetries:   pc.MaxRetries,
			RetryDelay:   pc.RetryDelay,
			DefaultModel: pc.DefaultModel,
		})
	case "bedrock":
		return NewBedrockProvider(BedrockConfig{
			Region:          pc.Region,
			AccessKeyID:     pc.AccessKeyID,
			SecretAccessKey: pc.SecretAccessKey,
			SessionToken:    pc.SessionToken,
			MaxRetries:      pc.MaxRetries,
			RetryDelay:      pc.RetryDelay,
			DefaultModel:    pc.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("llm provider %q has unknown type %q", name, pc.ProviderType(name))
	}
}
