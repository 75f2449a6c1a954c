// Package config loads the warden configuration file.
//
// Files are YAML or JSON5. Environment variables are expanded in the raw text
// and $include directives are merged before decoding, so a deployment can keep
// secrets in a separate file. Unknown keys are rejected.
package config

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/warden/internal/audit"
)

// Config is the main configuration structure for warden.
type Config struct {
	// Version is the configuration file format version. Zero means unset and
	// is accepted as the current version.
	Version int `yaml:"version"`

	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	LLM         LLMConfig         `yaml:"llm"`
	Agent       AgentConfig       `yaml:"agent"`
	Approval    ApprovalConfig    `yaml:"approval"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Context     ContextConfig     `yaml:"context"`
	Memory      MemoryConfig      `yaml:"memory"`
	Audit       audit.Config      `yaml:"audit"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Tools       ToolsConfig       `yaml:"tools"`
}

// ConfigValidationError lists every problem found in a configuration.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "invalid config"
	}
	return "invalid config:\n  - " + strings.Join(e.Issues, "\n  - ")
}

// Load reads, merges, decodes and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied, as if loaded
// from an empty file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	applyServerDefaults(&cfg.Server)
	applyAuthDefaults(&cfg.Auth)
	applyLLMDefaults(&cfg.LLM)
	applyAgentDefaults(&cfg.Agent)
	applyApprovalDefaults(&cfg.Approval)
	applySessionsDefaults(&cfg.Sessions)
	applyContextDefaults(&cfg.Context)
	applyMemoryDefaults(&cfg.Memory)
	applyAuditDefaults(&cfg.Audit)
	applyLoggingDefaults(&cfg.Logging)
	applyTracingDefaults(&cfg.Tracing)
	applyMaintenanceDefaults(&cfg.Maintenance)
	applyToolsDefaults(&cfg.Tools)
}

func applyAuditDefaults(cfg *audit.Config) {
	defaults := audit.DefaultConfig()
	if cfg.Level == "" {
		cfg.Level = defaults.Level
	}
	if cfg.Format == "" {
		cfg.Format = defaults.Format
	}
	if cfg.Output == "" {
		cfg.Output = defaults.Output
	}
	if cfg.MaxFieldSize == 0 {
		cfg.MaxFieldSize = defaults.MaxFieldSize
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
}

// Validate checks cross-field constraints and returns a
// *ConfigValidationError naming every problem.
func (c *Config) Validate() error {
	var issues []string
	if err := ValidateVersion(c.Version); err != nil {
		issues = append(issues, err.Error())
	}
	issues = append(issues, c.Server.validate()...)
	issues = append(issues, c.LLM.validate()...)
	issues = append(issues, c.Agent.validate()...)
	issues = append(issues, c.Approval.validate()...)
	issues = append(issues, c.Channels.validate(c.Approval)...)
	issues = append(issues, c.Sessions.validate()...)
	issues = append(issues, c.Context.validate()...)
	issues = append(issues, validateAudit(c.Audit)...)
	issues = append(issues, c.Logging.validate()...)
	issues = append(issues, c.Tracing.validate()...)
	issues = append(issues, c.Maintenance.validate()...)
	issues = append(issues, c.Tools.validate()...)
	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

func validateAudit(cfg audit.Config) []string {
	var issues []string
	switch cfg.Format {
	case audit.FormatJSON, audit.FormatText:
	default:
		issues = append(issues, fmt.Sprintf("audit.format must be json or text, got %q", cfg.Format))
	}
	if cfg.BufferSize < 0 {
		issues = append(issues, "audit.buffer_size must be >= 0")
	}
	return issues
}
