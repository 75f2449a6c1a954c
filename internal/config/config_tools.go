package config

import (
	"fmt"
	"time"
)

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	// Workspace roots every file and command tool. Default: the working
	// directory.
	Workspace string `yaml:"workspace"`

	MaxReadBytes   int           `yaml:"max_read_bytes"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// Enabled names the built-ins to register. Empty registers all of them.
	Enabled []string `yaml:"enabled"`

	// Overrides adjusts executor settings per tool name.
	Overrides map[string]ToolOverride `yaml:"overrides"`
}

// ToolOverride replaces the executor defaults for one tool. A nil Retries
// keeps the default.
type ToolOverride struct {
	Timeout time.Duration `yaml:"timeout"`
	Retries *int          `yaml:"retries"`
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg.Workspace == "" {
		cfg.Workspace = "."
	}
}

func (c ToolsConfig) validate() []string {
	var issues []string
	if c.MaxReadBytes < 0 {
		issues = append(issues, "tools.max_read_bytes must be >= 0")
	}
	if c.MaxOutputBytes < 0 {
		issues = append(issues, "tools.max_output_bytes must be >= 0")
	}
	if c.CommandTimeout < 0 {
		issues = append(issues, "tools.command_timeout must be >= 0")
	}
	for name, o := range c.Overrides {
		if o.Timeout < 0 {
			issues = append(issues, fmt.Sprintf("tools.overrides.%s.timeout must be >= 0", name))
		}
		if o.Retries != nil && *o.Retries < 0 {
			issues = append(issues, fmt.Sprintf("tools.overrides.%s.retries must be >= 0", name))
		}
	}
	return issues
}
