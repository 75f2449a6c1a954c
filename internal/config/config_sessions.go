package config

import (
	"fmt"
	"strings"
	"time"
)

// SessionsConfig selects the session store and the runtime's cache behavior.
type SessionsConfig struct {
	// Backend is memory, sqlite or postgres. Default: memory.
	Backend string `yaml:"backend" jsonschema:"enum=memory,enum=sqlite,enum=postgres,enum=cockroach"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`

	// WriteBehind defers saves to the flush schedule instead of saving
	// after every turn.
	WriteBehind bool `yaml:"write_behind"`

	// FlushSchedule is the cron expression for write-behind flushes.
	// Default: every minute.
	FlushSchedule string `yaml:"flush_schedule"`

	// CacheIdleTTL evicts saved sessions untouched for this long. Zero keeps
	// them cached. Default: 30m.
	CacheIdleTTL time.Duration `yaml:"cache_idle_ttl"`
}

func applySessionsDefaults(cfg *SessionsConfig) {
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Backend == "" {
		cfg.Backend = "memory"
	}
	if cfg.Backend == "sqlite" && cfg.Path == "" {
		cfg.Path = "warden.db"
	}
	if cfg.FlushSchedule == "" {
		cfg.FlushSchedule = "@every 1m"
	}
	if cfg.CacheIdleTTL == 0 {
		cfg.CacheIdleTTL = 30 * time.Minute
	}
}

func (c SessionsConfig) validate() []string {
	var issues []string
	switch c.Backend {
	case "memory", "sqlite":
	case "postgres", "cockroach":
		if c.DSN == "" {
			issues = append(issues, fmt.Sprintf("sessions.dsn is required for the %s backend", c.Backend))
		}
	default:
		issues = append(issues, fmt.Sprintf("sessions.backend %q is not one of memory, sqlite, postgres", c.Backend))
	}
	if c.WriteBehind {
		issues = append(issues, validateSchedule("sessions.flush_schedule", c.FlushSchedule)...)
		if c.Backend == "memory" {
			issues = append(issues, "sessions.write_behind has no effect with the memory backend")
		}
	}
	if c.CacheIdleTTL < 0 {
		issues = append(issues, "sessions.cache_idle_ttl must be >= 0")
	}
	return issues
}

// ContextConfig configures the context-window guard.
type ContextConfig struct {
	// MaxTokens is the model's context window. Zero uses the guard default.
	MaxTokens int `yaml:"max_tokens"`

	// Threshold is the fill ratio that triggers compaction. Default: 0.8.
	Threshold float64 `yaml:"threshold"`

	// HistoryShare is the share of the window the kept tail may use.
	// Default: 0.5.
	HistoryShare float64 `yaml:"history_share"`

	// Summarize asks the model to summarize dropped messages instead of
	// leaving a count-only note.
	Summarize     bool   `yaml:"summarize"`
	SummaryModel  string `yaml:"summary_model"`
	SummaryLength int    `yaml:"summary_length"`
}

func applyContextDefaults(cfg *ContextConfig) {
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.8
	}
	if cfg.HistoryShare == 0 {
		cfg.HistoryShare = 0.5
	}
}

func (c ContextConfig) validate() []string {
	var issues []string
	if c.MaxTokens < 0 {
		issues = append(issues, "context.max_tokens must be >= 0")
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		issues = append(issues, fmt.Sprintf("context.threshold must be in (0, 1], got %v", c.Threshold))
	}
	if c.HistoryShare <= 0 || c.HistoryShare > 1 {
		issues = append(issues, fmt.Sprintf("context.history_share must be in (0, 1], got %v", c.HistoryShare))
	}
	if c.HistoryShare > c.Threshold {
		issues = append(issues, "context.history_share must not exceed context.threshold")
	}
	return issues
}

// MemoryConfig configures MEMORY.md retrieval and the daily turn log.
type MemoryConfig struct {
	Enabled bool `yaml:"enabled"`

	// Directory holds MEMORY.md and the daily logs. Default: memory.
	Directory string `yaml:"directory"`

	// File is the memory file, relative to Directory. Default: MEMORY.md.
	File string `yaml:"file"`

	// Days of daily log included in retrieval. Zero skips the log.
	Days     int `yaml:"days"`
	MaxLines int `yaml:"max_lines"`

	MaxSections int `yaml:"max_sections"`

	// RetentionDays is how long daily logs are kept by maintenance. Zero
	// keeps them forever.
	RetentionDays int `yaml:"retention_days"`
}

func applyMemoryDefaults(cfg *MemoryConfig) {
	if cfg.Directory == "" {
		cfg.Directory = "memory"
	}
	if cfg.File == "" {
		cfg.File = "MEMORY.md"
	}
	if cfg.MaxSections == 0 {
		cfg.MaxSections = 3
	}
}
