package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level     string `yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format    string `yaml:"format" jsonschema:"enum=json,enum=text"`
	AddSource bool   `yaml:"add_source"`

	// RedactPatterns are extra expressions scrubbed from log output.
	RedactPatterns []string `yaml:"redact_patterns"`
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func (c LoggingConfig) validate() []string {
	var issues []string
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		issues = append(issues, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Level))
	}
	switch c.Format {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format must be json or text, got %q", c.Format))
	}
	for i, p := range c.RedactPatterns {
		if _, err := regexp.Compile(p); err != nil {
			issues = append(issues, fmt.Sprintf("logging.redact_patterns[%d]: %v", i, err))
		}
	}
	return issues
}

// TracingConfig configures OTLP trace export. An empty endpoint disables it.
type TracingConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Endpoint     string            `yaml:"endpoint"`
	ServiceName  string            `yaml:"service_name"`
	Environment  string            `yaml:"environment"`
	SamplingRate float64           `yaml:"sampling_rate"`
	Insecure     bool              `yaml:"insecure"`
	Attributes   map[string]string `yaml:"attributes"`
}

func applyTracingDefaults(cfg *TracingConfig) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "warden"
	}
	if cfg.SamplingRate == 0 {
		cfg.SamplingRate = 1.0
	}
}

func (c TracingConfig) validate() []string {
	var issues []string
	if c.Enabled && c.Endpoint == "" {
		issues = append(issues, "tracing.endpoint is required when tracing is enabled")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing.sampling_rate must be in [0, 1], got %v", c.SamplingRate))
	}
	return issues
}

// MaintenanceConfig schedules the gateway's background jobs. Schedules use
// standard cron syntax or descriptors such as "@every 5m"; an empty schedule
// disables the job.
type MaintenanceConfig struct {
	LaneCleanupSchedule  string `yaml:"lane_cleanup_schedule"`
	SessionEvictSchedule string `yaml:"session_evict_schedule"`
	MemoryRotateSchedule string `yaml:"memory_rotate_schedule"`
}

func applyMaintenanceDefaults(cfg *MaintenanceConfig) {
	if cfg.LaneCleanupSchedule == "" {
		cfg.LaneCleanupSchedule = "@every 5m"
	}
	if cfg.SessionEvictSchedule == "" {
		cfg.SessionEvictSchedule = "@every 10m"
	}
	if cfg.MemoryRotateSchedule == "" {
		cfg.MemoryRotateSchedule = "@daily"
	}
}

func (c MaintenanceConfig) validate() []string {
	var issues []string
	issues = append(issues, validateSchedule("maintenance.lane_cleanup_schedule", c.LaneCleanupSchedule)...)
	issues = append(issues, validateSchedule("maintenance.session_evict_schedule", c.SessionEvictSchedule)...)
	issues = append(issues, validateSchedule("maintenance.memory_rotate_schedule", c.MemoryRotateSchedule)...)
	return issues
}

func validateSchedule(field, spec string) []string {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return []string{fmt.Sprintf("%s %q: %v", field, spec, err)}
	}
	return nil
}
