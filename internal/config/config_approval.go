package config

import (
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/haasonsaas/warden/internal/approval"
	"github.com/haasonsaas/warden/internal/risk"
)

// ApprovalConfig configures the approval gateway. Everything except
// HistoryLimit and NotifyTimeout is reloaded without a restart.
type ApprovalConfig struct {
	// Enabled defaults to true. When false every call is approved.
	Enabled *bool `yaml:"enabled"`

	// TrustMode is yolo, strict, moderate or permissive. Default: moderate.
	TrustMode string `yaml:"trust_mode" jsonschema:"enum=yolo,enum=strict,enum=moderate,enum=permissive"`

	// Timeout is how long a pending request waits before it is denied.
	// Default: 60s.
	Timeout time.Duration `yaml:"timeout"`

	HistoryLimit int `yaml:"history_limit"`

	// AutoDeny is checked before AutoApprove; a call matching both is denied.
	AutoDeny    []approval.Pattern `yaml:"auto_deny"`
	AutoApprove []approval.Pattern `yaml:"auto_approve"`

	// Notify is where prompts go for requests without channel context.
	Notify *approval.NotifyTarget `yaml:"notify"`

	NotifyTimeout time.Duration `yaml:"notify_timeout"`
}

// IsEnabled reports whether approvals are enforced.
func (c ApprovalConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Policy converts the section into the gateway's reloadable policy.
func (c ApprovalConfig) Policy() approval.Policy {
	return approval.Policy{
		Enabled:     c.IsEnabled(),
		TrustMode:   risk.ParseTrustMode(c.TrustMode),
		Timeout:     c.Timeout,
		AutoApprove: c.AutoApprove,
		AutoDeny:    c.AutoDeny,
		Notify:      c.Notify,
	}
}

func applyApprovalDefaults(cfg *ApprovalConfig) {
	if cfg.TrustMode == "" {
		cfg.TrustMode = string(risk.TrustModerate)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = approval.DefaultTimeout
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = approval.DefaultHistoryLimit
	}
	if cfg.NotifyTimeout == 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
}

func (c ApprovalConfig) validate() []string {
	var issues []string
	if !risk.ParseTrustMode(c.TrustMode).Valid() {
		issues = append(issues, fmt.Sprintf("approval.trust_mode %q is not one of yolo, strict, moderate, permissive", c.TrustMode))
	}
	if c.Timeout < 0 {
		issues = append(issues, "approval.timeout must be >= 0")
	}
	if c.HistoryLimit < 0 {
		issues = append(issues, "approval.history_limit must be >= 0")
	}
	issues = append(issues, validatePatterns("approval.auto_deny", c.AutoDeny)...)
	issues = append(issues, validatePatterns("approval.auto_approve", c.AutoApprove)...)
	if c.Notify != nil && (c.Notify.Platform == "" || c.Notify.ChatID == "") {
		issues = append(issues, "approval.notify requires platform and chat_id")
	}
	return issues
}

func validatePatterns(field string, patterns []approval.Pattern) []string {
	var issues []string
	for i, p := range patterns {
		if p.Tool == "" && p.Match == "" {
			issues = append(issues, fmt.Sprintf("%s[%d]: tool or match is required", field, i))
			continue
		}
		if p.Tool != "" {
			if _, err := path.Match(p.Tool, ""); err != nil {
				issues = append(issues, fmt.Sprintf("%s[%d]: invalid tool glob %q", field, i, p.Tool))
			}
		}
		if p.Match != "" {
			if _, err := regexp.Compile(p.Match); err != nil {
				issues = append(issues, fmt.Sprintf("%s[%d]: invalid match expression: %v", field, i, err))
			}
		}
	}
	return issues
}
