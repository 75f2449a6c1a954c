package agent

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/haasonsaas/warden/pkg/models"
)

// DefaultMaxToolResultSize caps tool output folded into history.
const DefaultMaxToolResultSize = 64 * 1024

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password)\s*[=:]\s*\S+`),
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9._\-]+`),
	regexp.MustCompile(`sk-[A-Za-z0-9_\-]{16,}`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
}

// ToolResultGuardConfig configures a ToolResultGuard.
type ToolResultGuardConfig struct {
	// MaxChars truncates longer results. Zero uses DefaultMaxToolResultSize,
	// a negative value disables truncation.
	MaxChars int

	// Denylist holds tool name globs whose output is withheld entirely.
	Denylist []string

	// RedactPatterns are extra regular expressions replaced with RedactionText.
	RedactPatterns []string

	// SanitizeSecrets redacts common credential shapes.
	SanitizeSecrets bool

	RedactionText  string
	TruncateSuffix string
}

// ToolResultGuard rewrites tool output before it enters the conversation.
type ToolResultGuard struct {
	maxChars  int
	denylist  []string
	redact    []*regexp.Regexp
	redaction string
	suffix    string
}

// NewToolResultGuard compiles cfg. It fails on an invalid redact pattern.
func NewToolResultGuard(cfg ToolResultGuardConfig) (*ToolResultGuard, error) {
	g := &ToolResultGuard{
		maxChars:  cfg.MaxChars,
		denylist:  cfg.Denylist,
		redaction: cfg.RedactionText,
		suffix:    cfg.TruncateSuffix,
	}
	if g.maxChars == 0 {
		g.maxChars = DefaultMaxToolResultSize
	}
	if g.redaction == "" {
		g.redaction = "[REDACTED]"
	}
	if g.suffix == "" {
		g.suffix = "...[truncated]"
	}
	if cfg.SanitizeSecrets {
		g.redact = append(g.redact, secretPatterns...)
	}
	for _, p := range cfg.RedactPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redact pattern %q: %w", p, err)
		}
		g.redact = append(g.redact, re)
	}
	return g, nil
}

// Apply returns the guarded result. A nil guard passes results through.
func (g *ToolResultGuard) Apply(toolName string, result models.ToolResult) models.ToolResult {
	if g == nil {
		return result
	}
	if matchesToolPatterns(g.denylist, toolName) {
		result.Content = g.redaction
		return result
	}
	for _, re := range g.redact {
		result.Content = re.ReplaceAllString(result.Content, g.redaction)
	}
	if g.maxChars > 0 && len(result.Content) > g.maxChars {
		cut := g.maxChars
		for cut > 0 && !utf8.RuneStart(result.Content[cut]) {
			cut--
		}
		result.Content = result.Content[:cut] + g.suffix
	}
	return result
}
