// Package approval gates risky tool calls behind a human decision.
//
// A Gateway classifies each call, applies the trust-mode policy and the
// auto-deny and auto-approve patterns, and otherwise parks the caller on a
// pending request until an operator decides, the request times out, or the
// caller's context ends. Every outcome other than an explicit approval is a
// denial.
package approval

import (
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/haasonsaas/warden/internal/risk"
)

const (
	// DefaultTimeout bounds how long a pending request waits for a decision.
	DefaultTimeout = 60 * time.Second
	// DefaultHistoryLimit caps the number of archived records.
	DefaultHistoryLimit = 1000
)

// Source records who or what produced a response.
type Source string

const (
	SourceUser      Source = "user"
	SourcePolicy    Source = "policy"
	SourceTimeout   Source = "timeout"
	SourceCancelled Source = "cancelled"
)

// ChannelContext locates the conversation a request came from, so prompts can
// be delivered back to it.
type ChannelContext struct {
	Platform string `json:"platform"`
	ChatID   string `json:"chat_id"`
	ThreadID string `json:"thread_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// Input describes a tool call that needs a decision.
type Input struct {
	ToolCallID string
	ToolName   string
	Input      json.RawMessage
	SessionID  string
	Context    *ChannelContext
}

// Request is a tool call awaiting or having received a decision.
type Request struct {
	ID             string              `json:"id"`
	ToolCallID     string              `json:"tool_call_id,omitempty"`
	ToolName       string              `json:"tool_name"`
	Input          json.RawMessage     `json:"input,omitempty"`
	Classification risk.Classification `json:"classification"`
	SessionID      string              `json:"session_id,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	ExpiresAt      time.Time           `json:"expires_at,omitempty"`
	Context        *ChannelContext     `json:"context,omitempty"`
}

// Response is the decision for a request.
type Response struct {
	RequestID string    `json:"request_id"`
	Approved  bool      `json:"approved"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
	Source    Source    `json:"source"`
	DecidedBy string    `json:"decided_by,omitempty"`
}

// ExecutionResult is attached to a record after the tool ran.
type ExecutionResult struct {
	Success     bool          `json:"success"`
	Output      string        `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Record is an archived request with its decision.
type Record struct {
	Request   Request          `json:"request"`
	Response  Response         `json:"response"`
	Execution *ExecutionResult `json:"execution,omitempty"`
}

// Pattern matches tool calls for auto-approve and auto-deny. Tool is a glob
// on the tool name and Match a regular expression over the canonical JSON
// input; an empty field matches anything, but not both may be empty.
type Pattern struct {
	Tool  string `json:"tool,omitempty" yaml:"tool"`
	Match string `json:"match,omitempty" yaml:"match"`
}

func (p Pattern) String() string {
	switch {
	case p.Tool != "" && p.Match != "":
		return fmt.Sprintf("%s~/%s/", p.Tool, p.Match)
	case p.Tool != "":
		return p.Tool
	default:
		return "/" + p.Match + "/"
	}
}

type compiledPattern struct {
	raw  Pattern
	tool string
	re   *regexp.Regexp
}

func compilePatterns(patterns []Pattern) ([]compiledPattern, error) {
	out := make([]compiledPattern, 0, len(patterns))
	for i, p := range patterns {
		if p.Tool == "" && p.Match == "" {
			return nil, fmt.Errorf("pattern %d: tool or match is required", i)
		}
		cp := compiledPattern{raw: p, tool: p.Tool}
		if p.Tool != "" {
			if _, err := path.Match(p.Tool, ""); err != nil {
				return nil, fmt.Errorf("pattern %d: invalid tool glob %q: %w", i, p.Tool, err)
			}
		}
		if p.Match != "" {
			re, err := regexp.Compile(p.Match)
			if err != nil {
				return nil, fmt.Errorf("pattern %d: invalid match expression: %w", i, err)
			}
			cp.re = re
		}
		out = append(out, cp)
	}
	return out, nil
}

func (p compiledPattern) matches(toolName, canonicalInput string) bool {
	if p.tool != "" {
		if ok, _ := path.Match(p.tool, toolName); !ok {
			return false
		}
	}
	return p.re == nil || p.re.MatchString(canonicalInput)
}

func firstMatch(patterns []compiledPattern, toolName, canonicalInput string) (Pattern, bool) {
	for _, p := range patterns {
		if p.matches(toolName, canonicalInput) {
			return p.raw, true
		}
	}
	return Pattern{}, false
}

// NotifyTarget is where prompts go when a request carries no channel context.
type NotifyTarget struct {
	Platform string `json:"platform" yaml:"platform"`
	ChatID   string `json:"chat_id" yaml:"chat_id"`
}

// Policy is the hot-reloadable part of the gateway configuration.
type Policy struct {
	Enabled     bool
	TrustMode   risk.TrustMode
	Timeout     time.Duration
	AutoApprove []Pattern
	AutoDeny    []Pattern
	Notify      *NotifyTarget
}

// DefaultPolicy requires approval for medium risk and above.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:   true,
		TrustMode: risk.TrustModerate,
		Timeout:   DefaultTimeout,
	}
}

type compiledPolicy struct {
	Policy
	autoApprove []compiledPattern
	autoDeny    []compiledPattern
}

func compilePolicy(p Policy) (compiledPolicy, error) {
	if p.TrustMode == "" {
		p.TrustMode = risk.TrustModerate
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	deny, err := compilePatterns(p.AutoDeny)
	if err != nil {
		return compiledPolicy{}, fmt.Errorf("auto_deny: %w", err)
	}
	approve, err := compilePatterns(p.AutoApprove)
	if err != nil {
		return compiledPolicy{}, fmt.Errorf("auto_approve: %w", err)
	}
	return compiledPolicy{Policy: p, autoApprove: approve, autoDeny: deny}, nil
}
