package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/warden/internal/risk"
)

const minimalLLM = `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: test
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalLLM))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr() = %q", cfg.Server.Addr())
	}
	if cfg.Agent.MaxIterations != 20 || cfg.Agent.ToolRetries != 0 {
		t.Errorf("agent defaults = %+v", cfg.Agent)
	}
	if cfg.Agent.ToolPolicy.Mode != "always" || cfg.Agent.ToolPolicy.ChatOnlyPrefix != "/chat" {
		t.Errorf("tool policy defaults = %+v", cfg.Agent.ToolPolicy)
	}
	if cfg.Approval.Timeout != 60*time.Second || cfg.Approval.HistoryLimit != 1000 {
		t.Errorf("approval defaults = %+v", cfg.Approval)
	}
	if cfg.Sessions.Backend != "memory" || cfg.Sessions.FlushSchedule == "" {
		t.Errorf("sessions defaults = %+v", cfg.Sessions)
	}
	if cfg.Audit.Format != "json" || cfg.Audit.BufferSize == 0 {
		t.Errorf("audit defaults = %+v", cfg.Audit)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d", cfg.Version)
	}

	policy := cfg.Approval.Policy()
	if !policy.Enabled || policy.TrustMode != risk.TrustModerate {
		t.Errorf("Policy() = %+v", policy)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  extra: true
`+minimalLLM)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "default provider not configured",
			yaml: "llm:\n  default_provider: openai\n  providers:\n    anthropic: {}\n",
			want: "llm.default_provider",
		},
		{
			name: "no providers",
			yaml: "llm: {}\n",
			want: "llm.providers",
		},
		{
			name: "unknown provider type",
			yaml: "llm:\n  default_provider: local\n  providers:\n    local:\n      type: llama\n",
			want: "llm.providers.local.type",
		},
		{
			name: "trust mode",
			yaml: "approval:\n  trust_mode: reckless\n" + minimalLLM,
			want: "approval.trust_mode",
		},
		{
			name: "empty pattern",
			yaml: "approval:\n  auto_deny:\n    - {}\n" + minimalLLM,
			want: "approval.auto_deny[0]",
		},
		{
			name: "bad pattern regex",
			yaml: "approval:\n  auto_approve:\n    - match: \"(\"\n" + minimalLLM,
			want: "approval.auto_approve[0]",
		},
		{
			name: "notify platform not enabled",
			yaml: "approval:\n  notify:\n    platform: slack\n    chat_id: C1\n" + minimalLLM,
			want: "approval.notify.platform",
		},
		{
			name: "channel without token",
			yaml: "channels:\n  telegram:\n    enabled: true\n" + minimalLLM,
			want: "channels.telegram.bot_token",
		},
		{
			name: "postgres without dsn",
			yaml: "sessions:\n  backend: postgres\n" + minimalLLM,
			want: "sessions.dsn",
		},
		{
			name: "unknown backend",
			yaml: "sessions:\n  backend: redis\n" + minimalLLM,
			want: "sessions.backend",
		},
		{
			name: "bad flush schedule",
			yaml: "sessions:\n  backend: sqlite\n  write_behind: true\n  flush_schedule: whenever\n" + minimalLLM,
			want: "sessions.flush_schedule",
		},
		{
			name: "bad maintenance schedule",
			yaml: "maintenance:\n  lane_cleanup_schedule: \"99 * * * *\"\n" + minimalLLM,
			want: "maintenance.lane_cleanup_schedule",
		},
		{
			name: "threshold out of range",
			yaml: "context:\n  threshold: 1.5\n" + minimalLLM,
			want: "context.threshold",
		},
		{
			name: "tool mode",
			yaml: "agent:\n  tool_policy:\n    mode: sometimes\n" + minimalLLM,
			want: "agent.tool_policy.mode",
		},
		{
			name: "negative retries override",
			yaml: "tools:\n  overrides:\n    run_command:\n      retries: -1\n" + minimalLLM,
			want: "tools.overrides.run_command.retries",
		},
		{
			name: "tracing without endpoint",
			yaml: "tracing:\n  enabled: true\n" + minimalLLM,
			want: "tracing.endpoint",
		},
		{
			name: "newer version",
			yaml: "version: 99\n" + minimalLLM,
			want: "requires a newer warden",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			var verr *ConfigValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Load() error = %v, want *ConfigValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadAggregatesIssues(t *testing.T) {
	_, err := Load(writeConfig(t, `
agent:
  max_iterations: -1
approval:
  trust_mode: reckless
sessions:
  backend: redis
`+minimalLLM))

	var verr *ConfigValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Load() error = %v", err)
	}
	if len(verr.Issues) != 3 {
		t.Errorf("got %d issues, want 3: %v", len(verr.Issues), verr.Issues)
	}
}

func TestLoadFullConfig(t *testing.T) {
	t.Setenv("WARDEN_TEST_SLACK_TOKEN", "xoxb-test")
	cfg, err := Load(writeConfig(t, `
server:
  http_port: 9000
  turn_timeout: 2m
auth:
  jwt_secret: secret
agent:
  system_prompt: be careful
  tool_policy:
    mode: auto
    deny: ["delete_*"]
approval:
  enabled: true
  trust_mode: strict
  timeout: 45s
  auto_deny:
    - tool: run_command
      match: "rm -rf"
  auto_approve:
    - tool: read_file
  notify:
    platform: slack
    chat_id: C123
channels:
  slack:
    enabled: true
    bot_token: ${WARDEN_TEST_SLACK_TOKEN}
sessions:
  backend: sqlite
  path: /tmp/warden.db
  write_behind: true
audit:
  enabled: true
  output: stderr
tools:
  enabled: [read_file, run_command]
  overrides:
    run_command:
      timeout: 2m
      retries: 1
`+minimalLLM))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Channels.Slack.BotToken != "xoxb-test" {
		t.Errorf("env not expanded: %q", cfg.Channels.Slack.BotToken)
	}
	if got := cfg.Channels.Enabled(); len(got) != 1 || got[0] != "slack" {
		t.Errorf("Enabled() = %v", got)
	}
	policy := cfg.Approval.Policy()
	if policy.TrustMode != risk.TrustStrict || policy.Timeout != 45*time.Second {
		t.Errorf("Policy() = %+v", policy)
	}
	if len(policy.AutoDeny) != 1 || policy.AutoDeny[0].Match != "rm -rf" {
		t.Errorf("AutoDeny = %+v", policy.AutoDeny)
	}
	if policy.Notify == nil || policy.Notify.ChatID != "C123" {
		t.Errorf("Notify = %+v", policy.Notify)
	}
	override := cfg.Tools.Overrides["run_command"]
	if override.Timeout != 2*time.Minute || override.Retries == nil || *override.Retries != 1 {
		t.Errorf("override = %+v", override)
	}
	if cfg.Server.TurnTimeout != 2*time.Minute || !cfg.Sessions.WriteBehind {
		t.Errorf("server/sessions = %+v / %+v", cfg.Server, cfg.Sessions)
	}
}

func TestApprovalDisabled(t *testing.T) {
	cfg, err := Load(writeConfig(t, "approval:\n  enabled: false\n"+minimalLLM))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Approval.IsEnabled() || cfg.Approval.Policy().Enabled {
		t.Error("approvals should be disabled")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.LLM.DefaultProvider != "anthropic" || cfg.Memory.File != "MEMORY.md" {
		t.Errorf("Default() = %+v", cfg)
	}
	// An empty provider map is the only problem with a bare default.
	err := cfg.Validate()
	var verr *ConfigValidationError
	if !errors.As(err, &verr) || len(verr.Issues) != 1 {
		t.Errorf("Validate() = %v", err)
	}
}

func TestJSONSchema(t *testing.T) {
	schema, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	for _, key := range []string{`"trust_mode"`, `"write_behind"`, `"auto_deny"`, `"lane_cleanup_schedule"`} {
		if !strings.Contains(string(schema), key) {
			t.Errorf("schema missing %s", key)
		}
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warden.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
