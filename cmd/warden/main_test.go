package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/warden/internal/agent"
	"github.com/haasonsaas/warden/internal/approval"
	"github.com/haasonsaas/warden/internal/auth"
	"github.com/haasonsaas/warden/internal/lanes"
	"github.com/haasonsaas/warden/internal/normalize"
	"github.com/haasonsaas/warden/internal/sessions"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"serve", "chat", "approvals", "lanes", "session", "config", "token"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("WARDEN_CONFIG", "")
	if got := resolveConfigPath(""); got != defaultConfigPath {
		t.Errorf("resolveConfigPath(\"\") = %q", got)
	}
	t.Setenv("WARDEN_CONFIG", "/etc/warden.yaml")
	if got := resolveConfigPath(defaultConfigPath); got != "/etc/warden.yaml" {
		t.Errorf("env path = %q", got)
	}
	if got := resolveConfigPath("custom.yaml"); got != "custom.yaml" {
		t.Errorf("explicit path = %q", got)
	}
}

const testConfig = `
llm:
  providers:
    anthropic:
      api_key: test-key
auth:
  jwt_secret: s3cret
approval:
  trust_mode: strict
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warden.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunConfigValidate(t *testing.T) {
	var out bytes.Buffer
	if err := runConfigValidate(&out, writeTestConfig(t, testConfig)); err != nil {
		t.Fatalf("runConfigValidate() error = %v", err)
	}
	if !strings.Contains(out.String(), "ok") || !strings.Contains(out.String(), "strict trust") {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	bad := writeTestConfig(t, "llm:\n  providers: {}\napproval:\n  trust_mode: yolo\n")
	if err := runConfigValidate(&out, bad); err == nil {
		t.Fatal("invalid config accepted")
	}
	if !strings.Contains(out.String(), "problem(s)") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunConfigSchema(t *testing.T) {
	var out bytes.Buffer
	if err := runConfigSchema(&out); err != nil {
		t.Fatal(err)
	}
	var schema map[string]any
	if err := json.Unmarshal(out.Bytes(), &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
}

func TestRunToken(t *testing.T) {
	var out bytes.Buffer
	if err := runToken(&out, writeTestConfig(t, testConfig), "alice", "admin", time.Hour); err != nil {
		t.Fatalf("runToken() error = %v", err)
	}
	principal, err := auth.NewJWTService("s3cret", time.Hour).Validate(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("token does not validate: %v", err)
	}
	if principal.Subject != "alice" {
		t.Errorf("subject = %q", principal.Subject)
	}
}

func TestAPIClient(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/v1/approvals":
			_ = json.NewEncoder(w).Encode(map[string]any{"pending": []approval.Request{{
				ID: "3f2a9c00-1111", ToolName: "delete_file", SessionID: "s1",
				ExpiresAt: time.Now().Add(time.Minute),
			}}})
		case "/v1/approvals/command":
			data, _ := io.ReadAll(r.Body)
			gotBody = string(data)
			_ = json.NewEncoder(w).Encode(approval.CommandResult{Reply: "denied delete_file (3f2a9c00)"})
		case "/v1/lanes":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"lanes":           []lanes.Status{{Key: "s1", Queued: 2}},
				"cached_sessions": 1,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"session not found","code":"not_found"}`))
		}
	}))
	defer srv.Close()

	client := newAPIClient(srv.URL+"/", "tok", time.Second)
	ctx := context.Background()
	var out bytes.Buffer

	if err := runApprovalsList(ctx, &out, client); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "3f2a9c00") || !strings.Contains(out.String(), "delete_file") {
		t.Errorf("list output = %q", out.String())
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}

	out.Reset()
	if err := runApprovalCommand(ctx, &out, client, "deny", "3f2a", "too risky"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gotBody, `"deny 3f2a too risky"`) {
		t.Errorf("command body = %s", gotBody)
	}

	out.Reset()
	if err := runLanes(ctx, &out, client); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "1 lanes, 1 cached sessions") {
		t.Errorf("lanes output = %q", out.String())
	}

	err := runSession(ctx, &out, client, "missing")
	if err == nil || !strings.Contains(err.Error(), "session not found") {
		t.Errorf("runSession() error = %v", err)
	}
}

type echoProvider struct{}

func (echoProvider) Name() string { return "echo" }

func (echoProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan normalize.Event, error) {
	last := req.Messages[len(req.Messages)-1].Content
	events := normalize.Replay(&normalize.Completion{Text: "re:" + last, StopReason: normalize.StopEndTurn})
	ch := make(chan normalize.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func TestChat_RunsTurnsUntilInputEnds(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := agent.NewEngine(agent.EngineConfig{Provider: echoProvider{}, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	rt, err := agent.NewRuntime(agent.RuntimeConfig{
		Engine: engine,
		Lanes:  lanes.New(lanes.Config{Logger: logger}),
		Store:  sessions.NewMemoryStore(),
		Logger: logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close(context.Background())

	var out bytes.Buffer
	c := &chat{runtime: rt, sessionID: "local", out: &out, operator: "tester"}
	if err := c.run(context.Background(), strings.NewReader("hello\n")); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if !strings.Contains(out.String(), "re:hello") {
		t.Errorf("output = %q", out.String())
	}

	session, err := rt.Session(context.Background(), "local")
	if err != nil || len(session.History) != 2 {
		t.Errorf("session = %v, %v", session, err)
	}
}
