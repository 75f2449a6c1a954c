package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRawIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "secrets.json5", `{
  // comments are allowed in JSON5
  llm: {providers: {anthropic: {api_key: "from-include", default_model: "base"}}},
}`)
	writeFile(t, dir, "warden.yaml", `
$include: secrets.json5
llm:
  default_provider: anthropic
  providers:
    anthropic:
      default_model: override
`)

	cfg, err := Load(filepath.Join(dir, "warden.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	p := cfg.LLM.Providers["anthropic"]
	if p.APIKey != "from-include" {
		t.Errorf("APIKey = %q, want value from include", p.APIKey)
	}
	if p.DefaultModel != "override" {
		t.Errorf("DefaultModel = %q, including file should win", p.DefaultModel)
	}
}

func TestLoadRawIncludeList(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "server:\n  http_port: 1000\n")
	writeFile(t, dir, "b.yaml", "server:\n  http_port: 2000\n")
	writeFile(t, dir, "main.yaml", "include: [a.yaml, b.yaml]\n")

	raw, err := LoadRaw(filepath.Join(dir, "main.yaml"))
	if err != nil {
		t.Fatalf("LoadRaw() error = %v", err)
	}
	server := raw["server"].(map[string]any)
	if server["http_port"] != 2000 {
		t.Errorf("http_port = %v, later include should win", server["http_port"])
	}
	if _, ok := raw["include"]; ok {
		t.Error("include key should be removed")
	}
}

func TestLoadRawIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "$include: b.yaml\n")
	writeFile(t, dir, "b.yaml", "$include: a.yaml\n")

	_, err := LoadRaw(filepath.Join(dir, "a.yaml"))
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("LoadRaw() error = %v, want cycle error", err)
	}
}

func TestLoadRawErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		file     string
		contents string
	}{
		{"multiple documents", "multi.yaml", "a: 1\n---\nb: 2\n"},
		{"bad include type", "inc.yaml", "$include: 3\n"},
		{"bad json5", "bad.json", "{llm: "},
		{"missing include", "missing.yaml", "$include: nowhere.yaml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeFile(t, dir, tt.file, tt.contents)
			if _, err := LoadRaw(filepath.Join(dir, tt.file)); err == nil {
				t.Error("LoadRaw() succeeded, want error")
			}
		})
	}

	if _, err := LoadRaw("  "); err == nil {
		t.Error("LoadRaw(blank) succeeded, want error")
	}
}

func TestParseRawEmpty(t *testing.T) {
	raw, err := ParseRaw(nil, "empty.yaml")
	if err != nil || raw == nil || len(raw) != 0 {
		t.Fatalf("ParseRaw(empty) = %v, %v", raw, err)
	}
}

func TestMergeMaps(t *testing.T) {
	dst := map[string]any{"a": map[string]any{"x": 1, "y": 2}, "b": []any{1}}
	src := map[string]any{"a": map[string]any{"y": 3}, "b": []any{2}}
	got := mergeMaps(dst, src)

	a := got["a"].(map[string]any)
	if a["x"] != 1 || a["y"] != 3 {
		t.Errorf("nested merge = %v", a)
	}
	if b := got["b"].([]any); len(b) != 1 || b[0] != 2 {
		t.Errorf("lists should be replaced, got %v", b)
	}
}

func writeFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(strings.TrimSpace(contents)+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}
