package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/warden/internal/config"
)

const sampleMemory = `# MEMORY.md - Long-Term Memory

## Deployment
Production deploys go through the staging cluster first.
Database backups run nightly at 02:00.

## Preferences
The user prefers concise answers.

## Pets
The office cat is named Biscuit.
`

func writeMemory(t *testing.T, dir string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "MEMORY.md"), []byte(sampleMemory), 0o644); err != nil {
		t.Fatalf("write memory: %v", err)
	}
}

func TestKeywords(t *testing.T) {
	got := Keywords("How do the database BACKUPS work? database!")
	want := []string{"database", "backups", "work"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Keywords() = %v, want %v", got, want)
	}
}

func TestSplitSections(t *testing.T) {
	sections := splitSections(sampleMemory)
	if len(sections) != 4 {
		t.Fatalf("got %d sections: %q", len(sections), sections)
	}
	if !strings.HasPrefix(sections[1], "## Deployment\nProduction") {
		t.Errorf("heading not attached: %q", sections[1])
	}
}

func TestFileRetriever_Retrieve(t *testing.T) {
	dir := t.TempDir()
	writeMemory(t, dir)
	r, _ := NewFileRetriever(config.MemoryConfig{Directory: dir})

	tests := []struct {
		name    string
		query   string
		want    string
		wantNot string
	}{
		{name: "matching section", query: "when do database backups run?", want: "nightly", wantNot: "Biscuit"},
		{name: "no match", query: "weather tomorrow", want: ""},
		{name: "stopwords only", query: "what is the", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Retrieve(context.Background(), "s1", tt.query)
			if err != nil {
				t.Fatalf("Retrieve() error = %v", err)
			}
			if tt.want == "" && got != "" {
				t.Fatalf("Retrieve() = %q, want empty", got)
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("Retrieve() = %q, want containing %q", got, tt.want)
			}
			if tt.wantNot != "" && strings.Contains(got, tt.wantNot) {
				t.Errorf("Retrieve() = %q, should not contain %q", got, tt.wantNot)
			}
		})
	}
}

func TestFileRetriever_MissingFile(t *testing.T) {
	r, _ := NewFileRetriever(config.MemoryConfig{Directory: t.TempDir()})
	got, err := r.Retrieve(context.Background(), "s1", "database")
	if err != nil || got != "" {
		t.Fatalf("Retrieve() = %q, %v", got, err)
	}
}

func TestFileRetriever_RecentLog(t *testing.T) {
	dir := t.TempDir()
	r, log := NewFileRetriever(config.MemoryConfig{Directory: dir, Days: 2, MaxLines: 1})

	ctx := context.Background()
	if err := log.Append(ctx, "s1", "user", "first line"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := log.Append(ctx, "s1", "assistant", "second\nline"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := log.Append(ctx, "other", "user", "not mine"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := r.Retrieve(ctx, "s1", "anything")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !strings.Contains(got, "assistant (s1): second line") {
		t.Errorf("Retrieve() = %q", got)
	}
	if strings.Contains(got, "first line") || strings.Contains(got, "not mine") {
		t.Errorf("Retrieve() = %q, want only the newest s1 line", got)
	}
}

func TestLogger_Rotate(t *testing.T) {
	dir := t.TempDir()
	log := NewLogger(dir)
	log.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }

	for _, name := range []string{"2026-03-01.md", "2026-03-09.md", "notes.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := log.Rotate(5)
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.md")); err != nil {
		t.Error("non-date files must be kept")
	}
}

func TestLogger_AppendCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewLogger(t.TempDir()).Append(ctx, "s1", "user", "x"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
