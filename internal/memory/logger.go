// Package memory provides long-term memory for turns: keyword retrieval
// from a MEMORY.md file plus recent lines of a daily conversation log.
package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger writes a daily markdown log of conversation lines for human review.
type Logger struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewLogger creates a new logger that writes to dir (defaults to "memory").
func NewLogger(dir string) *Logger {
	if strings.TrimSpace(dir) == "" {
		dir = "memory"
	}
	return &Logger{dir: dir, now: time.Now}
}

// Append writes a single entry to today's log file.
func (l *Logger) Append(ctx context.Context, sessionID, role, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ts := l.now()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}

	filename := filepath.Join(l.dir, ts.Format("2006-01-02")+".md")
	line := formatLine(sessionID, role, content, ts)

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open memory log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write memory log: %w", err)
	}
	return nil
}

// ReadRecentAt returns up to maxLines log lines for sessionID, scanning back
// the requested number of days (including today) and keeping the newest.
func (l *Logger) ReadRecentAt(now time.Time, sessionID string, days, maxLines int) ([]string, error) {
	if days <= 0 {
		return nil, nil
	}
	if maxLines <= 0 {
		maxLines = 20
	}

	needle := ""
	if sessionID != "" {
		needle = fmt.Sprintf("(%s):", sessionID)
	}

	var lines []string
	for offset := days - 1; offset >= 0; offset-- {
		date := now.AddDate(0, 0, -offset).Format("2006-01-02")
		file, err := os.Open(filepath.Join(l.dir, date+".md"))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("open memory log: %w", err)
		}

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if needle != "" && !strings.Contains(line, needle) {
				continue
			}
			lines = append(lines, line)
		}
		if err := scanner.Err(); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("read memory log: %w", err)
		}
		if err := file.Close(); err != nil {
			return nil, fmt.Errorf("close memory log: %w", err)
		}
	}

	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines, nil
}

// Rotate removes log files older than retentionDays and returns how many
// were removed.
func (l *Logger) Rotate(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := l.now().AddDate(0, 0, -retentionDays)

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read memory dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".md") {
			continue
		}
		fileDate, err := time.Parse("2006-01-02", strings.TrimSuffix(name, ".md"))
		if err != nil {
			continue
		}
		if fileDate.Before(cutoff) {
			if err := os.Remove(filepath.Join(l.dir, name)); err != nil {
				return removed, fmt.Errorf("remove old log %s: %w", name, err)
			}
			removed++
		}
	}
	return removed, nil
}

func formatLine(sessionID, role, content string, ts time.Time) string {
	content = strings.ReplaceAll(strings.TrimSpace(content), "\n", " ")
	if sessionID == "" {
		sessionID = "unknown"
	}
	return fmt.Sprintf("- [%s] %s (%s): %s\n", ts.Format("15:04:05"), role, sessionID, content)
}
