package memory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/haasonsaas/warden/internal/config"
)

// FileRetriever selects MEMORY.md sections that share keywords with the
// user's message, plus the session's recent daily log lines.
type FileRetriever struct {
	path        string
	log         *Logger
	days        int
	maxLines    int
	maxSections int
	now         func() time.Time
}

// NewFileRetriever builds a retriever from the memory config section. The
// returned Logger is the one the runtime appends turns to.
func NewFileRetriever(cfg config.MemoryConfig) (*FileRetriever, *Logger) {
	dir := cfg.Directory
	if strings.TrimSpace(dir) == "" {
		dir = "memory"
	}
	file := cfg.File
	if file == "" {
		file = "MEMORY.md"
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(dir, file)
	}
	log := NewLogger(dir)
	r := &FileRetriever{
		path:        file,
		log:         log,
		days:        cfg.Days,
		maxLines:    cfg.MaxLines,
		maxSections: cfg.MaxSections,
		now:         time.Now,
	}
	if r.maxSections <= 0 {
		r.maxSections = 3
	}
	return r, log
}

// Retrieve returns memory relevant to query, or "" when nothing matches.
func (r *FileRetriever) Retrieve(ctx context.Context, sessionID, query string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var parts []string

	sections, err := r.matchingSections(query)
	if err != nil {
		return "", err
	}
	if len(sections) > 0 {
		parts = append(parts, strings.Join(sections, "\n\n"))
	}

	if r.days > 0 {
		lines, err := r.log.ReadRecentAt(r.now(), sessionID, r.days, r.maxLines)
		if err != nil {
			return "", err
		}
		if len(lines) > 0 {
			parts = append(parts, "Recent conversation log:\n"+strings.Join(lines, "\n"))
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func (r *FileRetriever) matchingSections(query string) ([]string, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read memory file: %w", err)
	}

	keywords := Keywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}

	type scored struct {
		idx   int
		score int
		text  string
	}
	var hits []scored
	for i, section := range splitSections(string(data)) {
		words := make(map[string]bool)
		for _, w := range Keywords(section) {
			words[w] = true
		}
		score := 0
		for _, k := range keywords {
			if words[k] {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{idx: i, score: score, text: section})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > r.maxSections {
		hits = hits[:r.maxSections]
	}
	// Present the winners in file order.
	sort.Slice(hits, func(i, j int) bool { return hits[i].idx < hits[j].idx })

	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.text
	}
	return out, nil
}

// splitSections breaks markdown into blank-line separated blocks. A heading
// starts a new block and stays attached to the text under it.
func splitSections(text string) []string {
	var sections []string
	var current []string
	flush := func() {
		block := strings.TrimSpace(strings.Join(current, "\n"))
		if block != "" {
			sections = append(sections, block)
		}
		current = current[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			if len(current) > 0 && !isHeading(current[len(current)-1]) {
				flush()
			}
		case isHeading(trimmed):
			flush()
			current = append(current, trimmed)
		default:
			current = append(current, line)
		}
	}
	flush()
	return sections
}

func isHeading(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "#")
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true,
	"you": true, "your": true, "with": true, "this": true, "that": true,
	"what": true, "how": true, "can": true, "have": true, "from": true,
	"please": true, "about": true, "does": true,
}

// Keywords lowercases text and returns its distinct words of three or more
// letters, minus common stopwords, in first-seen order.
func Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-'
	})
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		f = strings.Trim(f, "-_")
		if len(f) < 3 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
