package risk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Classification is the verdict for a single tool invocation.
type Classification struct {
	Level            Level    `json:"level"`
	Category         Category `json:"category"`
	Warnings         []string `json:"warnings,omitempty"`
	Reasoning        string   `json:"reasoning"`
	RequiresApproval bool     `json:"requires_approval"`
}

// Classifier applies a RuleTable. It holds no mutable state.
type Classifier struct {
	table RuleTable
}

// NewClassifier creates a classifier over table.
func NewClassifier(table RuleTable) *Classifier {
	if table.Tools == nil {
		table.Tools = map[string]ToolRisk{}
	}
	return &Classifier{table: table}
}

// NewDefaultClassifier uses DefaultRules.
func NewDefaultClassifier() *Classifier {
	return NewClassifier(DefaultRules())
}

// Classify computes the risk of calling toolName with input.
func (c *Classifier) Classify(toolName string, input json.RawMessage) Classification {
	base, known := c.table.Tools[toolName]
	level := base.Level
	category := base.Category

	text := Canonicalize(input)
	var warnings []string
	for _, rule := range c.table.Rules {
		if rule.Pattern == nil || !rule.AppliesTo(toolName) || !rule.Pattern.MatchString(text) {
			continue
		}
		level = Max(level, rule.Level)
		warnings = append(warnings, rule.Description)
		if category == "" {
			category = rule.Category
		}
	}
	if category == "" {
		category = CategoryUnknown
	}

	return Classification{
		Level:            level,
		Category:         category,
		Warnings:         warnings,
		Reasoning:        reasoning(toolName, known, base.Level, level, warnings),
		RequiresApproval: level > Low,
	}
}

func reasoning(toolName string, known bool, base, final Level, warnings []string) string {
	var b strings.Builder
	if known {
		fmt.Fprintf(&b, "%s has base risk %s", toolName, base)
	} else {
		fmt.Fprintf(&b, "%s is not in the risk table, base risk %s", toolName, base)
	}
	if len(warnings) > 0 {
		fmt.Fprintf(&b, "; escalated to %s: %s", final, strings.Join(warnings, ", "))
	}
	return b.String()
}

// Canonicalize renders input as compact JSON with sorted object keys and no
// HTML escaping, so patterns see the same text for equivalent inputs.
// Input that is not valid JSON is returned as-is.
func Canonicalize(input json.RawMessage) string {
	if len(bytes.TrimSpace(input)) == 0 {
		return "{}"
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return string(input)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(decoded); err != nil {
		return string(input)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
