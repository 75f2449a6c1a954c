package approval

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/warden/internal/risk"
)

const maxPromptInput = 500

// ShortID is the id prefix shown to operators.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// FormatPrompt renders the message sent to an approval channel.
func FormatPrompt(req Request, timeout time.Duration) string {
	var b strings.Builder
	short := ShortID(req.ID)
	cls := req.Classification

	fmt.Fprintf(&b, "Approval required [%s]\n", short)
	fmt.Fprintf(&b, "Tool: %s\n", req.ToolName)
	fmt.Fprintf(&b, "Risk: %s (%s)\n", cls.Level, cls.Category)
	if req.SessionID != "" {
		fmt.Fprintf(&b, "Session: %s\n", req.SessionID)
	}
	input := risk.Canonicalize(req.Input)
	if len(input) > maxPromptInput {
		input = input[:runeBoundary(input, maxPromptInput)] + "..."
	}
	fmt.Fprintf(&b, "Input: %s\n", input)
	if len(cls.Warnings) > 0 {
		b.WriteString("Warnings:\n")
		for _, w := range cls.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	fmt.Fprintf(&b, "Reply \"approve %s\" or \"deny %s\" within %s.", short, short, timeout.Round(time.Second))
	return b.String()
}

// FormatOutcome renders the edited prompt once a request is resolved.
func FormatOutcome(rec Record) string {
	short := ShortID(rec.Request.ID)
	resp := rec.Response

	var outcome string
	switch {
	case resp.Approved:
		outcome = "approved"
	case resp.Source == SourceTimeout:
		outcome = "denied (timed out)"
	case resp.Source == SourceCancelled:
		outcome = "denied (cancelled)"
	default:
		outcome = "denied"
	}

	line := fmt.Sprintf("%s [%s] %s", rec.Request.ToolName, short, outcome)
	if resp.DecidedBy != "" {
		line += " by " + resp.DecidedBy
	}
	if resp.Reason != "" && resp.Source == SourceUser {
		line += ": " + resp.Reason
	}
	return line
}

// runeBoundary backs n up so s[:n] does not split a UTF-8 sequence.
func runeBoundary(s string, n int) int {
	for n > 0 && n < len(s) && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}
