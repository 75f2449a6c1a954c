package approval

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotCommand means the text is not an approve or deny command.
	ErrNotCommand = errors.New("not an approval command")
	// ErrMissingRequestID means the command named no request.
	ErrMissingRequestID = errors.New("approval command needs a request id")
	// ErrNoMatchingRequest means no pending request has the given id prefix.
	ErrNoMatchingRequest = errors.New("no pending approval matches")
)

var commandVerbs = map[string]bool{
	"approve": true,
	"allow":   true,
	"yes":     true,
	"y":       true,
	"deny":    false,
	"reject":  false,
	"no":      false,
	"n":       false,
}

// Command is a parsed "approve <id> [reason]" or "deny <id> [reason]".
type Command struct {
	Approve bool
	Prefix  string
	Reason  string
}

// ParseCommand parses operator text. A leading slash and letter case are
// ignored, so "/Approve 3f2a" works.
func ParseCommand(text string) (Command, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Command{}, ErrNotCommand
	}
	verb := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	approve, ok := commandVerbs[verb]
	if !ok {
		return Command{}, ErrNotCommand
	}
	if len(fields) < 2 {
		return Command{}, ErrMissingRequestID
	}
	return Command{
		Approve: approve,
		Prefix:  strings.ToLower(fields[1]),
		Reason:  strings.Join(fields[2:], " "),
	}, nil
}

// CommandResult describes what a command resolved.
type CommandResult struct {
	RequestID string `json:"request_id"`
	ToolName  string `json:"tool_name"`
	Approved  bool   `json:"approved"`
	Reply     string `json:"reply"`
}

// HandleCommand applies an operator text command. The prefix is matched
// against pending ids oldest first and the first match wins; two pending ids
// sharing a prefix resolve the older one.
func (g *Gateway) HandleCommand(text, decidedBy string) (CommandResult, error) {
	cmd, err := ParseCommand(text)
	if err != nil {
		return CommandResult{}, err
	}

	for _, req := range g.PendingApprovals() {
		if !strings.HasPrefix(strings.ToLower(req.ID), cmd.Prefix) {
			continue
		}
		ok := g.SubmitApproval(Response{
			RequestID: req.ID,
			Approved:  cmd.Approve,
			Reason:    cmd.Reason,
			Source:    SourceUser,
			DecidedBy: decidedBy,
		})
		if !ok {
			return CommandResult{}, fmt.Errorf("%w: %s was resolved concurrently", ErrNoMatchingRequest, ShortID(req.ID))
		}
		verb := "Denied"
		if cmd.Approve {
			verb = "Approved"
		}
		return CommandResult{
			RequestID: req.ID,
			ToolName:  req.ToolName,
			Approved:  cmd.Approve,
			Reply:     fmt.Sprintf("%s %s (%s)", verb, req.ToolName, ShortID(req.ID)),
		}, nil
	}
	return CommandResult{}, fmt.Errorf("%w: %q", ErrNoMatchingRequest, cmd.Prefix)
}
