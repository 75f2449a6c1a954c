package tools

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/haasonsaas/warden/internal/agent"
)

type runCommandInput struct {
	Command        string            `json:"command" jsonschema:"description=Shell command to execute"`
	Cwd            string            `json:"cwd,omitempty" jsonschema:"description=Working directory relative to the workspace"`
	Env            map[string]string `json:"env,omitempty" jsonschema:"description=Environment overrides"`
	Input          string            `json:"input,omitempty" jsonschema:"description=Stdin content to pass to the command"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" jsonschema:"minimum=0,description=Timeout in seconds (0 uses the tool default)"`
}

// RunCommandTool runs a shell command through a CommandRunner.
type RunCommandTool struct {
	runner         CommandRunner
	defaultTimeout time.Duration
}

// NewRunCommandTool creates run_command.
func NewRunCommandTool(runner CommandRunner, defaultTimeout time.Duration) *RunCommandTool {
	if defaultTimeout <= 0 {
		defaultTimeout = 2 * time.Minute
	}
	return &RunCommandTool{runner: runner, defaultTimeout: defaultTimeout}
}

func (t *RunCommandTool) Name() string { return "run_command" }

func (t *RunCommandTool) Description() string {
	return "Run a shell command in the workspace and return its exit code and output."
}

func (t *RunCommandTool) Schema() json.RawMessage { return schemaFor(&runCommandInput{}) }

func (t *RunCommandTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input runCommandInput
	if res := decodeInput(params, &input); res != nil {
		return res, nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return toolError("command is required"), nil
	}

	timeout := t.defaultTimeout
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}

	result, err := t.runner.Run(ctx, CommandRequest{
		Command: command,
		Dir:     input.Cwd,
		Env:     input.Env,
		Stdin:   input.Input,
		Timeout: timeout,
	})
	if err != nil {
		return toolError(err.Error()), nil
	}

	res := toolJSON(result)
	res.IsError = result.ExitCode != 0 || result.TimedOut
	return res, nil
}
