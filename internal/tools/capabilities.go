// Package tools provides the built-in workspace tools. Tools never touch the
// host directly; they go through the FileSystem and CommandRunner
// capabilities, so a deployment can swap in sandboxed implementations.
package tools

import (
	"context"
	"time"
)

// FileSystem is the file capability the file tools are built on. Paths are
// workspace-relative.
type FileSystem interface {
	// ReadFile returns at most maxBytes bytes starting at offset and whether
	// the file continues past them.
	ReadFile(ctx context.Context, path string, offset int64, maxBytes int) (data []byte, truncated bool, err error)
	WriteFile(ctx context.Context, path string, data []byte, appendMode bool) error
	Remove(ctx context.Context, path string) error
	ReadDir(ctx context.Context, path string) ([]DirEntry, error)
}

// DirEntry describes one directory entry.
type DirEntry struct {
	Name    string    `json:"name"`
	IsDir   bool      `json:"is_dir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// CommandRunner is the process capability run_command is built on.
type CommandRunner interface {
	Run(ctx context.Context, req CommandRequest) (*CommandResult, error)
}

// CommandRequest describes a shell command to run.
type CommandRequest struct {
	Command string
	Dir     string
	Env     map[string]string
	Stdin   string
	Timeout time.Duration
}

// CommandResult summarizes a finished command.
type CommandResult struct {
	Command  string        `json:"command"`
	Dir      string        `json:"cwd"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out,omitempty"`
}
