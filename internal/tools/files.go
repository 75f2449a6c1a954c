package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/haasonsaas/warden/internal/agent"
)

const defaultMaxReadBytes = 200000

type readFileInput struct {
	Path     string `json:"path" jsonschema:"description=Path to the file relative to the workspace"`
	Offset   int64  `json:"offset,omitempty" jsonschema:"minimum=0,description=Byte offset to start reading from"`
	MaxBytes int    `json:"max_bytes,omitempty" jsonschema:"minimum=0,description=Maximum bytes to read (capped by the tool limit)"`
}

// ReadFileTool reads a workspace file.
type ReadFileTool struct {
	fs       FileSystem
	maxBytes int
}

// NewReadFileTool creates read_file. maxBytes <= 0 uses 200000.
func NewReadFileTool(fs FileSystem, maxBytes int) *ReadFileTool {
	if maxBytes <= 0 {
		maxBytes = defaultMaxReadBytes
	}
	return &ReadFileTool{fs: fs, maxBytes: maxBytes}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a file from the workspace with optional offset and byte limit."
}

func (t *ReadFileTool) Schema() json.RawMessage { return schemaFor(&readFileInput{}) }

func (t *ReadFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input readFileInput
	if res := decodeInput(params, &input); res != nil {
		return res, nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}
	if input.Offset < 0 {
		return toolError("offset must be >= 0"), nil
	}

	limit := t.maxBytes
	if input.MaxBytes > 0 && input.MaxBytes < limit {
		limit = input.MaxBytes
	}
	data, truncated, err := t.fs.ReadFile(ctx, input.Path, input.Offset, limit)
	if err != nil {
		return toolError(err.Error()), nil
	}
	return toolJSON(map[string]any{
		"path":      input.Path,
		"content":   string(data),
		"offset":    input.Offset,
		"bytes":     len(data),
		"truncated": truncated,
	}), nil
}

type writeFileInput struct {
	Path    string `json:"path" jsonschema:"description=Path to the file relative to the workspace"`
	Content string `json:"content" jsonschema:"description=Content to write"`
	Append  bool   `json:"append,omitempty" jsonschema:"description=Append instead of overwriting"`
}

// WriteFileTool creates or overwrites a workspace file.
type WriteFileTool struct {
	fs FileSystem
}

// NewWriteFileTool creates write_file.
func NewWriteFileTool(fs FileSystem) *WriteFileTool {
	return &WriteFileTool{fs: fs}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file in the workspace, creating parent directories as needed."
}

func (t *WriteFileTool) Schema() json.RawMessage { return schemaFor(&writeFileInput{}) }

func (t *WriteFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input writeFileInput
	if res := decodeInput(params, &input); res != nil {
		return res, nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}
	if err := t.fs.WriteFile(ctx, input.Path, []byte(input.Content), input.Append); err != nil {
		return toolError(err.Error()), nil
	}
	return toolJSON(map[string]any{
		"path":          input.Path,
		"bytes_written": len(input.Content),
		"append":        input.Append,
	}), nil
}

type deleteFileInput struct {
	Path string `json:"path" jsonschema:"description=Path to the file relative to the workspace"`
}

// DeleteFileTool removes a single workspace file.
type DeleteFileTool struct {
	fs FileSystem
}

// NewDeleteFileTool creates delete_file.
func NewDeleteFileTool(fs FileSystem) *DeleteFileTool {
	return &DeleteFileTool{fs: fs}
}

func (t *DeleteFileTool) Name() string { return "delete_file" }

func (t *DeleteFileTool) Description() string {
	return "Delete a single file from the workspace. Directories are refused."
}

func (t *DeleteFileTool) Schema() json.RawMessage { return schemaFor(&deleteFileInput{}) }

func (t *DeleteFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input deleteFileInput
	if res := decodeInput(params, &input); res != nil {
		return res, nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}
	if err := t.fs.Remove(ctx, input.Path); err != nil {
		return toolError(err.Error()), nil
	}
	return toolJSON(map[string]any{"path": input.Path, "deleted": true}), nil
}

type listDirInput struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory relative to the workspace (default: workspace root)"`
}

// ListDirTool lists a workspace directory.
type ListDirTool struct {
	fs FileSystem
}

// NewListDirTool creates list_dir.
func NewListDirTool(fs FileSystem) *ListDirTool {
	return &ListDirTool{fs: fs}
}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Description() string {
	return "List the entries of a workspace directory."
}

func (t *ListDirTool) Schema() json.RawMessage { return schemaFor(&listDirInput{}) }

func (t *ListDirTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input listDirInput
	if res := decodeInput(params, &input); res != nil {
		return res, nil
	}
	path := input.Path
	if strings.TrimSpace(path) == "" {
		path = "."
	}
	entries, err := t.fs.ReadDir(ctx, path)
	if err != nil {
		return toolError(err.Error()), nil
	}
	return toolJSON(map[string]any{"path": path, "entries": entries}), nil
}
