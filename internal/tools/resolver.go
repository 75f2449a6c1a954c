package tools

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideWorkspace is returned for paths that leave the workspace root.
var ErrOutsideWorkspace = errors.New("path escapes workspace")

// Workspace confines tool paths to one directory tree.
type Workspace struct {
	root string
}

// NewWorkspace anchors a workspace at root; an empty root means the current
// directory.
func NewWorkspace(root string) (Workspace, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Workspace{}, fmt.Errorf("resolve workspace root: %w", err)
	}
	return Workspace{root: abs}, nil
}

// Root is the absolute workspace directory.
func (w Workspace) Root() string { return w.root }

// Resolve maps a relative or absolute tool path to a cleaned absolute path
// inside the workspace.
func (w Workspace) Resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("path is required")
	}
	target := filepath.Clean(path)
	if !filepath.IsAbs(target) {
		target = filepath.Join(w.root, target)
	}
	rel, err := filepath.Rel(w.root, target)
	if err != nil || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}
	return target, nil
}
