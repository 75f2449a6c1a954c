package tools

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// OSFileSystem implements FileSystem on the host filesystem, confined to a
// workspace root.
type OSFileSystem struct {
	resolver Workspace
}

// NewOSFileSystem creates a filesystem confined to ws.
func NewOSFileSystem(ws Workspace) *OSFileSystem {
	return &OSFileSystem{resolver: ws}
}

func (f *OSFileSystem) ReadFile(ctx context.Context, path string, offset int64, maxBytes int) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	resolved, err := f.resolver.Resolve(path)
	if err != nil {
		return nil, false, err
	}

	file, err := os.Open(resolved)
	if err != nil {
		return nil, false, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, false, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return nil, false, fmt.Errorf("%s is a directory", path)
	}
	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			return nil, false, fmt.Errorf("seek file: %w", err)
		}
	}

	buf, err := io.ReadAll(io.LimitReader(file, int64(maxBytes)))
	if err != nil {
		return nil, false, fmt.Errorf("read file: %w", err)
	}
	truncated := offset+int64(len(buf)) < info.Size()
	return buf, truncated, nil
}

func (f *OSFileSystem) WriteFile(ctx context.Context, path string, data []byte, appendMode bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resolved, err := f.resolver.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return fmt.Errorf("write file: %w", err)
	}
	return file.Close()
}

func (f *OSFileSystem) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resolved, err := f.resolver.Resolve(path)
	if err != nil {
		return err
	}
	if resolved == f.resolver.Root() {
		return fmt.Errorf("refusing to delete the workspace root")
	}

	info, err := os.Lstat(resolved)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if err := os.Remove(resolved); err != nil {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

func (f *OSFileSystem) ReadDir(ctx context.Context, path string) ([]DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resolved, err := f.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	out := make([]DirEntry, 0, len(entries))
	for _, entry := range entries {
		de := DirEntry{Name: entry.Name(), IsDir: entry.IsDir()}
		if info, err := entry.Info(); err == nil {
			de.Size = info.Size()
			de.ModTime = info.ModTime()
		}
		out = append(out, de)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
