package tools

import (
	"fmt"

	"github.com/haasonsaas/warden/internal/agent"
	"github.com/haasonsaas/warden/internal/config"
)

// Options carries the capability providers for Register. Nil fields get the
// OS implementations rooted at the configured workspace.
type Options struct {
	FileSystem    FileSystem
	CommandRunner CommandRunner
}

// Register adds the built-in tools named in cfg (all of them when none are
// named) to registry.
func Register(registry *agent.ToolRegistry, cfg config.ToolsConfig, opts Options) error {
	fs, runner := opts.FileSystem, opts.CommandRunner
	if fs == nil || runner == nil {
		ws, err := NewWorkspace(cfg.Workspace)
		if err != nil {
			return err
		}
		if fs == nil {
			fs = NewOSFileSystem(ws)
		}
		if runner == nil {
			runner = NewShellRunner(ws, cfg.MaxOutputBytes)
		}
	}

	all := []agent.Tool{
		NewReadFileTool(fs, cfg.MaxReadBytes),
		NewWriteFileTool(fs),
		NewDeleteFileTool(fs),
		NewListDirTool(fs),
		NewRunCommandTool(runner, cfg.CommandTimeout),
	}

	enabled := make(map[string]bool, len(cfg.Enabled))
	for _, name := range cfg.Enabled {
		enabled[name] = true
	}
	known := make(map[string]bool, len(all))
	for _, tool := range all {
		known[tool.Name()] = true
		if len(enabled) > 0 && !enabled[tool.Name()] {
			continue
		}
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("register %s: %w", tool.Name(), err)
		}
	}
	for name := range enabled {
		if !known[name] {
			return fmt.Errorf("unknown built-in tool %q", name)
		}
	}
	return nil
}
