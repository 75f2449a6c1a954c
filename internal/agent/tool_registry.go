package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// ToolRegistry manages available tools with thread-safe registration and lookup.
// Input is validated against the tool's schema before the tool runs.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	// compiled schemas keyed by schema text
	schemas sync.Map
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool, replacing any tool with the same name. It fails when
// the name is unusable or the tool's schema does not compile.
func (r *ToolRegistry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("invalid tool name %q", name)
	}
	if _, err := r.compile(tool.Schema()); err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	return nil
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools sorted by name.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	r.mu.RUnlock()

	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Execute validates params and runs the named tool. Unknown tools wrap
// ErrToolNotFound and rejected input wraps ErrInvalidToolInput.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return nil, fmt.Errorf("%w: name exceeds %d characters", ErrToolNotFound, MaxToolNameLength)
	}
	if len(params) > MaxToolParamsSize {
		return nil, fmt.Errorf("%w: parameters exceed %d bytes", ErrInvalidToolInput, MaxToolParamsSize)
	}

	tool, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if err := r.validate(tool, params); err != nil {
		return nil, err
	}
	return tool.Execute(ctx, params)
}

func (r *ToolRegistry) validate(tool Tool, params json.RawMessage) error {
	schema, err := r.compile(tool.Schema())
	if err != nil || schema == nil {
		return err
	}
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToolInput, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToolInput, err)
	}
	return nil
}

// compile returns the compiled schema, or nil when the tool declares none.
func (r *ToolRegistry) compile(raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	key := string(raw)
	if cached, ok := r.schemas.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	r.schemas.Store(key, compiled)
	return compiled, nil
}

// matchToolPattern reports whether toolName matches a glob pattern such as
// "read_*". An invalid pattern matches nothing.
func matchToolPattern(pattern, toolName string) bool {
	if pattern == "" || toolName == "" {
		return false
	}
	ok, err := path.Match(pattern, toolName)
	return err == nil && ok
}

func matchesToolPatterns(patterns []string, toolName string) bool {
	for _, p := range patterns {
		if matchToolPattern(p, toolName) {
			return true
		}
	}
	return false
}
