// Package toolconv converts agent tools into each backend's tool definition
// format.
package toolconv

import (
	"encoding/json"

	"github.com/haasonsaas/warden/internal/agent"
)

// definition is a tool with its JSON Schema decoded once for all backends.
type definition struct {
	Name        string
	Description string
	Schema      map[string]any
	// Fallback is set when the tool's schema did not decode to an object and
	// an empty object schema was substituted.
	Fallback bool
}

func definitions(tools []agent.Tool) []definition {
	if len(tools) == 0 {
		return nil
	}
	defs := make([]definition, len(tools))
	for i, tool := range tools {
		defs[i] = definition{Name: tool.Name(), Description: tool.Description()}
		if err := json.Unmarshal(tool.Schema(), &defs[i].Schema); err != nil || defs[i].Schema == nil {
			defs[i].Schema = map[string]any{"type": "object", "properties": map[string]any{}}
			defs[i].Fallback = true
			continue
		}
		if _, ok := defs[i].Schema["type"]; !ok {
			defs[i].Schema["type"] = "object"
		}
	}
	return defs
}

func (d definition) required() []string {
	return stringList(d.Schema["required"])
}

func stringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
