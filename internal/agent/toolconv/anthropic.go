package toolconv

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/haasonsaas/warden/internal/agent"
)

// ToAnthropicTools converts tools to Anthropic tool params.
func ToAnthropicTools(tools []agent.Tool) ([]anthropic.ToolUnionParam, error) {
	defs := definitions(tools)
	if defs == nil {
		return nil, nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		param := anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
			Properties: d.Schema["properties"],
			Required:   d.required(),
		}, d.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("tool %s: no anthropic tool definition", d.Name)
		}
		param.OfTool.Description = anthropic.String(d.Description)
		out = append(out, param)
	}
	return out, nil
}
