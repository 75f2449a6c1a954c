package toolconv

import (
	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/warden/internal/agent"
)

// ToOpenAITools converts tools to OpenAI function tools.
func ToOpenAITools(tools []agent.Tool) []openai.Tool {
	var out []openai.Tool
	for _, d := range definitions(tools) {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Schema,
			},
		})
	}
	return out
}
