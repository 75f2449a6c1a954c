package toolconv

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/haasonsaas/warden/internal/agent"
)

// ToBedrockTools builds the Converse tool configuration, or nil without tools.
func ToBedrockTools(tools []agent.Tool) *types.ToolConfiguration {
	defs := definitions(tools)
	if defs == nil {
		return nil
	}
	cfg := &types.ToolConfiguration{Tools: make([]types.Tool, 0, len(defs))}
	for _, d := range defs {
		cfg.Tools = append(cfg.Tools, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
			Name:        aws.String(d.Name),
			Description: aws.String(d.Description),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(d.Schema)},
		}})
	}
	return cfg
}
