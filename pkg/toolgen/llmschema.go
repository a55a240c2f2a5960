package toolgen

import (
	anthropic "github.com/anthropics/anthropic-sdk-go"
	openai "github.com/openai/openai-go/v3"
)

// OpenAIParam converts Tool into the parameter shape openai-go/v3 expects
// for a chat-completion request's Tools field.
func (t Tool) OpenAIParam() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Function: openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  openai.FunctionParameters(t.Schema),
		},
	}
}

// OpenAITools converts every Tool in Result into openai-go/v3's
// ChatCompletionToolParam slice, ready to assign to a
// ChatCompletionNewParams.Tools field.
func (r Result) OpenAITools() []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, len(r.Tools))
	for i, tool := range r.Tools {
		tools[i] = tool.OpenAIParam()
	}
	return tools
}

// AnthropicParam converts Tool into the parameter shape anthropic-sdk-go
// expects for a Messages request's Tools field.
func (t Tool) AnthropicParam() anthropic.ToolUnionParam {
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: t.Schema["properties"],
			},
		},
	}
}

// AnthropicTools converts every Tool in Result into anthropic-sdk-go's
// ToolUnionParam slice, ready to assign to a MessageNewParams.Tools field.
func (r Result) AnthropicTools() []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(r.Tools))
	for i, tool := range r.Tools {
		tools[i] = tool.AnthropicParam()
	}
	return tools
}
