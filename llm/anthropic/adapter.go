package anthropic

import (
	"encoding/json"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/samber/lo"

	"github.com/parleyio/parley/llm"
)

// ToMessageParams converts provider-neutral messages to Anthropic MessageParams.
// System messages are excluded; the system prompt travels in its own request
// field. Tool results become tool_result blocks inside a user message, with
// consecutive results grouped into one message as the API expects them to
// directly follow the assistant turn that issued the calls.
func ToMessageParams(msgs []llm.Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(msgs))

	var pendingResults []anthropic.ContentBlockParamUnion
	flushResults := func() {
		if len(pendingResults) > 0 {
			result = append(result, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range msgs {
		switch msg.Role {
		case llm.RoleSystem:
			continue

		case llm.RoleUser:
			flushResults()
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))

		case llm.RoleAssistant:
			flushResults()
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.Arguments, call.Name))
			}
			if len(blocks) > 0 {
				result = append(result, anthropic.NewAssistantMessage(blocks...))
			}

		case llm.RoleTool:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		}
	}
	flushResults()

	return result
}

// FromMessage converts an Anthropic response into a provider-neutral Message.
// Text blocks concatenate into Content; tool_use blocks become ToolCallRequests.
func FromMessage(message *anthropic.Message) llm.Message {
	var content string
	var calls []llm.ToolCallRequest

	for _, blockUnion := range message.Content {
		switch block := blockUnion.AsAny().(type) {
		case anthropic.TextBlock:
			content += block.Text
		case anthropic.ToolUseBlock:
			calls = append(calls, llm.ToolCallRequest{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: decodeToolInput(block.Input),
			})
		}
	}

	return llm.NewToolCallMessage(content, calls)
}

// decodeToolInput round-trips the SDK's tool input into a plain map.
// Invalid or absent input degrades to an empty map rather than an error.
func decodeToolInput(input interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	if input == nil {
		return out
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return make(map[string]interface{})
	}
	return out
}

// ToToolUnionParam converts an llm.ToolSpec to an Anthropic ToolUnionParam.
func ToToolUnionParam(spec *llm.ToolSpec) anthropic.ToolUnionParam {
	desc := anthropic.String(spec.Description)

	toolParam := anthropic.ToolParam{
		Name:        spec.Name,
		Description: desc,
		InputSchema: anthropic.ToolInputSchemaParam{
			Type:        "object",
			Properties:  spec.Schema.Properties,
			Required:    spec.Schema.Required,
			ExtraFields: spec.Schema.ExtraFields,
		},
	}

	return anthropic.ToolUnionParam{OfTool: &toolParam}
}

// ToToolUnionParams converts a slice of llm.ToolSpecs to Anthropic ToolUnionParams.
func ToToolUnionParams(specs []llm.ToolSpec) []anthropic.ToolUnionParam {
	return lo.Map(specs, func(spec llm.ToolSpec, _ int) anthropic.ToolUnionParam {
		return ToToolUnionParam(&spec)
	})
}
