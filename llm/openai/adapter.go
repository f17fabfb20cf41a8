package openai

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/parleyio/parley/llm"
)

// ToChatMessages converts provider-neutral messages to OpenAI chat format.
// The mapping is nearly one-to-one: tool results use the dedicated "tool"
// role with the originating call id, and assistant tool calls become function
// calls with JSON-encoded argument strings.
func ToChatMessages(msgs []llm.Message) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		converted, err := ToChatMessage(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to convert message: %w", err)
		}
		result = append(result, converted)
	}
	return result, nil
}

// ToChatMessage converts a single llm.Message to OpenAI format.
func ToChatMessage(msg llm.Message) (openai.ChatCompletionMessage, error) {
	var role string
	switch msg.Role {
	case llm.RoleSystem:
		role = openai.ChatMessageRoleSystem
	case llm.RoleUser:
		role = openai.ChatMessageRoleUser
	case llm.RoleAssistant:
		role = openai.ChatMessageRoleAssistant
	case llm.RoleTool:
		role = openai.ChatMessageRoleTool
	default:
		role = openai.ChatMessageRoleUser
	}

	out := openai.ChatCompletionMessage{
		Role:       role,
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
	}

	for _, call := range msg.ToolCalls {
		argsJSON, err := json.Marshal(call.Arguments)
		if err != nil {
			return openai.ChatCompletionMessage{}, fmt.Errorf("failed to marshal arguments for tool %s: %w", call.Name, err)
		}
		out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
			ID:   call.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      call.Name,
				Arguments: string(argsJSON),
			},
		})
	}

	return out, nil
}

// FromChatMessage converts an OpenAI response message into a provider-neutral
// Message.
func FromChatMessage(msg openai.ChatCompletionMessage) llm.Message {
	calls := make([]llm.ToolCallRequest, 0, len(msg.ToolCalls))
	for _, toolCall := range msg.ToolCalls {
		calls = append(calls, FromToolCall(toolCall))
	}
	if len(calls) == 0 {
		calls = nil
	}
	return llm.NewToolCallMessage(msg.Content, calls)
}

// FromToolCall converts an OpenAI tool call to a ToolCallRequest. Unparseable
// argument strings degrade to an empty map; a missing id is synthesized.
func FromToolCall(toolCall openai.ToolCall) llm.ToolCallRequest {
	input := make(map[string]interface{})
	if toolCall.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &input); err != nil {
			input = make(map[string]interface{})
		}
	}

	id := toolCall.ID
	if id == "" {
		id = "call_" + uuid.NewString()
	}

	return llm.ToolCallRequest{
		ID:        id,
		Name:      toolCall.Function.Name,
		Arguments: input,
	}
}

// ToTools converts llm.ToolSpecs to OpenAI function definitions.
func ToTools(specs []llm.ToolSpec) []openai.Tool {
	result := make([]openai.Tool, 0, len(specs))
	for i := range specs {
		result = append(result, ToTool(&specs[i]))
	}
	return result
}

// ToTool converts a single llm.ToolSpec to OpenAI Tool format.
func ToTool(spec *llm.ToolSpec) openai.Tool {
	properties := make(map[string]interface{})
	for k, v := range spec.Schema.Properties {
		properties[k] = v
	}

	parameters := map[string]interface{}{
		"type":       spec.Schema.Type,
		"properties": properties,
	}
	if len(spec.Schema.Required) > 0 {
		parameters["required"] = spec.Schema.Required
	}
	for k, v := range spec.Schema.ExtraFields {
		parameters[k] = v
	}

	function := openai.FunctionDefinition{
		Name:        spec.Name,
		Description: spec.Description,
		Parameters:  parameters,
	}

	return openai.Tool{
		Type:     openai.ToolTypeFunction,
		Function: &function,
	}
}
