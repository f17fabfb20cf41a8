package ollama

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"

	"github.com/parleyio/parley/llm"
)

// ToOllamaMessages converts provider-neutral messages to Ollama chat format.
// Tool specs, when supplied, drive argument coercion: local models frequently
// emit numbers and booleans as strings, and echoing those back verbatim makes
// the model repeat the mistake.
func ToOllamaMessages(msgs []llm.Message, specs []llm.ToolSpec) ([]api.Message, error) {
	var specMap map[string]llm.ToolSpec
	if len(specs) > 0 {
		specMap = make(map[string]llm.ToolSpec, len(specs))
		for _, spec := range specs {
			specMap[spec.Name] = spec
		}
	}

	result := make([]api.Message, 0, len(msgs))
	for _, msg := range msgs {
		converted, err := ToOllamaMessage(msg, specMap)
		if err != nil {
			return nil, fmt.Errorf("failed to convert message: %w", err)
		}
		result = append(result, converted)
	}
	return result, nil
}

// ToOllamaMessage converts a single llm.Message to Ollama format.
func ToOllamaMessage(msg llm.Message, specMap map[string]llm.ToolSpec) (api.Message, error) {
	out := api.Message{
		Role:    string(msg.Role),
		Content: msg.Content,
	}

	for _, call := range msg.ToolCalls {
		args := make(api.ToolCallFunctionArguments, len(call.Arguments))
		for k, v := range call.Arguments {
			args[k] = v
		}
		if spec, ok := specMap[call.Name]; ok {
			coerceArguments(args, spec.Schema)
		}
		out.ToolCalls = append(out.ToolCalls, api.ToolCall{
			Function: api.ToolCallFunction{
				Name:      call.Name,
				Arguments: args,
			},
		})
	}

	return out, nil
}

// coerceArguments converts argument values toward the types the schema
// declares. Unconvertible values are left as received; the capability's own
// validation reports them.
func coerceArguments(args api.ToolCallFunctionArguments, schema llm.ToolSchema) {
	for k, v := range args {
		propSchema, ok := schema.Properties[k]
		if !ok {
			continue
		}
		if converted, ok := coerceValue(v, propertyType(propSchema)); ok {
			args[k] = converted
		}
	}
}

func propertyType(propSchema interface{}) string {
	if propMap, ok := propSchema.(map[string]interface{}); ok {
		if propType, ok := propMap["type"].(string); ok {
			return propType
		}
	}
	return "string"
}

func coerceValue(v interface{}, targetType string) (interface{}, bool) {
	switch targetType {
	case "integer":
		switch val := v.(type) {
		case float64:
			return int(val), true
		case string:
			var i int
			if _, err := fmt.Sscanf(val, "%d", &i); err == nil {
				return i, true
			}
		}
	case "number":
		switch val := v.(type) {
		case int:
			return float64(val), true
		case string:
			var f float64
			if _, err := fmt.Sscanf(val, "%f", &f); err == nil {
				return f, true
			}
		}
	case "boolean":
		switch val := v.(type) {
		case bool:
			return val, true
		case string:
			switch strings.ToLower(val) {
			case "true", "1", "yes":
				return true, true
			case "false", "0", "no":
				return false, true
			}
		}
	case "string":
		if _, ok := v.(string); !ok && v != nil {
			return fmt.Sprintf("%v", v), true
		}
	}
	return nil, false
}

// FromOllamaMessage converts an Ollama response message into a
// provider-neutral Message. Ollama does not assign tool call ids, so one is
// synthesized per call.
func FromOllamaMessage(msg *api.Message) llm.Message {
	var calls []llm.ToolCallRequest
	for _, toolCall := range msg.ToolCalls {
		calls = append(calls, FromOllamaToolCall(toolCall))
	}
	return llm.NewToolCallMessage(msg.Content, calls)
}

// FromOllamaToolCall converts an Ollama tool call to a ToolCallRequest.
func FromOllamaToolCall(toolCall api.ToolCall) llm.ToolCallRequest {
	input := make(map[string]interface{}, len(toolCall.Function.Arguments))
	for k, v := range toolCall.Function.Arguments {
		input[k] = v
	}
	return llm.ToolCallRequest{
		ID:        "call_" + uuid.NewString(),
		Name:      toolCall.Function.Name,
		Arguments: input,
	}
}

// ToOllamaTools converts llm.ToolSpecs to Ollama function definitions.
func ToOllamaTools(specs []llm.ToolSpec) []api.Tool {
	result := make([]api.Tool, 0, len(specs))
	for i := range specs {
		result = append(result, ToOllamaTool(&specs[i]))
	}
	return result
}

// ToOllamaTool converts a single llm.ToolSpec to Ollama Tool format. Ollama's
// parameter schema is typed rather than free-form, so only the property type
// survives the conversion.
func ToOllamaTool(spec *llm.ToolSpec) api.Tool {
	properties := make(map[string]api.ToolProperty, len(spec.Schema.Properties))
	for k, v := range spec.Schema.Properties {
		properties[k] = api.ToolProperty{
			Type: []string{propertyType(v)},
		}
	}

	return api.Tool{
		Type: "function",
		Function: api.ToolFunction{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters: api.ToolFunctionParameters{
				Type:       spec.Schema.Type,
				Properties: properties,
				Required:   spec.Schema.Required,
			},
		},
	}
}
