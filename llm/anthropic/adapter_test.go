package anthropic

import (
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/parleyio/parley/llm"
)

func TestToMessageParamsSkipsSystem(t *testing.T) {
	msgs := []llm.Message{
		llm.NewTextMessage(llm.RoleSystem, "be terse"),
		llm.NewTextMessage(llm.RoleUser, "hello"),
	}

	params := ToMessageParams(msgs)
	if len(params) != 1 {
		t.Fatalf("Expected system message to be excluded, got %d messages", len(params))
	}
	if params[0].Role != anthropic.MessageParamRoleUser {
		t.Errorf("Expected user role, got %s", params[0].Role)
	}
}

func TestToMessageParamsGroupsToolResults(t *testing.T) {
	msgs := []llm.Message{
		llm.NewTextMessage(llm.RoleUser, "check two cities"),
		llm.NewToolCallMessage("", []llm.ToolCallRequest{
			{ID: "call-1", Name: "get_weather", Arguments: map[string]interface{}{"city": "Paris"}},
			{ID: "call-2", Name: "get_weather", Arguments: map[string]interface{}{"city": "Tokyo"}},
		}),
		llm.NewToolResultMessage("call-1", `{"temp":18}`),
		llm.NewToolResultMessage("call-2", `{"temp":25}`),
	}

	params := ToMessageParams(msgs)
	// user, assistant, then one user message holding both tool results.
	if len(params) != 3 {
		t.Fatalf("Expected 3 messages with grouped results, got %d", len(params))
	}
	if params[1].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("Expected assistant role, got %s", params[1].Role)
	}
	if len(params[1].Content) != 2 {
		t.Errorf("Expected 2 tool_use blocks, got %d", len(params[1].Content))
	}
	if params[2].Role != anthropic.MessageParamRoleUser {
		t.Errorf("Expected tool results in a user message, got %s", params[2].Role)
	}
	if len(params[2].Content) != 2 {
		t.Errorf("Expected both results in one message, got %d blocks", len(params[2].Content))
	}
}

func TestToMessageParamsAssistantTextAndCalls(t *testing.T) {
	msgs := []llm.Message{
		llm.NewToolCallMessage("let me check", []llm.ToolCallRequest{
			{ID: "call-1", Name: "lookup", Arguments: map[string]interface{}{}},
		}),
	}

	params := ToMessageParams(msgs)
	if len(params) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(params))
	}
	if len(params[0].Content) != 2 {
		t.Errorf("Expected text block plus tool_use block, got %d blocks", len(params[0].Content))
	}
}

func TestDecodeToolInput(t *testing.T) {
	got := decodeToolInput(map[string]interface{}{"city": "Paris"})
	if got["city"] != "Paris" {
		t.Errorf("Expected city=Paris, got %v", got)
	}

	if got := decodeToolInput(nil); len(got) != 0 {
		t.Errorf("Expected empty map for nil input, got %v", got)
	}

	// Non-object input degrades to an empty map.
	if got := decodeToolInput("not an object"); len(got) != 0 {
		t.Errorf("Expected empty map for non-object input, got %v", got)
	}
}

func TestToToolUnionParams(t *testing.T) {
	specs := []llm.ToolSpec{
		{
			Name:        "get_weather",
			Description: "Current weather for a city",
			Schema: llm.ToolSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"city": map[string]interface{}{"type": "string"},
				},
				Required: []string{"city"},
			},
		},
	}

	params := ToToolUnionParams(specs)
	if len(params) != 1 {
		t.Fatalf("Expected 1 tool param, got %d", len(params))
	}
	tool := params[0].OfTool
	if tool == nil {
		t.Fatal("Expected OfTool variant")
	}
	if tool.Name != "get_weather" {
		t.Errorf("Unexpected tool name: %q", tool.Name)
	}
	if len(tool.InputSchema.Required) != 1 || tool.InputSchema.Required[0] != "city" {
		t.Errorf("Unexpected required list: %v", tool.InputSchema.Required)
	}
}
