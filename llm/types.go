package llm

import (
	"encoding/json"
)

// Role represents the role of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents a single message in a conversation.
// It is provider-neutral and immutable once appended to a conversation.
// ToolCalls is non-empty only on assistant messages; ToolCallID back-references
// the originating call and is set only on tool messages.
type Message struct {
	Role       Role              `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

// ToolCallRequest represents a model-issued request to invoke a named capability.
// ID is an opaque token unique within one assistant turn; adapters synthesize
// one when the vendor omits it. Arguments are validated lazily by the capability.
type ToolCallRequest struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolSpec represents a tool definition advertised to an LLM.
type ToolSpec struct {
	Name        string
	Description string
	Schema      ToolSchema
}

// ToolSchema represents the JSON schema for a tool's input parameters.
type ToolSchema struct {
	Type        string
	Properties  map[string]interface{}
	Required    []string
	ExtraFields map[string]interface{} // For any additional schema fields
}

// Usage represents token usage information from an LLM response.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Model describes one selectable model exposed by a provider.
type Model struct {
	ID            string
	Name          string
	ContextWindow int
}

// NewTextMessage creates a new message with text content.
func NewTextMessage(role Role, text string) Message {
	return Message{
		Role:    role,
		Content: text,
	}
}

// NewToolCallMessage creates an assistant message carrying tool calls.
// Empty content with non-empty tool calls is a valid assistant message.
func NewToolCallMessage(content string, calls []ToolCallRequest) Message {
	return Message{
		Role:      RoleAssistant,
		Content:   content,
		ToolCalls: calls,
	}
}

// NewToolResultMessage creates a tool message holding one capability result.
// The content is the serialized result and toolCallID references the
// originating ToolCallRequest.
func NewToolResultMessage(toolCallID, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: toolCallID,
	}
}

// HasToolCalls reports whether the message requests any capability invocations.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// ToJSON marshals a message to JSON for debugging/logging purposes.
func (m Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
