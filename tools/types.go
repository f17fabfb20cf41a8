// Package tools implements the capability layer: typed descriptors for what
// the application can do, a registry that providers publish into, and the
// result type capability executions produce.
//
// A capability failure is data, not control flow. Execution always yields a
// Result; the model decides what to do with a failed one.
package tools

import (
	"encoding/json"

	"github.com/parleyio/parley/llm"
)

// Parameter describes one input of a capability. Order is significant and
// preserved through schema rendering.
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"` // JSON schema type: string, integer, number, boolean, array, object
	Description string      `json:"description,omitempty"`
	Required    bool        `json:"required,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

// Descriptor describes one capability: what it is called, what it does, and
// what it takes. The registry advertises descriptors to LLM backends via
// their llm.ToolSpec rendering.
type Descriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters,omitempty"`
	Returns     string      `json:"returns,omitempty"`
}

// Spec renders the descriptor as the provider-neutral tool spec advertised to
// LLM backends.
func (d Descriptor) Spec() llm.ToolSpec {
	properties := make(map[string]interface{}, len(d.Parameters))
	var required []string
	for _, p := range d.Parameters {
		prop := map[string]interface{}{
			"type": p.Type,
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	return llm.ToolSpec{
		Name:        d.Name,
		Description: d.Description,
		Schema: llm.ToolSchema{
			Type:       "object",
			Properties: properties,
			Required:   required,
		},
	}
}

// Result is the outcome of one capability execution. Exactly one of Data and
// ErrorMessage is meaningful, selected by Success.
type Result struct {
	Success      bool        `json:"success"`
	Data         interface{} `json:"data,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}

// OK creates a successful result carrying data.
func OK(data interface{}) Result {
	return Result{Success: true, Data: data}
}

// Fail creates a failed result carrying a human-readable message.
func Fail(message string) Result {
	return Result{Success: false, ErrorMessage: message}
}

// ToJSON serializes the result for embedding in a role=tool message. A result
// that cannot marshal degrades to a serialization failure result, so the
// conversation always receives valid JSON.
func (r Result) ToJSON() string {
	raw, err := json.Marshal(r)
	if err != nil {
		fallback, _ := json.Marshal(Fail("failed to serialize capability result"))
		return string(fallback)
	}
	return string(raw)
}
