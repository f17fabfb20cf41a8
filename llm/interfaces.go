package llm

import (
	"context"
)

// Provider is the provider-neutral interface for driving one LLM backend.
// Implementations handle vendor-specific wire formats internally; callers see
// only the shared conversation model.
type Provider interface {
	// Name returns the provider identifier, e.g. "anthropic".
	Name() string

	// Profile returns the provider's capability profile, including the
	// currently selected model.
	Profile() *Profile

	// Initialize loads credential state and may refresh the available model
	// list. It must be called once before the send methods.
	Initialize(ctx context.Context) error

	// SetAPIKey replaces the provider's credential.
	SetAPIKey(key string)

	// SendMessage sends the conversation and returns the complete assistant
	// response. Fails with an auth error when no valid credential is
	// configured, a transport error on network failure, and a protocol error
	// when the response cannot be parsed into a Message.
	SendMessage(ctx context.Context, msgs []Message, system string) (*Message, error)

	// SendMessageStreaming sends the conversation and invokes onDelta zero or
	// more times with partial text before returning the final assembled
	// Message. Cancelling ctx stops the network read and further callbacks.
	// onDelta runs on the transport goroutine and must not block for
	// unbounded time.
	SendMessageStreaming(ctx context.Context, msgs []Message, system string, onDelta DeltaFunc) (*Message, error)

	// SendMessageWithTools attaches the capability set, translated into the
	// vendor's schema representation. Fails with an unsupported-capability
	// error when the selected model's profile reports SupportsToolCalls=false.
	// A response with no text and only tool calls is a valid Message.
	SendMessageWithTools(ctx context.Context, msgs []Message, specs []ToolSpec, system string) (*Message, error)

	// FetchAvailableModels returns the models the backend currently offers.
	// Discovery is advisory: on failure the previously cached list is
	// returned rather than an error.
	FetchAvailableModels(ctx context.Context) []Model
}

// DeltaFunc receives incremental text as it arrives from a streaming response.
type DeltaFunc func(text string)

// Stream represents a streaming response from an LLM. It is forward-only and
// may be consumed exactly once.
type Stream interface {
	// Next advances to the next event in the stream.
	// Returns false when the stream is complete or an error occurs.
	Next() bool

	// Event returns the current event.
	// Should only be called after Next() returns true.
	Event() *StreamEvent

	// Err returns any error that occurred during streaming.
	Err() error

	// Close closes the stream and releases resources.
	Close() error
}
