package llm

import (
	"errors"
	"fmt"
)

// Error represents a provider-neutral LLM error.
type Error struct {
	Type        ErrorType
	Provider    string // Provider name, e.g. "anthropic"
	Capability  string // Capability name for tool-related failures, if any
	Message     string
	Retryable   bool
	StatusCode  int   // Vendor HTTP status code where applicable
	ProviderErr error // Original provider-specific error
}

// ErrorType represents the category of error.
type ErrorType string

const (
	// ErrorTypeAuth is a missing or invalid credential. Fatal, never retried.
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeTransport is a network or timeout failure. Retried once at the gateway.
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeProtocol is an unexpected response shape. Surfaced, never retried.
	ErrorTypeProtocol ErrorType = "protocol"
	// ErrorTypeUnsupportedCapability means the selected model cannot do what was asked.
	ErrorTypeUnsupportedCapability ErrorType = "unsupported_capability"
	// ErrorTypeProvider is a vendor-side failure that fits no narrower category.
	ErrorTypeProvider ErrorType = "provider"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Provider != "" {
		msg = fmt.Sprintf("%s: %s", e.Provider, msg)
	}
	if e.ProviderErr != nil {
		return msg + ": " + e.ProviderErr.Error()
	}
	return msg
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

// IsAuthError checks if an error is an authentication/credential error.
func IsAuthError(err error) bool {
	return isErrorType(err, ErrorTypeAuth)
}

// IsTransportError checks if an error is a network/timeout error.
func IsTransportError(err error) bool {
	return isErrorType(err, ErrorTypeTransport)
}

// IsProtocolError checks if an error is an unexpected-response-shape error.
func IsProtocolError(err error) bool {
	return isErrorType(err, ErrorTypeProtocol)
}

// IsUnsupportedCapabilityError checks if an error reports a model/provider
// that cannot perform the requested operation.
func IsUnsupportedCapabilityError(err error) bool {
	return isErrorType(err, ErrorTypeUnsupportedCapability)
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

func isErrorType(err error, t ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == t
	}
	return false
}

// NewAuthError creates a new authentication error for a provider.
func NewAuthError(provider, message string) *Error {
	return &Error{
		Type:     ErrorTypeAuth,
		Provider: provider,
		Message:  message,
	}
}

// NewTransportError creates a new transport error wrapping a network failure.
func NewTransportError(provider, message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeTransport,
		Provider:    provider,
		Message:     message,
		Retryable:   true,
		ProviderErr: providerErr,
	}
}

// NewProtocolError creates a new protocol error for an unparseable response.
func NewProtocolError(provider, message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeProtocol,
		Provider:    provider,
		Message:     message,
		ProviderErr: providerErr,
	}
}

// NewUnsupportedCapabilityError creates an error for an operation the
// provider's selected model cannot perform.
func NewUnsupportedCapabilityError(provider, capability, message string) *Error {
	return &Error{
		Type:       ErrorTypeUnsupportedCapability,
		Provider:   provider,
		Capability: capability,
		Message:    message,
	}
}

// NewProviderError creates a new generic provider error.
func NewProviderError(provider, message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeProvider,
		Provider:    provider,
		Message:     message,
		ProviderErr: providerErr,
	}
}
