// Package llm provides a provider-neutral abstraction layer for Large Language Model (LLM) APIs.
//
// This package defines the common conversation model, the Provider interface, and the
// streaming event model that allow the gateway to work with multiple LLM backends
// (Anthropic, OpenAI, Ollama, ...) without being tightly coupled to any specific
// vendor SDK.
//
// # Core Concepts
//
//  1. Messages: the Message type represents one conversation message with a role
//     (system, user, assistant, tool), text content, and any tool calls the
//     assistant issued. A conversation is an append-only []Message owned by the
//     caller; this package never persists it.
//
//  2. Tool calls: ToolCallRequest is the normalized form of a vendor function/tool
//     invocation. Adapters translate vendor-specific shapes (delta arrays,
//     single-block call objects, inline call parts) into this one record, and the
//     shared ToolCallAccumulator reassembles calls whose arguments arrive split
//     across streaming frames.
//
//  3. Provider interface: one implementation per backend. SendMessage is the
//     non-streaming call, SendMessageStreaming delivers text deltas through a
//     callback, and SendMessageWithTools attaches the advertised tool schemas.
//     Each provider owns a Profile describing its static capabilities and the
//     currently selected model.
//
//  4. Streams: the Stream interface is a forward-only, single-consumption
//     iterator over StreamEvent values. CollectStream assembles the final
//     Message from a stream, firing the caller's delta callback as text arrives.
//
//  5. Errors: the Error type provides provider-neutral error handling. The
//     taxonomy distinguishes auth, transport, protocol, and unsupported-capability
//     failures; every error carries the provider name and vendor status code
//     where applicable.
//
// To add a new LLM provider:
//  1. Implement the Provider interface in a subpackage.
//  2. Translate between vendor types and llm package types in an adapter file.
//  3. Wrap the vendor's incremental response in the Stream interface.
//  4. Convert vendor errors to llm.Error values with the right ErrorType.
package llm
