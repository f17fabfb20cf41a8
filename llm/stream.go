package llm

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// StreamEventType represents the type of streaming event.
type StreamEventType string

const (
	// StreamEventContentDelta carries a fragment of assistant text.
	StreamEventContentDelta StreamEventType = "content_delta"
	// StreamEventToolCallDelta carries a fragment of one tool call, keyed by
	// the vendor-assigned index within the response.
	StreamEventToolCallDelta StreamEventType = "tool_call_delta"
	// StreamEventDone terminates the stream. No further events follow.
	StreamEventDone StreamEventType = "done"
)

// StreamEvent represents one decoded frame of a streaming response.
type StreamEvent struct {
	Type  StreamEventType
	Text  string         // For content deltas
	Tool  *ToolCallDelta // For tool call deltas
	Usage *Usage         // Set on the final Done event when the vendor reports it
}

// ToolCallDelta is a partial tool call as delivered by one streaming frame.
// Vendors split a single call's name and arguments across multiple frames;
// fragments for the same index are accumulated until the stream terminates.
type ToolCallDelta struct {
	Index     int
	ID        string // May be empty on continuation frames
	Name      string // May be empty on continuation frames
	Arguments string // Partial JSON fragment, appended in arrival order
}

// ToolCallAccumulator reassembles complete ToolCallRequests from tool-call
// deltas spread across streaming frames. Fragments are buffered by index, so
// interleaved or out-of-order deltas for different calls reconstruct the same
// result as a single-frame delivery.
type ToolCallAccumulator struct {
	pending map[int]*pendingToolCall
	logger  zerolog.Logger
}

type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

// NewToolCallAccumulator creates an empty accumulator.
func NewToolCallAccumulator(logger zerolog.Logger) *ToolCallAccumulator {
	return &ToolCallAccumulator{
		pending: make(map[int]*pendingToolCall),
		logger:  logger,
	}
}

// Add buffers one tool-call delta.
func (a *ToolCallAccumulator) Add(delta *ToolCallDelta) {
	if delta == nil {
		return
	}
	call, ok := a.pending[delta.Index]
	if !ok {
		call = &pendingToolCall{}
		a.pending[delta.Index] = call
	}
	if delta.ID != "" {
		call.id = delta.ID
	}
	if delta.Name != "" {
		call.name = delta.Name
	}
	if delta.Arguments != "" {
		call.args.WriteString(delta.Arguments)
	}
}

// Finish parses every buffered call and returns the completed requests in
// index order. A call whose accumulated arguments are not valid JSON gets an
// empty argument map rather than failing the whole response; a missing id is
// synthesized so downstream tool results can always back-reference the call.
func (a *ToolCallAccumulator) Finish() []ToolCallRequest {
	if len(a.pending) == 0 {
		return nil
	}

	indexes := make([]int, 0, len(a.pending))
	for idx := range a.pending {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]ToolCallRequest, 0, len(indexes))
	for _, idx := range indexes {
		call := a.pending[idx]
		if call.name == "" {
			a.logger.Warn().Int("index", idx).Msg("Discarding tool call fragment with no name")
			continue
		}

		input := make(map[string]interface{})
		if raw := call.args.String(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &input); err != nil {
				a.logger.Warn().Int("index", idx).Str("tool", call.name).Err(err).Msg("Tool call arguments are not valid JSON; passing empty arguments")
				input = make(map[string]interface{})
			}
		}

		id := call.id
		if id == "" {
			id = "call_" + uuid.NewString()
		}

		out = append(out, ToolCallRequest{
			ID:        id,
			Name:      call.name,
			Arguments: input,
		})
	}

	a.pending = make(map[int]*pendingToolCall)
	return out
}

// CollectStream drains a Stream into a final assistant Message, firing
// onDelta for each content fragment as it arrives. Tool-call fragments are
// reassembled through a ToolCallAccumulator. When ctx is cancelled the stream
// is closed, accumulated buffers are discarded, and ctx.Err() is returned.
func CollectStream(ctx context.Context, stream Stream, onDelta DeltaFunc, logger zerolog.Logger) (*Message, error) {
	defer stream.Close() //nolint:errcheck // Close error is not actionable here

	var content strings.Builder
	acc := NewToolCallAccumulator(logger)

	for stream.Next() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		event := stream.Event()
		if event == nil {
			continue
		}

		switch event.Type {
		case StreamEventContentDelta:
			if event.Text != "" {
				content.WriteString(event.Text)
				if onDelta != nil {
					onDelta(event.Text)
				}
			}
		case StreamEventToolCallDelta:
			acc.Add(event.Tool)
		case StreamEventDone:
			// Terminal frame; the loop exits on the next Next().
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msg := NewToolCallMessage(content.String(), acc.Finish())
	return &msg, nil
}
