package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestAccumulatorReassemblesFragments(t *testing.T) {
	acc := NewToolCallAccumulator(zerolog.Nop())

	// Name and id arrive first, arguments split across two frames.
	acc.Add(&ToolCallDelta{Index: 0, ID: "call-1", Name: "get_weather"})
	acc.Add(&ToolCallDelta{Index: 0, Arguments: `{"city":`})
	acc.Add(&ToolCallDelta{Index: 0, Arguments: `"Paris"}`})

	calls := acc.Finish()
	if len(calls) != 1 {
		t.Fatalf("Expected 1 call, got %d", len(calls))
	}
	if calls[0].ID != "call-1" || calls[0].Name != "get_weather" {
		t.Errorf("Unexpected call identity: %+v", calls[0])
	}
	if calls[0].Arguments["city"] != "Paris" {
		t.Errorf("Expected city=Paris, got %v", calls[0].Arguments)
	}
}

func TestAccumulatorOrderIndependent(t *testing.T) {
	// The same three fragments in two arrival orders must reconstruct the
	// same call.
	fragments := []*ToolCallDelta{
		{Index: 0, ID: "call-1", Name: "search"},
		{Index: 0, Arguments: `{"q":`},
		{Index: 0, Arguments: `"go"}`},
	}

	first := NewToolCallAccumulator(zerolog.Nop())
	for _, f := range fragments {
		first.Add(f)
	}

	second := NewToolCallAccumulator(zerolog.Nop())
	second.Add(fragments[1])
	second.Add(fragments[0])
	second.Add(fragments[2])

	a, b := first.Finish(), second.Finish()
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("Expected 1 call from each order, got %d and %d", len(a), len(b))
	}
	if a[0].Name != b[0].Name || a[0].Arguments["q"] != b[0].Arguments["q"] {
		t.Errorf("Arrival order changed the result: %+v vs %+v", a[0], b[0])
	}
}

func TestAccumulatorInterleavedCalls(t *testing.T) {
	acc := NewToolCallAccumulator(zerolog.Nop())
	acc.Add(&ToolCallDelta{Index: 1, ID: "call-b", Name: "second"})
	acc.Add(&ToolCallDelta{Index: 0, ID: "call-a", Name: "first"})
	acc.Add(&ToolCallDelta{Index: 1, Arguments: `{}`})
	acc.Add(&ToolCallDelta{Index: 0, Arguments: `{}`})

	calls := acc.Finish()
	if len(calls) != 2 {
		t.Fatalf("Expected 2 calls, got %d", len(calls))
	}
	if calls[0].Name != "first" || calls[1].Name != "second" {
		t.Errorf("Calls not in index order: %v, %v", calls[0].Name, calls[1].Name)
	}
}

func TestAccumulatorSynthesizesMissingID(t *testing.T) {
	acc := NewToolCallAccumulator(zerolog.Nop())
	acc.Add(&ToolCallDelta{Index: 0, Name: "lookup", Arguments: `{}`})

	calls := acc.Finish()
	if len(calls) != 1 {
		t.Fatalf("Expected 1 call, got %d", len(calls))
	}
	if !strings.HasPrefix(calls[0].ID, "call_") {
		t.Errorf("Expected synthesized id with call_ prefix, got %q", calls[0].ID)
	}
}

func TestAccumulatorInvalidJSONYieldsEmptyArguments(t *testing.T) {
	acc := NewToolCallAccumulator(zerolog.Nop())
	acc.Add(&ToolCallDelta{Index: 0, ID: "call-1", Name: "lookup", Arguments: `{"q": "unterminated`})

	calls := acc.Finish()
	if len(calls) != 1 {
		t.Fatalf("Expected the call to survive invalid JSON, got %d calls", len(calls))
	}
	if len(calls[0].Arguments) != 0 {
		t.Errorf("Expected empty arguments for invalid JSON, got %v", calls[0].Arguments)
	}
}

func TestAccumulatorDiscardsNamelessFragments(t *testing.T) {
	acc := NewToolCallAccumulator(zerolog.Nop())
	acc.Add(&ToolCallDelta{Index: 0, Arguments: `{"orphan":true}`})
	acc.Add(&ToolCallDelta{Index: 1, ID: "call-1", Name: "real", Arguments: `{}`})

	calls := acc.Finish()
	if len(calls) != 1 || calls[0].Name != "real" {
		t.Errorf("Expected only the named call, got %+v", calls)
	}
}

// fakeStream plays back a fixed event sequence.
type fakeStream struct {
	events []*StreamEvent
	pos    int
	err    error
	closed bool
}

func (s *fakeStream) Next() bool {
	if s.pos >= len(s.events) {
		return false
	}
	s.pos++
	return true
}

func (s *fakeStream) Event() *StreamEvent { return s.events[s.pos-1] }
func (s *fakeStream) Err() error          { return s.err }
func (s *fakeStream) Close() error        { s.closed = true; return nil }

func TestCollectStream(t *testing.T) {
	stream := &fakeStream{events: []*StreamEvent{
		{Type: StreamEventContentDelta, Text: "Hel"},
		{Type: StreamEventContentDelta, Text: "lo"},
		{Type: StreamEventToolCallDelta, Tool: &ToolCallDelta{Index: 0, ID: "call-1", Name: "lookup"}},
		{Type: StreamEventToolCallDelta, Tool: &ToolCallDelta{Index: 0, Arguments: `{"q":"go"}`}},
		{Type: StreamEventDone},
	}}

	var deltas []string
	msg, err := CollectStream(context.Background(), stream, func(text string) {
		deltas = append(deltas, text)
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("CollectStream failed: %v", err)
	}

	if msg.Content != "Hello" {
		t.Errorf("Expected content 'Hello', got %q", msg.Content)
	}
	if strings.Join(deltas, "") != "Hello" {
		t.Errorf("Deltas did not concatenate to the final content: %v", deltas)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Name != "lookup" {
		t.Errorf("Expected the reassembled tool call, got %+v", msg.ToolCalls)
	}
	if !stream.closed {
		t.Error("Expected the stream to be closed")
	}
}

func TestCollectStreamCancellation(t *testing.T) {
	stream := &fakeStream{events: []*StreamEvent{
		{Type: StreamEventContentDelta, Text: "partial"},
		{Type: StreamEventContentDelta, Text: " text"},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg, err := CollectStream(ctx, stream, nil, zerolog.Nop())
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if msg != nil {
		t.Error("Expected no message after cancellation")
	}
	if !stream.closed {
		t.Error("Expected the stream to be closed after cancellation")
	}
}

func TestCollectStreamSurfacesStreamError(t *testing.T) {
	wireErr := NewTransportError("anthropic", "connection reset", nil)
	stream := &fakeStream{
		events: []*StreamEvent{{Type: StreamEventContentDelta, Text: "par"}},
		err:    wireErr,
	}

	_, err := CollectStream(context.Background(), stream, nil, zerolog.Nop())
	if !IsTransportError(err) {
		t.Errorf("Expected the stream error to surface, got %v", err)
	}
}
