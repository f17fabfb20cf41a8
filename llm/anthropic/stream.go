package anthropic

import (
	"context"
	"sync"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/rs/zerolog"

	"github.com/parleyio/parley/llm"
)

// anthropicStream implements the llm.Stream interface for Anthropic streaming
// responses. It decodes vendor SSE frames into provider-neutral events on a
// background goroutine; Next blocks on a condition variable until the decoder
// appends the next event.
type anthropicStream struct {
	ctx     context.Context
	stream  *ssestream.Stream[anthropic.MessageStreamEventUnion]
	events  []*llm.StreamEvent
	current int
	mu      sync.Mutex
	cond    *sync.Cond
	err     error
	done    bool
	started bool
	logger  zerolog.Logger
}

func newAnthropicStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], logger zerolog.Logger) *anthropicStream {
	as := &anthropicStream{
		ctx:     ctx,
		stream:  stream,
		events:  make([]*llm.StreamEvent, 0),
		current: -1,
		logger:  logger,
	}
	as.cond = sync.NewCond(&as.mu)
	return as
}

// Next advances to the next event in the stream.
func (s *anthropicStream) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.started = true
		go s.decode()
	}

	s.current++

	for s.current >= len(s.events) && !s.done && s.err == nil {
		s.cond.Wait()
	}

	if s.err != nil {
		return false
	}
	if s.done && s.current >= len(s.events) {
		return false
	}

	return s.current < len(s.events)
}

// Event returns the current event.
func (s *anthropicStream) Event() *llm.StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current < 0 || s.current >= len(s.events) {
		return nil
	}
	return s.events[s.current]
}

// Err returns any error that occurred during streaming.
func (s *anthropicStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close closes the stream and releases resources.
func (s *anthropicStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	s.cond.Broadcast()
	if s.stream != nil {
		return s.stream.Close()
	}
	return nil
}

// emit appends one event and wakes any Next waiter. Must be called with s.mu
// held.
func (s *anthropicStream) emit(event *llm.StreamEvent) {
	s.events = append(s.events, event)
	s.cond.Broadcast()
}

// decode consumes the vendor stream and translates each frame.
//
// Anthropic interleaves tool calls as content blocks: content_block_start
// carries the call id and name, the input arrives as input_json_delta
// fragments on the same block index, and content_block_stop closes the block.
// We forward each fragment as a ToolCallDelta keyed by the block index and let
// the accumulator assemble the final call.
func (s *anthropicStream) decode() {
	var usage *llm.Usage

	for s.stream.Next() {
		if err := s.ctx.Err(); err != nil {
			s.mu.Lock()
			s.err = err
			s.done = true
			s.cond.Broadcast()
			s.mu.Unlock()
			return
		}

		event := s.stream.Current()

		s.mu.Lock()

		switch evt := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			// Nothing to forward; the first delta carries the payload.

		case anthropic.ContentBlockStartEvent:
			if block, ok := evt.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				s.emit(&llm.StreamEvent{
					Type: llm.StreamEventToolCallDelta,
					Tool: &llm.ToolCallDelta{
						Index: int(evt.Index),
						ID:    block.ID,
						Name:  block.Name,
					},
				})
			}

		case anthropic.ContentBlockDeltaEvent:
			switch d := evt.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if d.Text != "" {
					s.emit(&llm.StreamEvent{
						Type: llm.StreamEventContentDelta,
						Text: d.Text,
					})
				}
			case anthropic.InputJSONDelta:
				if d.PartialJSON != "" {
					s.emit(&llm.StreamEvent{
						Type: llm.StreamEventToolCallDelta,
						Tool: &llm.ToolCallDelta{
							Index:     int(evt.Index),
							Arguments: d.PartialJSON,
						},
					})
				}
			}

		case anthropic.ContentBlockStopEvent:
			// The accumulator finalizes per-index state when the stream ends.

		case anthropic.MessageDeltaEvent:
			usage = &llm.Usage{
				InputTokens:  evt.Usage.InputTokens,
				OutputTokens: evt.Usage.OutputTokens,
			}

		case anthropic.MessageStopEvent:
			s.emit(&llm.StreamEvent{
				Type:  llm.StreamEventDone,
				Usage: usage,
			})
			s.done = true
			s.cond.Broadcast()
			s.mu.Unlock()
			return
		}

		s.mu.Unlock()
	}

	if err := s.stream.Err(); err != nil {
		s.mu.Lock()
		s.err = convertAnthropicError(err)
		s.done = true
		s.cond.Broadcast()
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if !s.done {
		s.done = true
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}
