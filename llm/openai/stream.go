package openai

import (
	"context"
	"errors"
	"io"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/parleyio/parley/llm"
)

// openaiStream implements the llm.Stream interface for OpenAI streaming
// responses. It decodes vendor chunks into provider-neutral events on a
// background goroutine; Next blocks on a condition variable until the decoder
// appends the next event, so callers observe deltas as they arrive on the
// wire.
type openaiStream struct {
	ctx     context.Context
	stream  *openai.ChatCompletionStream
	events  []*llm.StreamEvent
	current int
	mu      sync.Mutex
	cond    *sync.Cond
	err     error
	done    bool
	started bool
}

func newOpenAIStream(ctx context.Context, stream *openai.ChatCompletionStream) *openaiStream {
	s := &openaiStream{
		ctx:     ctx,
		stream:  stream,
		events:  make([]*llm.StreamEvent, 0),
		current: -1,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Next advances to the next event in the stream.
func (s *openaiStream) Next() bool {
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
func (s *openaiStream) Event() *llm.StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current < 0 || s.current >= len(s.events) {
		return nil
	}
	return s.events[s.current]
}

// Err returns any error that occurred during streaming.
func (s *openaiStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close closes the stream and releases resources.
func (s *openaiStream) Close() error {
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
func (s *openaiStream) emit(event *llm.StreamEvent) {
	s.events = append(s.events, event)
	s.cond.Broadcast()
}

// fail records the error and wakes waiters. Must be called with s.mu held.
func (s *openaiStream) fail(err error) {
	s.err = err
	s.done = true
	s.cond.Broadcast()
}

// decode consumes the vendor stream and translates each chunk.
//
// OpenAI delivers tool calls as indexed deltas: the first frame for an index
// carries the id and function name, later frames append argument fragments.
// Each frame is forwarded as a ToolCallDelta for the accumulator.
func (s *openaiStream) decode() {
	var usage *llm.Usage

	for {
		if err := s.ctx.Err(); err != nil {
			s.mu.Lock()
			s.fail(err)
			s.mu.Unlock()
			return
		}

		response, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			s.mu.Lock()
			s.fail(convertOpenAIError(err))
			s.mu.Unlock()
			return
		}

		s.mu.Lock()

		// With IncludeUsage the usage arrives in a trailing chunk that
		// carries no choices.
		if response.Usage != nil && response.Usage.TotalTokens > 0 {
			usage = &llm.Usage{
				InputTokens:  int64(response.Usage.PromptTokens),
				OutputTokens: int64(response.Usage.CompletionTokens),
			}
		}

		if len(response.Choices) == 0 {
			s.mu.Unlock()
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			s.emit(&llm.StreamEvent{
				Type: llm.StreamEventContentDelta,
				Text: choice.Delta.Content,
			})
		}

		for _, toolCallDelta := range choice.Delta.ToolCalls {
			index := 0
			if toolCallDelta.Index != nil {
				index = *toolCallDelta.Index
			}
			s.emit(&llm.StreamEvent{
				Type: llm.StreamEventToolCallDelta,
				Tool: &llm.ToolCallDelta{
					Index:     index,
					ID:        toolCallDelta.ID,
					Name:      toolCallDelta.Function.Name,
					Arguments: toolCallDelta.Function.Arguments,
				},
			})
		}

		s.mu.Unlock()
	}

	// Done is emitted at EOF rather than at finish_reason so the trailing
	// usage chunk is included.
	s.mu.Lock()
	if !s.done {
		s.emit(&llm.StreamEvent{
			Type:  llm.StreamEventDone,
			Usage: usage,
		})
		s.done = true
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}
