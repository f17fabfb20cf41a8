package ollama

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ollama/ollama/api"

	"github.com/parleyio/parley/llm"
)

// ollamaStream implements the llm.Stream interface for Ollama streaming
// responses. Ollama pushes frames through a callback rather than a pull API,
// so the callback runs on a background goroutine and Next blocks on a
// condition variable until events are buffered.
type ollamaStream struct {
	ctx     context.Context
	client  *api.Client
	req     *api.ChatRequest
	events  []*llm.StreamEvent
	current int
	mu      sync.Mutex
	cond    *sync.Cond
	err     error
	done    bool
	started bool
}

func newOllamaStream(ctx context.Context, client *api.Client, req *api.ChatRequest) *ollamaStream {
	stream := &ollamaStream{
		ctx:     ctx,
		client:  client,
		req:     req,
		events:  make([]*llm.StreamEvent, 0),
		current: -1,
	}
	stream.cond = sync.NewCond(&stream.mu)
	return stream
}

// Next advances to the next event in the stream.
func (s *ollamaStream) Next() bool {
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
func (s *ollamaStream) Event() *llm.StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current < 0 || s.current >= len(s.events) {
		return nil
	}
	return s.events[s.current]
}

// Err returns any error that occurred during streaming.
func (s *ollamaStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close closes the stream and releases resources.
func (s *ollamaStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	s.cond.Broadcast()
	return nil
}

// emit appends one event and wakes any Next waiter. Must be called with s.mu
// held.
func (s *ollamaStream) emit(event *llm.StreamEvent) {
	s.events = append(s.events, event)
	s.cond.Broadcast()
}

// decode runs the chat request and translates callback frames into events.
//
// Ollama delivers tool calls as complete argument maps, not JSON fragments,
// and repeats of the same function within one response merge into the
// previous call. Calls are therefore buffered here and emitted as one fully
// formed ToolCallDelta each when the final frame arrives.
func (s *ollamaStream) decode() {
	var toolOrder []string
	toolArgs := make(map[string]map[string]interface{})

	err := s.client.Chat(s.ctx, s.req, func(resp api.ChatResponse) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.done {
			return s.ctx.Err()
		}

		if resp.Message.Content != "" {
			s.emit(&llm.StreamEvent{
				Type: llm.StreamEventContentDelta,
				Text: resp.Message.Content,
			})
		}

		for _, toolCall := range resp.Message.ToolCalls {
			name := toolCall.Function.Name
			args, seen := toolArgs[name]
			if !seen {
				args = make(map[string]interface{})
				toolArgs[name] = args
				toolOrder = append(toolOrder, name)
			}
			for k, v := range toolCall.Function.Arguments {
				args[k] = v
			}
		}

		if resp.Done {
			for i, name := range toolOrder {
				argsJSON, err := json.Marshal(toolArgs[name])
				if err != nil {
					argsJSON = []byte("{}")
				}
				s.emit(&llm.StreamEvent{
					Type: llm.StreamEventToolCallDelta,
					Tool: &llm.ToolCallDelta{
						Index:     i,
						Name:      name,
						Arguments: string(argsJSON),
					},
				})
			}

			var usage *llm.Usage
			if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
				usage = &llm.Usage{
					InputTokens:  int64(resp.PromptEvalCount),
					OutputTokens: int64(resp.EvalCount),
				}
			}
			s.emit(&llm.StreamEvent{
				Type:  llm.StreamEventDone,
				Usage: usage,
			})
			s.done = true
		}

		return nil
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil && !s.done {
		s.err = convertOllamaError(err)
	}
	s.done = true
	s.cond.Broadcast()
}
