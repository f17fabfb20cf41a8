// Package gateway ties the conversation model, a provider adapter, and the
// capability layer into one bounded tool-calling loop. The caller hands in a
// conversation and gets back the extended conversation; persistence stays on
// the caller's side.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/parleyio/parley/llm"
	"github.com/parleyio/parley/tools"
)

// DefaultMaxToolIterations bounds how many provider round trips one Converse
// call may spend resolving tool calls.
const DefaultMaxToolIterations = 8

// ErrToolLoopLimit is returned when the model keeps issuing tool calls past
// the iteration budget.
var ErrToolLoopLimit = errors.New("tool loop exceeded maximum iterations")

// Executor runs one capability remotely. *toolserver.Server implements it;
// when configured it takes precedence over in-process registry execution.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]interface{}) (tools.Result, error)
}

// Options tunes one Converse call.
type Options struct {
	// System is the system prompt for every provider round trip.
	System string
	// OnDelta receives streaming text fragments. Streaming is only used for
	// the no-capability path; tool rounds are synchronous.
	OnDelta llm.DeltaFunc
	// MaxToolIterations overrides DefaultMaxToolIterations when positive.
	MaxToolIterations int
}

// Gateway drives conversations against one provider with the capability
// catalog of one registry. Safe for concurrent Converse calls.
type Gateway struct {
	registry *tools.Registry
	remote   Executor
	logger   zerolog.Logger
}

// New creates a Gateway. The registry may be nil, which disables tool calls
// entirely.
func New(registry *tools.Registry, logger zerolog.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		logger:   logger.With().Str("component", "gateway").Logger(),
	}
}

// WithRemote routes capability execution through a remote executor, typically
// a managed tool server, instead of the in-process registry.
func (g *Gateway) WithRemote(remote Executor) *Gateway {
	g.remote = remote
	return g
}

// Converse sends the conversation to the provider and resolves any tool calls
// it issues, feeding results back until the model answers with plain text or
// the iteration budget runs out. The returned slice is the input conversation
// plus every message produced along the way; the input slice is not mutated.
//
// Auth and unsupported-capability errors abort immediately and are returned
// unmodified. A transport error on a provider call is retried exactly once
// before being surfaced. A capability failure never aborts: it is serialized
// into a role=tool message and the model decides how to proceed.
func (g *Gateway) Converse(ctx context.Context, provider llm.Provider, conversation []llm.Message, opts Options) ([]llm.Message, error) {
	msgs := make([]llm.Message, len(conversation), len(conversation)+4)
	copy(msgs, conversation)

	var specs []llm.ToolSpec
	if g.registry != nil {
		specs = g.registry.Specs()
	}

	if len(specs) == 0 {
		resp, err := g.callProvider(ctx, func(ctx context.Context) (*llm.Message, error) {
			if opts.OnDelta != nil && provider.Profile().SupportsStreaming {
				return provider.SendMessageStreaming(ctx, msgs, opts.System, opts.OnDelta)
			}
			return provider.SendMessage(ctx, msgs, opts.System)
		})
		if err != nil {
			return nil, err
		}
		return append(msgs, *resp), nil
	}

	maxIterations := opts.MaxToolIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxToolIterations
	}

	for iteration := 1; iteration <= maxIterations; iteration++ {
		g.logger.Debug().
			Int("iteration", iteration).
			Int("messages", len(msgs)).
			Int("capabilities", len(specs)).
			Str("provider", provider.Name()).
			Msg("Calling provider")

		resp, err := g.callProvider(ctx, func(ctx context.Context) (*llm.Message, error) {
			return provider.SendMessageWithTools(ctx, msgs, specs, opts.System)
		})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *resp)

		if !resp.HasToolCalls() {
			return msgs, nil
		}

		for _, call := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			result := g.execute(ctx, call)
			msgs = append(msgs, llm.NewToolResultMessage(call.ID, result.ToJSON()))
		}
	}

	return nil, ErrToolLoopLimit
}

// execute dispatches one tool call through the remote executor when
// configured, falling back to the in-process registry. Infrastructure
// failures become failed results so the conversation keeps its shape.
func (g *Gateway) execute(ctx context.Context, call llm.ToolCallRequest) tools.Result {
	g.logger.Debug().Str("capability", call.Name).Str("call_id", call.ID).Msg("Executing tool call")

	if g.remote != nil {
		result, err := g.remote.Execute(ctx, call.Name, call.Arguments)
		if err != nil {
			g.logger.Warn().Str("capability", call.Name).Err(err).Msg("Remote execution failed")
			return tools.Fail("remote execution failed: " + err.Error())
		}
		return result
	}

	return g.registry.Execute(ctx, call.Name, call.Arguments)
}

// callProvider applies the gateway's retry policy: one retry on transport
// errors with a short exponential backoff, everything else surfaced as-is.
func (g *Gateway) callProvider(ctx context.Context, call func(context.Context) (*llm.Message, error)) (*llm.Message, error) {
	var resp *llm.Message

	operation := func() error {
		var err error
		resp, err = call(ctx)
		if err == nil {
			return nil
		}
		if llm.IsTransportError(err) {
			g.logger.Warn().Err(err).Msg("Transport error from provider, retrying once")
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newRetryBackOff(), 1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return nil, permanent.Err
		}
		return nil, err
	}
	return resp, nil
}

func newRetryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}
