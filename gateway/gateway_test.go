package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/parleyio/parley/llm"
	"github.com/parleyio/parley/tools"
)

// scriptedProvider returns pre-scripted responses, or errors, in order.
type scriptedProvider struct {
	profile   *llm.Profile
	responses []llm.Message
	errs      []error
	calls     int
	lastSpecs []llm.ToolSpec
}

func newScriptedProvider(responses []llm.Message, errs []error) *scriptedProvider {
	profile := llm.NewProfile("scripted", "test-model", []llm.Model{{ID: "test-model"}})
	profile.SupportsStreaming = true
	profile.SupportsToolCalls = true
	return &scriptedProvider{profile: profile, responses: responses, errs: errs}
}

func (p *scriptedProvider) Name() string                      { return "scripted" }
func (p *scriptedProvider) Profile() *llm.Profile             { return p.profile }
func (p *scriptedProvider) Initialize(context.Context) error  { return nil }
func (p *scriptedProvider) SetAPIKey(string)                  {}
func (p *scriptedProvider) FetchAvailableModels(context.Context) []llm.Model {
	return p.profile.AvailableModels()
}

func (p *scriptedProvider) next() (*llm.Message, error) {
	idx := p.calls
	p.calls++
	if idx < len(p.errs) && p.errs[idx] != nil {
		return nil, p.errs[idx]
	}
	if idx >= len(p.responses) {
		return nil, errors.New("script exhausted")
	}
	resp := p.responses[idx]
	return &resp, nil
}

func (p *scriptedProvider) SendMessage(ctx context.Context, msgs []llm.Message, system string) (*llm.Message, error) {
	return p.next()
}

func (p *scriptedProvider) SendMessageStreaming(ctx context.Context, msgs []llm.Message, system string, onDelta llm.DeltaFunc) (*llm.Message, error) {
	resp, err := p.next()
	if err != nil {
		return nil, err
	}
	if onDelta != nil && resp.Content != "" {
		onDelta(resp.Content)
	}
	return resp, nil
}

func (p *scriptedProvider) SendMessageWithTools(ctx context.Context, msgs []llm.Message, specs []llm.ToolSpec, system string) (*llm.Message, error) {
	p.lastSpecs = specs
	return p.next()
}

// countingProvider serves one capability and records invocations.
type countingProvider struct {
	executions int
	fail       bool
}

func (p *countingProvider) ProviderName() string             { return "counting" }
func (p *countingProvider) Initialize(context.Context) error { return nil }
func (p *countingProvider) ListCapabilities() []tools.Descriptor {
	return []tools.Descriptor{{Name: "lookup", Description: "looks things up"}}
}
func (p *countingProvider) Execute(ctx context.Context, name string, args map[string]interface{}) tools.Result {
	p.executions++
	if p.fail {
		return tools.Fail("lookup backend unavailable")
	}
	return tools.OK(map[string]interface{}{"value": 42})
}

func newTestRegistry(t *testing.T, provider tools.Provider) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry(zerolog.Nop())
	if err := registry.Register(provider); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return registry
}

func TestConverseWithoutCapabilities(t *testing.T) {
	provider := newScriptedProvider([]llm.Message{
		llm.NewTextMessage(llm.RoleAssistant, "hello back"),
	}, nil)
	gw := New(nil, zerolog.Nop())

	input := []llm.Message{llm.NewTextMessage(llm.RoleUser, "hello")}
	out, err := gw.Converse(context.Background(), provider, input, Options{})
	if err != nil {
		t.Fatalf("Converse failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(out))
	}
	if out[1].Content != "hello back" {
		t.Errorf("Unexpected response: %q", out[1].Content)
	}
	if len(input) != 1 {
		t.Error("Input conversation was mutated")
	}
}

func TestConverseStreamsWhenSupported(t *testing.T) {
	provider := newScriptedProvider([]llm.Message{
		llm.NewTextMessage(llm.RoleAssistant, "streamed"),
	}, nil)
	gw := New(nil, zerolog.Nop())

	var deltas []string
	_, err := gw.Converse(context.Background(), provider,
		[]llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")},
		Options{OnDelta: func(text string) { deltas = append(deltas, text) }})
	if err != nil {
		t.Fatalf("Converse failed: %v", err)
	}
	if strings.Join(deltas, "") != "streamed" {
		t.Errorf("Expected streaming callback, got %v", deltas)
	}
}

func TestConverseToolLoop(t *testing.T) {
	capability := &countingProvider{}
	registry := newTestRegistry(t, capability)

	provider := newScriptedProvider([]llm.Message{
		llm.NewToolCallMessage("", []llm.ToolCallRequest{
			{ID: "call-1", Name: "lookup", Arguments: map[string]interface{}{"q": "a"}},
			{ID: "call-2", Name: "lookup", Arguments: map[string]interface{}{"q": "b"}},
		}),
		llm.NewTextMessage(llm.RoleAssistant, "the answer is 42"),
	}, nil)

	gw := New(registry, zerolog.Nop())
	out, err := gw.Converse(context.Background(), provider,
		[]llm.Message{llm.NewTextMessage(llm.RoleUser, "look it up")}, Options{})
	if err != nil {
		t.Fatalf("Converse failed: %v", err)
	}

	// user, assistant(calls), tool, tool, assistant(text)
	if len(out) != 5 {
		t.Fatalf("Expected 5 messages, got %d", len(out))
	}
	if out[2].Role != llm.RoleTool || out[2].ToolCallID != "call-1" {
		t.Errorf("Unexpected first result message: %+v", out[2])
	}
	if out[3].Role != llm.RoleTool || out[3].ToolCallID != "call-2" {
		t.Errorf("Unexpected second result message: %+v", out[3])
	}
	if out[4].Content != "the answer is 42" {
		t.Errorf("Unexpected final message: %q", out[4].Content)
	}
	if capability.executions != 2 {
		t.Errorf("Expected 2 executions, got %d", capability.executions)
	}
	if len(provider.lastSpecs) != 1 || provider.lastSpecs[0].Name != "lookup" {
		t.Errorf("Capability catalog not advertised: %+v", provider.lastSpecs)
	}
}

func TestConverseCapabilityFailureContinues(t *testing.T) {
	capability := &countingProvider{fail: true}
	registry := newTestRegistry(t, capability)

	provider := newScriptedProvider([]llm.Message{
		llm.NewToolCallMessage("", []llm.ToolCallRequest{
			{ID: "call-1", Name: "lookup", Arguments: map[string]interface{}{}},
		}),
		llm.NewTextMessage(llm.RoleAssistant, "the lookup failed, sorry"),
	}, nil)

	gw := New(registry, zerolog.Nop())
	out, err := gw.Converse(context.Background(), provider,
		[]llm.Message{llm.NewTextMessage(llm.RoleUser, "look it up")}, Options{})
	if err != nil {
		t.Fatalf("Capability failure must not abort the conversation: %v", err)
	}

	// The failure travels as data inside the tool message.
	toolMsg := out[2]
	if toolMsg.Role != llm.RoleTool {
		t.Fatalf("Expected tool message, got %s", toolMsg.Role)
	}
	if !strings.Contains(toolMsg.Content, `"success":false`) {
		t.Errorf("Expected serialized failure, got %q", toolMsg.Content)
	}
	if out[len(out)-1].Content != "the lookup failed, sorry" {
		t.Errorf("Model did not get to respond to the failure: %+v", out[len(out)-1])
	}
}

func TestConverseLoopLimit(t *testing.T) {
	capability := &countingProvider{}
	registry := newTestRegistry(t, capability)

	// The model keeps asking for the same tool forever.
	endless := make([]llm.Message, 10)
	for i := range endless {
		endless[i] = llm.NewToolCallMessage("", []llm.ToolCallRequest{
			{ID: "call", Name: "lookup", Arguments: map[string]interface{}{}},
		})
	}

	provider := newScriptedProvider(endless, nil)
	gw := New(registry, zerolog.Nop())
	_, err := gw.Converse(context.Background(), provider,
		[]llm.Message{llm.NewTextMessage(llm.RoleUser, "go")},
		Options{MaxToolIterations: 3})
	if !errors.Is(err, ErrToolLoopLimit) {
		t.Fatalf("Expected ErrToolLoopLimit, got %v", err)
	}
	if provider.calls != 3 {
		t.Errorf("Expected exactly 3 provider calls, got %d", provider.calls)
	}
}

func TestConverseRetriesTransportOnce(t *testing.T) {
	provider := newScriptedProvider([]llm.Message{
		{}, // consumed by the first errored call
		llm.NewTextMessage(llm.RoleAssistant, "recovered"),
	}, []error{
		llm.NewTransportError("scripted", "connection reset", nil),
	})

	gw := New(nil, zerolog.Nop())
	out, err := gw.Converse(context.Background(), provider,
		[]llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}, Options{})
	if err != nil {
		t.Fatalf("Expected retry to recover, got %v", err)
	}
	if out[len(out)-1].Content != "recovered" {
		t.Errorf("Unexpected response: %q", out[len(out)-1].Content)
	}
	if provider.calls != 2 {
		t.Errorf("Expected 2 calls (original plus retry), got %d", provider.calls)
	}
}

func TestConverseTransportFailsAfterRetry(t *testing.T) {
	provider := newScriptedProvider(nil, []error{
		llm.NewTransportError("scripted", "connection reset", nil),
		llm.NewTransportError("scripted", "connection reset", nil),
	})

	gw := New(nil, zerolog.Nop())
	_, err := gw.Converse(context.Background(), provider,
		[]llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}, Options{})
	if !llm.IsTransportError(err) {
		t.Fatalf("Expected transport error after exhausted retry, got %v", err)
	}
	if provider.calls != 2 {
		t.Errorf("Expected exactly 2 calls, got %d", provider.calls)
	}
}

func TestConverseAuthErrorAbortsImmediately(t *testing.T) {
	provider := newScriptedProvider(nil, []error{
		llm.NewAuthError("scripted", "invalid key"),
	})

	gw := New(nil, zerolog.Nop())
	_, err := gw.Converse(context.Background(), provider,
		[]llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}, Options{})
	if !llm.IsAuthError(err) {
		t.Fatalf("Expected auth error, got %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("Auth errors must not be retried, got %d calls", provider.calls)
	}
}

type fixedRemote struct {
	result tools.Result
	err    error
	calls  int
}

func (r *fixedRemote) Execute(ctx context.Context, name string, args map[string]interface{}) (tools.Result, error) {
	r.calls++
	return r.result, r.err
}

func TestConverseRemoteExecutor(t *testing.T) {
	capability := &countingProvider{}
	registry := newTestRegistry(t, capability)
	remote := &fixedRemote{result: tools.OK(map[string]interface{}{"remote": true})}

	provider := newScriptedProvider([]llm.Message{
		llm.NewToolCallMessage("", []llm.ToolCallRequest{
			{ID: "call-1", Name: "lookup", Arguments: map[string]interface{}{}},
		}),
		llm.NewTextMessage(llm.RoleAssistant, "done"),
	}, nil)

	gw := New(registry, zerolog.Nop()).WithRemote(remote)
	_, err := gw.Converse(context.Background(), provider,
		[]llm.Message{llm.NewTextMessage(llm.RoleUser, "go")}, Options{})
	if err != nil {
		t.Fatalf("Converse failed: %v", err)
	}
	if remote.calls != 1 {
		t.Errorf("Expected remote execution, got %d calls", remote.calls)
	}
	if capability.executions != 0 {
		t.Errorf("In-process registry must not run when a remote is configured, got %d", capability.executions)
	}
}

func TestConverseRemoteErrorBecomesFailedResult(t *testing.T) {
	registry := newTestRegistry(t, &countingProvider{})
	remote := &fixedRemote{err: llm.NewTransportError("toolserver", "server down", nil)}

	provider := newScriptedProvider([]llm.Message{
		llm.NewToolCallMessage("", []llm.ToolCallRequest{
			{ID: "call-1", Name: "lookup", Arguments: map[string]interface{}{}},
		}),
		llm.NewTextMessage(llm.RoleAssistant, "acknowledged the outage"),
	}, nil)

	gw := New(registry, zerolog.Nop()).WithRemote(remote)
	out, err := gw.Converse(context.Background(), provider,
		[]llm.Message{llm.NewTextMessage(llm.RoleUser, "go")}, Options{})
	if err != nil {
		t.Fatalf("Remote infrastructure failure must not abort: %v", err)
	}
	if !strings.Contains(out[2].Content, "remote execution failed") {
		t.Errorf("Expected failure surfaced as data: %q", out[2].Content)
	}
}

func TestConverseContextCancellation(t *testing.T) {
	registry := newTestRegistry(t, &countingProvider{})
	provider := newScriptedProvider([]llm.Message{
		llm.NewToolCallMessage("", []llm.ToolCallRequest{
			{ID: "call-1", Name: "lookup", Arguments: map[string]interface{}{}},
		}),
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	gw := New(registry, zerolog.Nop())

	// Cancel after the provider responds but before tool execution.
	cancel()
	_, err := gw.Converse(ctx, provider,
		[]llm.Message{llm.NewTextMessage(llm.RoleUser, "go")}, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}
