// Package ollama implements the llm.Provider interface for a local or remote
// Ollama server.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/parleyio/parley/llm"
)

const defaultContextWindow = 8192

// Client implements llm.Provider for Ollama's chat API.
type Client struct {
	mu      sync.RWMutex
	host    string
	client  *api.Client
	profile *llm.Profile
	logger  zerolog.Logger
}

// New creates an Ollama provider. An empty host defers to OLLAMA_HOST or the
// default localhost endpoint. The model is required since Ollama has no
// universal default.
func New(host, model string, logger zerolog.Logger) (*Client, error) {
	if model == "" {
		return nil, fmt.Errorf("model is required for ollama")
	}

	profile := llm.NewProfile(llm.ProviderOllama, model, []llm.Model{
		{ID: model, Name: model, ContextWindow: defaultContextWindow},
	})
	profile.SupportsStreaming = true
	profile.SupportsToolCalls = true
	profile.ContextWindow = defaultContextWindow

	return &Client{
		host:    host,
		profile: profile,
		logger:  logger.With().Str("provider", llm.ProviderOllama).Logger(),
	}, nil
}

// Name implements llm.Provider.
func (c *Client) Name() string { return llm.ProviderOllama }

// Profile implements llm.Provider.
func (c *Client) Profile() *llm.Profile { return c.profile }

// Initialize implements llm.Provider. Model discovery is best effort; an
// unreachable server leaves the configured model as the only entry.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	var client *api.Client
	if c.host != "" {
		baseURL, err := parseHost(c.host)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("invalid ollama host: %w", err)
		}
		client = api.NewClient(baseURL, &http.Client{})
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("failed to create ollama client: %w", err)
		}
	}
	c.client = client
	c.mu.Unlock()

	c.profile.ReplaceModels(c.FetchAvailableModels(ctx))
	return nil
}

// SetAPIKey implements llm.Provider. Ollama is unauthenticated; the credential
// is ignored.
func (c *Client) SetAPIKey(string) {}

// parseHost parses a host string into a URL, defaulting the scheme to http.
func parseHost(host string) (*url.URL, error) {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

func (c *Client) sdk() (*api.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, llm.NewTransportError(llm.ProviderOllama, "client not initialized", nil)
	}
	return c.client, nil
}

// SendMessage implements llm.Provider.
func (c *Client) SendMessage(ctx context.Context, msgs []llm.Message, system string) (*llm.Message, error) {
	return c.send(ctx, msgs, nil, system)
}

// SendMessageWithTools implements llm.Provider.
func (c *Client) SendMessageWithTools(ctx context.Context, msgs []llm.Message, specs []llm.ToolSpec, system string) (*llm.Message, error) {
	return c.send(ctx, msgs, specs, system)
}

func (c *Client) send(ctx context.Context, msgs []llm.Message, specs []llm.ToolSpec, system string) (*llm.Message, error) {
	if len(specs) > 0 && !c.profile.SupportsToolCalls {
		return nil, llm.NewUnsupportedCapabilityError(llm.ProviderOllama, "tool_calls", "selected model does not support tool calls")
	}

	sdk, err := c.sdk()
	if err != nil {
		return nil, err
	}

	chatReq, err := c.buildRequest(msgs, specs, system, false)
	if err != nil {
		return nil, err
	}

	var chatResp api.ChatResponse
	err = sdk.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		chatResp = resp
		return nil
	})
	if err != nil {
		return nil, convertOllamaError(err)
	}

	c.logger.Debug().
		Str("model", chatReq.Model).
		Int("prompt_eval_count", chatResp.PromptEvalCount).
		Int("eval_count", chatResp.EvalCount).
		Msg("Received response")

	out := FromOllamaMessage(&chatResp.Message)
	return &out, nil
}

// SendMessageStreaming implements llm.Provider.
func (c *Client) SendMessageStreaming(ctx context.Context, msgs []llm.Message, system string, onDelta llm.DeltaFunc) (*llm.Message, error) {
	sdk, err := c.sdk()
	if err != nil {
		return nil, err
	}

	chatReq, err := c.buildRequest(msgs, nil, system, true)
	if err != nil {
		return nil, err
	}

	return llm.CollectStream(ctx, newOllamaStream(ctx, sdk, chatReq), onDelta, c.logger)
}

func (c *Client) buildRequest(msgs []llm.Message, specs []llm.ToolSpec, system string, streaming bool) (*api.ChatRequest, error) {
	ollamaMsgs, err := ToOllamaMessages(msgs, specs)
	if err != nil {
		return nil, llm.NewProtocolError(llm.ProviderOllama, "failed to convert messages", err)
	}

	if system != "" {
		systemMsg := api.Message{Role: "system", Content: system}
		ollamaMsgs = append([]api.Message{systemMsg}, ollamaMsgs...)
	}

	stream := streaming
	chatReq := &api.ChatRequest{
		Model:    c.profile.Model(),
		Messages: ollamaMsgs,
		Stream:   &stream,
		Options:  make(map[string]interface{}),
	}
	if len(specs) > 0 {
		chatReq.Tools = ToOllamaTools(specs)
	}

	return chatReq, nil
}

// FetchAvailableModels implements llm.Provider. On failure the cached list is
// returned unchanged.
func (c *Client) FetchAvailableModels(ctx context.Context) []llm.Model {
	sdk, err := c.sdk()
	if err != nil {
		return c.profile.AvailableModels()
	}

	list, err := sdk.List(ctx)
	if err != nil || list == nil || len(list.Models) == 0 {
		c.logger.Debug().Err(err).Msg("Model discovery failed, keeping cached list")
		return c.profile.AvailableModels()
	}

	models := lo.Map(list.Models, func(m api.ListModelResponse, _ int) llm.Model {
		return llm.Model{
			ID:            m.Name,
			Name:          m.Name,
			ContextWindow: defaultContextWindow,
		}
	})
	c.profile.ReplaceModels(models)
	return models
}

// convertOllamaError maps Ollama API and network failures onto the shared
// error taxonomy. A local server being down is the common case, so anything
// that is not an explicit API status error is transport class.
func convertOllamaError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var statusErr api.StatusError
	if !errors.As(err, &statusErr) {
		return llm.NewTransportError(llm.ProviderOllama, "request failed", err)
	}

	switch {
	case statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden:
		return &llm.Error{
			Type:        llm.ErrorTypeAuth,
			Provider:    llm.ProviderOllama,
			Message:     "authentication failed",
			StatusCode:  statusErr.StatusCode,
			ProviderErr: err,
		}
	case statusErr.StatusCode >= http.StatusInternalServerError:
		return &llm.Error{
			Type:        llm.ErrorTypeTransport,
			Provider:    llm.ProviderOllama,
			Message:     "server failure",
			Retryable:   true,
			StatusCode:  statusErr.StatusCode,
			ProviderErr: err,
		}
	default:
		return &llm.Error{
			Type:        llm.ErrorTypeProvider,
			Provider:    llm.ProviderOllama,
			Message:     "API request rejected",
			StatusCode:  statusErr.StatusCode,
			ProviderErr: err,
		}
	}
}
