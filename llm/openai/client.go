// Package openai implements the llm.Provider interface for OpenAI's chat
// completion API, including compatible endpoints behind a custom base URL.
package openai

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	openai "github.com/sashabaranov/go-openai"

	"github.com/parleyio/parley/llm"
)

const (
	// DefaultModel is used when no model override is configured.
	DefaultModel = openai.GPT4oMini

	defaultContextWindow = 128000
)

func defaultModels() []llm.Model {
	return []llm.Model{
		{ID: openai.GPT4o, Name: "GPT-4o", ContextWindow: defaultContextWindow},
		{ID: openai.GPT4oMini, Name: "GPT-4o mini", ContextWindow: defaultContextWindow},
		{ID: openai.O3Mini, Name: "o3-mini", ContextWindow: 200000},
	}
}

// Options configures a Client beyond the credential.
type Options struct {
	BaseURL      string // Custom endpoint; empty means api.openai.com
	Organization string
	Model        string
}

// Client implements llm.Provider for OpenAI's API.
type Client struct {
	mu      sync.RWMutex
	apiKey  string
	opts    Options
	client  *openai.Client
	profile *llm.Profile
	logger  zerolog.Logger
}

// New creates an OpenAI provider. The API key may be empty at construction;
// Initialize falls back to the OPENAI_API_KEY environment variable.
func New(apiKey string, opts Options, logger zerolog.Logger) *Client {
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	profile := llm.NewProfile(llm.ProviderOpenAI, model, defaultModels())
	profile.RequiresAPIKey = true
	profile.SupportsStreaming = true
	profile.SupportsToolCalls = true
	profile.SupportsVision = true
	profile.ContextWindow = defaultContextWindow

	return &Client{
		apiKey:  apiKey,
		opts:    opts,
		profile: profile,
		logger:  logger.With().Str("provider", llm.ProviderOpenAI).Logger(),
	}
}

// Name implements llm.Provider.
func (c *Client) Name() string { return llm.ProviderOpenAI }

// Profile implements llm.Provider.
func (c *Client) Profile() *llm.Profile { return c.profile }

// Initialize implements llm.Provider. Model discovery is best effort.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.apiKey == "" {
		c.apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.apiKey == "" {
		c.mu.Unlock()
		return llm.NewAuthError(llm.ProviderOpenAI, "API key not configured")
	}
	c.client = c.buildClient(c.apiKey)
	c.mu.Unlock()

	c.profile.ReplaceModels(c.FetchAvailableModels(ctx))
	return nil
}

// SetAPIKey implements llm.Provider.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
	if key == "" {
		c.client = nil
		return
	}
	c.client = c.buildClient(key)
}

func (c *Client) buildClient(apiKey string) *openai.Client {
	config := openai.DefaultConfig(apiKey)
	if c.opts.BaseURL != "" {
		config.BaseURL = c.opts.BaseURL
	}
	if c.opts.Organization != "" {
		config.OrgID = c.opts.Organization
	}
	return openai.NewClientWithConfig(config)
}

func (c *Client) sdk() (*openai.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, llm.NewAuthError(llm.ProviderOpenAI, "API key not configured")
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
		return nil, llm.NewUnsupportedCapabilityError(llm.ProviderOpenAI, "tool_calls", "selected model does not support tool calls")
	}

	sdk, err := c.sdk()
	if err != nil {
		return nil, err
	}

	chatReq, err := c.buildRequest(msgs, specs, system, false)
	if err != nil {
		return nil, err
	}

	chatResp, err := sdk.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, convertOpenAIError(err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, llm.NewProtocolError(llm.ProviderOpenAI, "no choices in chat completion response", nil)
	}

	choice := chatResp.Choices[0]
	c.logger.Debug().
		Str("model", chatReq.Model).
		Str("finish_reason", string(choice.FinishReason)).
		Int("prompt_tokens", chatResp.Usage.PromptTokens).
		Int("completion_tokens", chatResp.Usage.CompletionTokens).
		Msg("Received response")

	out := FromChatMessage(choice.Message)
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

	stream, err := sdk.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, convertOpenAIError(err)
	}

	return llm.CollectStream(ctx, newOpenAIStream(ctx, stream), onDelta, c.logger)
}

func (c *Client) buildRequest(msgs []llm.Message, specs []llm.ToolSpec, system string, streaming bool) (openai.ChatCompletionRequest, error) {
	chatMsgs, err := ToChatMessages(msgs)
	if err != nil {
		return openai.ChatCompletionRequest{}, llm.NewProtocolError(llm.ProviderOpenAI, "failed to convert messages", err)
	}

	if system != "" {
		systemMsg := openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		}
		chatMsgs = append([]openai.ChatCompletionMessage{systemMsg}, chatMsgs...)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    c.profile.Model(),
		Messages: chatMsgs,
		Stream:   streaming,
	}
	if streaming {
		chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if len(specs) > 0 {
		chatReq.Tools = ToTools(specs)
		chatReq.ToolChoice = "auto"
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

	list, err := sdk.ListModels(ctx)
	if err != nil || len(list.Models) == 0 {
		c.logger.Debug().Err(err).Msg("Model discovery failed, keeping cached list")
		return c.profile.AvailableModels()
	}

	models := lo.Map(list.Models, func(m openai.Model, _ int) llm.Model {
		return llm.Model{
			ID:            m.ID,
			Name:          m.ID,
			ContextWindow: defaultContextWindow,
		}
	})
	c.profile.ReplaceModels(models)
	return models
}

// convertOpenAIError maps go-openai errors onto the shared error taxonomy.
func convertOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return llm.NewTransportError(llm.ProviderOpenAI, "request failed", err)
	}

	switch apiErr.HTTPStatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &llm.Error{
			Type:        llm.ErrorTypeAuth,
			Provider:    llm.ProviderOpenAI,
			Message:     "authentication failed",
			StatusCode:  apiErr.HTTPStatusCode,
			ProviderErr: err,
		}
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &llm.Error{
			Type:        llm.ErrorTypeTransport,
			Provider:    llm.ProviderOpenAI,
			Message:     "transient API failure",
			Retryable:   true,
			StatusCode:  apiErr.HTTPStatusCode,
			ProviderErr: err,
		}
	default:
		return &llm.Error{
			Type:        llm.ErrorTypeProvider,
			Provider:    llm.ProviderOpenAI,
			Message:     "API request rejected",
			StatusCode:  apiErr.HTTPStatusCode,
			ProviderErr: err,
		}
	}
}
