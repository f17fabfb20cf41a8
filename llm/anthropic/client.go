// Package anthropic implements the llm.Provider interface on top of the
// official Anthropic SDK.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/parleyio/parley/llm"
)

const (
	// DefaultModel is used when no model override is configured.
	DefaultModel = "claude-haiku-4-5"

	defaultMaxTokens     = 4096
	defaultContextWindow = 200000
)

func defaultModels() []llm.Model {
	return []llm.Model{
		{ID: "claude-opus-4-1", Name: "Claude Opus 4.1", ContextWindow: defaultContextWindow},
		{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5", ContextWindow: defaultContextWindow},
		{ID: DefaultModel, Name: "Claude Haiku 4.5", ContextWindow: defaultContextWindow},
	}
}

// Client implements llm.Provider for Anthropic's Messages API.
type Client struct {
	mu      sync.RWMutex
	apiKey  string
	client  *anthropic.Client
	profile *llm.Profile
	logger  zerolog.Logger
}

// New creates an Anthropic provider. The API key may be empty at construction;
// Initialize falls back to the ANTHROPIC_API_KEY environment variable and send
// methods fail with an auth error until a credential is present.
func New(apiKey, model string, logger zerolog.Logger) *Client {
	if model == "" {
		model = DefaultModel
	}
	profile := llm.NewProfile(llm.ProviderAnthropic, model, defaultModels())
	profile.RequiresAPIKey = true
	profile.SupportsStreaming = true
	profile.SupportsToolCalls = true
	profile.SupportsVision = true
	profile.ContextWindow = defaultContextWindow

	return &Client{
		apiKey:  apiKey,
		profile: profile,
		logger:  logger.With().Str("provider", llm.ProviderAnthropic).Logger(),
	}
}

// Name implements llm.Provider.
func (c *Client) Name() string { return llm.ProviderAnthropic }

// Profile implements llm.Provider.
func (c *Client) Profile() *llm.Profile { return c.profile }

// Initialize implements llm.Provider. Model discovery is best effort; a
// failure leaves the seeded model list in place.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.apiKey == "" {
		c.apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.apiKey == "" {
		c.mu.Unlock()
		return llm.NewAuthError(llm.ProviderAnthropic, "API key not configured")
	}
	client := anthropic.NewClient(option.WithAPIKey(c.apiKey))
	c.client = &client
	c.mu.Unlock()

	c.profile.ReplaceModels(c.FetchAvailableModels(ctx))
	return nil
}

// SetAPIKey implements llm.Provider. The SDK client is rebuilt so in-flight
// requests keep the credential they started with.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
	if key == "" {
		c.client = nil
		return
	}
	client := anthropic.NewClient(option.WithAPIKey(key))
	c.client = &client
}

func (c *Client) sdk() (*anthropic.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, llm.NewAuthError(llm.ProviderAnthropic, "API key not configured")
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
		return nil, llm.NewUnsupportedCapabilityError(llm.ProviderAnthropic, "tool_calls", "selected model does not support tool calls")
	}

	sdk, err := c.sdk()
	if err != nil {
		return nil, err
	}

	message, err := sdk.Messages.New(ctx, c.buildParams(msgs, specs, system))
	if err != nil {
		return nil, convertAnthropicError(err)
	}
	if len(message.Content) == 0 && message.StopReason == "" {
		return nil, llm.NewProtocolError(llm.ProviderAnthropic, "empty response from Messages API", nil)
	}

	c.logger.Debug().
		Str("model", c.profile.Model()).
		Str("stop_reason", string(message.StopReason)).
		Int64("input_tokens", message.Usage.InputTokens).
		Int64("output_tokens", message.Usage.OutputTokens).
		Msg("Received response")

	out := FromMessage(message)
	return &out, nil
}

// SendMessageStreaming implements llm.Provider.
func (c *Client) SendMessageStreaming(ctx context.Context, msgs []llm.Message, system string, onDelta llm.DeltaFunc) (*llm.Message, error) {
	sdk, err := c.sdk()
	if err != nil {
		return nil, err
	}

	stream := sdk.Messages.NewStreaming(ctx, c.buildParams(msgs, nil, system))
	return llm.CollectStream(ctx, newAnthropicStream(ctx, stream, c.logger), onDelta, c.logger)
}

func (c *Client) buildParams(msgs []llm.Message, specs []llm.ToolSpec, system string) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(c.profile.Model()),
		MaxTokens: defaultMaxTokens,
		Messages:  ToMessageParams(msgs),
		System:    buildSystemBlocks(system),
		Tools:     ToToolUnionParams(specs),
	}
}

// buildSystemBlocks creates system text blocks with prompt caching enabled.
// Placing cache_control on the system block caches the full prefix of tools,
// system, and messages up to that block, so tools are cached along with the
// system prompt.
func buildSystemBlocks(systemPrompt string) []anthropic.TextBlockParam {
	if systemPrompt == "" {
		return nil
	}
	return []anthropic.TextBlockParam{
		{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
	}
}

// FetchAvailableModels implements llm.Provider. On failure the cached list is
// returned unchanged.
func (c *Client) FetchAvailableModels(ctx context.Context) []llm.Model {
	sdk, err := c.sdk()
	if err != nil {
		return c.profile.AvailableModels()
	}

	page, err := sdk.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil || page == nil || len(page.Data) == 0 {
		c.logger.Debug().Err(err).Msg("Model discovery failed, keeping cached list")
		return c.profile.AvailableModels()
	}

	models := lo.Map(page.Data, func(info anthropic.ModelInfo, _ int) llm.Model {
		return llm.Model{
			ID:            string(info.ID),
			Name:          info.DisplayName,
			ContextWindow: defaultContextWindow,
		}
	})
	c.profile.ReplaceModels(models)
	return models
}

// convertAnthropicError maps SDK and network failures onto the shared error
// taxonomy. Auth failures are fatal; rate limits and server errors are
// transport class so the gateway's single retry applies.
func convertAnthropicError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return llm.NewTransportError(llm.ProviderAnthropic, "request failed", err)
	}

	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &llm.Error{
			Type:        llm.ErrorTypeAuth,
			Provider:    llm.ProviderAnthropic,
			Message:     "authentication failed",
			StatusCode:  apiErr.StatusCode,
			ProviderErr: err,
		}
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &llm.Error{
			Type:        llm.ErrorTypeTransport,
			Provider:    llm.ProviderAnthropic,
			Message:     "transient API failure",
			Retryable:   true,
			StatusCode:  apiErr.StatusCode,
			ProviderErr: err,
		}
	default:
		return &llm.Error{
			Type:        llm.ErrorTypeProvider,
			Provider:    llm.ProviderAnthropic,
			Message:     "API request rejected",
			StatusCode:  apiErr.StatusCode,
			ProviderErr: err,
		}
	}
}
