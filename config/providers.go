package config

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/parleyio/parley/llm"
	llmanthropic "github.com/parleyio/parley/llm/anthropic"
	llmollama "github.com/parleyio/parley/llm/ollama"
	llmopenai "github.com/parleyio/parley/llm/openai"
)

// NewProvider constructs a provider client from a resolved ClientKey.
// The returned provider is not yet initialized.
func NewProvider(key *llm.ClientKey, logger zerolog.Logger) (llm.Provider, error) {
	switch key.Provider {
	case llm.ProviderAnthropic:
		return llmanthropic.New(key.APIKey, key.Model, logger), nil
	case llm.ProviderOllama:
		return llmollama.New(key.Host, key.Model, logger)
	case llm.ProviderOpenAI:
		return llmopenai.New(key.APIKey, llmopenai.Options{
			BaseURL:      key.BaseURL,
			Organization: key.Organization,
			Model:        key.Model,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", key.Provider)
	}
}

// ResolveProvider resolves the configured preference order against the
// provider registry and constructs the winning client.
func ResolveProvider(cfg *Config, logger zerolog.Logger) (llm.Provider, error) {
	registry := llm.NewProviderRegistry(cfg.ProviderSettings(), cfg.Providers)

	prefs := make([]llm.Preference, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		prefs = append(prefs, llm.Preference{Provider: name})
	}

	key, err := registry.Resolve(prefs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve provider: %w", err)
	}
	return NewProvider(key, logger)
}
