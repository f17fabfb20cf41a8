// Package config loads the daemon configuration: defaults, then the config
// file, then environment overrides, each layer merged on top of the last.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/parleyio/parley/llm"
)

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key,omitempty"`
	Model  string `yaml:"model,omitempty"`
}

// OllamaConfig configures the Ollama provider.
type OllamaConfig struct {
	Host  string `yaml:"host,omitempty"`  // Default: http://localhost:11434
	Model string `yaml:"model,omitempty"` // Required to enable the provider
}

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`
	BaseURL      string `yaml:"base_url,omitempty"` // Custom endpoint; default official API
	Model        string `yaml:"model,omitempty"`
	Organization string `yaml:"organization,omitempty"`
}

// ToolServerConfig configures the managed out-of-process tool server.
type ToolServerConfig struct {
	Enabled bool     `yaml:"enabled,omitempty"`
	Command []string `yaml:"command,omitempty"`  // Helper process argv; empty adopts an external server
	BaseURL string   `yaml:"base_url,omitempty"` // Default: http://127.0.0.1:8391
}

// MCPServerConfig configures one MCP server spoken over stdio.
type MCPServerConfig struct {
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	Env     []string `yaml:"env,omitempty"`
}

// Config is the daemon configuration.
type Config struct {
	// Providers lists enabled LLM providers in preference order.
	Providers []string `yaml:"providers,omitempty"`

	Anthropic AnthropicConfig `yaml:"anthropic,omitempty"`
	Ollama    OllamaConfig    `yaml:"ollama,omitempty"`
	OpenAI    OpenAIConfig    `yaml:"openai,omitempty"`

	// Workspace is the root directory local file capabilities operate in.
	Workspace string `yaml:"workspace,omitempty"`

	ToolServer ToolServerConfig            `yaml:"tool_server,omitempty"`
	MCPServers map[string]*MCPServerConfig `yaml:"mcp_servers,omitempty"`

	// MaxToolIterations bounds the gateway's tool loop. Zero means default.
	MaxToolIterations int `yaml:"max_tool_iterations,omitempty"`

	LogFile string `yaml:"log_file,omitempty"`
}

// DefaultPath returns the default config file path, overridable via
// PARLEY_CONFIG_PATH.
func DefaultPath() string {
	if envPath := os.Getenv("PARLEY_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.parley/config.yaml"
	}
	return filepath.Join(homeDir, ".parley", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Load reads the configuration at path, merged on top of defaults. A missing
// file is not an error; the defaults plus environment are returned.
func Load(path string) (*Config, error) {
	defaults := Config{
		Providers: []string{llm.ProviderAnthropic},
		Ollama: OllamaConfig{
			Host: "http://localhost:11434",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Workspace: ".",
		ToolServer: ToolServerConfig{
			BaseURL: "http://127.0.0.1:8391",
		},
		MCPServers: make(map[string]*MCPServerConfig),
		LogFile:    "parley.log",
	}

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		raw, err := os.ReadFile(expandedPath) //#nosec G304 -- intentional config file read
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}

		var fileConfig Config
		if err := yaml.Unmarshal(raw, &fileConfig); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", expandedPath, err)
		}

		if err := mergo.Merge(&defaults, fileConfig, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}
	}

	applyEnvOverrides(&defaults)

	if defaults.MCPServers == nil {
		defaults.MCPServers = make(map[string]*MCPServerConfig)
	}
	return &defaults, nil
}

// Save writes the configuration to path, creating parent directories.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	if err := os.MkdirAll(filepath.Dir(expandedPath), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyEnvOverrides lets environment variables win over file values, matching
// the fallbacks the provider registry uses.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Anthropic.APIKey = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.Ollama.Host = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.Ollama.Model = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.OpenAI.Model = v
	}
	if v := os.Getenv("OPENAI_ORG_ID"); v != "" {
		cfg.OpenAI.Organization = v
	}
}

// ProviderSettings projects the config into the llm package's registry
// settings.
func (c *Config) ProviderSettings() *llm.ProviderSettings {
	return &llm.ProviderSettings{
		AnthropicAPIKey: c.Anthropic.APIKey,
		AnthropicModel:  c.Anthropic.Model,
		OllamaHost:      c.Ollama.Host,
		OllamaModel:     c.Ollama.Model,
		OpenAIAPIKey:    c.OpenAI.APIKey,
		OpenAIBaseURL:   c.OpenAI.BaseURL,
		OpenAIModel:     c.OpenAI.Model,
		OpenAIOrg:       c.OpenAI.Organization,
	}
}
