// Package mcp adapts Model Context Protocol servers into capability
// providers. Each MCP server becomes one tools.Provider whose capability set
// is discovered at initialization.
package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/parleyio/parley/tools"
)

// StdioProvider runs an MCP server as a child process over stdio and serves
// its tools as capabilities.
type StdioProvider struct {
	name    string
	command string
	args    []string
	env     []string
	logger  zerolog.Logger

	mu           sync.RWMutex
	client       *client.Client
	capabilities []tools.Descriptor
}

// NewStdioProvider creates a provider for one MCP server. The command string
// may include arguments; extra args are appended.
func NewStdioProvider(name, command string, args, env []string, logger zerolog.Logger) (*StdioProvider, error) {
	if command == "" {
		return nil, fmt.Errorf("command is required for stdio MCP provider")
	}

	parts := strings.Fields(command)
	cmdArgs := append(parts[1:], args...)

	return &StdioProvider{
		name:    name,
		command: parts[0],
		args:    cmdArgs,
		env:     env,
		logger:  logger.With().Str("component", "mcp").Str("server", name).Logger(),
	}, nil
}

// ProviderName implements tools.Provider.
func (p *StdioProvider) ProviderName() string { return "mcp:" + p.name }

// Initialize implements tools.Provider: it spawns the MCP server, performs
// the protocol handshake, and discovers the tool catalog.
func (p *StdioProvider) Initialize(ctx context.Context) error {
	mcpClient, err := client.NewStdioMCPClient(p.command, p.env, p.args...)
	if err != nil {
		return fmt.Errorf("failed to create stdio MCP client: %w", err)
	}

	initReq := mcpgo.InitializeRequest{
		Params: mcpgo.InitializeParams{
			ProtocolVersion: mcpgo.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcpgo.ClientCapabilities{},
			ClientInfo: mcpgo.Implementation{
				Name:    "parley",
				Version: "1.0.0",
			},
		},
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP server %s: %w", p.name, err)
	}

	result, err := mcpClient.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("failed to list tools from MCP server %s: %w", p.name, err)
	}

	descriptors := make([]tools.Descriptor, 0, len(result.Tools))
	for _, tool := range result.Tools {
		descriptors = append(descriptors, toDescriptor(tool))
	}

	p.mu.Lock()
	p.client = mcpClient
	p.capabilities = descriptors
	p.mu.Unlock()

	p.logger.Info().Int("capabilities", len(descriptors)).Msg("MCP server initialized")
	return nil
}

// ListCapabilities implements tools.Provider.
func (p *StdioProvider) ListCapabilities() []tools.Descriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]tools.Descriptor, len(p.capabilities))
	copy(out, p.capabilities)
	return out
}

// Execute implements tools.Provider.
func (p *StdioProvider) Execute(ctx context.Context, name string, args map[string]interface{}) tools.Result {
	p.mu.RLock()
	mcpClient := p.client
	p.mu.RUnlock()

	if mcpClient == nil {
		return tools.Fail(fmt.Sprintf("MCP server %s is not initialized", p.name))
	}

	req := mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
	result, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		p.logger.Warn().Str("tool", name).Err(err).Msg("MCP tool call failed")
		return tools.Fail(fmt.Sprintf("MCP tool %s failed: %v", name, err))
	}

	text := collectText(result)
	if result.IsError {
		if text == "" {
			text = fmt.Sprintf("MCP tool %s reported an error", name)
		}
		return tools.Fail(text)
	}
	return tools.OK(map[string]interface{}{"text": text})
}

// Close shuts down the MCP server process.
func (p *StdioProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

func collectText(result *mcpgo.CallToolResult) string {
	var texts []string
	for _, content := range result.Content {
		if textContent, ok := mcpgo.AsTextContent(content); ok {
			texts = append(texts, textContent.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// toDescriptor converts an MCP tool definition into a capability descriptor.
// Parameters are sorted by name since the MCP schema carries no order.
func toDescriptor(tool mcpgo.Tool) tools.Descriptor {
	required := make(map[string]bool, len(tool.InputSchema.Required))
	for _, name := range tool.InputSchema.Required {
		required[name] = true
	}

	names := make([]string, 0, len(tool.InputSchema.Properties))
	for name := range tool.InputSchema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]tools.Parameter, 0, len(names))
	for _, name := range names {
		param := tools.Parameter{
			Name:     name,
			Type:     "string",
			Required: required[name],
		}
		if propMap, ok := tool.InputSchema.Properties[name].(map[string]interface{}); ok {
			if t, ok := propMap["type"].(string); ok {
				param.Type = t
			}
			if d, ok := propMap["description"].(string); ok {
				param.Description = d
			}
			if def, ok := propMap["default"]; ok {
				param.Default = def
			}
		}
		params = append(params, param)
	}

	return tools.Descriptor{
		Name:        tool.Name,
		Description: tool.Description,
		Parameters:  params,
	}
}
