// Command parleyd is an interactive front end for the gateway: it wires the
// configured provider, the capability registry, any MCP servers, and the
// optional tool server together, then reads user turns from stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/parleyio/parley/config"
	"github.com/parleyio/parley/gateway"
	"github.com/parleyio/parley/llm"
	parleylogger "github.com/parleyio/parley/logger"
	"github.com/parleyio/parley/mcp"
	"github.com/parleyio/parley/tools"
	"github.com/parleyio/parley/toolserver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", config.DefaultPath(), "Path to config file")
		logFile    = flag.String("logfile", "", "Path to log file. If not set, logs to stdout/stderr")
		pretty     = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
		system     = flag.String("system", "", "System prompt for the conversation")
	)
	flag.Parse()

	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logTarget := *logFile
	if logTarget == "" && !*pretty {
		logTarget = cfg.LogFile
	}
	logger, err := parleylogger.InitWithOptions(logTarget, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info().Str("config", *configPath).Msg("parleyd starting")

	provider, err := config.ResolveProvider(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := provider.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize provider %s: %w", provider.Name(), err)
	}
	logger.Info().
		Str("provider", provider.Name()).
		Str("model", provider.Profile().Model()).
		Msg("Provider initialized")

	registry := tools.NewRegistry(logger)
	if err := registerLocalTools(ctx, registry, cfg, logger); err != nil {
		return err
	}

	mcpProviders := registerMCPServers(ctx, registry, cfg.MCPServers, logger)
	defer func() {
		for _, p := range mcpProviders {
			_ = p.Close()
		}
	}()

	gw := gateway.New(registry, logger)

	if cfg.ToolServer.Enabled {
		srv, err := toolserver.New(toolserver.Config{
			Command: cfg.ToolServer.Command,
			BaseURL: cfg.ToolServer.BaseURL,
		}, registry, logger)
		if err != nil {
			return fmt.Errorf("failed to create tool server: %w", err)
		}
		defer srv.Close() //nolint:errcheck // No remedy for close errors at exit

		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("failed to start tool server: %w", err)
		}
		gw = gw.WithRemote(srv)
		logger.Info().Str("base_url", cfg.ToolServer.BaseURL).Msg("Tool server running")
	}

	return repl(ctx, gw, provider, gateway.Options{
		System:            *system,
		MaxToolIterations: cfg.MaxToolIterations,
		OnDelta: func(delta string) {
			fmt.Print(delta)
		},
	})
}

// repl reads one user turn per line and prints the assistant's reply,
// streaming when the provider supports it.
func repl(ctx context.Context, gw *gateway.Gateway, provider llm.Provider, opts gateway.Options) error {
	scanner := bufio.NewScanner(os.Stdin)
	var conversation []llm.Message

	fmt.Printf("Connected to %s (%s). Ctrl-D to exit.\n", provider.Name(), provider.Profile().Model())
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil
		}

		conversation = append(conversation, llm.NewTextMessage(llm.RoleUser, line))

		turnCtx, cancelTurn := context.WithTimeout(ctx, 2*time.Minute)
		extended, streamed, err := converseTurn(turnCtx, gw, provider, conversation, opts)
		cancelTurn()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "\nerror: %v\n", err)
			// Drop the failed turn so the conversation stays consistent.
			conversation = conversation[:len(conversation)-1]
			continue
		}

		conversation = extended
		last := conversation[len(conversation)-1]
		if !streamed {
			fmt.Print(last.Content)
		}
		fmt.Println()
	}
}

// converseTurn runs one gateway turn and reports whether any delta callback
// fired. The tool path and non-streaming providers answer without deltas, so
// the caller prints the final content itself when streamed is false.
func converseTurn(ctx context.Context, gw *gateway.Gateway, provider llm.Provider, conversation []llm.Message, opts gateway.Options) ([]llm.Message, bool, error) {
	streamed := false
	if opts.OnDelta != nil {
		inner := opts.OnDelta
		opts.OnDelta = func(delta string) {
			streamed = true
			inner(delta)
		}
	}

	extended, err := gw.Converse(ctx, provider, conversation, opts)
	return extended, streamed, err
}

// registerLocalTools registers the built-in workspace capabilities.
func registerLocalTools(ctx context.Context, registry *tools.Registry, cfg *config.Config, logger zerolog.Logger) error {
	workspace := cfg.Workspace
	if workspace == "" || workspace == "." {
		cwd, err := os.Getwd()
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to get current directory, using '.' as workspace")
			cwd = "."
		}
		workspace = cwd
	}

	local := tools.NewLocalProvider(workspace, logger)
	if err := local.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize local capabilities: %w", err)
	}
	if err := registry.Register(local); err != nil {
		return fmt.Errorf("failed to register local capabilities: %w", err)
	}
	return nil
}

// registerMCPServers starts each configured MCP server and registers its
// capabilities. A failing server is logged and skipped; the rest still load.
func registerMCPServers(ctx context.Context, registry *tools.Registry, servers map[string]*config.MCPServerConfig, logger zerolog.Logger) []*mcp.StdioProvider {
	if len(servers) == 0 {
		return nil
	}

	initCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var providers []*mcp.StdioProvider
	for name, serverCfg := range servers {
		if serverCfg == nil || serverCfg.Command == "" {
			logger.Warn().Str("name", name).Msg("MCP server has no command, skipping")
			continue
		}

		provider, err := mcp.NewStdioProvider(name, serverCfg.Command, serverCfg.Args, serverCfg.Env, logger)
		if err != nil {
			logger.Error().Str("name", name).Err(err).Msg("Failed to create MCP provider")
			continue
		}
		if err := provider.Initialize(initCtx); err != nil {
			logger.Error().Str("name", name).Err(err).Msg("Failed to initialize MCP server")
			continue
		}
		if err := registry.Register(provider); err != nil {
			logger.Error().Str("name", name).Err(err).Msg("Failed to register MCP capabilities")
			_ = provider.Close()
			continue
		}
		providers = append(providers, provider)
	}
	return providers
}
