// Package toolserver manages an out-of-process tool server: spawning the
// helper process, health probing, capability registration, remote execution,
// and shutdown. All lifecycle transitions flow through one run loop fed by a
// single event channel, so a start racing a stop can never orphan the
// process.
package toolserver

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/parleyio/parley/llm"
	"github.com/parleyio/parley/tools"
)

const (
	defaultHealthInterval = 200 * time.Millisecond
	defaultHealthAttempts = 25
	defaultShutdownGrace  = 3 * time.Second
	defaultRequestTimeout = 15 * time.Second
)

// Config describes how to reach, and optionally spawn, the tool server.
type Config struct {
	// Command is the helper process argv. Empty means the server is managed
	// externally and Start only verifies reachability.
	Command []string
	// BaseURL is the server's HTTP endpoint, e.g. http://127.0.0.1:8391.
	BaseURL string

	HealthInterval time.Duration
	HealthAttempts int
	ShutdownGrace  time.Duration
	RequestTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.HealthInterval <= 0 {
		c.HealthInterval = defaultHealthInterval
	}
	if c.HealthAttempts <= 0 {
		c.HealthAttempts = defaultHealthAttempts
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = defaultShutdownGrace
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
}

type startReq struct {
	ctx   context.Context
	reply chan error
}

type stopReq struct {
	ctx   context.Context
	reply chan error
}

type procExit struct {
	err error
}

type syncReq struct {
	ctx   context.Context
	reply chan error // nil for fire-and-forget catalog notifications
}

// Server supervises one tool server process and mirrors the registry's
// capability catalog to it.
type Server struct {
	cfg      Config
	client   *httpClient
	registry *tools.Registry
	logger   zerolog.Logger

	events    chan interface{}
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup

	mu     sync.RWMutex
	state  State
	stale  bool
	cmd    *exec.Cmd
	exited chan struct{} // closed by the waiter goroutine when the process exits
}

// New creates a Server and starts its run loop. Call Close to release it.
// The registry's catalog changes are re-synced to the remote automatically
// while the server is running.
func New(cfg Config, registry *tools.Registry, logger zerolog.Logger) (*Server, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("toolserver: BaseURL is required")
	}
	cfg.applyDefaults()

	s := &Server{
		cfg:      cfg,
		client:   newHTTPClient(cfg.BaseURL, cfg.RequestTimeout),
		registry: registry,
		logger:   logger.With().Str("component", "toolserver").Logger(),
		events:   make(chan interface{}, 16),
		closed:   make(chan struct{}),
		state:    StateStopped,
	}

	if registry != nil {
		registry.OnChange(func() {
			select {
			case s.events <- syncReq{ctx: context.Background()}:
			case <-s.closed:
			}
		})
	}

	s.wg.Add(1)
	go s.run()
	return s, nil
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Stale reports whether the remote capability catalog is behind the
// registry's.
func (s *Server) Stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stale
}

// Start brings the server to Running. It is a no-op when the server is
// already running, and skips spawning when a health probe finds a live
// server at the configured address.
func (s *Server) Start(ctx context.Context) error {
	return s.request(ctx, func(reply chan error) interface{} { return startReq{ctx: ctx, reply: reply} })
}

// Stop brings the server to Stopped: graceful shutdown request, grace
// period, then kill.
func (s *Server) Stop(ctx context.Context) error {
	return s.request(ctx, func(reply chan error) interface{} { return stopReq{ctx: ctx, reply: reply} })
}

// Restart stops then starts the server. Observers may see Stopped in
// between.
func (s *Server) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	return s.Start(ctx)
}

// SyncCapabilities pushes the registry's catalog to the remote server now.
func (s *Server) SyncCapabilities(ctx context.Context) error {
	return s.request(ctx, func(reply chan error) interface{} { return syncReq{ctx: ctx, reply: reply} })
}

// Close stops the run loop, killing any owned process. Safe to call more
// than once; later calls return the first result.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.Stop(context.Background())
		close(s.closed)
		s.wg.Wait()
	})
	return s.closeErr
}

func (s *Server) request(ctx context.Context, build func(chan error) interface{}) error {
	reply := make(chan error, 1)
	select {
	case s.events <- build(reply):
	case <-s.closed:
		return fmt.Errorf("toolserver: closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs one capability on the remote server. A dead or unreachable
// server yields a transport error so callers can distinguish infrastructure
// failure from a capability-level failure, which arrives inside the Result.
func (s *Server) Execute(ctx context.Context, name string, args map[string]interface{}) (tools.Result, error) {
	if s.State() != StateRunning {
		return tools.Result{}, llm.NewTransportError("toolserver", fmt.Sprintf("tool server is %s", s.State()), nil)
	}

	result, err := s.client.ExecuteTool(ctx, name, args)
	if err != nil {
		if ctx.Err() != nil {
			return tools.Result{}, ctx.Err()
		}
		return tools.Result{}, llm.NewTransportError("toolserver", "execute-tool request failed", err)
	}
	return result, nil
}

func (s *Server) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.closed:
			return
		case ev := <-s.events:
			switch e := ev.(type) {
			case startReq:
				e.reply <- s.handleStart(e.ctx)
			case stopReq:
				e.reply <- s.handleStop(e.ctx)
			case procExit:
				s.handleExit(e.err)
			case syncReq:
				err := s.handleSync(e.ctx)
				if e.reply != nil {
					e.reply <- err
				}
			}
		}
	}
}

func (s *Server) handleStart(ctx context.Context) error {
	if s.State() == StateRunning {
		return nil
	}

	// An already-reachable server (externally managed or left over from a
	// previous run) is adopted rather than respawned.
	if s.client.Health(ctx) {
		s.logger.Info().Str("base_url", s.cfg.BaseURL).Msg("Adopting live tool server")
		s.setState(StateRunning)
		s.pushCatalog(ctx)
		return nil
	}

	if len(s.cfg.Command) == 0 {
		s.setState(StateCrashed)
		return fmt.Errorf("toolserver: no server at %s and no command configured", s.cfg.BaseURL)
	}

	s.setState(StateStarting)
	s.logger.Info().Strs("command", s.cfg.Command).Msg("Spawning tool server")

	cmd := exec.Command(s.cfg.Command[0], s.cfg.Command[1:]...) //#nosec G204 -- operator-configured helper command
	if err := cmd.Start(); err != nil {
		s.setState(StateCrashed)
		return fmt.Errorf("toolserver: failed to spawn: %w", err)
	}

	exited := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.exited = exited
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()
		close(exited)
		select {
		case s.events <- procExit{err: err}:
		case <-s.closed:
		}
	}()

	if err := s.awaitHealthy(ctx, exited); err != nil {
		s.killProcess()
		s.setState(StateCrashed)
		return err
	}

	s.setState(StateRunning)
	s.logger.Info().Msg("Tool server is healthy")
	s.pushCatalog(ctx)
	return nil
}

// awaitHealthy polls the health endpoint at a fixed interval up to the
// configured attempt budget. An early process exit aborts the wait.
func (s *Server) awaitHealthy(ctx context.Context, exited chan struct{}) error {
	attempts := 0
	probe := func() error {
		select {
		case <-exited:
			return backoff.Permanent(fmt.Errorf("toolserver: process exited during startup"))
		default:
		}
		attempts++
		if s.client.Health(ctx) {
			return nil
		}
		return fmt.Errorf("not healthy yet")
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.HealthInterval), uint64(s.cfg.HealthAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(probe, policy); err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &StartupTimeoutError{Attempts: attempts, Addr: s.cfg.BaseURL}
	}
	return nil
}

func (s *Server) handleStop(ctx context.Context) error {
	if s.State() == StateStopped {
		return nil
	}
	s.setState(StateStopping)

	// Best effort; the server may exit before answering.
	_ = s.client.Shutdown(ctx)

	s.mu.RLock()
	exited := s.exited
	s.mu.RUnlock()

	if exited != nil {
		select {
		case <-exited:
		case <-time.After(s.cfg.ShutdownGrace):
			s.logger.Warn().Msg("Tool server did not exit within grace period, killing")
			s.killProcess()
			<-exited
		}
	}

	s.mu.Lock()
	s.cmd = nil
	s.exited = nil
	s.state = StateStopped
	s.mu.Unlock()
	s.logger.Info().Msg("Tool server stopped")
	return nil
}

func (s *Server) handleExit(err error) {
	state := s.State()
	if state != StateRunning && state != StateStarting {
		// Expected exit during Stopping/Stopped.
		return
	}
	s.logger.Error().Err(err).Msg("Tool server exited unexpectedly")
	s.mu.Lock()
	s.cmd = nil
	s.exited = nil
	s.state = StateCrashed
	s.mu.Unlock()
}

func (s *Server) handleSync(ctx context.Context) error {
	if s.registry == nil {
		return nil
	}
	if s.State() != StateRunning {
		s.setStale(true)
		return fmt.Errorf("toolserver: not running, catalog sync deferred")
	}
	return s.pushCatalog(ctx)
}

func (s *Server) pushCatalog(ctx context.Context) error {
	if s.registry == nil {
		return nil
	}
	descriptors := s.registry.DescribeAll()
	if err := s.client.RegisterTools(ctx, descriptors); err != nil {
		s.logger.Warn().Err(err).Msg("Capability sync failed, remote catalog is stale")
		s.setStale(true)
		return err
	}
	s.setStale(false)
	s.logger.Debug().Int("capabilities", len(descriptors)).Msg("Capability catalog synced")
	return nil
}

func (s *Server) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	if prev != state {
		s.logger.Debug().Str("from", prev.String()).Str("to", state.String()).Msg("State transition")
	}
}

func (s *Server) setStale(stale bool) {
	s.mu.Lock()
	s.stale = stale
	s.mu.Unlock()
}

func (s *Server) killProcess() {
	s.mu.RLock()
	cmd := s.cmd
	s.mu.RUnlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
