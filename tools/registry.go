package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/parleyio/parley/llm"
)

var (
	// ErrDuplicateCapability is returned when a provider advertises a name
	// already claimed by a registered provider. The first writer wins and the
	// whole conflicting provider is rejected.
	ErrDuplicateCapability = errors.New("capability already registered")

	// ErrCapabilityNotFound is returned when no provider advertises the
	// requested name.
	ErrCapabilityNotFound = errors.New("capability not found")
)

// Provider is the contract a capability source implements. Providers bundle
// related capabilities; the registry dispatches by name across all of them.
type Provider interface {
	// ProviderName identifies the provider in logs and errors.
	ProviderName() string

	// Initialize prepares the provider. Called once before registration.
	Initialize(ctx context.Context) error

	// ListCapabilities returns the descriptors this provider serves. The set
	// must be stable for the provider's registered lifetime.
	ListCapabilities() []Descriptor

	// Execute runs one capability. Failures are reported through the Result,
	// not an error.
	Execute(ctx context.Context, name string, args map[string]interface{}) Result
}

type registration struct {
	provider   Provider
	descriptor Descriptor
}

// Registry maps capability names to the providers that serve them. Safe for
// concurrent use; registration takes the write lock, everything else reads.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]registration
	onChange []func()
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		byName: make(map[string]registration),
		logger: logger.With().Str("component", "capability_registry").Logger(),
	}
}

// Register publishes all of a provider's capabilities atomically. If any name
// collides with an existing registration, nothing is registered and
// ErrDuplicateCapability is returned.
func (r *Registry) Register(p Provider) error {
	descriptors := p.ListCapabilities()

	r.mu.Lock()
	for _, d := range descriptors {
		if existing, ok := r.byName[d.Name]; ok {
			r.mu.Unlock()
			r.logger.Warn().
				Str("capability", d.Name).
				Str("provider", p.ProviderName()).
				Str("existing_provider", existing.provider.ProviderName()).
				Msg("Rejecting provider with conflicting capability")
			return fmt.Errorf("%w: %s (provider %s)", ErrDuplicateCapability, d.Name, existing.provider.ProviderName())
		}
	}
	for _, d := range descriptors {
		r.byName[d.Name] = registration{provider: p, descriptor: d}
	}
	callbacks := append([]func(){}, r.onChange...)
	r.mu.Unlock()

	r.logger.Info().
		Str("provider", p.ProviderName()).
		Int("capabilities", len(descriptors)).
		Msg("Registered capability provider")

	for _, fn := range callbacks {
		fn()
	}
	return nil
}

// Unregister removes all capabilities served by the named provider.
func (r *Registry) Unregister(providerName string) {
	r.mu.Lock()
	removed := 0
	for name, reg := range r.byName {
		if reg.provider.ProviderName() == providerName {
			delete(r.byName, name)
			removed++
		}
	}
	callbacks := append([]func(){}, r.onChange...)
	r.mu.Unlock()

	if removed == 0 {
		return
	}
	r.logger.Info().Str("provider", providerName).Int("capabilities", removed).Msg("Unregistered capability provider")
	for _, fn := range callbacks {
		fn()
	}
}

// Resolve returns the provider serving the named capability.
func (r *Registry) Resolve(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCapabilityNotFound, name)
	}
	return reg.provider, nil
}

// Execute dispatches one capability call. An unknown name, a provider panic,
// or any other internal failure becomes a failed Result; callers never see an
// error from execution itself.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (result Result) {
	r.mu.RLock()
	reg, ok := r.byName[name]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn().Str("capability", name).Msg("Unknown capability requested")
		return Fail(fmt.Sprintf("unknown capability: %s", name))
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("capability", name).
				Str("provider", reg.provider.ProviderName()).
				Interface("panic", rec).
				Msg("Capability panicked")
			result = Fail(fmt.Sprintf("capability %s panicked: %v", name, rec))
		}
	}()

	r.logger.Debug().
		Str("capability", name).
		Str("provider", reg.provider.ProviderName()).
		Msg("Executing capability")

	result = reg.provider.Execute(ctx, name, args)

	if result.Success {
		r.logger.Debug().Str("capability", name).Msg("Capability succeeded")
	} else {
		r.logger.Warn().Str("capability", name).Str("error", result.ErrorMessage).Msg("Capability failed")
	}
	return result
}

// DescribeAll returns every registered descriptor sorted by name.
func (r *Registry) DescribeAll() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.byName))
	for _, reg := range r.byName {
		out = append(out, reg.descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Specs renders the full catalog as provider-neutral tool specs, sorted by
// name so advertisement order is stable across calls.
func (r *Registry) Specs() []llm.ToolSpec {
	return lo.Map(r.DescribeAll(), func(d Descriptor, _ int) llm.ToolSpec {
		return d.Spec()
	})
}

// OnChange registers a callback fired after every catalog change. Callbacks
// run outside the registry lock and must not call Register or Unregister.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, fn)
}
