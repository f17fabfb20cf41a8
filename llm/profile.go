package llm

import (
	"fmt"
	"sync"
)

// Profile describes a provider's static capabilities plus its mutable
// currently-selected model. One Profile is constructed per backend; the
// selected model and credential are mutated only through SetModel/SetAPIKey
// on the owning provider, never through ambient global state.
type Profile struct {
	Provider          string
	RequiresAPIKey    bool
	SupportsStreaming bool
	SupportsToolCalls bool
	SupportsVision    bool
	ContextWindow     int

	mu     sync.RWMutex
	model  string
	models []Model
}

// NewProfile creates a Profile with the given defaults. The initial model
// list seeds the AvailableModels set until FetchAvailableModels refreshes it.
func NewProfile(provider string, defaultModel string, models []Model) *Profile {
	return &Profile{
		Provider: provider,
		model:    defaultModel,
		models:   models,
	}
}

// Model returns the currently selected model id.
func (p *Profile) Model() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

// SetModel selects a model by id. The id must be present in the current
// AvailableModels set; unknown ids are rejected rather than passed through to
// the vendor.
func (p *Profile) SetModel(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.models {
		if m.ID == id {
			p.model = id
			return nil
		}
	}
	return fmt.Errorf("model %q is not in the available models for provider %s", id, p.Provider)
}

// AvailableModels returns a copy of the current model list.
func (p *Profile) AvailableModels() []Model {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Model, len(p.models))
	copy(out, p.models)
	return out
}

// ReplaceModels swaps in a freshly discovered model list. Called by providers
// after a successful FetchAvailableModels; an empty list is ignored so a
// failed discovery never wipes the cache.
func (p *Profile) ReplaceModels(models []Model) {
	if len(models) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.models = models
}
