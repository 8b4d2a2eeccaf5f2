package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/K8rrik/FreeCluely/pkg/provider/model"
	"github.com/K8rrik/FreeCluely/pkg/provider/transcribe"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	model      map[string]func(ProviderEntry) (model.Provider, error)
	transcribe map[string]func(ProviderEntry) (transcribe.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		model:      make(map[string]func(ProviderEntry) (model.Provider, error)),
		transcribe: make(map[string]func(ProviderEntry) (transcribe.Provider, error)),
	}
}

// RegisterModel registers a model provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterModel(name string, factory func(ProviderEntry) (model.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.model[name] = factory
}

// RegisterTranscribe registers a transcription provider factory under name.
func (r *Registry) RegisterTranscribe(name string, factory func(ProviderEntry) (transcribe.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcribe[name] = factory
}

// CreateModel instantiates a model provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateModel(entry ProviderEntry) (model.Provider, error) {
	r.mu.RLock()
	factory, ok := r.model[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: model/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranscribe instantiates a transcription provider using the factory
// registered under entry.Name.
func (r *Registry) CreateTranscribe(entry ProviderEntry) (transcribe.Provider, error) {
	r.mu.RLock()
	factory, ok := r.transcribe[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcribe/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
