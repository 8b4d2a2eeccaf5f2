package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/K8rrik/FreeCluely/pkg/chat"
	"github.com/K8rrik/FreeCluely/pkg/provider/model"
)

// ErrAllFailed is returned when every backend fails or has an open breaker.
var ErrAllFailed = errors.New("resilience: all model backends failed")

// FallbackConfig configures the per-backend [Breaker] of a [ModelFallback].
// The breaker name is always overridden with the backend name.
type FallbackConfig struct {
	Breaker BreakerConfig
}

type backend struct {
	name     string
	provider model.Provider
	breaker  *Breaker
}

// ModelFallback implements [model.Provider] with failover across multiple
// model backends, tried in registration order. Only the initial connection
// attempt is covered; once a stream is established, mid-stream errors are
// the caller's responsibility.
//
// AddFallback must not be called concurrently with Stream; register all
// backends during setup.
type ModelFallback struct {
	backends []backend
	cfg      FallbackConfig
}

var _ model.Provider = (*ModelFallback)(nil)

// NewModelFallback creates a [ModelFallback] with primary as the preferred
// backend.
func NewModelFallback(primary model.Provider, name string, cfg FallbackConfig) *ModelFallback {
	f := &ModelFallback{cfg: cfg}
	f.AddFallback(name, primary)
	return f
}

// AddFallback registers an additional backend, tried after the ones already
// registered.
func (f *ModelFallback) AddFallback(name string, provider model.Provider) {
	bcfg := f.cfg.Breaker
	bcfg.Name = name
	f.backends = append(f.backends, backend{
		name:     name,
		provider: provider,
		breaker:  NewBreaker(bcfg),
	})
}

// Stream opens a delta stream from the first healthy backend. Backends with
// an open breaker are skipped; a backend that fails feeds its breaker and
// the next one is tried.
func (f *ModelFallback) Stream(ctx context.Context, history []chat.Message, params model.GenerationParams) (<-chan model.Delta, error) {
	var lastErr error
	for i := range f.backends {
		b := &f.backends[i]
		if !b.breaker.Allow() {
			slog.Debug("skipping model backend, breaker open", "backend", b.name)
			continue
		}

		ch, err := b.provider.Stream(ctx, history, params)
		b.breaker.Record(err)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		slog.Warn("model backend failed, trying next", "backend", b.name, "err", err)
	}

	if lastErr == nil {
		return nil, ErrAllFailed
	}
	return nil, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
