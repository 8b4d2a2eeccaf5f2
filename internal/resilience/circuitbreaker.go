// Package resilience provides failover across model backends.
//
// [ModelFallback] chains a preferred model provider with fallbacks; each
// backend sits behind its own [Breaker], so a backend that keeps failing is
// skipped until its cooldown elapses. The ambient analysis path uses this to
// prefer a fast model and degrade to the main chat model.
//
// All types are safe for concurrent use.
package resilience

import (
	"log/slog"
	"sync"
	"time"
)

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed passes all calls through.
	StateClosed State = iota

	// StateOpen rejects calls until the cooldown elapses.
	StateOpen

	// StateHalfOpen allows a single probe call. Success closes the breaker,
	// failure re-opens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// TripAfter is the number of consecutive failures before the breaker
	// opens. Default: 5.
	TripAfter int

	// Cooldown is how long the breaker stays open before it admits a probe
	// call. Default: 30s.
	Cooldown time.Duration
}

// Breaker tracks the health of one backend. Callers ask [Breaker.Allow]
// before an attempt and report the outcome with [Breaker.Record]; the
// breaker never invokes the backend itself, which keeps it usable around
// calls that hand back a live stream rather than a result.
type Breaker struct {
	name      string
	tripAfter int
	cooldown  time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:      cfg.Name,
		tripAfter: cfg.TripAfter,
		cooldown:  cfg.Cooldown,
	}
}

// Allow reports whether a call may proceed. When the breaker is open and the
// cooldown has elapsed, it admits exactly one probe at a time and moves to
// [StateHalfOpen]; the caller must follow up with [Breaker.Record].
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		slog.Info("breaker admitting probe", "name", b.name)
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// Record reports the outcome of a call admitted by [Breaker.Allow].
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
		if err != nil {
			b.state = StateOpen
			b.openedAt = time.Now()
			slog.Warn("breaker re-opened, probe failed", "name", b.name, "err", err)
			return
		}
		b.state = StateClosed
		b.failures = 0
		slog.Info("breaker closed, probe succeeded", "name", b.name)
		return
	}

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.tripAfter {
		b.state = StateOpen
		b.openedAt = time.Now()
		slog.Warn("breaker opened", "name", b.name, "consecutive_failures", b.failures)
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to [StateClosed].
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}
