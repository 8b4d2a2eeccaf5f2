// Package suggest implements the ambient suggestion pipeline: it watches the
// live transcript window, debounces analysis, asks a model for proactive
// suggestions, and manages the small set of visible suggestion slots with
// expiry and topic-recency dedup.
package suggest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/K8rrik/FreeCluely/internal/contextwin"
	"github.com/K8rrik/FreeCluely/internal/observe"
	"github.com/K8rrik/FreeCluely/pkg/chat"
	"github.com/K8rrik/FreeCluely/pkg/provider/model"
)

const (
	// DefaultDebounce is the quiet period after the last transcript change
	// before an analysis cycle fires.
	DefaultDebounce = 3 * time.Second

	// DefaultTTL is how long an unactivated suggestion stays visible.
	DefaultTTL = 20 * time.Second

	// MaxActive is the number of simultaneously visible suggestion slots.
	MaxActive = 3

	// MinConfidence is the lowest model confidence a suggestion may carry
	// and still be shown.
	MinConfidence = 0.7

	// minContextLen is the minimum flattened transcript length worth
	// analyzing. Shorter windows produce noise.
	minContextLen = 50

	// recoveryKeepWords is the context tail kept when a cycle produced no
	// suggestions but the buffer overran its cap anyway.
	recoveryKeepWords = 30

	// analysisTimeout bounds a single model analysis call.
	analysisTimeout = 30 * time.Second
)

// Suggestion is one proactive suggestion surfaced to the user.
type Suggestion struct {
	ID         uuid.UUID `json:"id"`
	Topic      string    `json:"topic"`
	Answer     string    `json:"answer"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Config holds the pipeline's collaborators and tuning knobs.
type Config struct {
	// Provider is the model used for analysis, typically a fast model
	// behind a [resilience.ModelFallback]. Required.
	Provider model.Provider

	// Window is the transcript window the pipeline reads and trims. Required.
	Window *contextwin.Window

	// Params is forwarded to the provider on every analysis call.
	Params model.GenerationParams

	// Debounce overrides [DefaultDebounce] when positive.
	Debounce time.Duration

	// TTL overrides [DefaultTTL] when positive.
	TTL time.Duration

	// OnUpdate is called with the current active set whenever it changes:
	// suggestions added, expired, or activated. Called without internal
	// locks held. Optional.
	OnUpdate func(active []Suggestion)

	// Metrics receives instrumentation. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Pipeline watches transcript signals and maintains the active suggestion
// set. All exported methods are safe for concurrent use.
type Pipeline struct {
	provider model.Provider
	window   *contextwin.Window
	params   model.GenerationParams

	debounce time.Duration
	ttl      time.Duration
	onUpdate func(active []Suggestion)
	metrics  *observe.Metrics

	mu        sync.Mutex
	timer     *time.Timer
	analyzing bool
	closed    bool
	active    []*slot
	recent    *topicSet
}

// slot pairs an active suggestion with its expiry timer.
type slot struct {
	suggestion Suggestion
	expiry     *time.Timer
}

// NewPipeline creates a Pipeline from cfg. Provider and Window are required.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Provider == nil {
		return nil, errProviderRequired
	}
	if cfg.Window == nil {
		return nil, errWindowRequired
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	onUpdate := cfg.OnUpdate
	if onUpdate == nil {
		onUpdate = func([]Suggestion) {}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Pipeline{
		provider: cfg.Provider,
		window:   cfg.Window,
		params:   cfg.Params,
		debounce: cfg.Debounce,
		ttl:      cfg.TTL,
		onUpdate: onUpdate,
		metrics:  cfg.Metrics,
		recent:   newTopicSet(maxRecentTopics),
	}, nil
}

// Signal notifies the pipeline that the transcript changed. Each call
// restarts the trailing debounce; analysis fires only after the transcript
// has been quiet for the full debounce period.
func (p *Pipeline) Signal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.debounce, p.analyze)
}

// Active returns a snapshot of the currently visible suggestions, oldest first.
func (p *Pipeline) Active() []Suggestion {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Activate removes the suggestion with the given ID from the visible set and
// returns it. The topic stays in the recent set so follow-up cycles do not
// resurface it. Returns ErrNotFound when the ID is unknown or already expired.
func (p *Pipeline) Activate(id uuid.UUID) (Suggestion, error) {
	p.mu.Lock()
	for i, s := range p.active {
		if s.suggestion.ID != id {
			continue
		}
		s.expiry.Stop()
		p.active = append(p.active[:i], p.active[i+1:]...)
		snapshot := p.snapshotLocked()
		p.mu.Unlock()

		p.metrics.ActiveSuggestions.Add(context.Background(), -1)
		p.onUpdate(snapshot)
		return s.suggestion, nil
	}
	p.mu.Unlock()
	return Suggestion{}, ErrNotFound
}

// Close stops the debounce and all expiry timers. Signals after Close are
// ignored; an analysis already in flight finishes but its results are dropped.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
	}
	for _, s := range p.active {
		s.expiry.Stop()
	}
	if n := len(p.active); n > 0 {
		p.metrics.ActiveSuggestions.Add(context.Background(), -int64(n))
	}
	p.active = nil
}

// analyze runs one analysis cycle. It fires on the debounce timer goroutine.
func (p *Pipeline) analyze() {
	p.mu.Lock()
	if p.closed || p.analyzing {
		p.mu.Unlock()
		return
	}
	transcript := p.window.Flattened()
	if len(transcript) < minContextLen {
		p.mu.Unlock()
		return
	}
	p.analyzing = true
	avoid := p.avoidTopicsLocked()
	p.mu.Unlock()

	start := time.Now()
	candidates, err := p.runAnalysis(transcript, avoid)
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordAnalysisCycle(context.Background(), status, time.Since(start).Seconds())

	p.mu.Lock()
	p.analyzing = false
	if err != nil {
		p.mu.Unlock()
		slog.Warn("suggestion analysis failed", "err", err)
		return
	}
	if p.closed {
		p.mu.Unlock()
		return
	}

	added := p.admitLocked(candidates)

	// An accepted cycle consumed the buffer: collapse it to the last phrase
	// so the next cycle keeps minimal continuity. A barren cycle leaves the
	// buffer alone unless it overran its cap, in which case only a short
	// word tail is worth carrying forward.
	if added > 0 {
		p.window.ResetToLastPhrase()
	} else if len(p.window.Flattened()) > contextwin.MaxFlattenedLen {
		p.window.TrimToWords(recoveryKeepWords)
	}

	snapshot := p.snapshotLocked()
	p.mu.Unlock()

	if added > 0 {
		ctx := context.Background()
		p.metrics.ActiveSuggestions.Add(ctx, int64(added))
		for range added {
			p.metrics.RecordSuggestionEvent(ctx, "shown")
		}
		p.onUpdate(snapshot)
	}
}

// runAnalysis performs the model call and parses its response. Called without
// the pipeline lock held.
func (p *Pipeline) runAnalysis(transcript string, avoid []string) ([]candidate, error) {
	ctx, cancel := context.WithTimeout(context.Background(), analysisTimeout)
	defer cancel()

	prompt := buildPrompt(transcript, avoid)
	history := []chat.Message{chat.NewUserMessage(prompt, nil)}

	ch, err := p.provider.Stream(ctx, history, p.params)
	if err != nil {
		p.metrics.RecordProviderRequest(ctx, "model", "analysis", "error")
		p.metrics.RecordProviderError(ctx, "model", "analysis")
		return nil, err
	}
	p.metrics.RecordProviderRequest(ctx, "model", "analysis", "ok")
	var raw string
	for delta := range ch {
		if delta.Err != nil {
			return nil, delta.Err
		}
		raw += delta.Text
	}
	return parseSuggestions(raw)
}

// admitLocked filters candidates and fills free slots. Each admitted topic
// enters the recent set immediately, so it competes in the FIFO eviction from
// the moment the suggestion exists. Must be called with p.mu held. Returns
// the number of suggestions added.
func (p *Pipeline) admitLocked(candidates []candidate) int {
	free := MaxActive - len(p.active)
	added := 0
	for _, c := range candidates {
		if free <= 0 {
			break
		}
		// A missing confidence is acceptable; only a stated low one filters.
		if c.Confidence != nil && *c.Confidence < MinConfidence {
			continue
		}
		if c.Topic == "" || c.Answer == "" {
			continue
		}
		if p.isDuplicateLocked(c.Topic) {
			continue
		}

		now := time.Now().UTC()
		sg := Suggestion{
			ID:        uuid.New(),
			Topic:     c.Topic,
			Answer:    c.Answer,
			CreatedAt: now,
			ExpiresAt: now.Add(p.ttl),
		}
		if c.Confidence != nil {
			sg.Confidence = *c.Confidence
		}

		id := sg.ID
		s := &slot{suggestion: sg}
		s.expiry = time.AfterFunc(p.ttl, func() { p.expire(id) })
		p.active = append(p.active, s)
		p.recent.Add(sg.Topic)
		free--
		added++
	}
	return added
}

// isDuplicateLocked reports whether topic is similar to any visible
// suggestion's topic or any recently handled topic.
func (p *Pipeline) isDuplicateLocked(topic string) bool {
	for _, s := range p.active {
		if topicsSimilar(topic, s.suggestion.Topic) {
			return true
		}
	}
	return p.recent.ContainsSimilar(topic)
}

// avoidTopicsLocked collects the topics the model should not resuggest.
func (p *Pipeline) avoidTopicsLocked() []string {
	avoid := p.recent.Topics()
	for _, s := range p.active {
		avoid = append(avoid, s.suggestion.Topic)
	}
	return avoid
}

// expire removes a suggestion whose TTL elapsed. Unlike activation, natural
// expiry also releases the topic so it may be suggested again later.
func (p *Pipeline) expire(id uuid.UUID) {
	p.mu.Lock()
	for i, s := range p.active {
		if s.suggestion.ID != id {
			continue
		}
		p.active = append(p.active[:i], p.active[i+1:]...)
		p.recent.Remove(s.suggestion.Topic)
		snapshot := p.snapshotLocked()
		p.mu.Unlock()

		ctx := context.Background()
		p.metrics.RecordSuggestionEvent(ctx, "expired")
		p.metrics.ActiveSuggestions.Add(ctx, -1)
		p.onUpdate(snapshot)
		return
	}
	p.mu.Unlock()
}

// snapshotLocked copies the active set. Must be called with p.mu held.
func (p *Pipeline) snapshotLocked() []Suggestion {
	out := make([]Suggestion, len(p.active))
	for i, s := range p.active {
		out[i] = s.suggestion
	}
	return out
}
