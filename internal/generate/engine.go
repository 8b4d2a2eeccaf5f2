// Package generate implements the streaming response engine: it owns the
// per-session generation lifecycle, merges model deltas into the transcript,
// and enforces single-flight semantics with silent supersession.
//
// The engine never touches session state directly. Every mutation is
// marshalled through the Mutate hook supplied at construction, which the
// owning session manager runs inside its serialization domain. Background
// streaming goroutines therefore never race with UI-driven mutations.
package generate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/K8rrik/FreeCluely/internal/observe"
	"github.com/K8rrik/FreeCluely/pkg/chat"
	"github.com/K8rrik/FreeCluely/pkg/provider/model"
)

// ErrEmptyMessage is returned by Generate when the user message is blank.
var ErrEmptyMessage = errors.New("generate: user message must not be empty")

// State is the engine's lifecycle state.
type State int

const (
	// StateIdle means no generation is in flight.
	StateIdle State = iota

	// StateGenerating means exactly one generation is streaming.
	StateGenerating
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	default:
		return "unknown"
	}
}

// Outcome reports how a generation left the Generating state.
type Outcome int

const (
	// OutcomeCompleted means the delta stream closed normally.
	OutcomeCompleted Outcome = iota

	// OutcomeCancelled means the generation was cancelled — by an explicit
	// cancel, a superseding Generate call, or a session reset. Cancellation
	// is silent: the partial message stays as-is and no error is recorded.
	OutcomeCancelled

	// OutcomeFailed means the stream ended with a non-cancellation error;
	// the classified message was written into the assistant message slot.
	OutcomeFailed
)

// String returns the human-readable name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handle is the cancellable handle for one generation, bound 1:1 to the
// session it is generating into. Creating a new handle for the same session
// cancels and discards the prior one.
type Handle struct {
	messageID uuid.UUID
	cancel    context.CancelFunc
	done      chan struct{}
}

// MessageID returns the placeholder assistant-message ID this generation
// merges into. The ID is allocated before the first delta arrives.
func (h *Handle) MessageID() uuid.UUID { return h.messageID }

// Done returns a channel closed when the generation's streaming goroutine
// has fully exited. Primarily useful in tests.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Config holds the engine's collaborators.
type Config struct {
	// Provider is the model gateway the engine streams from.
	Provider model.Provider

	// Params is the fixed generation parameter bag, forwarded verbatim.
	Params model.GenerationParams

	// Mutate runs fn with exclusive access to the active session, inside
	// the owner's serialization domain. Required.
	Mutate func(fn func(s *chat.Session))

	// OnFinish is invoked (inside the serialization domain, via Mutate)
	// when a generation leaves the Generating state. Superseded generations
	// do not report an outcome. Optional.
	OnFinish func(o Outcome)

	// Metrics receives instrumentation. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Engine enforces at most one in-flight generation and applies the merge
// algorithm. All exported methods are safe for concurrent use.
type Engine struct {
	provider model.Provider
	params   model.GenerationParams
	mutate   func(fn func(s *chat.Session))
	onFinish func(o Outcome)
	metrics  *observe.Metrics

	mu      sync.Mutex
	state   State
	current *Handle
}

// New creates an Engine from cfg. Provider and Mutate are required.
func New(cfg Config) (*Engine, error) {
	if cfg.Provider == nil {
		return nil, errors.New("generate: Config.Provider is required")
	}
	if cfg.Mutate == nil {
		return nil, errors.New("generate: Config.Mutate is required")
	}
	onFinish := cfg.OnFinish
	if onFinish == nil {
		onFinish = func(Outcome) {}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Engine{
		provider: cfg.Provider,
		params:   cfg.Params,
		mutate:   cfg.Mutate,
		onFinish: onFinish,
		metrics:  cfg.Metrics,
	}, nil
}

// SetParams replaces the generation parameters for subsequent generations.
// An in-flight generation keeps the parameters it started with.
func (e *Engine) SetParams(p model.GenerationParams) {
	e.mu.Lock()
	e.params = p
	e.mu.Unlock()
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Generate starts a new generation for the active session.
//
// The user message is appended to the session synchronously, before any
// asynchronous work begins. Any in-flight generation is cancelled silently —
// its partial assistant message is left as-is in the transcript and no error
// is recorded for it. The placeholder assistant-message ID is allocated now;
// the message itself is created lazily when the first delta arrives.
func (e *Engine) Generate(text string, attachment []byte) (*Handle, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	// Synchronous side effect: append the user message and snapshot the
	// history that seeds the stream.
	var history []chat.Message
	e.mutate(func(s *chat.Session) {
		s.Messages = append(s.Messages, chat.NewUserMessage(text, attachment))
		history = make([]chat.Message, len(s.Messages))
		copy(history, s.Messages)
	})

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		messageID: uuid.New(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	e.mu.Lock()
	prev := e.current
	e.current = h
	e.state = StateGenerating
	e.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}

	go e.run(ctx, h, history)
	return h, nil
}

// Cancel cancels the in-flight generation, if any. The partial message is
// retained; no error content is appended.
func (e *Engine) Cancel() {
	e.mu.Lock()
	h := e.current
	e.mu.Unlock()
	if h != nil {
		h.cancel()
	}
}

// run streams deltas for one generation and applies them. It exits when the
// stream closes, errors, or this handle is superseded.
func (e *Engine) run(ctx context.Context, h *Handle, history []chat.Message) {
	defer close(h.done)
	defer h.cancel()

	ph := &placeholder{id: h.messageID}

	e.mu.Lock()
	params := e.params
	e.mu.Unlock()

	ch, err := e.provider.Stream(ctx, history, params)
	switch {
	case err == nil:
		e.metrics.RecordProviderRequest(ctx, "model", "chat", "ok")
	case isCancellation(err):
		e.metrics.RecordProviderRequest(ctx, "model", "chat", "cancelled")
	default:
		e.metrics.RecordProviderRequest(ctx, "model", "chat", "error")
		e.metrics.RecordProviderError(ctx, "model", "chat")
	}
	if err != nil {
		e.finish(h, ph, err)
		return
	}

	for delta := range ch {
		if delta.Err != nil {
			e.finish(h, ph, delta.Err)
			// Drain any residual deltas so the provider goroutine exits.
			for range ch {
			}
			return
		}
		if !e.isCurrent(h) {
			// Superseded mid-stream: stop applying, stay silent.
			for range ch {
			}
			return
		}
		e.mutate(func(s *chat.Session) {
			ph.apply(s, delta)
		})
	}

	// A cancelled stream may close without a terminal error delta; ctx.Err
	// distinguishes that from normal completion.
	e.finish(h, ph, ctx.Err())
}

// finish resolves the terminal state for a generation. Superseded handles
// report nothing; cancellations are silent; other errors are classified and
// written into the placeholder assistant message, creating it if no delta
// had arrived.
func (e *Engine) finish(h *Handle, ph *placeholder, err error) {
	e.mu.Lock()
	if e.current != h {
		e.mu.Unlock()
		return
	}
	e.current = nil
	e.state = StateIdle
	e.mu.Unlock()

	outcome := OutcomeCompleted
	switch {
	case err == nil:
	case isCancellation(err):
		outcome = OutcomeCancelled
	default:
		outcome = OutcomeFailed
		msg := Classify(err)
		slog.Warn("generation failed", "message_id", h.messageID, "err", err)
		e.mutate(func(s *chat.Session) {
			ph.fail(s, msg)
		})
	}

	e.mutate(func(*chat.Session) {
		e.onFinish(outcome)
	})
}

// isCurrent reports whether h is still the live handle.
func (e *Engine) isCurrent(h *Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current == h
}

// isCancellation reports whether err stems from context cancellation.
// Deliberately excludes DeadlineExceeded: a timed-out request is a transport
// failure the user should see, not a silent cancel.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// ─── placeholder ──────────────────────────────────────────────────────────────
//
// placeholder is the explicit two-state per-generation object for the
// lazily-created assistant message: NotYetCreated until the first delta (or
// failure) arrives, Created(messageID) afterwards.

type placeholder struct {
	id      uuid.UUID
	created bool
}

// apply merges one delta into the session. On first arrival the assistant
// message is created with whatever fields the delta carries; afterwards Text
// and Thought are appended independently, order-preserving and monotonic.
func (p *placeholder) apply(s *chat.Session, d model.Delta) {
	if !p.created {
		s.Messages = append(s.Messages, chat.Message{
			ID:        p.id,
			Role:      chat.RoleAssistant,
			Text:      d.Text,
			Thought:   d.Thought,
			Timestamp: time.Now().UTC(),
		})
		p.created = true
		return
	}
	msg := s.Find(p.id)
	if msg == nil {
		// History replacement removed the message mid-stream; recreate so
		// no delta is lost.
		p.created = false
		p.apply(s, d)
		return
	}
	msg.Text += d.Text
	msg.Thought += d.Thought
}

// fail writes the classified error message into the assistant slot,
// creating the message if no delta had yet arrived.
func (p *placeholder) fail(s *chat.Session, msg string) {
	if p.created {
		if m := s.Find(p.id); m != nil {
			m.Text = msg
			return
		}
	}
	s.Messages = append(s.Messages, chat.Message{
		ID:        p.id,
		Role:      chat.RoleAssistant,
		Text:      msg,
		Timestamp: time.Now().UTC(),
	})
	p.created = true
}
