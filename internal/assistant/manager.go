// Package assistant wires the streaming engine, the ambient suggestion
// pipeline, live transcription, and history persistence into one
// conversation manager.
//
// The Manager owns a single mutex that is the serialization domain for all
// session state. Background work — streaming deltas, analysis results,
// transcription events — is marshalled through that mutex before touching any
// session, so callers always observe a consistent transcript.
package assistant

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/K8rrik/FreeCluely/internal/contextwin"
	"github.com/K8rrik/FreeCluely/internal/generate"
	"github.com/K8rrik/FreeCluely/internal/history"
	"github.com/K8rrik/FreeCluely/internal/observe"
	"github.com/K8rrik/FreeCluely/internal/suggest"
	"github.com/K8rrik/FreeCluely/pkg/chat"
	"github.com/K8rrik/FreeCluely/pkg/provider/model"
	"github.com/K8rrik/FreeCluely/pkg/provider/transcribe"
)

// EventType identifies which part of the assistant state changed. UI layers
// subscribe to these and re-fetch the corresponding snapshot.
type EventType string

const (
	// EventMessages fires when the active session's transcript changed.
	EventMessages EventType = "messages"

	// EventSessions fires when the session list changed.
	EventSessions EventType = "sessions"

	// EventSuggestions fires when the visible suggestion set changed.
	EventSuggestions EventType = "suggestions"

	// EventTranscript fires when the live speech transcript changed.
	EventTranscript EventType = "transcript"

	// EventGeneration fires when a generation starts or finishes.
	EventGeneration EventType = "generation"
)

// ErrSessionNotFound is returned for operations on an unknown session ID.
var ErrSessionNotFound = errors.New("assistant: session not found")

// ErrVoiceActive is returned by StartVoiceMode while a stream is running.
var ErrVoiceActive = errors.New("assistant: voice mode already active")

// ErrNoTranscriber is returned by StartVoiceMode when no transcription
// provider was configured.
var ErrNoTranscriber = errors.New("assistant: no transcription provider configured")

// persistTimeout bounds one background history save.
const persistTimeout = 10 * time.Second

// Config holds the manager's collaborators.
type Config struct {
	// ChatProvider streams chat responses. Required.
	ChatProvider model.Provider

	// AnalysisProvider runs ambient suggestion analysis. Defaults to
	// ChatProvider when nil; typically a fast model behind a fallback.
	AnalysisProvider model.Provider

	// Transcriber streams live speech. Voice mode is unavailable when nil.
	Transcriber transcribe.Provider

	// Transcription configures the transcription stream.
	Transcription transcribe.StreamConfig

	// Store persists history across restarts. History is in-memory only
	// when nil.
	Store history.Store

	// Params is forwarded to ChatProvider on every generation.
	Params model.GenerationParams

	// AnalysisParams is forwarded to AnalysisProvider on every analysis call.
	AnalysisParams model.GenerationParams

	// Debounce and SuggestionTTL tune the suggestion pipeline; zero values
	// use the pipeline defaults.
	Debounce      time.Duration
	SuggestionTTL time.Duration

	// Metrics receives instrumentation. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// OnEvent is notified about state changes. Called from its own
	// goroutine without locks held. Optional.
	OnEvent func(e EventType)
}

// Manager is the conversation core. All exported methods are safe for
// concurrent use.
type Manager struct {
	engine   *generate.Engine
	pipeline *suggest.Pipeline
	window   *contextwin.Window

	transcriber   transcribe.Provider
	transcription transcribe.StreamConfig
	store         history.Store
	metrics       *observe.Metrics
	onEvent       func(e EventType)

	mu       sync.Mutex
	sessions []*chat.Session // newest first
	activeID uuid.UUID
	genStart time.Time

	voiceMu     sync.Mutex
	voiceHandle transcribe.SessionHandle
	voiceDone   chan struct{}
}

// New creates a Manager. Call [Manager.Start] before first use to load
// persisted history.
func New(cfg Config) (*Manager, error) {
	if cfg.ChatProvider == nil {
		return nil, errors.New("assistant: Config.ChatProvider is required")
	}
	if cfg.AnalysisProvider == nil {
		cfg.AnalysisProvider = cfg.ChatProvider
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	onEvent := cfg.OnEvent
	if onEvent == nil {
		onEvent = func(EventType) {}
	}

	m := &Manager{
		transcriber:   cfg.Transcriber,
		transcription: cfg.Transcription,
		store:         cfg.Store,
		metrics:       cfg.Metrics,
		onEvent:       onEvent,
		window:        contextwin.New(),
	}

	first := chat.NewSession()
	m.sessions = []*chat.Session{first}
	m.activeID = first.ID

	eng, err := generate.New(generate.Config{
		Provider: cfg.ChatProvider,
		Params:   cfg.Params,
		Mutate:   m.mutateActive,
		OnFinish: m.finishLocked,
		Metrics:  cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	m.engine = eng

	pl, err := suggest.NewPipeline(suggest.Config{
		Provider: cfg.AnalysisProvider,
		Window:   m.window,
		Params:   cfg.AnalysisParams,
		Debounce: cfg.Debounce,
		TTL:      cfg.SuggestionTTL,
		OnUpdate: m.suggestionsChanged,
		Metrics:  cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	m.pipeline = pl

	return m, nil
}

// Start loads persisted history. The freshly created active session stays in
// front; loaded sessions append after it.
func (m *Manager) Start(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	loaded, err := m.store.Load(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	for i := range loaded {
		s := loaded[i]
		m.sessions = append(m.sessions, &s)
	}
	m.mu.Unlock()

	slog.Info("history loaded", "sessions", len(loaded))
	m.emit(EventSessions)
	return nil
}

// Close stops the suggestion pipeline and voice mode and cancels any
// in-flight generation.
func (m *Manager) Close() {
	m.engine.Cancel()
	m.pipeline.Close()
	m.StopVoiceMode()
}

// ─── chat ─────────────────────────────────────────────────────────────────────

// Send starts a generation for the active session. A generation already in
// flight is superseded silently. The attachment, when non-nil, is an image
// shown to the model alongside the text.
func (m *Manager) Send(text string, attachment []byte) error {
	m.mu.Lock()
	m.genStart = time.Now()
	m.mu.Unlock()

	_, err := m.engine.Generate(text, attachment)
	if err != nil {
		return err
	}

	m.emit(EventMessages)
	m.emit(EventGeneration)
	return nil
}

// Cancel cancels the in-flight generation, if any. The partial response is
// kept.
func (m *Manager) Cancel() {
	m.engine.Cancel()
}

// ApplySettings hot-applies the chat generation parameters. Debounce and TTL
// changes require a restart.
func (m *Manager) ApplySettings(params model.GenerationParams) {
	m.engine.SetParams(params)
	slog.Info("assistant settings applied")
}

// Generating reports whether a response is currently streaming.
func (m *Manager) Generating() bool {
	return m.engine.State() == generate.StateGenerating
}

// mutateActive runs fn on the active session under the manager mutex. It is
// the engine's single path into session state.
func (m *Manager) mutateActive(fn func(s *chat.Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.activeLocked())

	go m.onEvent(EventMessages)
}

// finishLocked records a finished generation. The engine invokes it through
// mutateActive, so the manager mutex is already held.
func (m *Manager) finishLocked(o generate.Outcome) {
	elapsed := time.Since(m.genStart)
	m.metrics.RecordGeneration(context.Background(), o.String(), elapsed.Seconds())

	m.persistLocked()
	go m.onEvent(EventGeneration)
}

// ─── sessions ─────────────────────────────────────────────────────────────────

// StartNewSession cancels any in-flight generation, persists the outgoing
// session, and makes a fresh empty session active. The previous session stays
// in the history list.
func (m *Manager) StartNewSession() {
	m.engine.Cancel()

	m.mu.Lock()
	s := chat.NewSession()
	m.sessions = append([]*chat.Session{s}, m.sessions...)
	m.activeID = s.ID
	m.persistLocked()
	m.mu.Unlock()

	m.emit(EventSessions)
	m.emit(EventMessages)
}

// SelectSession makes the session with the given ID active. Any in-flight
// generation is cancelled first so its deltas cannot leak into the newly
// selected transcript.
func (m *Manager) SelectSession(id uuid.UUID) error {
	m.engine.Cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID == id {
			m.activeID = id
			go m.onEvent(EventMessages)
			return nil
		}
	}
	return ErrSessionNotFound
}

// DeleteFromHistory removes a session. Deleting the active session starts a
// fresh one.
func (m *Manager) DeleteFromHistory(id uuid.UUID) error {
	m.mu.Lock()
	idx := -1
	for i, s := range m.sessions {
		if s.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	wasActive := m.activeID == id
	m.sessions = append(m.sessions[:idx], m.sessions[idx+1:]...)
	if wasActive {
		s := chat.NewSession()
		m.sessions = append([]*chat.Session{s}, m.sessions...)
		m.activeID = s.ID
	}
	m.persistLocked()
	m.mu.Unlock()

	if wasActive {
		m.engine.Cancel()
		m.emit(EventMessages)
	}
	m.emit(EventSessions)
	return nil
}

// History returns a snapshot of all sessions, newest first.
func (m *Manager) History() []chat.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chat.Session, len(m.sessions))
	for i, s := range m.sessions {
		out[i] = s.Clone()
	}
	return out
}

// Messages returns a snapshot of the active session's transcript.
func (m *Manager) Messages() []chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked().Clone().Messages
}

// ActiveSessionID returns the ID of the active session.
func (m *Manager) ActiveSessionID() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// activeLocked resolves the active session. Must be called with m.mu held.
// The active ID always refers to a live session; if it somehow does not, a
// fresh session takes its place rather than panicking mid-stream.
func (m *Manager) activeLocked() *chat.Session {
	for _, s := range m.sessions {
		if s.ID == m.activeID {
			return s
		}
	}
	s := chat.NewSession()
	m.sessions = append([]*chat.Session{s}, m.sessions...)
	m.activeID = s.ID
	return s
}

// persistLocked snapshots non-empty sessions and saves them in the
// background. Must be called with m.mu held.
func (m *Manager) persistLocked() {
	if m.store == nil {
		return
	}
	snapshot := make([]chat.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.Empty() {
			continue
		}
		snapshot = append(snapshot, s.Clone())
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := m.store.Save(ctx, snapshot); err != nil {
			slog.Error("history save failed", "err", err)
		}
	}()
}

// ─── suggestions ──────────────────────────────────────────────────────────────

// Suggestions returns the currently visible suggestions, oldest first.
func (m *Manager) Suggestions() []suggest.Suggestion {
	return m.pipeline.Active()
}

// ActivateSuggestion promotes a visible suggestion into the active session as
// an ambient assistant message. No generation runs; the prepared answer is
// used as-is.
func (m *Manager) ActivateSuggestion(id uuid.UUID) error {
	s, err := m.pipeline.Activate(id)
	if err != nil {
		return err
	}
	m.metrics.RecordSuggestionEvent(context.Background(), "activated")

	m.mu.Lock()
	active := m.activeLocked()
	active.Messages = append(active.Messages, chat.NewAmbientMessage(s.Answer))
	m.persistLocked()
	m.mu.Unlock()

	m.emit(EventMessages)
	return nil
}

// suggestionsChanged is the pipeline's OnUpdate hook.
func (m *Manager) suggestionsChanged(active []suggest.Suggestion) {
	m.onEvent(EventSuggestions)
}

// ─── transcript ───────────────────────────────────────────────────────────────

// LivePreview returns the in-progress interim phrase, if any.
func (m *Manager) LivePreview() string {
	return m.window.LivePreview()
}

// TranscriptLog returns the finalized phrases of the current voice session.
func (m *Manager) TranscriptLog() []string {
	return m.window.Log()
}

// emit delivers an event on its own goroutine so handlers can call back into
// the manager freely.
func (m *Manager) emit(e EventType) {
	go m.onEvent(e)
}
