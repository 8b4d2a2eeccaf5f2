// Package ui is the HTTP boundary of the overlay. It exposes a small JSON
// API for the overlay frontend — sending messages, managing sessions,
// activating suggestions, toggling voice mode — plus a websocket event
// stream, Prometheus metrics, and health probes.
//
// The package holds no conversation state of its own; every handler is a
// thin translation layer over [assistant.Manager].
package ui

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/K8rrik/FreeCluely/internal/assistant"
	"github.com/K8rrik/FreeCluely/internal/health"
	"github.com/K8rrik/FreeCluely/internal/observe"
	"github.com/K8rrik/FreeCluely/internal/suggest"
	"github.com/K8rrik/FreeCluely/pkg/chat"
)

// shutdownTimeout bounds the drain of in-flight requests on Close.
const shutdownTimeout = 10 * time.Second

// Config configures the HTTP server.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:8553".
	Addr string

	// Manager is the conversation core all handlers delegate to. Required.
	Manager *assistant.Manager

	// Health serves the /healthz and /readyz probes. Optional.
	Health *health.Handler

	// Metrics instruments request handling. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string
}

// Server is the overlay's HTTP frontend.
type Server struct {
	cfg Config
	srv *http.Server
	hub *hub
}

// New creates a Server with all routes registered. Call [Server.Run] to
// start serving.
func New(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, errors.New("ui: Config.Manager is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	s := &Server{cfg: cfg, hub: newHub()}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/send", s.handleSend)
	mux.HandleFunc("POST /api/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("POST /api/sessions", s.handleNewSession)
	mux.HandleFunc("POST /api/sessions/{id}/select", s.handleSelectSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/suggestions", s.handleSuggestions)
	mux.HandleFunc("POST /api/suggestions/{id}/activate", s.handleActivateSuggestion)
	mux.HandleFunc("POST /api/voice/start", s.handleVoiceStart)
	mux.HandleFunc("POST /api/voice/stop", s.handleVoiceStop)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.Handle("GET /metrics", promhttp.Handler())
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           observe.Middleware(cfg.Metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the server's root handler, including middleware. Useful
// for embedding the API into an existing server or for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Notify broadcasts a state-change event to all connected websocket clients.
// Wire it as the manager's OnEvent hook.
func (s *Server) Notify(e assistant.EventType) {
	s.hub.broadcast(e)
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// closes all websocket clients.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.CertFile != "" && s.cfg.KeyFile != "" {
			err = s.srv.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
		} else {
			err = s.srv.ListenAndServe()
		}
		errCh <- err
	}()

	slog.Info("http server listening", "addr", s.cfg.Addr, "tls", s.cfg.CertFile != "")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.hub.closeAll()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── chat ─────────────────────────────────────────────────────────────────────

// sendRequest is the JSON body for the send endpoint. Attachment is an
// optional base64-encoded image, decoded by encoding/json's []byte handling.
type sendRequest struct {
	Text       string `json:"text"`
	Attachment []byte `json:"attachment,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.cfg.Manager.Send(req.Text, req.Attachment); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request) {
	s.cfg.Manager.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

// stateResponse is the full overlay snapshot served by /api/state.
type stateResponse struct {
	SessionID   uuid.UUID            `json:"session_id"`
	Generating  bool                 `json:"generating"`
	Messages    []chat.Message       `json:"messages"`
	Suggestions []suggest.Suggestion `json:"suggestions"`
	VoiceActive bool                 `json:"voice_active"`
	LivePreview string               `json:"live_preview,omitempty"`
	Transcript  []string             `json:"transcript,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	m := s.cfg.Manager
	writeJSON(w, http.StatusOK, stateResponse{
		SessionID:   m.ActiveSessionID(),
		Generating:  m.Generating(),
		Messages:    m.Messages(),
		Suggestions: m.Suggestions(),
		VoiceActive: m.VoiceActive(),
		LivePreview: m.LivePreview(),
		Transcript:  m.TranscriptLog(),
	})
}

// ─── sessions ─────────────────────────────────────────────────────────────────

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Manager.History())
}

func (s *Server) handleNewSession(w http.ResponseWriter, _ *http.Request) {
	s.cfg.Manager.StartNewSession()
	writeJSON(w, http.StatusCreated, map[string]uuid.UUID{
		"id": s.cfg.Manager.ActiveSessionID(),
	})
}

func (s *Server) handleSelectSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.cfg.Manager.SelectSession(id); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.cfg.Manager.DeleteFromHistory(id); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── suggestions ──────────────────────────────────────────────────────────────

func (s *Server) handleSuggestions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Manager.Suggestions())
}

func (s *Server) handleActivateSuggestion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.cfg.Manager.ActivateSuggestion(id); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── voice ────────────────────────────────────────────────────────────────────

func (s *Server) handleVoiceStart(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Manager.StartVoiceMode(r.Context()); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVoiceStop(w http.ResponseWriter, _ *http.Request) {
	s.cfg.Manager.StopVoiceMode()
	w.WriteHeader(http.StatusNoContent)
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// pathID parses the {id} path segment. On failure it writes a 400 and
// returns ok=false.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// httpError maps manager errors onto HTTP status codes.
func httpError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, assistant.ErrSessionNotFound), errors.Is(err, suggest.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, assistant.ErrVoiceActive):
		status = http.StatusConflict
	case errors.Is(err, assistant.ErrNoTranscriber):
		status = http.StatusUnprocessableEntity
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "err", err)
	}
}
