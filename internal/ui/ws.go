package ui

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/K8rrik/FreeCluely/internal/assistant"
)

// clientBuffer is the per-client event queue depth. Events beyond it are
// dropped; the client resyncs from /api/state.
const clientBuffer = 32

// eventMessage is the JSON frame pushed to websocket clients.
type eventMessage struct {
	Type assistant.EventType `json:"type"`
}

// hub fans manager events out to connected websocket clients.
type hub struct {
	mu      sync.Mutex
	clients map[chan assistant.EventType]struct{}
	closed  bool
}

func newHub() *hub {
	return &hub{clients: make(map[chan assistant.EventType]struct{})}
}

// register adds a client queue. Returns nil when the hub is shut down.
func (h *hub) register() chan assistant.EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	ch := make(chan assistant.EventType, clientBuffer)
	h.clients[ch] = struct{}{}
	return ch
}

func (h *hub) unregister(ch chan assistant.EventType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// broadcast queues e on every client, dropping for clients that cannot keep
// up. The UI treats events as invalidation hints, so a dropped event is
// recovered by the next one or a state poll.
func (h *hub) broadcast(e assistant.EventType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- e:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

// handleEvents upgrades to a websocket and serves the event stream. Text
// frames to the client carry [eventMessage] values; binary frames from the
// client carry raw PCM audio for the active transcription session.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The overlay frontend connects from its own origin.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	events := s.hub.register()
	if events == nil {
		ws.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer s.hub.unregister(events)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Read loop: binary frames are audio chunks, everything else is ignored.
	go func() {
		defer cancel()
		for {
			typ, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			if typ != websocket.MessageBinary {
				continue
			}
			if err := s.cfg.Manager.SendAudio(data); err != nil {
				slog.Warn("audio forward failed", "err", err)
			}
		}
	}()

	// Write loop: push event frames until the client leaves or the hub
	// shuts down.
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(eventMessage{Type: e})
			if err != nil {
				continue
			}
			if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
