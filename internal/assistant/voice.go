package assistant

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/K8rrik/FreeCluely/pkg/chat"
	"github.com/K8rrik/FreeCluely/pkg/provider/transcribe"
)

// msgVoiceLost is shown in the transcript when the transcription stream dies
// without an explicit stop.
const msgVoiceLost = "Voice transcription stopped unexpectedly. Check your connection."

// StartVoiceMode opens a transcription stream and starts feeding recognized
// speech into the context window. Final phrases nudge the suggestion
// pipeline; interim phrases only update the live preview.
func (m *Manager) StartVoiceMode(ctx context.Context) error {
	if m.transcriber == nil {
		return ErrNoTranscriber
	}

	m.voiceMu.Lock()
	defer m.voiceMu.Unlock()
	if m.voiceHandle != nil {
		return ErrVoiceActive
	}

	handle, err := m.transcriber.StartStream(ctx, m.transcription)
	if err != nil {
		return err
	}
	m.voiceHandle = handle
	m.voiceDone = make(chan struct{})
	m.metrics.VoiceSessions.Add(ctx, 1)

	go m.pumpTranscripts(handle, m.voiceDone)

	slog.Info("voice mode started",
		"sample_rate", m.transcription.SampleRate,
		"language", m.transcription.Language)
	return nil
}

// StopVoiceMode closes the transcription stream. Safe to call when voice
// mode is not active.
func (m *Manager) StopVoiceMode() {
	m.voiceMu.Lock()
	handle := m.voiceHandle
	done := m.voiceDone
	m.voiceHandle = nil
	m.voiceDone = nil
	m.voiceMu.Unlock()

	if handle == nil {
		return
	}
	if err := handle.Close(); err != nil {
		slog.Warn("transcription session close failed", "err", err)
	}
	<-done
	m.metrics.VoiceSessions.Add(context.Background(), -1)
	slog.Info("voice mode stopped")
}

// VoiceActive reports whether a transcription stream is running.
func (m *Manager) VoiceActive() bool {
	m.voiceMu.Lock()
	defer m.voiceMu.Unlock()
	return m.voiceHandle != nil
}

// SendAudio forwards a raw PCM chunk to the active transcription stream.
// Chunks arriving while voice mode is off are dropped.
func (m *Manager) SendAudio(chunk []byte) error {
	m.voiceMu.Lock()
	handle := m.voiceHandle
	m.voiceMu.Unlock()

	if handle == nil {
		return nil
	}
	return handle.SendAudio(chunk)
}

// pumpTranscripts drains the session's event stream until it closes. When the
// stream dies without StopVoiceMode having been called, the pump tears voice
// mode down itself and surfaces the failure in the transcript.
func (m *Manager) pumpTranscripts(handle transcribe.SessionHandle, done chan struct{}) {
	defer close(done)
	for ev := range handle.Events() {
		if ev.Text == "" {
			continue
		}
		if m.window.Observe(ev.Text, ev.IsFinal) {
			m.pipeline.Signal()
		}
		m.onEvent(EventTranscript)
	}

	// StopVoiceMode deregisters the handle before closing it; if it is still
	// registered here the stream ended on its own.
	m.voiceMu.Lock()
	if m.voiceHandle != handle {
		m.voiceMu.Unlock()
		return
	}
	m.voiceHandle = nil
	m.voiceDone = nil
	m.voiceMu.Unlock()

	if err := handle.Close(); err != nil {
		slog.Warn("transcription session close failed", "err", err)
	}
	m.metrics.VoiceSessions.Add(context.Background(), -1)
	slog.Warn("voice mode ended unexpectedly")

	m.mu.Lock()
	active := m.activeLocked()
	active.Messages = append(active.Messages, chat.Message{
		ID:        uuid.New(),
		Role:      chat.RoleAssistant,
		Text:      msgVoiceLost,
		Timestamp: time.Now().UTC(),
	})
	m.mu.Unlock()

	m.emit(EventMessages)
}
