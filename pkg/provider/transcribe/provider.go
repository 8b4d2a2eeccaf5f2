// Package transcribe defines the Provider interface for streaming
// speech-to-text backends.
//
// A transcription provider wraps a real-time transcription service (e.g. the
// Deepgram streaming API) behind a uniform session abstraction: once opened,
// a session accepts raw PCM audio chunks and emits a single ordered stream
// of [Event] values — interim events for the live preview and final events
// for the context window.
//
// Implementations must be safe for concurrent use.
package transcribe

import "context"

// StreamConfig describes the audio format and recognition settings for a new
// transcription session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz (e.g. 48000 for system
	// loopback capture).
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the recognition language code (e.g. "en", "ru").
	// Empty lets the provider use its default.
	Language string
}

// SessionHandle represents an open transcription session. It is an interface
// so test code can provide mock implementations without a live connection.
//
// Callers must call Close when the session is no longer needed; failing to
// do so leaks the provider's internal goroutines and network connection.
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio to the provider. The chunk
	// must match the format agreed in StreamConfig. Calling SendAudio after
	// Close returns an error.
	SendAudio(chunk []byte) error

	// Events returns a read-only channel emitting transcript events in
	// arrival order — interleaved interim and final results. The channel is
	// closed when the session ends.
	Events() <-chan Event

	// Close terminates the session, flushes pending audio, and releases all
	// resources. After Close returns the Events channel is closed. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming transcription backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately. The caller owns
	// the handle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
