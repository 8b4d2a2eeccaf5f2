// Package model defines the Provider interface for streaming generative
// model backends.
//
// A model provider wraps a remote generation API (e.g. the Gemini streaming
// endpoint) and exposes a uniform interface: given a conversation history and
// a bag of generation parameters it returns a channel of incremental
// [Delta] values. The streaming response engine and the ambient suggestion
// pipeline both consume this interface and never touch the wire format.
//
// Implementations must be safe for concurrent use. Channels returned by
// Stream must be closed by the implementation when the stream ends or when
// the supplied context is cancelled.
package model

import (
	"context"

	"github.com/K8rrik/FreeCluely/pkg/chat"
)

// Provider is the abstraction over any streaming generation backend.
//
// Implementations must propagate context cancellation promptly: when ctx is
// cancelled the delta channel must be closed as quickly as possible.
type Provider interface {
	// Stream sends the conversation history to the model and returns a
	// read-only channel emitting [Delta] values as they arrive.
	//
	// The returned error is non-nil only for failures that prevent the
	// stream from starting (invalid credentials, unreachable host, malformed
	// request). Errors that occur after the stream has opened are surfaced
	// as a final Delta with Err set, immediately before the channel closes.
	// A channel that closes without an Err delta means the generation
	// completed normally.
	//
	// Callers must drain the channel to avoid goroutine leaks. The returned
	// channel is never nil when error is nil.
	Stream(ctx context.Context, history []chat.Message, params GenerationParams) (<-chan Delta, error)
}
