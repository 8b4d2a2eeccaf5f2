// Package mock provides a test double for the model.Provider interface.
//
// Use Provider in unit tests to verify the requests the engines send and to
// feed controlled delta sequences without a live backend.
//
// Example:
//
//	p := &mock.Provider{
//	    StreamDeltas: []model.Delta{{Text: "Hel"}, {Text: "lo"}},
//	}
//	ch, err := p.Stream(ctx, history, params)
package mock

import (
	"context"
	"sync"

	"github.com/K8rrik/FreeCluely/pkg/chat"
	"github.com/K8rrik/FreeCluely/pkg/provider/model"
)

// StreamCall records a single invocation of Stream.
type StreamCall struct {
	// Ctx is the context passed to Stream.
	Ctx context.Context
	// History is a copy of the message history passed to Stream.
	History []chat.Message
	// Params is the GenerationParams passed to Stream.
	Params model.GenerationParams
}

// Provider is a mock implementation of model.Provider.
// Zero values cause Stream to return an immediately-closed channel.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// StreamDeltas is the sequence of deltas emitted on the channel returned
	// by Stream. All deltas are sent before the channel is closed.
	StreamDeltas []model.Delta

	// StreamErr, if non-nil, is returned as the error from Stream instead of
	// opening a channel.
	StreamErr error

	// Hold, if non-nil, delays delta emission until the channel is closed by
	// the test. Used to keep a generation in flight while another starts.
	Hold chan struct{}

	// --- Call records (read after test) ---

	// StreamCalls records every invocation of Stream in order.
	StreamCalls []StreamCall
}

// Stream records the call and returns a channel that emits StreamDeltas.
// If StreamErr is set, it returns nil, StreamErr without opening a channel.
func (p *Provider) Stream(ctx context.Context, history []chat.Message, params model.GenerationParams) (<-chan model.Delta, error) {
	p.mu.Lock()
	hist := make([]chat.Message, len(history))
	copy(hist, history)
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, History: hist, Params: params})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	deltas := make([]model.Delta, len(p.StreamDeltas))
	copy(deltas, p.StreamDeltas)
	hold := p.Hold
	p.mu.Unlock()

	ch := make(chan model.Delta, len(deltas))
	go func() {
		defer close(ch)
		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
				return
			}
		}
		for _, d := range deltas {
			select {
			case <-ctx.Done():
				return
			case ch <- d:
			}
		}
	}()
	return ch, nil
}

// Calls returns a copy of the recorded Stream calls. Thread-safe.
func (p *Provider) Calls() []StreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StreamCall, len(p.StreamCalls))
	copy(out, p.StreamCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
}

// Ensure Provider implements model.Provider at compile time.
var _ model.Provider = (*Provider)(nil)
