// Package contextwin maintains the rolling window of recent speech that
// feeds the ambient suggestion pipeline.
//
// Interim transcript events only replace a transient live preview. Final
// events append to an unbounded transcript log (for display) and to a
// bounded phrase history whose space-joined flattening is the analysis
// buffer. The buffer is capped: when it grows past [MaxFlattenedLen]
// characters it is trimmed from the oldest words, keeping the most recent
// [TrimKeepWords] words.
//
// All methods are safe for concurrent use.
package contextwin

import (
	"strings"
	"sync"
)

const (
	// MaxPhrases is the number of final phrases retained in the rolling
	// history; the oldest is dropped on overflow.
	MaxPhrases = 10

	// MaxFlattenedLen is the character cap on the flattened buffer.
	MaxFlattenedLen = 500

	// TrimKeepWords is how many trailing words survive a passive trim when
	// the flattened buffer exceeds MaxFlattenedLen.
	TrimKeepWords = 50
)

// Window aggregates transcript events into the bounded analysis buffer.
type Window struct {
	mu          sync.RWMutex
	livePreview string
	log         []string
	phrases     []string
	flattened   string
}

// New creates an empty Window.
func New() *Window {
	return &Window{}
}

// Observe applies one transcript event and reports whether it contributed
// new final content (the caller signals the debounce controller when true).
func (w *Window) Observe(text string, isFinal bool) (finalized bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !isFinal {
		w.livePreview = text
		return false
	}

	w.livePreview = ""
	if text == "" {
		return false
	}

	w.log = append(w.log, text)

	w.phrases = append(w.phrases, text)
	if len(w.phrases) > MaxPhrases {
		// Copy down rather than re-slice so dropped phrases do not pin the
		// backing array for the lifetime of the session.
		keep := make([]string, MaxPhrases)
		copy(keep, w.phrases[len(w.phrases)-MaxPhrases:])
		w.phrases = keep
	}

	w.flattened = strings.Join(w.phrases, " ")
	if len(w.flattened) > MaxFlattenedLen {
		w.flattened = lastWords(w.flattened, TrimKeepWords)
	}
	return true
}

// LivePreview returns the current interim transcript text.
func (w *Window) LivePreview() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.livePreview
}

// Log returns a copy of the full final-transcript log, oldest first.
func (w *Window) Log() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.log))
	copy(out, w.log)
	return out
}

// Flattened returns the current analysis buffer.
func (w *Window) Flattened() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.flattened
}

// LastPhrase returns the most recent final phrase, or "" when none exists.
func (w *Window) LastPhrase() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.phrases) == 0 {
		return ""
	}
	return w.phrases[len(w.phrases)-1]
}

// ResetToLastPhrase collapses the analysis buffer to just the most recent
// final phrase. Called after an analysis cycle consumed the buffer, so the
// next cycle starts from minimal continuity rather than an empty buffer.
// The phrase history is rebased too; later finals build on the collapsed
// state instead of resurrecting consumed phrases.
func (w *Window) ResetToLastPhrase() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.phrases) == 0 {
		w.flattened = ""
		return
	}
	last := w.phrases[len(w.phrases)-1]
	w.phrases = []string{last}
	w.flattened = last
}

// TrimToWords replaces the analysis buffer with its last n whitespace
// delimited words, with n smaller than the passive TrimKeepWords cap. Like
// ResetToLastPhrase the phrase history is rebased onto the kept tail.
func (w *Window) TrimToWords(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.flattened == "" {
		return
	}
	w.flattened = lastWords(w.flattened, n)
	w.phrases = []string{w.flattened}
}

// lastWords returns the final n whitespace-delimited words of s.
func lastWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return strings.Join(words, " ")
}
