package suggest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/K8rrik/FreeCluely/internal/contextwin"
	"github.com/K8rrik/FreeCluely/pkg/provider/model"
	"github.com/K8rrik/FreeCluely/pkg/provider/model/mock"
)

const analysisJSON = `{"suggestions": [
	{"topic": "mortgage rates", "answer": "Average 30-year fixed is around 6.5%.", "confidence": 0.9},
	{"topic": "refinancing", "answer": "Usually worth it when rates drop 1% below your current rate.", "confidence": 0.8}
]}`

// longTranscript feeds the window enough finalized speech to clear the
// minimum-context gate.
func longTranscript(w *contextwin.Window) {
	w.Observe("we were thinking about buying a house next spring", true)
	w.Observe("but the mortgage rates seem really high right now", true)
}

type updates struct {
	mu   sync.Mutex
	sets [][]Suggestion
}

func (u *updates) record(active []Suggestion) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sets = append(u.sets, active)
}

func (u *updates) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.sets)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestPipeline(t *testing.T, p *mock.Provider, w *contextwin.Window, u *updates, opts ...func(*Config)) *Pipeline {
	t.Helper()
	cfg := Config{
		Provider: p,
		Window:   w,
		Debounce: 50 * time.Millisecond,
		TTL:      time.Hour,
	}
	if u != nil {
		cfg.OnUpdate = u.record
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	pl, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	t.Cleanup(pl.Close)
	return pl
}

func TestPipelineDebounceIsTrailing(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{StreamDeltas: []model.Delta{{Text: analysisJSON}}}
	w := contextwin.New()
	longTranscript(w)
	u := &updates{}
	pl := newTestPipeline(t, p, w, u)

	// Keep signalling faster than the debounce; no analysis may fire.
	for i := 0; i < 5; i++ {
		pl.Signal()
		time.Sleep(10 * time.Millisecond)
	}
	if got := len(p.Calls()); got != 0 {
		t.Fatalf("analysis fired %d times during activity, want 0", got)
	}

	// Go quiet; exactly one analysis should fire.
	waitFor(t, time.Second, func() bool { return len(p.Calls()) == 1 }, "analysis did not fire after quiet period")
	waitFor(t, time.Second, func() bool { return u.count() > 0 }, "OnUpdate was not called")

	active := pl.Active()
	if len(active) != 2 {
		t.Fatalf("got %d active suggestions, want 2", len(active))
	}
	if active[0].Topic != "mortgage rates" {
		t.Errorf("first topic = %q", active[0].Topic)
	}
}

func TestPipelineSkipsShortContext(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{StreamDeltas: []model.Delta{{Text: analysisJSON}}}
	w := contextwin.New()
	w.Observe("hi there", true)
	pl := newTestPipeline(t, p, w, nil)

	pl.Signal()
	time.Sleep(150 * time.Millisecond)
	if got := len(p.Calls()); got != 0 {
		t.Errorf("analysis fired %d times on short context, want 0", got)
	}
}

func TestPipelineFiltersLowConfidence(t *testing.T) {
	t.Parallel()

	raw := `{"suggestions": [
		{"topic": "good one", "answer": "a", "confidence": 0.71},
		{"topic": "shaky one", "answer": "b", "confidence": 0.69}
	]}`
	p := &mock.Provider{StreamDeltas: []model.Delta{{Text: raw}}}
	w := contextwin.New()
	longTranscript(w)
	pl := newTestPipeline(t, p, w, nil)

	pl.Signal()
	waitFor(t, time.Second, func() bool { return len(pl.Active()) > 0 }, "no suggestions admitted")

	active := pl.Active()
	if len(active) != 1 || active[0].Topic != "good one" {
		t.Errorf("active = %+v, want only the confident suggestion", active)
	}
}

func TestPipelineClampsToFreeSlots(t *testing.T) {
	t.Parallel()

	raw := `{"suggestions": [
		{"topic": "one", "answer": "a", "confidence": 0.9},
		{"topic": "two", "answer": "b", "confidence": 0.9},
		{"topic": "three", "answer": "c", "confidence": 0.9},
		{"topic": "four", "answer": "d", "confidence": 0.9}
	]}`
	p := &mock.Provider{StreamDeltas: []model.Delta{{Text: raw}}}
	w := contextwin.New()
	longTranscript(w)
	pl := newTestPipeline(t, p, w, nil)

	pl.Signal()
	waitFor(t, time.Second, func() bool { return len(pl.Active()) > 0 }, "no suggestions admitted")

	if got := len(pl.Active()); got != MaxActive {
		t.Errorf("got %d active suggestions, want %d", got, MaxActive)
	}
}

func TestPipelineFullSlotsCycleAdmitsNothing(t *testing.T) {
	t.Parallel()

	raw := `{"suggestions": [
		{"topic": "one", "answer": "a", "confidence": 0.9},
		{"topic": "two", "answer": "b", "confidence": 0.9},
		{"topic": "three", "answer": "c", "confidence": 0.9}
	]}`
	p := &mock.Provider{StreamDeltas: []model.Delta{{Text: raw}}}
	w := contextwin.New()
	longTranscript(w)
	pl := newTestPipeline(t, p, w, nil)

	pl.Signal()
	waitFor(t, time.Second, func() bool { return len(pl.Active()) == MaxActive }, "slots did not fill")

	// The cycle still runs with full slots; it just cannot admit anything,
	// which routes it through the zero-survivor buffer handling.
	p.StreamDeltas = []model.Delta{{Text: `{"suggestions": [{"topic": "fresh", "answer": "x", "confidence": 0.9}]}`}}
	longTranscript(w)
	pl.Signal()
	waitFor(t, time.Second, func() bool { return len(p.Calls()) == 2 }, "second analysis did not fire")
	time.Sleep(50 * time.Millisecond)

	if got := len(pl.Active()); got != MaxActive {
		t.Errorf("got %d active suggestions after full-slot cycle, want %d", got, MaxActive)
	}
}

func TestPipelineDedupAgainstActiveTopics(t *testing.T) {
	t.Parallel()

	first := `{"suggestions": [{"topic": "mortgage rates", "answer": "a", "confidence": 0.9}]}`
	second := `{"suggestions": [
		{"topic": "Mortgage Rates today", "answer": "dup", "confidence": 0.9},
		{"topic": "closing costs", "answer": "fresh", "confidence": 0.9}
	]}`
	p := &mock.Provider{StreamDeltas: []model.Delta{{Text: first}}}
	w := contextwin.New()
	longTranscript(w)
	pl := newTestPipeline(t, p, w, nil)

	pl.Signal()
	waitFor(t, time.Second, func() bool { return len(pl.Active()) == 1 }, "first cycle did not land")

	p.StreamDeltas = []model.Delta{{Text: second}}
	longTranscript(w)
	pl.Signal()
	waitFor(t, time.Second, func() bool { return len(pl.Active()) == 2 }, "second cycle did not land")

	for _, s := range pl.Active() {
		if s.Topic == "Mortgage Rates today" {
			t.Errorf("duplicate topic was admitted: %+v", pl.Active())
		}
	}
}

func TestPipelineActivationRetainsTopic(t *testing.T) {
	t.Parallel()

	first := `{"suggestions": [{"topic": "mortgage rates", "answer": "6.5%", "confidence": 0.9}]}`
	p := &mock.Provider{StreamDeltas: []model.Delta{{Text: first}}}
	w := contextwin.New()
	longTranscript(w)
	u := &updates{}
	pl := newTestPipeline(t, p, w, u)

	pl.Signal()
	waitFor(t, time.Second, func() bool { return len(pl.Active()) == 1 }, "first cycle did not land")

	got, err := pl.Activate(pl.Active()[0].ID)
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if got.Answer != "6.5%" {
		t.Errorf("activated answer = %q", got.Answer)
	}
	if len(pl.Active()) != 0 {
		t.Errorf("activated suggestion should leave the visible set")
	}

	// The topic must not resurface in the next cycle.
	p.StreamDeltas = []model.Delta{{Text: first}}
	longTranscript(w)
	pl.Signal()
	waitFor(t, time.Second, func() bool { return len(p.Calls()) == 2 }, "second analysis did not fire")
	time.Sleep(50 * time.Millisecond)
	if got := len(pl.Active()); got != 0 {
		t.Errorf("activated topic resurfaced: %+v", pl.Active())
	}
}

func TestPipelineActivateUnknownID(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	pl := newTestPipeline(t, p, contextwin.New(), nil)

	if _, err := pl.Activate(uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Activate(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestPipelineSuggestionsExpire(t *testing.T) {
	t.Parallel()

	raw := `{"suggestions": [{"topic": "fleeting", "answer": "a", "confidence": 0.9}]}`
	p := &mock.Provider{StreamDeltas: []model.Delta{{Text: raw}}}
	w := contextwin.New()
	longTranscript(w)
	u := &updates{}
	pl := newTestPipeline(t, p, w, u, func(c *Config) { c.TTL = 200 * time.Millisecond })

	pl.Signal()
	waitFor(t, time.Second, func() bool { return len(pl.Active()) == 1 }, "suggestion did not appear")
	waitFor(t, time.Second, func() bool { return len(pl.Active()) == 0 }, "suggestion did not expire")
}

func TestPipelineAcceptedCycleResetsBufferToLastPhrase(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{StreamDeltas: []model.Delta{{Text: analysisJSON}}}
	w := contextwin.New()
	w.Observe("we were thinking about buying a house next spring", true)
	w.Observe("but the mortgage rates seem really high right now", true)
	pl := newTestPipeline(t, p, w, nil)

	pl.Signal()
	waitFor(t, time.Second, func() bool { return len(pl.Active()) > 0 }, "analysis did not land")

	if got := w.Flattened(); got != "but the mortgage rates seem really high right now" {
		t.Errorf("window after accepted cycle = %q, want last phrase only", got)
	}
}

func TestPipelineBarrenCycleLeavesSmallBufferAlone(t *testing.T) {
	t.Parallel()

	raw := `{"suggestions": [{"topic": "noise", "answer": "x", "confidence": 0.1}]}`
	p := &mock.Provider{StreamDeltas: []model.Delta{{Text: raw}}}
	w := contextwin.New()
	longTranscript(w)
	before := w.Flattened()
	pl := newTestPipeline(t, p, w, nil)

	pl.Signal()
	waitFor(t, time.Second, func() bool { return len(p.Calls()) == 1 }, "analysis did not fire")
	time.Sleep(50 * time.Millisecond)

	if len(pl.Active()) != 0 {
		t.Fatal("low-confidence candidate must not be admitted")
	}
	if got := w.Flattened(); got != before {
		t.Errorf("barren cycle changed an in-cap buffer: %q, want %q", got, before)
	}
}

func TestPipelineBarrenCycleTrimsOversizedBuffer(t *testing.T) {
	t.Parallel()

	raw := `{"suggestions": [{"topic": "noise", "answer": "x", "confidence": 0.1}]}`
	p := &mock.Provider{StreamDeltas: []model.Delta{{Text: raw}}}
	w := contextwin.New()
	// Long words keep the buffer above the character cap even after the
	// window's own passive 50-word trim.
	for i := 0; i < 12; i++ {
		w.Observe(fmt.Sprintf("sesquipedalian%02d considerations%02d notwithstanding%02d accordingly%02d", i, i, i, i), true)
	}
	if len(w.Flattened()) <= contextwin.MaxFlattenedLen {
		t.Fatalf("setup: buffer is %d chars, need > %d", len(w.Flattened()), contextwin.MaxFlattenedLen)
	}
	pl := newTestPipeline(t, p, w, nil)

	pl.Signal()
	waitFor(t, time.Second, func() bool { return len(p.Calls()) == 1 }, "analysis did not fire")
	time.Sleep(50 * time.Millisecond)

	if got := len(strings.Fields(w.Flattened())); got > 30 {
		t.Errorf("window after barren-cycle recovery trim has %d words, want <= 30", got)
	}
}

func TestPipelineAcceptsMissingConfidence(t *testing.T) {
	t.Parallel()

	raw := `{"suggestions": [{"topic": "event loops", "answer": "One goroutine per connection is fine."}]}`
	p := &mock.Provider{StreamDeltas: []model.Delta{{Text: raw}}}
	w := contextwin.New()
	longTranscript(w)
	pl := newTestPipeline(t, p, w, nil)

	pl.Signal()
	waitFor(t, time.Second, func() bool { return len(pl.Active()) == 1 }, "suggestion without confidence was not admitted")

	if got := pl.Active()[0].Topic; got != "event loops" {
		t.Errorf("topic = %q", got)
	}
}

func TestPipelineExpiryReleasesTopic(t *testing.T) {
	t.Parallel()

	raw := `{"suggestions": [{"topic": "closing costs", "answer": "2-5% of the loan.", "confidence": 0.9}]}`
	p := &mock.Provider{StreamDeltas: []model.Delta{{Text: raw}}}
	w := contextwin.New()
	longTranscript(w)
	pl := newTestPipeline(t, p, w, nil, func(c *Config) { c.TTL = 100 * time.Millisecond })

	pl.Signal()
	waitFor(t, time.Second, func() bool { return len(pl.Active()) == 1 }, "suggestion did not appear")
	waitFor(t, time.Second, func() bool { return len(pl.Active()) == 0 }, "suggestion did not expire")

	// After natural expiry the topic is free again and the same suggestion
	// may be admitted by a later cycle.
	p.StreamDeltas = []model.Delta{{Text: raw}}
	longTranscript(w)
	pl.Signal()
	waitFor(t, time.Second, func() bool { return len(pl.Active()) == 1 }, "expired topic was not re-admitted")
}

func TestPipelineAnalysisFailureKeepsWindow(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{StreamErr: errors.New("model unavailable")}
	w := contextwin.New()
	longTranscript(w)
	before := w.Flattened()
	pl := newTestPipeline(t, p, w, nil)

	pl.Signal()
	waitFor(t, time.Second, func() bool { return len(p.Calls()) == 1 }, "analysis did not fire")
	time.Sleep(50 * time.Millisecond)

	if len(pl.Active()) != 0 {
		t.Error("failed analysis must not add suggestions")
	}
	if got := w.Flattened(); got != before {
		t.Errorf("failed analysis must not trim the window: %q", got)
	}
}
