package config_test

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/K8rrik/FreeCluely/internal/config"
)

// watcherYAML renders a minimal config with the given log level and
// assistant system prompt, the two fields the reload tests flip between
// polls.
func watcherYAML(logLevel, prompt string) string {
	return fmt.Sprintf(`
server:
  log_level: %s
providers:
  model:
    name: gemini
    model: gemini-2.5-pro
  transcribe:
    name: deepgram
assistant:
  system_prompt: %s
history:
  path: /tmp/history.json
`, logLevel, prompt)
}

// reloadRecorder collects onChange invocations from a watcher under test.
type reloadRecorder struct {
	mu      sync.Mutex
	reloads []reloadPair
	fired   chan struct{}
}

type reloadPair struct {
	old, new *config.Config
}

func newReloadRecorder() *reloadRecorder {
	return &reloadRecorder{fired: make(chan struct{}, 8)}
}

func (r *reloadRecorder) onChange(old, new *config.Config) {
	r.mu.Lock()
	r.reloads = append(r.reloads, reloadPair{old: old, new: new})
	r.mu.Unlock()
	select {
	case r.fired <- struct{}{}:
	default:
	}
}

func (r *reloadRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reloads)
}

func (r *reloadRecorder) last(t *testing.T) reloadPair {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reloads) == 0 {
		t.Fatal("no reloads recorded")
	}
	return r.reloads[len(r.reloads)-1]
}

// startWatcher writes content to a temp config file and starts a watcher
// with a short poll interval. It returns the watcher and the file path.
func startWatcher(t *testing.T, content string, rec *reloadRecorder) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	var onChange func(old, new *config.Config)
	if rec != nil {
		onChange = rec.onChange
	}
	w, err := config.NewWatcher(path, onChange, config.WithInterval(25*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func TestWatcherLoadsOnStartup(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, watcherYAML("info", "be brief"), nil)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after startup")
	}
	if got := cfg.Server.LogLevel; got != config.LogInfo {
		t.Errorf("log_level = %q, want %q", got, config.LogInfo)
	}
	if got := cfg.Assistant.SystemPrompt; got != "be brief" {
		t.Errorf("assistant.system_prompt = %q", got)
	}
}

func TestWatcherReloadsOnContentChange(t *testing.T) {
	t.Parallel()
	rec := newReloadRecorder()
	w, path := startWatcher(t, watcherYAML("info", "be brief"), rec)

	if err := os.WriteFile(path, []byte(watcherYAML("debug", "be thorough")), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case <-rec.fired:
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not pick up the rewritten file")
	}

	pair := rec.last(t)
	if pair.old == nil || pair.new == nil {
		t.Fatal("onChange received a nil config")
	}
	if got := pair.old.Assistant.SystemPrompt; got != "be brief" {
		t.Errorf("old assistant.system_prompt = %q", got)
	}
	if got := pair.new.Assistant.SystemPrompt; got != "be thorough" {
		t.Errorf("new assistant.system_prompt = %q", got)
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current() log_level = %q, want %q", got, config.LogDebug)
	}

	d := config.Diff(pair.old, pair.new)
	if !d.LogLevelChanged || !d.AssistantChanged {
		t.Errorf("Diff() = %+v, want both log level and assistant flagged", d)
	}
}

func TestWatcherRejectsInvalidRewrite(t *testing.T) {
	t.Parallel()
	rec := newReloadRecorder()
	w, path := startWatcher(t, watcherYAML("info", "be brief"), rec)

	if err := os.WriteFile(path, []byte("server:\n  log_level: bananas\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	// Several poll intervals; the invalid content must be noticed and skipped.
	time.Sleep(200 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("onChange fired %d times for an invalid rewrite, want 0", n)
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current() log_level = %q after invalid rewrite, want %q", got, config.LogInfo)
	}
}

func TestWatcherKeepsConfigWhenFileDisappears(t *testing.T) {
	t.Parallel()
	rec := newReloadRecorder()
	w, path := startWatcher(t, watcherYAML("warn", "be brief"), rec)

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove config: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("onChange fired %d times after file removal, want 0", n)
	}
	if got := w.Current().Server.LogLevel; got != config.LogWarn {
		t.Errorf("Current() log_level = %q after removal, want %q", got, config.LogWarn)
	}
}

func TestWatcherIgnoresTouch(t *testing.T) {
	t.Parallel()
	rec := newReloadRecorder()
	_, path := startWatcher(t, watcherYAML("info", "be brief"), rec)

	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("touch config: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("onChange fired %d times for an mtime-only change, want 0", n)
	}
}

func TestWatcherStartupFailsOnMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("NewWatcher succeeded for a missing file")
	}
}

func TestWatcherStartupFailsOnInvalidFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  log_level: shouty\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("NewWatcher succeeded for an invalid file")
	}
}

func TestWatcherStopTwice(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, watcherYAML("info", "be brief"), nil)
	w.Stop()
	w.Stop()
}
