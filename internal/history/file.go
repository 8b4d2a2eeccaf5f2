package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/K8rrik/FreeCluely/pkg/chat"
)

// Compile-time interface check.
var _ Store = (*FileStore)(nil)

// FileStore persists the history as one JSON file. Writes go through a temp
// file and rename so a crash mid-write never corrupts the existing history.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore that reads and writes path.
// Parent directories are created on the first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the history file. A missing file is not an error: it returns an
// empty history, as on first launch.
func (s *FileStore) Load(_ context.Context) ([]chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: read %q: %w", s.path, err)
	}

	var sessions []chat.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("history: parse %q: %w", s.path, err)
	}
	return sessions, nil
}

// Save replaces the stored history with sessions.
func (s *FileStore) Save(_ context.Context, sessions []chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessions == nil {
		sessions = []chat.Session{}
	}
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("history: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("history: create dir %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".history-*.json")
	if err != nil {
		return fmt.Errorf("history: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("history: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("history: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("history: rename into place: %w", err)
	}
	return nil
}
