// Package state persists the controller's EngineState as a JSON file with
// atomic writes and a rotating backup. Loading is deliberately forgiving:
// a missing or corrupt file yields the empty state, never an error, because
// losing persisted state must degrade the bot, not kill it.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"solotrader/internal/domain"
)

// Store reads and writes one EngineState file.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a Store for the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the state file location.
func (s *Store) Path() string { return s.path }

// Load reads the persisted state. If the main file is missing or corrupt it
// falls back to the .bak rotation, and failing that returns the zero state.
// Load never returns an error.
func (s *Store) Load() domain.EngineState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := readState(s.path); ok {
		return st
	}
	if st, ok := readState(s.path + ".bak"); ok {
		return st
	}
	return domain.EngineState{}
}

// Save writes the state atomically: marshal to a temp file in the same
// directory, rotate the previous file to .bak (best effort), then rename
// the temp file into place.
func (s *Store) Save(st domain.EngineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	payload, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing temp state file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp state file: %w", err)
	}

	// Rotate previous -> .bak. Best effort: a failed rotation must not block
	// persisting the fresh state.
	if _, err := os.Stat(s.path); err == nil {
		_ = os.Rename(s.path, s.path+".bak")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

func readState(path string) (domain.EngineState, bool) {
	raw, err := os.ReadFile(path)
	if err != nil || len(raw) == 0 {
		return domain.EngineState{}, false
	}
	var st domain.EngineState
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.EngineState{}, false
	}
	return st, true
}
