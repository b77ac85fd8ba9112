package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"solotrader/internal/domain"
)

func TestLoadMissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state.json"))
	st := s.Load()
	if st.Position.Live() || st.ConsecLosses != 0 {
		t.Errorf("missing file should load as zero state, got %+v", st)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state.json"))

	until := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)
	want := domain.EngineState{
		Position: domain.PositionState{
			DealID:     "D42",
			Direction:  domain.DirectionBuy,
			Size:       3,
			EntryPrice: 100.5,
			RPoints:    2,
			Stop:       98.5,
			Target:     106.5,
		},
		LastClosedTime: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		ConsecLosses:   2,
		CooldownUntil:  &until,
	}

	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := s.Load()
	if got.Position.DealID != "D42" || got.Position.Size != 3 {
		t.Errorf("position did not round-trip: %+v", got.Position)
	}
	if !got.LastClosedTime.Equal(want.LastClosedTime) {
		t.Errorf("LastClosedTime = %v, want %v", got.LastClosedTime, want.LastClosedTime)
	}
	if got.CooldownUntil == nil || !got.CooldownUntil.Equal(until) {
		t.Errorf("CooldownUntil = %v, want %v", got.CooldownUntil, until)
	}
}

func TestLoadCorruptFallsBackToBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := NewStore(path)

	// Two saves: the first state rotates into .bak on the second save.
	first := domain.EngineState{ConsecLosses: 1}
	second := domain.EngineState{ConsecLosses: 2}
	if err := s.Save(first); err != nil {
		t.Fatalf("Save first: %v", err)
	}
	if err := s.Save(second); err != nil {
		t.Fatalf("Save second: %v", err)
	}

	// Corrupt the main file; Load should serve the backup.
	if err := os.WriteFile(path, []byte("{truncated"), 0o644); err != nil {
		t.Fatalf("corrupting state file: %v", err)
	}
	got := s.Load()
	if got.ConsecLosses != 1 {
		t.Errorf("Load after corruption = %+v, want backup state (consec_losses=1)", got)
	}
}

func TestLoadCorruptNoBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte("not json at all"), 0o644); err != nil {
		t.Fatalf("writing corrupt file: %v", err)
	}

	st := NewStore(path).Load()
	if st.Position.Live() {
		t.Errorf("corrupt file without backup should load as zero state, got %+v", st)
	}
}
