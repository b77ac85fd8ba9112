package tradelog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"solotrader/internal/domain"
)

func sampleRecord(exit time.Time, pnl float64) domain.TradeRecord {
	return domain.TradeRecord{
		EntryTime:    exit.Add(-30 * time.Minute),
		ExitTime:     exit,
		Direction:    domain.DirectionBuy,
		Size:         2,
		EntryPrice:   100,
		ExitPrice:    100 + pnl/2,
		ProfitPoints: pnl / 2,
		ProfitCash:   pnl,
		RPoints:      2,
		Stop:         98,
		Target:       106,
		Reason:       domain.ExitTarget,
		DealID:       "deal-1",
		CloseRef:     "close-1",
		Meta:         "momentum5m",
	}
}

func TestOpenCreatesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	if _, err := Open(path); err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.HasPrefix(string(data), "entry_time,exit_time,direction,") {
		t.Fatalf("unexpected header: %q", string(data))
	}
}

func TestAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	exit := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)
	want := sampleRecord(exit, 12)
	if err := l.Append(want); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := l.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	r := got[0]
	if !r.ExitTime.Equal(want.ExitTime) || r.Direction != want.Direction ||
		r.ProfitCash != want.ProfitCash || r.Reason != want.Reason || r.DealID != want.DealID {
		t.Errorf("round trip mismatch: got %+v want %+v", r, want)
	}
}

func TestQuarantinesMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trades.csv")
	if err := os.WriteFile(path, []byte("some,old,columns\n1,2,3\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.Append(sampleRecord(time.Now().UTC(), 5)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var quarantined bool
	for _, e := range entries {
		if strings.Contains(e.Name(), ".bad.") {
			quarantined = true
		}
	}
	if !quarantined {
		t.Fatal("malformed file was not quarantined")
	}

	got, err := l.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("fresh log has %d records, want 1", len(got))
	}
}

func TestSummarizeDay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}

	// Two trades on March 4 NY time, one the day before.
	day := time.Date(2026, 3, 4, 20, 0, 0, 0, time.UTC) // 15:00 NY
	for _, r := range []domain.TradeRecord{
		sampleRecord(day, 40),
		sampleRecord(day.Add(time.Hour), -10),
		sampleRecord(day.Add(-24*time.Hour), 99),
	} {
		if err := l.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	trades, wins, pnl, err := l.SummarizeDay("2026-03-04", ny)
	if err != nil {
		t.Fatalf("SummarizeDay: %v", err)
	}
	if trades != 2 || wins != 1 || pnl != 30 {
		t.Errorf("got trades=%d wins=%d pnl=%v, want 2/1/30", trades, wins, pnl)
	}
}
