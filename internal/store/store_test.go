package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"solotrader/internal/domain"
)

func newTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("NewSQLiteJournal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	if err := j.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return j
}

func TestJournalTradeRoundTrip(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	exit := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)
	rec := domain.TradeRecord{
		EntryTime:    exit.Add(-25 * time.Minute),
		ExitTime:     exit,
		Direction:    domain.DirectionBuy,
		Size:         50,
		EntryPrice:   100,
		ExitPrice:    106,
		ProfitPoints: 6,
		ProfitCash:   300,
		RPoints:      2,
		Stop:         98,
		Target:       106,
		Reason:       domain.ExitTarget,
		DealID:       "deal-1",
		CloseRef:     "close-1",
		Meta:         "momentum5m",
	}
	if err := j.RecordTrade(ctx, rec); err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}

	got, err := j.RecentTrades(ctx, 10)
	if err != nil {
		t.Fatalf("RecentTrades: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d trades, want 1", len(got))
	}
	r := got[0]
	if r.Direction != rec.Direction || r.ProfitCash != rec.ProfitCash || r.Reason != rec.Reason {
		t.Errorf("round trip mismatch: got %+v", r)
	}
	if !r.ExitTime.UTC().Equal(exit) {
		t.Errorf("exit time = %v, want %v", r.ExitTime, exit)
	}
}

func TestJournalRecentTradesOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := domain.TradeRecord{
			EntryTime: base.Add(time.Duration(i) * time.Hour),
			ExitTime:  base.Add(time.Duration(i)*time.Hour + 30*time.Minute),
			Direction: domain.DirectionSell,
			Reason:    domain.ExitStop,
		}
		if err := j.RecordTrade(ctx, rec); err != nil {
			t.Fatalf("RecordTrade %d: %v", i, err)
		}
	}

	got, err := j.RecentTrades(ctx, 3)
	if err != nil {
		t.Fatalf("RecentTrades: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d trades, want 3", len(got))
	}
	if !got[0].ExitTime.After(got[1].ExitTime.Add(-time.Second)) {
		t.Errorf("trades not newest first: %v then %v", got[0].ExitTime, got[1].ExitTime)
	}
}

func TestJournalRecordSignal(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	sig := domain.Signal{
		Direction:     domain.DirectionBuy,
		EntryPriceEst: 101.5,
		Meta:          map[string]any{"rsi": 55.0},
	}
	if err := j.RecordSignal(ctx, sig, time.Now().UTC(), true); err != nil {
		t.Fatalf("RecordSignal: %v", err)
	}
}

func TestParquetArchiveMergeIdempotent(t *testing.T) {
	ctx := context.Background()
	a := NewParquetArchive(t.TempDir())

	start := time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)
	mk := func(i int, close float64) domain.Bar {
		return domain.Bar{
			Time: start.Add(time.Duration(i) * 5 * time.Minute),
			Open: close, High: close + 1, Low: close - 1, Close: close,
			Volume: 100,
		}
	}
	first := domain.Series{mk(0, 100), mk(1, 101)}
	if err := a.WriteBars(ctx, "SPY", first); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	// Overlapping write: bar 1 revised, bar 2 new.
	second := domain.Series{mk(1, 101.5), mk(2, 102)}
	if err := a.WriteBars(ctx, "SPY", second); err != nil {
		t.Fatalf("WriteBars overlap: %v", err)
	}

	got, err := a.ReadBars(ctx, "SPY", start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d bars, want 3 after merge", len(got))
	}
	if got[1].Close != 101.5 {
		t.Errorf("revised bar close = %v, want 101.5", got[1].Close)
	}
	for i := 1; i < len(got); i++ {
		if !got[i].Time.After(got[i-1].Time) {
			t.Errorf("bars not sorted at %d", i)
		}
	}
}

func TestParquetArchiveReadMissingSymbol(t *testing.T) {
	a := NewParquetArchive(t.TempDir())
	got, err := a.ReadBars(context.Background(), "QQQ", time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("ReadBars on empty archive: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d bars from empty archive", len(got))
	}
}
