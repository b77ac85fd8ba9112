// Package store persists the bot's history: a SQLite journal of signals and
// closed trades, and a Parquet archive of the market data the bot traded on.
package store

import (
	"context"
	"time"

	"solotrader/internal/domain"
)

// Journal records what the bot decided and what it closed, queryable for the
// daily summary and the state CLI.
type Journal interface {
	// Init creates the schema if it does not exist.
	Init(ctx context.Context) error

	// Close releases the underlying database.
	Close() error

	// RecordSignal stores one strategy signal and whether the engine acted
	// on it.
	RecordSignal(ctx context.Context, sig domain.Signal, barTime time.Time, acted bool) error

	// RecordTrade stores one closed trade.
	RecordTrade(ctx context.Context, rec domain.TradeRecord) error

	// RecentTrades returns up to limit closed trades, newest first.
	RecentTrades(ctx context.Context, limit int) ([]domain.TradeRecord, error)
}

// BarArchive persists the bars the bot fetched, so live sessions build a
// local research dataset as a side effect.
type BarArchive interface {
	// WriteBars merges bars into the archive for the symbol. Re-writing the
	// same timestamps is idempotent.
	WriteBars(ctx context.Context, symbol string, bars domain.Series) error

	// ReadBars returns archived bars for the symbol within [start, end].
	ReadBars(ctx context.Context, symbol string, start, end time.Time) (domain.Series, error)
}
