package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"solotrader/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Journal = (*SQLiteJournal)(nil)

// SQLiteJournal implements Journal on a single-file SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (or creates) the database at dbPath.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// The driver is single-writer; one connection avoids lock churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &SQLiteJournal{db: db}, nil
}

// Close closes the underlying database connection.
func (j *SQLiteJournal) Close() error { return j.db.Close() }

// Init creates the journal schema if it does not exist.
func (j *SQLiteJournal) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id TEXT PRIMARY KEY,
			bar_time TIMESTAMP NOT NULL,
			direction TEXT NOT NULL,
			entry_price_est REAL NOT NULL,
			acted INTEGER NOT NULL,
			meta TEXT,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			entry_time TIMESTAMP NOT NULL,
			exit_time TIMESTAMP NOT NULL,
			direction TEXT NOT NULL,
			size REAL NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			profit_points REAL NOT NULL,
			profit_cash REAL NOT NULL,
			r_points REAL NOT NULL,
			sl REAL NOT NULL,
			tp REAL NOT NULL,
			exit_reason TEXT NOT NULL,
			deal_id TEXT,
			close_ref TEXT,
			meta TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init journal schema: %w", err)
		}
	}
	return nil
}

// RecordSignal stores one strategy signal.
func (j *SQLiteJournal) RecordSignal(ctx context.Context, sig domain.Signal, barTime time.Time, acted bool) error {
	meta, _ := json.Marshal(sig.Meta)
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO signals (id, bar_time, direction, entry_price_est, acted, meta, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), barTime.UTC(), string(sig.Direction), sig.EntryPriceEst,
		boolInt(acted), string(meta), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// RecordTrade stores one closed trade.
func (j *SQLiteJournal) RecordTrade(ctx context.Context, rec domain.TradeRecord) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO trades (id, entry_time, exit_time, direction, size,
			entry_price, exit_price, profit_points, profit_cash,
			r_points, sl, tp, exit_reason, deal_id, close_ref, meta)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), rec.EntryTime.UTC(), rec.ExitTime.UTC(), string(rec.Direction), rec.Size,
		rec.EntryPrice, rec.ExitPrice, rec.ProfitPoints, rec.ProfitCash,
		rec.RPoints, rec.Stop, rec.Target, string(rec.Reason), rec.DealID, rec.CloseRef, rec.Meta,
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// RecentTrades returns up to limit closed trades, newest first.
func (j *SQLiteJournal) RecentTrades(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT entry_time, exit_time, direction, size,
			entry_price, exit_price, profit_points, profit_cash,
			r_points, sl, tp, exit_reason, deal_id, close_ref, meta
		 FROM trades ORDER BY exit_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var rec domain.TradeRecord
		var dir, reason string
		if err := rows.Scan(&rec.EntryTime, &rec.ExitTime, &dir, &rec.Size,
			&rec.EntryPrice, &rec.ExitPrice, &rec.ProfitPoints, &rec.ProfitCash,
			&rec.RPoints, &rec.Stop, &rec.Target, &reason, &rec.DealID, &rec.CloseRef, &rec.Meta); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		rec.Direction = domain.Direction(dir)
		rec.Reason = domain.ExitReason(reason)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
