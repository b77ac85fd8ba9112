// Package domain defines the core types shared across the trading bot:
// bars, signals, position and engine state, and the typed results returned
// by the broker boundary.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the side of a trade.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Opposite returns the closing side for this direction.
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// ParseDirection normalises a broker-reported side string.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return DirectionBuy, nil
	case "SELL", "SHORT":
		return DirectionSell, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// ExitReason labels why a position was closed. The values are stable: they
// appear in the trade log, the journal, and notification payloads.
type ExitReason string

const (
	ExitSession  ExitReason = "EXIT_SESSION"
	ExitStop     ExitReason = "EXIT_SL"
	ExitTarget   ExitReason = "EXIT_TP"
	ExitTime     ExitReason = "EXIT_TIME"
	ExitShutdown ExitReason = "EXIT_SHUTDOWN"
	// ExitExternal marks a position that disappeared from the broker without
	// the bot closing it (manual close, broker-side stop-out).
	ExitExternal ExitReason = "EXIT_EXTERNAL"
)

// Signal is a strategy's entry proposal, produced from the last closed bar.
// It is immutable; at most one is produced per bar.
type Signal struct {
	Direction Direction
	// EntryPriceEst is the strategy's estimate of the fill price, typically
	// the signal bar's close.
	EntryPriceEst float64
	// Meta carries strategy-specific context for logging and notifications.
	Meta map[string]any
}

// RiskLevels are the initial risk parameters a strategy assigns to a signal.
type RiskLevels struct {
	// RPoints is one risk unit in price points (the initial stop distance).
	RPoints float64
	Stop    float64
	Target  float64
	// ExitBars caps the holding time in closed bars; 0 disables the time stop.
	ExitBars int
}

// ---------------------------------------------------------------------------
// Position and engine state
// ---------------------------------------------------------------------------

// PositionState is the bot's durable view of its single open position.
// A zero DealID means flat. It is created when an order is confirmed,
// mutated in place by trailing, and reset to the zero value on exit.
type PositionState struct {
	DealID        string    `json:"deal_id,omitempty"`
	Direction     Direction `json:"direction,omitempty"`
	Size          float64   `json:"size,omitempty"`
	EntryPrice    float64   `json:"entry_price_est,omitempty"`
	RPoints       float64   `json:"r_points,omitempty"`
	Stop          float64   `json:"sl_local,omitempty"`
	Target        float64   `json:"tp_local,omitempty"`
	ATREntry      float64   `json:"atr_entry,omitempty"`
	EntryBarTime  time.Time `json:"entry_bar_time,omitempty"`
	SignalBarTime time.Time `json:"signal_bar_time,omitempty"`
	ExitBars      int       `json:"exit_bars,omitempty"`

	BEArmed     bool    `json:"be_armed,omitempty"`
	Trail1RDone bool    `json:"trail_1r_done,omitempty"`
	Trail2RDone bool    `json:"trail_2r_done,omitempty"`
	MaxFav      float64 `json:"max_fav,omitempty"`
	MinFav      float64 `json:"min_fav,omitempty"`

	// Recovered is set when the position was adopted from a broker snapshot
	// rather than opened by this process. Recovered positions may lack risk
	// levels and are managed in a degraded mode until they have them.
	Recovered bool `json:"recovered,omitempty"`
}

// Live reports whether the state references an open position.
func (p PositionState) Live() bool { return p.DealID != "" }

// HasRiskLevels reports whether stop, target and R are all usable.
// Recovered positions can miss any of them.
func (p PositionState) HasRiskLevels() bool {
	return p.RPoints > 0 && p.Stop != 0 && p.Target != 0
}

// EngineState is the persisted envelope for everything the controller must
// survive a restart with. It is loaded once at startup (missing or corrupt
// file yields the zero value, never an error) and saved atomically after
// every meaningful mutation. Unknown JSON keys are ignored on load so the
// schema can grow.
type EngineState struct {
	Position PositionState `json:"position"`

	// LastClosedTime is the timestamp of the last closed bar an entry was
	// already evaluated for; signals from bars at or before it are ignored.
	LastClosedTime time.Time `json:"last_closed_time,omitempty"`

	// LastMgmtBar dedups management of an open position per closed bar.
	LastMgmtBar time.Time `json:"last_mgmt_bar,omitempty"`

	ConsecLosses  int        `json:"consec_losses,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`

	// HeartbeatSentDate / SummarySentDate latch the once-per-day
	// notifications to a local calendar date (YYYY-MM-DD).
	HeartbeatSentDate string `json:"heartbeat_sent_date,omitempty"`
	SummarySentDate   string `json:"summary_sent_date,omitempty"`
}

// InCooldown reports whether the circuit-breaker cooldown blocks entries at t.
func (s EngineState) InCooldown(t time.Time) bool {
	return s.CooldownUntil != nil && t.Before(*s.CooldownUntil)
}

// ---------------------------------------------------------------------------
// Broker boundary results
// ---------------------------------------------------------------------------

// PositionSnapshot is the broker's authoritative view of the instrument's
// open position, fetched fresh each reconciliation pass and never cached
// beyond one iteration.
type PositionSnapshot struct {
	DealID     string
	Direction  Direction
	Size       float64
	EntryPrice float64
	// Stop and Target are nil when the broker holds no protective levels.
	Stop   *float64
	Target *float64
}

// OrderAck is the broker's immediate acknowledgement of a market order.
// The final position id may not be known yet.
type OrderAck struct {
	// OrderID is the broker-assigned order identifier, possibly empty.
	OrderID string
	// ClientRef is the caller-generated reference the order was submitted
	// with; confirmation can be polled by it.
	ClientRef string
}

// ConfirmResult resolves an order reference to a position.
type ConfirmResult struct {
	DealID    string
	FillPrice *float64
	Profit    *float64
}

// CloseResult reports the outcome of closing a position.
type CloseResult struct {
	CloseRef  string
	ExitPrice *float64
	Profit    *float64
}

// Fill is one execution from the broker's recent transaction history, used
// as a fallback profit lookup when a close confirmation carries none.
type Fill struct {
	Time      time.Time
	Side      Direction
	Price     float64
	Qty       float64
	NetAmount float64
}

// TradeRecord is the fixed-shape row appended to the trade log and journal
// for every closed trade.
type TradeRecord struct {
	EntryTime    time.Time
	ExitTime     time.Time
	Direction    Direction
	Size         float64
	EntryPrice   float64
	ExitPrice    float64
	ProfitPoints float64
	ProfitCash   float64
	RPoints      float64
	Stop         float64
	Target       float64
	Reason       ExitReason
	DealID       string
	CloseRef     string
	Meta         string
}
