// Package broker defines the Broker interface the trading engine drives and
// provides the Alpaca implementation plus an in-memory simulator.
package broker

import (
	"context"
	"errors"
	"time"

	"solotrader/internal/domain"
)

// ErrNoPosition is returned by OpenPosition when the account holds no
// position in the instrument. It is a normal state, not a failure.
var ErrNoPosition = errors.New("no open position")

// ErrUnconfirmed is returned by ConfirmOrder while the order is still
// pending at the venue. Callers poll until the fill deadline.
var ErrUnconfirmed = errors.New("order not confirmed yet")

// Broker abstracts the venue operations for a single-instrument bot. Every
// result is a typed struct; implementations never hand back raw venue
// payloads.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// RecentBars returns up to limit bars for the instrument, oldest first.
	// The final element is the forming bar; the last closed bar is the one
	// before it.
	RecentBars(ctx context.Context, limit int) (domain.Series, error)

	// OpenPosition returns the venue's view of the instrument's open
	// position, or ErrNoPosition when flat.
	OpenPosition(ctx context.Context) (*domain.PositionSnapshot, error)

	// OpenMarket submits a market order tagged with the caller-generated
	// clientRef. The returned ack may precede the fill.
	OpenMarket(ctx context.Context, dir domain.Direction, size float64, clientRef string) (*domain.OrderAck, error)

	// ConfirmOrder resolves a client reference to its fill. It returns
	// ErrUnconfirmed while the order is pending and a terminal error when
	// the venue rejected it.
	ConfirmOrder(ctx context.Context, clientRef string) (*domain.ConfirmResult, error)

	// UpdateLevels records the protective stop and target for the open
	// position. Best effort: a failure must not abort position management.
	UpdateLevels(ctx context.Context, dealID string, stop, target float64) error

	// ClosePosition flattens the instrument at market.
	ClosePosition(ctx context.Context) (*domain.CloseResult, error)

	// RecentFills returns executions since the given time, newest last.
	// Used as a fallback profit source when a close carries none.
	RecentFills(ctx context.Context, since time.Time) ([]domain.Fill, error)

	// AccountEquity returns the account equity used for position sizing.
	AccountEquity(ctx context.Context) (float64, error)
}
