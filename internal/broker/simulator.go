package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"solotrader/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*Simulator)(nil)

// Simulator is a deterministic in-memory broker. Tests script its bar feed
// and fault injection; the engine drives it exactly like the real venue.
type Simulator struct {
	mu sync.Mutex

	bars   domain.Series
	mark   float64 // current execution price; defaults to last bar close
	equity float64

	position *domain.PositionSnapshot
	entry    struct {
		clientRef string
		dir       domain.Direction
		size      float64
		price     float64
	}

	// ConfirmDelay is how many ConfirmOrder calls return ErrUnconfirmed
	// before the fill resolves.
	ConfirmDelay int
	// PositionDelay is how many OpenPosition calls report flat before a
	// pending entry shows up as a position. Lets tests race position
	// discovery against order confirmation.
	PositionDelay int
	// DropAck makes OpenMarket fail after accepting the order, producing an
	// orphan position the reconciler must discover.
	DropAck bool
	// FailOpen, when set, makes OpenMarket fail without accepting anything.
	FailOpen error

	confirmPolls  int
	positionPolls int
	pending       bool
	nextDeal      int
	fills         []domain.Fill

	// Closes records every ClosePosition result for assertions.
	Closes []domain.CloseResult
	// Orders records every accepted market order.
	Orders []domain.OrderAck
}

// NewSimulator creates a Simulator with the given starting equity.
func NewSimulator(equity float64) *Simulator {
	return &Simulator{equity: equity}
}

// Name returns "simulator".
func (s *Simulator) Name() string { return "simulator" }

// SetBars replaces the scripted bar series and moves the mark to the last
// close.
func (s *Simulator) SetBars(bars domain.Series) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars = bars
	if len(bars) > 0 {
		s.mark = bars[len(bars)-1].Close
	}
}

// SetMark overrides the execution price for subsequent fills.
func (s *Simulator) SetMark(price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mark = price
}

// SeedPosition installs a pre-existing venue position, as after a crash.
func (s *Simulator) SeedPosition(p domain.PositionSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = &p
}

// RecentBars returns the scripted series.
func (s *Simulator) RecentBars(_ context.Context, limit int) (domain.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bars) > limit {
		return append(domain.Series{}, s.bars[len(s.bars)-limit:]...), nil
	}
	return append(domain.Series{}, s.bars...), nil
}

// OpenPosition reports the simulated venue position. A pending entry
// materializes once PositionDelay polls have elapsed.
func (s *Simulator) OpenPosition(_ context.Context) (*domain.PositionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending {
		s.positionPolls++
		if s.positionPolls > s.PositionDelay {
			s.fillPendingLocked()
		}
	}
	if s.position == nil {
		return nil, ErrNoPosition
	}
	snap := *s.position
	return &snap, nil
}

// OpenMarket accepts a market order that fills at the current mark.
func (s *Simulator) OpenMarket(_ context.Context, dir domain.Direction, size float64, clientRef string) (*domain.OrderAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailOpen != nil {
		return nil, s.FailOpen
	}
	if s.position != nil || s.pending {
		return nil, errors.New("simulator: position already open")
	}

	s.entry.clientRef = clientRef
	s.entry.dir = dir
	s.entry.size = size
	s.entry.price = s.mark
	s.pending = true
	s.confirmPolls = 0
	s.positionPolls = 0

	if s.DropAck {
		return nil, errors.New("simulator: connection reset after submit")
	}

	ack := domain.OrderAck{OrderID: fmt.Sprintf("ord-%d", s.nextDeal+1), ClientRef: clientRef}
	s.Orders = append(s.Orders, ack)
	return &ack, nil
}

// ConfirmOrder resolves the pending entry after ConfirmDelay polls.
func (s *Simulator) ConfirmOrder(_ context.Context, clientRef string) (*domain.ConfirmResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.position != nil && s.entry.clientRef == clientRef {
		px := s.position.EntryPrice
		return &domain.ConfirmResult{DealID: s.position.DealID, FillPrice: &px}, nil
	}
	if !s.pending || s.entry.clientRef != clientRef {
		return nil, ErrUnconfirmed
	}

	s.confirmPolls++
	if s.confirmPolls <= s.ConfirmDelay {
		return nil, ErrUnconfirmed
	}

	s.fillPendingLocked()
	px := s.position.EntryPrice
	return &domain.ConfirmResult{DealID: s.position.DealID, FillPrice: &px}, nil
}

// fillPendingLocked converts the pending entry into an open position.
func (s *Simulator) fillPendingLocked() {
	s.nextDeal++
	s.position = &domain.PositionSnapshot{
		DealID:     fmt.Sprintf("sim-%d", s.nextDeal),
		Direction:  s.entry.dir,
		Size:       s.entry.size,
		EntryPrice: s.entry.price,
	}
	s.pending = false
	s.fills = append(s.fills, domain.Fill{
		Time:  time.Now().UTC(),
		Side:  s.entry.dir,
		Price: s.entry.price,
		Qty:   s.entry.size,
	})
}

// UpdateLevels records protective levels on the open position.
func (s *Simulator) UpdateLevels(_ context.Context, dealID string, stop, target float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.position == nil || s.position.DealID != dealID {
		return fmt.Errorf("simulator: no position %s", dealID)
	}
	st, tg := stop, target
	s.position.Stop = &st
	s.position.Target = &tg
	return nil
}

// ClosePosition flattens at the current mark and reports realized profit.
func (s *Simulator) ClosePosition(_ context.Context) (*domain.CloseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.position == nil {
		return nil, ErrNoPosition
	}

	px := s.mark
	points := px - s.position.EntryPrice
	if s.position.Direction == domain.DirectionSell {
		points = -points
	}
	profit := points * s.position.Size

	s.fills = append(s.fills, domain.Fill{
		Time:      time.Now().UTC(),
		Side:      s.position.Direction.Opposite(),
		Price:     px,
		Qty:       s.position.Size,
		NetAmount: profit,
	})
	s.equity += profit
	s.position = nil

	res := domain.CloseResult{
		CloseRef:  fmt.Sprintf("close-%d", s.nextDeal),
		ExitPrice: &px,
		Profit:    &profit,
	}
	s.Closes = append(s.Closes, res)
	out := res
	return &out, nil
}

// RecentFills returns recorded fills since the given time.
func (s *Simulator) RecentFills(_ context.Context, since time.Time) ([]domain.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Fill
	for _, f := range s.fills {
		if f.Time.Before(since) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// AccountEquity returns the simulated equity.
func (s *Simulator) AccountEquity(_ context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.equity, nil
}
