package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"solotrader/internal/domain"
)

func TestSimulatorFlatReportsNoPosition(t *testing.T) {
	sim := NewSimulator(25000)
	if _, err := sim.OpenPosition(context.Background()); !errors.Is(err, ErrNoPosition) {
		t.Fatalf("flat OpenPosition err = %v, want ErrNoPosition", err)
	}
}

func TestSimulatorOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(25000)
	sim.SetMark(100)
	sim.ConfirmDelay = 2

	ack, err := sim.OpenMarket(ctx, domain.DirectionBuy, 5, "ref-1")
	if err != nil {
		t.Fatalf("OpenMarket: %v", err)
	}
	if ack.ClientRef != "ref-1" {
		t.Errorf("ack ref = %q", ack.ClientRef)
	}

	// Two polls pending, third resolves.
	for i := 0; i < 2; i++ {
		if _, err := sim.ConfirmOrder(ctx, "ref-1"); !errors.Is(err, ErrUnconfirmed) {
			t.Fatalf("poll %d err = %v, want ErrUnconfirmed", i, err)
		}
	}
	res, err := sim.ConfirmOrder(ctx, "ref-1")
	if err != nil {
		t.Fatalf("ConfirmOrder: %v", err)
	}
	if res.FillPrice == nil || *res.FillPrice != 100 {
		t.Errorf("fill price = %v, want 100", res.FillPrice)
	}

	pos, err := sim.OpenPosition(ctx)
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if pos.DealID != res.DealID || pos.Size != 5 {
		t.Errorf("position %+v does not match confirm %+v", pos, res)
	}

	sim.SetMark(104)
	closeRes, err := sim.ClosePosition(ctx)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if closeRes.Profit == nil || *closeRes.Profit != 20 {
		t.Errorf("profit = %v, want 20 (4 points x 5)", closeRes.Profit)
	}
	if eq, _ := sim.AccountEquity(ctx); eq != 25020 {
		t.Errorf("equity = %v, want 25020", eq)
	}
	if _, err := sim.OpenPosition(ctx); !errors.Is(err, ErrNoPosition) {
		t.Errorf("after close err = %v, want ErrNoPosition", err)
	}
}

func TestSimulatorDroppedAckStillFills(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(25000)
	sim.SetMark(50)
	sim.DropAck = true
	sim.PositionDelay = 1

	if _, err := sim.OpenMarket(ctx, domain.DirectionSell, 3, "ref-x"); err == nil {
		t.Fatal("OpenMarket with DropAck should error")
	}

	// First poll still flat, second discovers the orphan fill.
	if _, err := sim.OpenPosition(ctx); !errors.Is(err, ErrNoPosition) {
		t.Fatalf("first poll err = %v, want ErrNoPosition", err)
	}
	pos, err := sim.OpenPosition(ctx)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if pos.Direction != domain.DirectionSell || pos.Size != 3 {
		t.Errorf("orphan position = %+v", pos)
	}
}

func TestSimulatorShortProfit(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(10000)
	sim.SetMark(200)

	if _, err := sim.OpenMarket(ctx, domain.DirectionSell, 2, "ref-s"); err != nil {
		t.Fatalf("OpenMarket: %v", err)
	}
	if _, err := sim.ConfirmOrder(ctx, "ref-s"); err != nil {
		t.Fatalf("ConfirmOrder: %v", err)
	}
	sim.SetMark(190)
	res, err := sim.ClosePosition(ctx)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if res.Profit == nil || *res.Profit != 20 {
		t.Errorf("short profit = %v, want 20", res.Profit)
	}
}

func TestSimulatorRecentFillsFilterBySince(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(10000)
	sim.SetMark(100)
	if _, err := sim.OpenMarket(ctx, domain.DirectionBuy, 1, "ref-f"); err != nil {
		t.Fatalf("OpenMarket: %v", err)
	}
	if _, err := sim.ConfirmOrder(ctx, "ref-f"); err != nil {
		t.Fatalf("ConfirmOrder: %v", err)
	}
	if _, err := sim.ClosePosition(ctx); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}

	fills, err := sim.RecentFills(ctx, time.Time{})
	if err != nil {
		t.Fatalf("RecentFills: %v", err)
	}
	if len(fills) != 2 {
		t.Errorf("got %d fills, want entry+exit", len(fills))
	}
}
