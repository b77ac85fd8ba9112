package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"solotrader/internal/domain"
	"solotrader/internal/util"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaConfig carries everything needed to construct an AlpacaBroker.
type AlpacaConfig struct {
	APIKey     string
	APISecret  string
	BaseURL    string // trading API; paper or live
	DataURL    string // market-data API, empty for default
	Symbol     string
	BarMinutes int
	Feed       string // iex or sip
	// RequestsPerMinute bounds the call rate across all operations.
	RequestsPerMinute int
}

// AlpacaBroker implements Broker against the Alpaca trading and market-data
// APIs. Alpaca keeps no mutable protective levels on a market position, so
// UpdateLevels records the stop and target locally; the engine enforces them
// on bar closes.
type AlpacaBroker struct {
	cfg     AlpacaConfig
	trading *alpaca.Client
	data    *marketdata.Client
	limiter *util.RateLimiter
	log     *slog.Logger

	mu     sync.Mutex
	stop   float64
	target float64
}

// NewAlpacaBroker creates an AlpacaBroker from the given config.
func NewAlpacaBroker(cfg AlpacaConfig) *AlpacaBroker {
	if cfg.BarMinutes <= 0 {
		cfg.BarMinutes = 5
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 180
	}
	dataOpts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		dataOpts.BaseURL = cfg.DataURL
	}
	return &AlpacaBroker{
		cfg: cfg,
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		data:    marketdata.NewClient(dataOpts),
		limiter: util.NewRateLimiter(cfg.RequestsPerMinute),
		log:     slog.Default().With("broker", "alpaca", "symbol", cfg.Symbol),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string { return "alpaca" }

func (b *AlpacaBroker) feed() marketdata.Feed {
	if strings.EqualFold(b.cfg.Feed, "sip") {
		return marketdata.SIP
	}
	return marketdata.IEX
}

// RecentBars fetches the latest completed aggregates and appends the
// venue's current (possibly forming) bar so the series ends on the forming
// slot the engine expects.
func (b *AlpacaBroker) RecentBars(ctx context.Context, limit int) (domain.Series, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	span := time.Duration(limit*b.cfg.BarMinutes) * time.Minute * 3
	var bars []marketdata.Bar
	err := util.Retry(ctx, 3, time.Second, func() error {
		var ferr error
		bars, ferr = b.data.GetBars(b.cfg.Symbol, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.NewTimeFrame(b.cfg.BarMinutes, marketdata.Min),
			Start:      time.Now().UTC().Add(-span),
			TotalLimit: limit,
			Feed:       b.feed(),
		})
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", b.cfg.Symbol, err)
	}

	series := make(domain.Series, 0, len(bars)+1)
	for _, bar := range bars {
		series = append(series, domain.Bar{
			Time:   bar.Timestamp.UTC(),
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: float64(bar.Volume),
		})
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	latest, err := b.data.GetLatestBar(b.cfg.Symbol, marketdata.GetLatestBarRequest{Feed: b.feed()})
	if err != nil {
		b.log.Warn("latest bar fetch failed, last aggregate treated as forming", "err", err)
	} else if latest != nil {
		series = append(series, domain.Bar{
			Time:   latest.Timestamp.UTC(),
			Open:   latest.Open,
			High:   latest.High,
			Low:    latest.Low,
			Close:  latest.Close,
			Volume: float64(latest.Volume),
		})
	}

	return domain.NormalizeSeries(series), nil
}

// OpenPosition returns the account's position in the configured symbol.
// Alpaca signals flat with a 404, which maps to ErrNoPosition.
func (b *AlpacaBroker) OpenPosition(ctx context.Context) (*domain.PositionSnapshot, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	pos, err := b.trading.GetPosition(b.cfg.Symbol)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNoPosition
		}
		return nil, fmt.Errorf("GetPosition %s: %w", b.cfg.Symbol, err)
	}

	dir, err := domain.ParseDirection(string(pos.Side))
	if err != nil {
		return nil, fmt.Errorf("position side: %w", err)
	}

	snap := &domain.PositionSnapshot{
		DealID:     pos.AssetID,
		Direction:  dir,
		Size:       pos.Qty.Abs().InexactFloat64(),
		EntryPrice: pos.AvgEntryPrice.InexactFloat64(),
	}

	b.mu.Lock()
	if b.stop != 0 {
		s := b.stop
		snap.Stop = &s
	}
	if b.target != 0 {
		t := b.target
		snap.Target = &t
	}
	b.mu.Unlock()

	return snap, nil
}

// OpenMarket submits a day market order tagged with clientRef.
func (b *AlpacaBroker) OpenMarket(ctx context.Context, dir domain.Direction, size float64, clientRef string) (*domain.OrderAck, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	side := alpaca.Buy
	if dir == domain.DirectionSell {
		side = alpaca.Sell
	}
	qty := decimal.NewFromFloat(size)

	order, err := b.trading.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        b.cfg.Symbol,
		Qty:           &qty,
		Side:          side,
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: clientRef,
	})
	if err != nil {
		return nil, fmt.Errorf("PlaceOrder %s %s %v: %w", b.cfg.Symbol, dir, size, err)
	}
	return &domain.OrderAck{OrderID: order.ID, ClientRef: clientRef}, nil
}

// ConfirmOrder looks the order up by its client reference.
func (b *AlpacaBroker) ConfirmOrder(ctx context.Context, clientRef string) (*domain.ConfirmResult, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	order, err := b.trading.GetOrderByClientOrderID(clientRef)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrUnconfirmed
		}
		return nil, fmt.Errorf("GetOrderByClientOrderID %s: %w", clientRef, err)
	}

	switch order.Status {
	case "filled":
		res := &domain.ConfirmResult{DealID: order.AssetID}
		if order.FilledAvgPrice != nil {
			px := order.FilledAvgPrice.InexactFloat64()
			res.FillPrice = &px
		}
		return res, nil
	case "canceled", "expired", "rejected", "stopped":
		return nil, fmt.Errorf("order %s terminal with status %s", clientRef, order.Status)
	default:
		return nil, ErrUnconfirmed
	}
}

// UpdateLevels records stop and target locally. Alpaca market positions
// carry no venue-side protective levels, so this never fails and the engine
// remains responsible for enforcement.
func (b *AlpacaBroker) UpdateLevels(_ context.Context, dealID string, stop, target float64) error {
	b.mu.Lock()
	b.stop, b.target = stop, target
	b.mu.Unlock()
	b.log.Info("levels recorded", "deal_id", dealID, "stop", stop, "target", target)
	return nil
}

// ClosePosition flattens the symbol at market. The exit price is usually
// not known yet; callers fall back to RecentFills.
func (b *AlpacaBroker) ClosePosition(ctx context.Context) (*domain.CloseResult, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	order, err := b.trading.ClosePosition(b.cfg.Symbol, alpaca.ClosePositionRequest{})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNoPosition
		}
		return nil, fmt.Errorf("ClosePosition %s: %w", b.cfg.Symbol, err)
	}

	b.mu.Lock()
	b.stop, b.target = 0, 0
	b.mu.Unlock()

	res := &domain.CloseResult{CloseRef: order.ID}
	if order.FilledAvgPrice != nil {
		px := order.FilledAvgPrice.InexactFloat64()
		res.ExitPrice = &px
	}
	return res, nil
}

// RecentFills returns the symbol's fill activities since the given time.
func (b *AlpacaBroker) RecentFills(ctx context.Context, since time.Time) ([]domain.Fill, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	activities, err := b.trading.GetAccountActivities(alpaca.GetAccountActivitiesRequest{
		ActivityTypes: []string{"FILL"},
		After:         since,
	})
	if err != nil {
		return nil, fmt.Errorf("GetAccountActivities: %w", err)
	}

	var fills []domain.Fill
	for _, act := range activities {
		if !strings.EqualFold(act.Symbol, b.cfg.Symbol) {
			continue
		}
		dir, err := domain.ParseDirection(act.Side)
		if err != nil {
			continue
		}
		fills = append(fills, domain.Fill{
			Time:      act.TransactionTime,
			Side:      dir,
			Price:     act.Price.InexactFloat64(),
			Qty:       act.Qty.Abs().InexactFloat64(),
			NetAmount: act.NetAmount.InexactFloat64(),
		})
	}
	return fills, nil
}

// AccountEquity returns the account's current equity.
func (b *AlpacaBroker) AccountEquity(ctx context.Context) (float64, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	acct, err := b.trading.GetAccount()
	if err != nil {
		return 0, fmt.Errorf("GetAccount: %w", err)
	}
	return acct.Equity.InexactFloat64(), nil
}

// isNotFound reports whether err is an Alpaca 404.
func isNotFound(err error) bool {
	var apiErr *alpaca.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}
