// Package engine implements the position-lifecycle control loop: entry
// gating and signal dedup, order confirmation with orphan handling,
// broker/local reconciliation, exit resolution, trailing stops and the
// circuit breaker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"solotrader/internal/broker"
	"solotrader/internal/domain"
	"solotrader/internal/metrics"
	"solotrader/internal/notify"
	"solotrader/internal/state"
	"solotrader/internal/store"
	"solotrader/internal/strategy"
	"solotrader/internal/tradelog"
	"solotrader/internal/util"
)

// Trailing modes.
const (
	TrailModeThreshold = "threshold"
	TrailModeExcursion = "excursion"
)

// Entry price modes.
const (
	EntryModeNextOpen    = "next_open"
	EntryModeSignalClose = "signal_close"
)

// Options is the engine's static configuration for one run.
type Options struct {
	Symbol     string
	BarMinutes int
	WarmupBars int

	RTHEnabled     bool
	RTHExitEnabled bool
	// ExcludedUTCWeekdays blocks entries for the whole UTC weekday.
	ExcludedUTCWeekdays []time.Weekday
	// ExcludedLocalHours blocks entries during these local session hours.
	ExcludedLocalHours []int

	Equity           float64
	UseAccountEquity bool
	RiskPct          float64
	ValuePerPoint    float64
	MinSize          float64
	MaxSize          float64

	TrailingEnabled bool
	TrailBufferR    float64
	TrailMode       string

	BreakerLosses   int
	BreakerCooldown time.Duration

	FillTimeout time.Duration
	Poll        time.Duration
	AlignPoll   bool

	// ScalpMode re-evaluates management every poll instead of once per bar,
	// prefers the take-profit on a same-bar tie, skips the session-close
	// exit and does not advance the signal dedup marker on exits.
	ScalpMode       bool
	TakeProfitFirst bool
	EntryMode       string

	StrategyParams  strategy.Params
	WatchdogTimeout time.Duration
}

// HotOptions are the settings that may change while the bot runs.
type HotOptions struct {
	Equity          float64
	RiskPct         float64
	TrailingEnabled bool
	TrailBufferR    float64
	BreakerLosses   int
	BreakerCooldown time.Duration
	Poll            time.Duration
	StrategyParams  strategy.Params
}

// Deps are the engine's collaborators. Journal and Archive may be nil.
type Deps struct {
	Broker   broker.Broker
	Strategy strategy.Strategy
	State    *state.Store
	TradeLog *tradelog.Log
	Journal  store.Journal
	Archive  store.BarArchive
	Calendar *util.SessionCalendar
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	// Reload is polled each iteration; returning ok applies the new hot
	// options. Nil disables hot reload.
	Reload func() (HotOptions, bool)
}

// Engine is the single-instrument trading controller. All state mutation
// happens on the Run goroutine; Snapshot is safe from other goroutines.
type Engine struct {
	opt Options
	d   Deps
	st  domain.EngineState
	wd  *Watchdog
	log *slog.Logger

	// now supplies the trading wall clock; elapsed-time deadlines use the
	// runtime clock directly.
	now         func() time.Time
	confirmPoll time.Duration

	mu   sync.Mutex
	snap domain.EngineState
}

// New creates an Engine, loads durable state, and applies option defaults.
func New(opt Options, d Deps) *Engine {
	if opt.BarMinutes <= 0 {
		opt.BarMinutes = 5
	}
	if opt.WarmupBars <= 0 {
		opt.WarmupBars = 200
	}
	if opt.Poll <= 0 {
		opt.Poll = 30 * time.Second
	}
	if opt.FillTimeout <= 0 {
		opt.FillTimeout = 45 * time.Second
	}
	if opt.MinSize <= 0 {
		opt.MinSize = 1
	}
	if opt.TrailMode == "" {
		opt.TrailMode = TrailModeThreshold
	}
	if opt.EntryMode == "" {
		opt.EntryMode = EntryModeNextOpen
	}
	if opt.WatchdogTimeout <= 0 {
		opt.WatchdogTimeout = time.Duration(opt.BarMinutes) * time.Minute * 3
	}
	if d.Notifier == nil {
		d.Notifier = notify.NewLogNotifier(nil)
	}

	e := &Engine{
		opt:         opt,
		d:           d,
		st:          d.State.Load(),
		log:         slog.Default().With("component", "engine", "symbol", opt.Symbol),
		now:         time.Now,
		confirmPoll: 300 * time.Millisecond,
	}
	e.snap = e.st

	e.wd = NewWatchdog(opt.WatchdogTimeout, func(elapsed time.Duration) {
		e.log.Error("control loop stalled", "elapsed", elapsed.Round(time.Second))
		if d.Metrics != nil {
			d.Metrics.WatchdogAlerts.Inc()
		}
		d.Notifier.Event(notify.EventWatchdogAlert, map[string]any{
			"symbol":      opt.Symbol,
			"elapsed_sec": int(elapsed.Seconds()),
		})
	})

	return e
}

// Snapshot returns a copy of the durable state for the status endpoint.
func (e *Engine) Snapshot() domain.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// Healthy reports loop liveness for the health endpoint.
func (e *Engine) Healthy() bool { return e.wd.Healthy() }

// Run drives the control loop until ctx is cancelled, then closes any open
// position best-effort before returning.
func (e *Engine) Run(ctx context.Context) error {
	e.d.Notifier.Event(notify.EventStartup, map[string]any{
		"symbol":      e.opt.Symbol,
		"bar_minutes": e.opt.BarMinutes,
		"strategy":    e.d.Strategy.Name(),
		"broker":      e.d.Broker.Name(),
	})
	e.wd.Start(ctx)
	e.log.Info("engine started",
		"poll", e.opt.Poll, "align", e.opt.AlignPoll,
		"fill_timeout", e.opt.FillTimeout, "scalp", e.opt.ScalpMode)

	for {
		if ctx.Err() != nil {
			return e.shutdown()
		}

		e.wd.Tick()
		e.applyHotReload()
		e.heartbeatAndSummary(e.now())
		e.Step(ctx)

		select {
		case <-ctx.Done():
		case <-time.After(e.sleepInterval()):
		}
	}
}

// Step executes one full control-loop pass: reconcile, then manage the open
// position or look for an entry.
func (e *Engine) Step(ctx context.Context) {
	now := e.now().UTC()
	if e.d.Metrics != nil {
		e.d.Metrics.Iterations.Inc()
	}

	e.reconcile(ctx)

	if e.st.Position.Live() {
		e.manage(ctx, now)
	} else {
		e.tryEnter(ctx, now)
	}

	if e.d.Metrics != nil {
		if e.st.Position.Live() {
			e.d.Metrics.OpenPosition.Set(1)
		} else {
			e.d.Metrics.OpenPosition.Set(0)
		}
		e.d.Metrics.ConsecLosses.Set(float64(e.st.ConsecLosses))
	}
}

// shutdown closes an open position best-effort and persists final state.
func (e *Engine) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if !e.st.Position.Live() {
		e.log.Info("shutdown: flat, clean exit")
		return nil
	}

	e.log.Info("shutdown: closing open position", "deal_id", e.st.Position.DealID)
	est := e.st.Position.EntryPrice
	if bars, err := e.d.Broker.RecentBars(ctx, 10); err == nil && len(bars) > 0 {
		est = bars[len(bars)-1].Close
	}
	e.exitPosition(ctx, domain.ExitShutdown, est, e.now().UTC())
	return nil
}

// ---------------------------------------------------------------------------
// Reconciliation
// ---------------------------------------------------------------------------

// reconcile aligns local state with the broker's view. The broker is the
// authority: an unknown broker position is adopted (flagged recovered), a
// local position the broker no longer has is cleared. Running it twice in a
// row is a no-op.
func (e *Engine) reconcile(ctx context.Context) {
	bp, err := e.d.Broker.OpenPosition(ctx)

	switch {
	case err == nil && !e.st.Position.Live():
		pos := domain.PositionState{
			DealID:     bp.DealID,
			Direction:  bp.Direction,
			Size:       bp.Size,
			EntryPrice: bp.EntryPrice,
			Recovered:  true,
		}
		if bp.Stop != nil {
			pos.Stop = *bp.Stop
		}
		if bp.Target != nil {
			pos.Target = *bp.Target
		}
		e.st.Position = pos
		e.saveState()
		e.log.Warn("reconcile: adopted broker position", "deal_id", pos.DealID,
			"direction", pos.Direction, "size", pos.Size)

	case errors.Is(err, broker.ErrNoPosition) && e.st.Position.Live():
		stale := e.st.Position.DealID
		e.st.Position = domain.PositionState{}
		e.saveState()
		e.log.Warn("reconcile: cleared local position absent at broker",
			"deal_id", stale, "reason", domain.ExitExternal)

	case err != nil && !errors.Is(err, broker.ErrNoPosition):
		e.brokerError("open_position", err)
	}
}

// ---------------------------------------------------------------------------
// Position management
// ---------------------------------------------------------------------------

func (e *Engine) manage(ctx context.Context, now time.Time) {
	bars, err := e.fetchBars(ctx)
	if err != nil || len(bars) < 3 {
		if err != nil {
			e.brokerError("recent_bars", err)
		} else {
			e.log.Warn("manage: not enough bars", "n", len(bars))
		}
		return
	}

	bar, ok := bars.LastClosed()
	if !ok {
		return
	}
	barT := bar.Time

	// One management pass per closed bar, unless scalp mode re-checks every
	// poll.
	if !e.opt.ScalpMode && e.st.LastMgmtBar.Equal(barT) {
		return
	}
	if !e.st.LastMgmtBar.Equal(barT) {
		e.st.LastMgmtBar = barT
		e.saveState()
	}

	pos := &e.st.Position

	if e.opt.RTHExitEnabled && e.opt.RTHEnabled && !e.opt.ScalpMode && !e.d.Calendar.IsOpen(now) {
		e.exitPosition(ctx, domain.ExitSession, bar.Close, now)
		return
	}

	if !pos.HasRiskLevels() {
		// Recovered positions can lack levels; hold and keep reporting
		// until the operator intervenes or the broker closes it.
		e.log.Warn("manage: missing risk levels, holding",
			"deal_id", pos.DealID, "recovered", pos.Recovered)
		return
	}

	hitStop := (pos.Direction == domain.DirectionBuy && bar.Low <= pos.Stop) ||
		(pos.Direction == domain.DirectionSell && bar.High >= pos.Stop)
	hitTarget := (pos.Direction == domain.DirectionBuy && bar.High >= pos.Target) ||
		(pos.Direction == domain.DirectionSell && bar.Low <= pos.Target)

	if hitStop || hitTarget {
		reason, price := domain.ExitStop, pos.Stop
		if e.opt.TakeProfitFirst || e.opt.ScalpMode {
			if hitTarget {
				reason, price = domain.ExitTarget, pos.Target
			}
		} else if !hitStop {
			reason, price = domain.ExitTarget, pos.Target
		}
		e.exitPosition(ctx, reason, price, now)
		return
	}

	if pos.ExitBars > 0 && !pos.EntryBarTime.IsZero() {
		deadline := pos.EntryBarTime.Add(time.Duration(pos.ExitBars*e.opt.BarMinutes) * time.Minute)
		if !barT.Before(deadline) {
			e.exitPosition(ctx, domain.ExitTime, bar.Close, now)
			return
		}
	}

	if e.opt.TrailingEnabled {
		e.trail(ctx, pos, bar)
	}
}

// trail applies the configured trailing engine to the open position.
func (e *Engine) trail(ctx context.Context, pos *domain.PositionState, bar domain.Bar) {
	var moved, first1R, first2R bool

	switch e.opt.TrailMode {
	case TrailModeExcursion:
		moved = TrailExcursion(pos, bar.High, bar.Low)
	default:
		moved, first1R, first2R = TrailThreshold(pos, bar.Close, e.opt.TrailBufferR)
	}
	if !moved {
		return
	}

	e.saveState()
	if err := e.d.Broker.UpdateLevels(ctx, pos.DealID, pos.Stop, pos.Target); err != nil {
		e.log.Warn("trail: level sync failed", "err", err)
	}

	fields := map[string]any{
		"symbol":  e.opt.Symbol,
		"deal_id": pos.DealID,
		"stop":    pos.Stop,
	}
	if first1R {
		e.d.Notifier.Event(notify.EventTrail1R, fields)
	}
	if first2R {
		e.d.Notifier.Event(notify.EventTrail2R, fields)
	}
	e.d.Notifier.Event(notify.EventTrailStop, fields)
	e.log.Info("trail: stop moved", "stop", pos.Stop,
		"trail_1r", pos.Trail1RDone, "trail_2r", pos.Trail2RDone, "be_armed", pos.BEArmed)
}

// ---------------------------------------------------------------------------
// Exits
// ---------------------------------------------------------------------------

// exitPosition closes the open position, resolves the realized profit
// (close result, then recent fills, then the local estimate), records the
// trade, and updates the circuit breaker.
func (e *Engine) exitPosition(ctx context.Context, reason domain.ExitReason, estPrice float64, now time.Time) {
	pos := e.st.Position
	exitPrice := estPrice
	var brokerProfit *float64
	closeRef := ""

	res, err := e.d.Broker.ClosePosition(ctx)
	switch {
	case errors.Is(err, broker.ErrNoPosition):
		e.log.Warn("exit: position already gone at broker", "deal_id", pos.DealID)
	case err != nil:
		e.brokerError("close_position", err)
	case res != nil:
		closeRef = res.CloseRef
		if res.ExitPrice != nil {
			exitPrice = *res.ExitPrice
		}
		brokerProfit = res.Profit
	}

	if brokerProfit == nil {
		if fills, ferr := e.d.Broker.RecentFills(ctx, now.Add(-10*time.Minute)); ferr == nil {
			for i := len(fills) - 1; i >= 0; i-- {
				if fills[i].Side != pos.Direction.Opposite() {
					continue
				}
				exitPrice = fills[i].Price
				if fills[i].NetAmount != 0 {
					v := fills[i].NetAmount
					brokerProfit = &v
				}
				break
			}
		}
	}

	points := profitPoints(pos.Direction, pos.EntryPrice, exitPrice)
	cash := points * pos.Size * e.opt.ValuePerPoint
	if brokerProfit != nil {
		cash = *brokerProfit
	}

	tripped := applyBreaker(&e.st, cash, e.opt.BreakerLosses, e.opt.BreakerCooldown, now)

	rec := domain.TradeRecord{
		EntryTime:    pos.EntryBarTime,
		ExitTime:     now,
		Direction:    pos.Direction,
		Size:         pos.Size,
		EntryPrice:   pos.EntryPrice,
		ExitPrice:    exitPrice,
		ProfitPoints: points,
		ProfitCash:   cash,
		RPoints:      pos.RPoints,
		Stop:         pos.Stop,
		Target:       pos.Target,
		Reason:       reason,
		DealID:       pos.DealID,
		CloseRef:     closeRef,
		Meta:         e.d.Strategy.Name(),
	}
	if err := e.d.TradeLog.Append(rec); err != nil {
		e.log.Error("exit: trade log append failed", "err", err)
	}
	if e.d.Journal != nil {
		if err := e.d.Journal.RecordTrade(ctx, rec); err != nil {
			e.log.Warn("exit: journal write failed", "err", err)
		}
	}

	e.st.Position = domain.PositionState{}
	if !e.opt.ScalpMode {
		e.st.LastClosedTime = now
	}
	e.saveState()

	if e.d.Metrics != nil {
		e.d.Metrics.Exits.WithLabelValues(string(reason)).Inc()
	}
	e.d.Notifier.Event(string(reason), map[string]any{
		"symbol":        e.opt.Symbol,
		"deal_id":       pos.DealID,
		"direction":     pos.Direction,
		"exit_price":    exitPrice,
		"profit_points": points,
		"profit_cash":   cash,
	})
	e.log.Info("exit", "reason", reason, "deal_id", pos.DealID,
		"exit_price", exitPrice, "profit_points", points, "profit_cash", cash)

	if tripped {
		e.d.Notifier.Event(notify.EventCircuitBreaker, map[string]any{
			"symbol":         e.opt.Symbol,
			"consec_losses":  e.st.ConsecLosses,
			"cooldown_until": e.st.CooldownUntil,
		})
		e.log.Warn("circuit breaker tripped",
			"consec_losses", e.st.ConsecLosses, "cooldown_until", e.st.CooldownUntil)
	}
}

// ---------------------------------------------------------------------------
// Entry
// ---------------------------------------------------------------------------

func (e *Engine) tryEnter(ctx context.Context, now time.Time) {
	if !e.entryGatesOpen(now) {
		return
	}

	bars, err := e.fetchBars(ctx)
	if err != nil || len(bars) < 3 {
		if err != nil {
			e.brokerError("recent_bars", err)
		}
		return
	}

	frame := e.d.Strategy.Enrich(bars, e.opt.StrategyParams)
	sig := e.d.Strategy.SignalOnClose(frame, e.opt.StrategyParams)
	if sig == nil {
		return
	}

	sigBar, ok := bars.LastClosed()
	if !ok {
		return
	}
	signalBar := sigBar.Time
	// Dedup: only bars strictly after the last processed one count.
	if !e.st.LastClosedTime.IsZero() && !signalBar.After(e.st.LastClosedTime) {
		return
	}

	entryPrice, entryTime := e.entryEstimate(bars, signalBar)
	atr := e.signalATR(sig, frame)
	levels := e.d.Strategy.InitialRisk(entryPrice, atr, sig, e.opt.StrategyParams)

	equity := e.opt.Equity
	if e.opt.UseAccountEquity {
		if v, eerr := e.d.Broker.AccountEquity(ctx); eerr == nil {
			equity = v
			if e.d.Metrics != nil {
				e.d.Metrics.Equity.Set(v)
			}
		} else {
			e.brokerError("account_equity", eerr)
		}
	}

	size := PositionSize(SizeParams{
		Equity:        equity,
		RiskPct:       e.opt.RiskPct,
		RPoints:       levels.RPoints,
		ValuePerPoint: e.opt.ValuePerPoint,
		MinSize:       e.opt.MinSize,
		MaxSize:       e.opt.MaxSize,
	})

	if e.d.Journal != nil {
		if jerr := e.d.Journal.RecordSignal(ctx, *sig, signalBar, true); jerr != nil {
			e.log.Warn("entry: journal signal write failed", "err", jerr)
		}
	}

	e.log.Info("signal", "direction", sig.Direction, "entry_est", entryPrice,
		"size", size, "r_points", levels.RPoints, "stop", levels.Stop, "target", levels.Target)

	// Guard: the broker may already hold a position this loop has not seen.
	if _, gerr := e.d.Broker.OpenPosition(ctx); gerr == nil {
		e.log.Warn("entry: broker already holds a position, skipping signal")
		e.markBarProcessed(signalBar)
		return
	}

	clientRef := uuid.NewString()
	if _, oerr := e.d.Broker.OpenMarket(ctx, sig.Direction, size, clientRef); oerr != nil {
		// The order may have reached the venue despite the failed ack; fall
		// through to confirmation so a fill is never silently orphaned.
		e.log.Warn("entry: open ack failed, resolving anyway", "err", oerr)
		e.brokerError("open_market", oerr)
	}
	if e.d.Metrics != nil {
		e.d.Metrics.Orders.WithLabelValues(string(sig.Direction)).Inc()
	}

	confirmed := e.resolveFill(ctx, clientRef)
	if confirmed == nil {
		// Entry abandoned; the signal bar still counts as processed so the
		// same bar cannot fire twice.
		e.markBarProcessed(signalBar)
		return
	}

	pos := domain.PositionState{
		DealID:        confirmed.DealID,
		Direction:     sig.Direction,
		Size:          size,
		EntryPrice:    entryPrice,
		RPoints:       levels.RPoints,
		Stop:          levels.Stop,
		Target:        levels.Target,
		ATREntry:      atr,
		EntryBarTime:  entryTime,
		SignalBarTime: signalBar,
		ExitBars:      levels.ExitBars,
		MaxFav:        entryPrice,
		MinFav:        entryPrice,
	}
	e.st.Position = pos
	e.st.LastClosedTime = signalBar
	e.saveState()

	if uerr := e.d.Broker.UpdateLevels(ctx, pos.DealID, pos.Stop, pos.Target); uerr != nil {
		e.log.Warn("entry: level sync failed", "err", uerr)
	}

	e.d.Notifier.Event(notify.EventTradeOpen, map[string]any{
		"symbol":      e.opt.Symbol,
		"deal_id":     pos.DealID,
		"direction":   pos.Direction,
		"size":        pos.Size,
		"entry_price": pos.EntryPrice,
		"stop":        pos.Stop,
		"target":      pos.Target,
	})
	e.log.Info("entry confirmed", "deal_id", pos.DealID, "direction", pos.Direction,
		"size", pos.Size, "entry", pos.EntryPrice, "stop", pos.Stop, "target", pos.Target)
}

// entryGatesOpen applies the four entry gates: excluded UTC weekday,
// session hours, excluded local hours, circuit-breaker cooldown.
func (e *Engine) entryGatesOpen(now time.Time) bool {
	for _, wd := range e.opt.ExcludedUTCWeekdays {
		if now.UTC().Weekday() == wd {
			return false
		}
	}
	if e.opt.RTHEnabled && !e.d.Calendar.IsOpen(now) {
		return false
	}
	hour := e.d.Calendar.LocalHour(now)
	for _, h := range e.opt.ExcludedLocalHours {
		if hour == h {
			return false
		}
	}
	if e.st.InCooldown(now) {
		e.log.Info("gate: circuit breaker cooldown", "until", e.st.CooldownUntil)
		return false
	}
	return true
}

// entryEstimate picks the entry price and bar per the configured mode.
func (e *Engine) entryEstimate(bars domain.Series, signalBar time.Time) (float64, time.Time) {
	if e.opt.EntryMode == EntryModeSignalClose {
		closed, _ := bars.LastClosed()
		return closed.Close, signalBar
	}
	forming, _ := bars.Forming()
	return forming.Open, forming.Time
}

// signalATR prefers the ATR the strategy attached to the signal, falling
// back to the frame's atr column at the signal bar.
func (e *Engine) signalATR(sig *domain.Signal, frame *strategy.Frame) float64 {
	if v, ok := sig.Meta["atr_entry"].(float64); ok && v > 0 {
		return v
	}
	if v, ok := frame.At("atr", frame.SignalIndex()); ok {
		return v
	}
	return 0
}

// resolveFill races broker position discovery against confirmation by
// client reference until the fill timeout. The broker's position is the
// authority. On timeout a late orphan fill is force-closed.
func (e *Engine) resolveFill(ctx context.Context, clientRef string) *domain.ConfirmResult {
	deadline := time.Now().Add(e.opt.FillTimeout)

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			break
		}

		if bp, err := e.d.Broker.OpenPosition(ctx); err == nil {
			px := bp.EntryPrice
			return &domain.ConfirmResult{DealID: bp.DealID, FillPrice: &px}
		}

		cr, err := e.d.Broker.ConfirmOrder(ctx, clientRef)
		if err == nil {
			return cr
		}
		if !errors.Is(err, broker.ErrUnconfirmed) {
			e.log.Warn("confirm: terminal error", "err", err)
			break
		}

		select {
		case <-ctx.Done():
		case <-time.After(e.confirmPoll):
		}
	}

	// Timed out or terminal: if a fill sneaked in, flatten it.
	if bp, err := e.d.Broker.OpenPosition(ctx); err == nil {
		e.log.Error("confirm: timeout with orphan fill, force-closing", "deal_id", bp.DealID)
		if _, cerr := e.d.Broker.ClosePosition(ctx); cerr != nil {
			e.brokerError("close_position", cerr)
		}
		e.d.Notifier.Event(notify.EventFillTimeout, map[string]any{
			"symbol":  e.opt.Symbol,
			"deal_id": bp.DealID,
			"action":  "force_closed",
		})
		return nil
	}

	e.log.Error("confirm: entry abandoned, no fill found", "client_ref", clientRef)
	return nil
}

// markBarProcessed advances the signal dedup marker without opening a
// position.
func (e *Engine) markBarProcessed(signalBar time.Time) {
	e.st.LastClosedTime = signalBar
	e.saveState()
}

// ---------------------------------------------------------------------------
// Housekeeping
// ---------------------------------------------------------------------------

// fetchBars pulls the warmup window and archives it best-effort.
func (e *Engine) fetchBars(ctx context.Context) (domain.Series, error) {
	bars, err := e.d.Broker.RecentBars(ctx, e.opt.WarmupBars)
	if err != nil {
		return nil, err
	}
	if e.d.Archive != nil && len(bars) > 1 {
		// The forming bar is not final; archive only closed bars.
		if aerr := e.d.Archive.WriteBars(ctx, e.opt.Symbol, bars[:len(bars)-1]); aerr != nil {
			e.log.Warn("bar archive write failed", "err", aerr)
		}
	}
	return bars, nil
}

// heartbeatAndSummary sends the once-per-day heartbeat at session open and
// trade summary at session close, latched by local date.
func (e *Engine) heartbeatAndSummary(now time.Time) {
	local := now.In(e.d.Calendar.Location())
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return
	}
	today := e.d.Calendar.LocalDate(now)

	if e.d.Calendar.IsOpenMinute(now) && e.st.HeartbeatSentDate != today {
		e.d.Notifier.Event(notify.EventHeartbeat, map[string]any{
			"symbol":      e.opt.Symbol,
			"date":        today,
			"poll":        e.opt.Poll.String(),
			"bar_minutes": e.opt.BarMinutes,
		})
		e.st.HeartbeatSentDate = today
		e.saveState()
	}

	if e.d.Calendar.IsCloseMinute(now) && e.st.SummarySentDate != today {
		fields := map[string]any{"symbol": e.opt.Symbol, "date": today}
		trades, wins, pnl, err := e.d.TradeLog.SummarizeDay(today, e.d.Calendar.Location())
		if err != nil {
			fields["error"] = err.Error()
		} else {
			fields["trades"] = trades
			fields["wins"] = wins
			fields["losses"] = trades - wins
			fields["total_pnl"] = fmt.Sprintf("%.2f", pnl)
		}
		e.d.Notifier.Event(notify.EventDailySummary, fields)
		e.st.SummarySentDate = today
		e.saveState()
	}
}

// applyHotReload pulls changed runtime settings, if a reloader is wired.
func (e *Engine) applyHotReload() {
	if e.d.Reload == nil {
		return
	}
	hot, ok := e.d.Reload()
	if !ok {
		return
	}
	e.opt.Equity = hot.Equity
	e.opt.RiskPct = hot.RiskPct
	e.opt.TrailingEnabled = hot.TrailingEnabled
	e.opt.TrailBufferR = hot.TrailBufferR
	e.opt.BreakerLosses = hot.BreakerLosses
	e.opt.BreakerCooldown = hot.BreakerCooldown
	if hot.Poll > 0 {
		e.opt.Poll = hot.Poll
	}
	if hot.StrategyParams != nil {
		e.opt.StrategyParams = hot.StrategyParams
	}
	e.log.Info("hot config applied", "equity", e.opt.Equity,
		"risk_pct", e.opt.RiskPct, "poll", e.opt.Poll)
}

// sleepInterval decides how long to wait before the next pass.
func (e *Engine) sleepInterval() time.Duration {
	if e.opt.ScalpMode && e.st.Position.Live() {
		return time.Second
	}
	if e.opt.AlignPoll && !e.st.Position.Live() {
		// Wake just after the next bar close so new signals are seen early.
		now := e.now().UTC()
		wait := util.NextBarClose(now, e.opt.BarMinutes).Sub(now) + 2*time.Second
		maxWait := time.Duration(e.opt.BarMinutes) * time.Minute
		if wait < time.Second {
			wait = time.Second
		}
		if wait > maxWait {
			wait = maxWait
		}
		return wait
	}
	return e.opt.Poll
}

// saveState persists durable state and refreshes the read snapshot.
func (e *Engine) saveState() {
	if err := e.d.State.Save(e.st); err != nil {
		e.log.Error("state save failed", "err", err)
	}
	e.mu.Lock()
	e.snap = e.st
	e.mu.Unlock()
}

func (e *Engine) brokerError(op string, err error) {
	e.log.Warn("broker call failed", "op", op, "err", err)
	if e.d.Metrics != nil {
		e.d.Metrics.BrokerErrors.WithLabelValues(op).Inc()
	}
}
