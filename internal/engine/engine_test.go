package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"solotrader/internal/broker"
	"solotrader/internal/domain"
	"solotrader/internal/metrics"
	"solotrader/internal/state"
	"solotrader/internal/strategy"
	"solotrader/internal/tradelog"
	"solotrader/internal/util"
)

// scriptStrategy returns a fixed signal and risk levels, so tests control
// exactly when the engine sees an entry.
type scriptStrategy struct {
	sig    *domain.Signal
	levels domain.RiskLevels
}

func (s *scriptStrategy) Name() string { return "script" }

func (s *scriptStrategy) Enrich(bars domain.Series, _ strategy.Params) *strategy.Frame {
	return strategy.NewFrame(bars)
}

func (s *scriptStrategy) SignalOnClose(_ *strategy.Frame, _ strategy.Params) *domain.Signal {
	return s.sig
}

func (s *scriptStrategy) InitialRisk(_, _ float64, _ *domain.Signal, _ strategy.Params) domain.RiskLevels {
	return s.levels
}

// spyNotifier records every event for assertions.
type spyNotifier struct {
	mu     sync.Mutex
	events []spyEvent
}

type spyEvent struct {
	kind   string
	fields map[string]any
}

func (s *spyNotifier) Event(kind string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, spyEvent{kind: kind, fields: fields})
}

func (s *spyNotifier) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.kind == kind {
			n++
		}
	}
	return n
}

func (s *spyNotifier) last(kind string) (spyEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].kind == kind {
			return s.events[i], true
		}
	}
	return spyEvent{}, false
}

// mkBars builds a flat series of barMin-minute bars ending with a forming
// bar, all at the given price.
func mkBars(start time.Time, n, barMin int, price float64) domain.Series {
	bars := make(domain.Series, 0, n)
	for i := 0; i < n; i++ {
		bars = append(bars, domain.Bar{
			Time:   start.Add(time.Duration(i*barMin) * time.Minute),
			Open:   price,
			High:   price + 1,
			Low:    price - 1,
			Close:  price,
			Volume: 1000,
		})
	}
	return bars
}

func newTestEngine(t *testing.T, b broker.Broker, strat strategy.Strategy, mod func(*Options)) (*Engine, *spyNotifier) {
	t.Helper()

	dir := t.TempDir()
	tlog, err := tradelog.Open(filepath.Join(dir, "trades.csv"))
	if err != nil {
		t.Fatalf("open trade log: %v", err)
	}
	cal, err := util.NewSessionCalendar("UTC", "00:00", "23:59")
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	spy := &spyNotifier{}

	opt := Options{
		Symbol:        "TEST",
		BarMinutes:    5,
		Equity:        25000,
		RiskPct:       0.02,
		ValuePerPoint: 1,
		FillTimeout:   100 * time.Millisecond,
	}
	if mod != nil {
		mod(&opt)
	}

	e := New(opt, Deps{
		Broker:   b,
		Strategy: strat,
		State:    state.NewStore(filepath.Join(dir, "state.json")),
		TradeLog: tlog,
		Calendar: cal,
		Notifier: spy,
		Metrics:  metrics.New(prometheus.NewRegistry()),
	})
	e.confirmPoll = time.Millisecond
	return e, spy
}

var barStart = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestReconcileAdoptsBrokerPosition(t *testing.T) {
	sim := broker.NewSimulator(25000)
	sim.SetBars(mkBars(barStart, 10, 5, 100))
	sim.SeedPosition(domain.PositionSnapshot{
		DealID: "live-1", Direction: domain.DirectionBuy, Size: 2, EntryPrice: 100,
	})

	e, _ := newTestEngine(t, sim, &scriptStrategy{}, nil)
	ctx := context.Background()

	e.Step(ctx)
	snap := e.Snapshot()
	if !snap.Position.Live() {
		t.Fatal("broker position was not adopted")
	}
	if snap.Position.DealID != "live-1" || !snap.Position.Recovered {
		t.Fatalf("adopted position = %+v, want deal live-1 flagged recovered", snap.Position)
	}
	if len(sim.Orders) != 0 {
		t.Fatalf("adoption placed %d orders, want none", len(sim.Orders))
	}

	// A second pass changes nothing.
	e.Step(ctx)
	snap2 := e.Snapshot()
	if snap2.Position.DealID != "live-1" || len(sim.Orders) != 0 {
		t.Fatal("reconcile is not idempotent")
	}
}

func TestReconcileClearsStaleLocal(t *testing.T) {
	sim := broker.NewSimulator(25000)
	sim.SetBars(mkBars(barStart, 10, 5, 100))

	e, _ := newTestEngine(t, sim, &scriptStrategy{}, nil)
	e.st.Position = domain.PositionState{
		DealID: "gone-1", Direction: domain.DirectionBuy, Size: 1, EntryPrice: 100,
	}
	e.saveState()

	e.Step(context.Background())
	if e.Snapshot().Position.Live() {
		t.Fatal("stale local position was not cleared")
	}
}

func TestEntryFullCycle(t *testing.T) {
	sim := broker.NewSimulator(25000)
	sim.SetBars(mkBars(barStart, 10, 5, 100))

	strat := &scriptStrategy{
		sig:    &domain.Signal{Direction: domain.DirectionBuy, Meta: map[string]any{"atr_entry": 2.0}},
		levels: domain.RiskLevels{RPoints: 2, Stop: 98, Target: 106},
	}
	e, spy := newTestEngine(t, sim, strat, func(o *Options) {
		o.BreakerLosses = 1
		o.BreakerCooldown = time.Hour
	})
	ctx := context.Background()

	e.Step(ctx)

	snap := e.Snapshot()
	if !snap.Position.Live() {
		t.Fatal("entry did not open a position")
	}
	pos := snap.Position
	if pos.DealID != "sim-1" || pos.Direction != domain.DirectionBuy {
		t.Fatalf("position = %+v", pos)
	}
	if pos.EntryPrice != 100 || pos.Stop != 98 || pos.Target != 106 {
		t.Fatalf("levels = entry %v stop %v target %v", pos.EntryPrice, pos.Stop, pos.Target)
	}
	// 25000 * 2% / (2 points * 1/point) = 250.
	if pos.Size != 250 {
		t.Fatalf("size = %v, want 250", pos.Size)
	}
	signalBar := barStart.Add(8 * 5 * time.Minute)
	if !snap.LastClosedTime.Equal(signalBar) {
		t.Fatalf("LastClosedTime = %v, want signal bar %v", snap.LastClosedTime, signalBar)
	}
	if spy.count("TRADE_OPEN") != 1 {
		t.Fatal("missing TRADE_OPEN event")
	}

	// Next bars break the stop.
	sim.SetBars(mkBars(barStart.Add(time.Hour), 10, 5, 97))
	strat.sig = nil
	e.Step(ctx)

	snap = e.Snapshot()
	if snap.Position.Live() {
		t.Fatal("stop hit did not flatten the position")
	}
	if _, ok := spy.last(string(domain.ExitStop)); !ok {
		t.Fatal("missing stop exit event")
	}
	if snap.ConsecLosses != 1 {
		t.Fatalf("ConsecLosses = %d, want 1", snap.ConsecLosses)
	}
	if spy.count("CIRCUIT_BREAKER") != 1 {
		t.Fatal("breaker with threshold 1 should have tripped")
	}
	if snap.CooldownUntil == nil {
		t.Fatal("cooldown not armed")
	}

	recs, err := e.d.TradeLog.ReadAll()
	if err != nil || len(recs) != 1 {
		t.Fatalf("trade log rows = %d (err %v), want 1", len(recs), err)
	}
	if recs[0].Reason != domain.ExitStop || recs[0].ProfitCash >= 0 {
		t.Fatalf("trade row = %+v", recs[0])
	}

	// Cooldown gate blocks the next signal.
	strat.sig = &domain.Signal{Direction: domain.DirectionBuy}
	sim.SetBars(mkBars(barStart.Add(2*time.Hour), 10, 5, 100))
	e.Step(ctx)
	if e.Snapshot().Position.Live() || len(sim.Orders) != 1 {
		t.Fatal("cooldown gate did not block the entry")
	}
}

func TestEntryResolvedByPositionDiscovery(t *testing.T) {
	sim := broker.NewSimulator(25000)
	sim.SetBars(mkBars(barStart, 10, 5, 100))
	sim.ConfirmDelay = 1 << 30 // confirm-by-ref never resolves
	sim.PositionDelay = 2

	strat := &scriptStrategy{
		sig:    &domain.Signal{Direction: domain.DirectionSell},
		levels: domain.RiskLevels{RPoints: 2, Stop: 102, Target: 94},
	}
	e, _ := newTestEngine(t, sim, strat, nil)

	e.Step(context.Background())

	snap := e.Snapshot()
	if !snap.Position.Live() || snap.Position.DealID != "sim-1" {
		t.Fatalf("position = %+v, want fill found via position poll", snap.Position)
	}
	if snap.Position.Direction != domain.DirectionSell {
		t.Fatalf("direction = %v, want SELL", snap.Position.Direction)
	}
}

// countingBroker counts order submissions.
type countingBroker struct {
	*broker.Simulator
	openAttempts int
}

func (b *countingBroker) OpenMarket(ctx context.Context, dir domain.Direction, size float64, ref string) (*domain.OrderAck, error) {
	b.openAttempts++
	return b.Simulator.OpenMarket(ctx, dir, size, ref)
}

func TestEntryAbandonedMarksBarProcessed(t *testing.T) {
	sim := broker.NewSimulator(25000)
	sim.SetBars(mkBars(barStart, 10, 5, 100))
	sim.FailOpen = errors.New("venue rejected order")
	cb := &countingBroker{Simulator: sim}

	strat := &scriptStrategy{
		sig:    &domain.Signal{Direction: domain.DirectionBuy},
		levels: domain.RiskLevels{RPoints: 2, Stop: 98, Target: 106},
	}
	e, _ := newTestEngine(t, cb, strat, func(o *Options) {
		o.FillTimeout = 20 * time.Millisecond
	})
	ctx := context.Background()

	e.Step(ctx)
	snap := e.Snapshot()
	if snap.Position.Live() {
		t.Fatal("abandoned entry must stay flat")
	}
	signalBar := barStart.Add(8 * 5 * time.Minute)
	if !snap.LastClosedTime.Equal(signalBar) {
		t.Fatalf("LastClosedTime = %v, want signal bar marked processed", snap.LastClosedTime)
	}
	if cb.openAttempts != 1 {
		t.Fatalf("openAttempts = %d", cb.openAttempts)
	}

	// Same signal bar cannot fire a second order.
	e.Step(ctx)
	if cb.openAttempts != 1 {
		t.Fatalf("openAttempts = %d after retry, want still 1", cb.openAttempts)
	}
}

// orphanBroker keeps the position invisible until after the confirm loop
// breaks, modeling a fill that lands after the timeout decision.
type orphanBroker struct {
	*broker.Simulator
	posCalls int
}

func (b *orphanBroker) OpenPosition(ctx context.Context) (*domain.PositionSnapshot, error) {
	b.posCalls++
	if b.posCalls <= 3 {
		return nil, broker.ErrNoPosition
	}
	return b.Simulator.OpenPosition(ctx)
}

func (b *orphanBroker) ConfirmOrder(context.Context, string) (*domain.ConfirmResult, error) {
	return nil, errors.New("order rejected by venue")
}

func TestEntryOrphanForceClosed(t *testing.T) {
	sim := broker.NewSimulator(25000)
	sim.SetBars(mkBars(barStart, 10, 5, 100))
	sim.SeedPosition(domain.PositionSnapshot{
		DealID: "orphan-1", Direction: domain.DirectionBuy, Size: 5, EntryPrice: 100,
	})
	ob := &orphanBroker{Simulator: sim}

	strat := &scriptStrategy{
		sig:    &domain.Signal{Direction: domain.DirectionBuy},
		levels: domain.RiskLevels{RPoints: 2, Stop: 98, Target: 106},
	}
	e, spy := newTestEngine(t, ob, strat, nil)

	e.Step(context.Background())

	if e.Snapshot().Position.Live() {
		t.Fatal("orphan fill must not become a tracked position")
	}
	if len(sim.Closes) != 1 {
		t.Fatalf("closes = %d, want orphan force-closed once", len(sim.Closes))
	}
	ev, ok := spy.last("FILL_TIMEOUT")
	if !ok {
		t.Fatal("missing FILL_TIMEOUT event")
	}
	if ev.fields["action"] != "force_closed" {
		t.Fatalf("action = %v", ev.fields["action"])
	}
}

func seededLong(sim *broker.Simulator) domain.PositionState {
	sim.SeedPosition(domain.PositionSnapshot{
		DealID: "d1", Direction: domain.DirectionBuy, Size: 10, EntryPrice: 100,
	})
	return domain.PositionState{
		DealID:       "d1",
		Direction:    domain.DirectionBuy,
		Size:         10,
		EntryPrice:   100,
		RPoints:      2,
		Stop:         98,
		Target:       106,
		EntryBarTime: barStart,
	}
}

func TestManageBarDedup(t *testing.T) {
	sim := broker.NewSimulator(25000)
	bars := mkBars(barStart, 10, 5, 100)
	bars[8].Low = 96 // closed bar breaks the stop
	sim.SetBars(bars)

	e, _ := newTestEngine(t, sim, &scriptStrategy{}, nil)
	e.st.Position = seededLong(sim)
	e.st.LastMgmtBar = bars[8].Time // bar already handled
	e.saveState()

	e.Step(context.Background())
	if !e.Snapshot().Position.Live() {
		t.Fatal("already-managed bar must not be re-evaluated")
	}
}

func TestScalpModeReevaluatesSameBar(t *testing.T) {
	sim := broker.NewSimulator(25000)
	bars := mkBars(barStart, 10, 5, 100)
	bars[8].Low = 96
	sim.SetBars(bars)

	e, _ := newTestEngine(t, sim, &scriptStrategy{}, func(o *Options) {
		o.ScalpMode = true
	})
	e.st.Position = seededLong(sim)
	e.st.LastMgmtBar = bars[8].Time
	e.saveState()

	e.Step(context.Background())
	snap := e.Snapshot()
	if snap.Position.Live() {
		t.Fatal("scalp mode should manage the same bar again and exit")
	}
	// Scalp exits never advance the signal dedup marker.
	if !snap.LastClosedTime.IsZero() {
		t.Fatalf("LastClosedTime = %v, want untouched", snap.LastClosedTime)
	}
}

func TestSameBarTieBreak(t *testing.T) {
	run := func(tpFirst bool) domain.ExitReason {
		sim := broker.NewSimulator(25000)
		bars := mkBars(barStart, 10, 5, 100)
		bars[8].Low = 96
		bars[8].High = 107 // both levels touched on one bar
		sim.SetBars(bars)

		e, _ := newTestEngine(t, sim, &scriptStrategy{}, func(o *Options) {
			o.TakeProfitFirst = tpFirst
		})
		e.st.Position = seededLong(sim)
		e.saveState()

		e.Step(context.Background())
		recs, err := e.d.TradeLog.ReadAll()
		if err != nil || len(recs) != 1 {
			t.Fatalf("trade rows = %d (err %v)", len(recs), err)
		}
		return recs[0].Reason
	}

	if got := run(false); got != domain.ExitStop {
		t.Fatalf("default tie-break = %v, want stop", got)
	}
	if got := run(true); got != domain.ExitTarget {
		t.Fatalf("tp-first tie-break = %v, want target", got)
	}
}

func TestTimeStopExit(t *testing.T) {
	sim := broker.NewSimulator(25000)
	sim.SetBars(mkBars(barStart, 10, 5, 100))

	e, _ := newTestEngine(t, sim, &scriptStrategy{}, nil)
	pos := seededLong(sim)
	pos.ExitBars = 2 // two 5-minute bars
	e.st.Position = pos
	e.saveState()

	e.Step(context.Background())
	recs, _ := e.d.TradeLog.ReadAll()
	if len(recs) != 1 || recs[0].Reason != domain.ExitTime {
		t.Fatalf("trade rows = %+v, want one time-stop exit", recs)
	}
}

func TestTrailMovesStopAndNotifies(t *testing.T) {
	sim := broker.NewSimulator(25000)
	sim.SetBars(mkBars(barStart, 10, 5, 111))

	e, spy := newTestEngine(t, sim, &scriptStrategy{}, func(o *Options) {
		o.TrailingEnabled = true
		o.TrailBufferR = 0.1
	})
	pos := seededLong(sim)
	pos.RPoints = 10
	pos.Stop = 90
	pos.Target = 200
	e.st.Position = pos
	e.saveState()

	e.Step(context.Background())

	snap := e.Snapshot()
	if !snap.Position.Live() {
		t.Fatal("trailing must not close the position")
	}
	if snap.Position.Stop != 101 {
		t.Fatalf("stop = %v, want break-even + buffer 101", snap.Position.Stop)
	}
	if spy.count("TRAIL_1R") != 1 || spy.count("TRAIL_SL") != 1 {
		t.Fatalf("trail events = 1R:%d SL:%d", spy.count("TRAIL_1R"), spy.count("TRAIL_SL"))
	}
}

func TestSessionCloseExitsPosition(t *testing.T) {
	sim := broker.NewSimulator(25000)
	sim.SetBars(mkBars(barStart, 10, 5, 100))

	e, _ := newTestEngine(t, sim, &scriptStrategy{}, func(o *Options) {
		o.RTHEnabled = true
		o.RTHExitEnabled = true
	})
	e.st.Position = seededLong(sim)
	e.saveState()
	// Sunday: outside any weekday session.
	e.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	e.Step(context.Background())
	recs, _ := e.d.TradeLog.ReadAll()
	if len(recs) != 1 || recs[0].Reason != domain.ExitSession {
		t.Fatalf("trade rows = %+v, want one session exit", recs)
	}
}

func TestRecoveredPositionWithoutLevelsHolds(t *testing.T) {
	sim := broker.NewSimulator(25000)
	sim.SetBars(mkBars(barStart, 10, 5, 100))
	sim.SeedPosition(domain.PositionSnapshot{
		DealID: "live-1", Direction: domain.DirectionBuy, Size: 2, EntryPrice: 100,
	})

	e, _ := newTestEngine(t, sim, &scriptStrategy{}, nil)
	ctx := context.Background()

	e.Step(ctx) // adopt
	e.Step(ctx) // manage without risk levels
	snap := e.Snapshot()
	if !snap.Position.Live() || len(sim.Closes) != 0 {
		t.Fatal("recovered position without levels must be held, not closed")
	}
}

func TestHeartbeatAndSummaryLatchedByDate(t *testing.T) {
	sim := broker.NewSimulator(25000)
	e, spy := newTestEngine(t, sim, &scriptStrategy{}, nil)

	cal, err := util.NewSessionCalendar("UTC", "14:30", "21:00")
	if err != nil {
		t.Fatal(err)
	}
	e.d.Calendar = cal

	open := time.Date(2026, 3, 2, 14, 30, 10, 0, time.UTC) // Monday open minute
	e.heartbeatAndSummary(open)
	e.heartbeatAndSummary(open.Add(20 * time.Second))
	if spy.count("HEARTBEAT") != 1 {
		t.Fatalf("heartbeats = %d, want latched to one per day", spy.count("HEARTBEAT"))
	}

	closeT := time.Date(2026, 3, 2, 21, 0, 30, 0, time.UTC)
	e.heartbeatAndSummary(closeT)
	e.heartbeatAndSummary(closeT.Add(10 * time.Second))
	if spy.count("DAILY_SUMMARY") != 1 {
		t.Fatalf("summaries = %d, want latched to one per day", spy.count("DAILY_SUMMARY"))
	}

	// Next trading day re-arms both.
	e.heartbeatAndSummary(open.AddDate(0, 0, 1))
	if spy.count("HEARTBEAT") != 2 {
		t.Fatalf("heartbeats = %d, want re-armed next day", spy.count("HEARTBEAT"))
	}
}
