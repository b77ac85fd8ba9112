package builtins

import (
	"math"
	"time"

	"solotrader/internal/domain"
	"solotrader/internal/strategy"
)

func init() {
	strategy.Register("vwapRevert", func() strategy.Strategy { return &VWAPRevert{} })
}

// Compile-time interface check.
var _ strategy.Strategy = (*VWAPRevert)(nil)

// VWAPRevert trades continuation away from the intraday VWAP: price must sit
// a minimum ATR-scaled distance from VWAP on the right side, after a run of
// opposing bars. RSI and ATR use Wilder smoothing; the VWAP accumulator
// resets at local midnight in the configured timezone.
type VWAPRevert struct{}

// Name returns "vwapRevert".
func (s *VWAPRevert) Name() string { return "vwapRevert" }

// Enrich adds body ratio, relative volume, Wilder RSI/ATR, the intraday
// VWAP and the previous-3-bar counts.
func (s *VWAPRevert) Enrich(bars domain.Series, p Params) *strategy.Frame {
	volWindow := p.Int("vol_window", 20)
	rsiLen := p.Int("rsi_period", 14)
	atrLen := p.Int("atr_period", 14)

	loc, err := time.LoadLocation(p.String("vwap_tz", "Europe/Berlin"))
	if err != nil {
		loc = time.UTC
	}

	f := strategy.NewFrame(bars)
	f.Set("body_ratio", strategy.BodyRatio(bars))
	f.Set("vol_rel", strategy.RelVolume(bars, volWindow))
	f.Set("rsi", strategy.RSIWilder(bars.Closes(), rsiLen))
	f.Set("atr", strategy.ATRWilder(bars, atrLen))
	f.Set("vwap", strategy.VWAPIntraday(bars, loc))
	f.Set("bear_prev3", strategy.PrevCount(bars, 3, func(b domain.Bar) bool { return b.Close < b.Open }))
	f.Set("bull_prev3", strategy.PrevCount(bars, 3, func(b domain.Bar) bool { return b.Close > b.Open }))
	return f
}

// SignalOnClose evaluates the last closed bar.
func (s *VWAPRevert) SignalOnClose(f *strategy.Frame, p Params) *domain.Signal {
	if len(f.Bars) < p.Int("min_bars", 50) {
		return nil
	}
	i := f.SignalIndex()
	if i < 0 {
		return nil
	}

	body, ok1 := f.At("body_ratio", i)
	volRel, ok2 := f.At("vol_rel", i)
	rsi, ok3 := f.At("rsi", i)
	atr, ok4 := f.At("atr", i)
	vwap, ok5 := f.At("vwap", i)
	bear3, ok6 := f.At("bear_prev3", i)
	bull3, ok7 := f.At("bull_prev3", i)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 || !ok7 {
		return nil
	}

	if body < p.Float("body_min", 0.70) || volRel < p.Float("vol_rel_min", 0.70) {
		return nil
	}

	bar := f.Bars[i]

	// Distance gate: skip entries hugging the VWAP.
	if math.Abs(bar.Close-vwap) < p.Float("vwap_distance_k", 0.20)*atr {
		return nil
	}

	meta := map[string]any{
		"signal_bar": bar.Time,
		"atr_entry":  atr,
		"vwap":       vwap,
		"rsi":        rsi,
	}

	longOK := bar.Close > vwap && bar.Close > bar.Open &&
		bear3 >= float64(p.Int("bear_prev3_long", 2)) &&
		rsi <= p.Float("rsi_long_max", 75)
	shortOK := bar.Close < vwap && bar.Close < bar.Open &&
		bull3 >= float64(p.Int("bull_prev3_short", 2)) &&
		rsi >= p.Float("rsi_short_min", 40)

	if longOK {
		return &domain.Signal{Direction: domain.DirectionBuy, EntryPriceEst: bar.Close, Meta: meta}
	}
	if shortOK {
		return &domain.Signal{Direction: domain.DirectionSell, EntryPriceEst: bar.Close, Meta: meta}
	}
	return nil
}

// InitialRisk uses the same ATR-scaled R derivation as the momentum
// strategy.
func (s *VWAPRevert) InitialRisk(entry, atr float64, sig *domain.Signal, p Params) domain.RiskLevels {
	return atrRisk(entry, atr, sig.Direction, p)
}
