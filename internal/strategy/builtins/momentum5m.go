// Package builtins provides the builtin strategy implementations. Importing
// the package registers them; the binary selects one by name from config.
package builtins

import (
	"solotrader/internal/domain"
	"solotrader/internal/strategy"
)

func init() {
	strategy.Register("momentum5m", func() strategy.Strategy { return &Momentum5m{} })
}

// Compile-time interface check.
var _ strategy.Strategy = (*Momentum5m)(nil)

// Momentum5m trades 5-minute momentum breakouts: a decisive candle against
// the run of the previous three bars, confirmed by relative volume and an
// RSI band. RSI and ATR use simple-moving-average smoothing.
type Momentum5m struct{}

// Name returns "momentum5m".
func (s *Momentum5m) Name() string { return "momentum5m" }

// Enrich adds body ratio, relative volume, RSI(14), ATR(14) and the
// previous-3-bar bull/bear counts.
func (s *Momentum5m) Enrich(bars domain.Series, p Params) *strategy.Frame {
	volWindow := p.Int("vol_window", 20)
	rsiLen := p.Int("rsi_period", 14)
	atrLen := p.Int("atr_period", 14)

	f := strategy.NewFrame(bars)
	f.Set("range", strategy.BarRange(bars))
	f.Set("body_ratio", strategy.BodyRatio(bars))
	f.Set("vol_rel", strategy.RelVolume(bars, volWindow))
	f.Set("rsi", strategy.RSISMA(bars.Closes(), rsiLen))
	f.Set("atr", strategy.ATRSMA(bars, atrLen))
	f.Set("bear_prev3", strategy.PrevCount(bars, 3, func(b domain.Bar) bool { return b.Close < b.Open }))
	f.Set("bull_prev3", strategy.PrevCount(bars, 3, func(b domain.Bar) bool { return b.Close > b.Open }))
	return f
}

// SignalOnClose evaluates the last closed bar.
func (s *Momentum5m) SignalOnClose(f *strategy.Frame, p Params) *domain.Signal {
	if len(f.Bars) < p.Int("min_bars", 30) {
		return nil
	}
	i := f.SignalIndex()
	if i < 0 {
		return nil
	}

	rng, ok := f.At("range", i)
	if !ok || rng <= 0 {
		return nil
	}
	body, ok1 := f.At("body_ratio", i)
	volRel, ok2 := f.At("vol_rel", i)
	rsi, ok3 := f.At("rsi", i)
	atr, ok4 := f.At("atr", i)
	bear3, ok5 := f.At("bear_prev3", i)
	bull3, ok6 := f.At("bull_prev3", i)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 {
		return nil
	}

	if body < p.Float("body_min", 0.70) || volRel < p.Float("vol_rel_min", 0.70) {
		return nil
	}

	bar := f.Bars[i]
	meta := map[string]any{
		"signal_bar": bar.Time,
		"atr_entry":  atr,
		"body_ratio": body,
		"vol_rel":    volRel,
		"rsi":        rsi,
	}

	// Long: bullish candle after a bearish run, RSI not overbought.
	if bar.Close > bar.Open &&
		bear3 >= float64(p.Int("bear_prev3_long", 2)) &&
		rsi < p.Float("rsi_long_max", 75) {
		return &domain.Signal{Direction: domain.DirectionBuy, EntryPriceEst: bar.Close, Meta: meta}
	}

	// Short: bearish candle after a bullish run, RSI not oversold.
	if bar.Close < bar.Open &&
		bull3 >= float64(p.Int("bull_prev3_short", 2)) &&
		rsi > p.Float("rsi_short_min", 40) {
		return &domain.Signal{Direction: domain.DirectionSell, EntryPriceEst: bar.Close, Meta: meta}
	}
	return nil
}

// InitialRisk places the stop one R below entry and the target a configured
// multiple of R above, where R is the signal bar's ATR scaled by sl_atr.
func (s *Momentum5m) InitialRisk(entry, atr float64, sig *domain.Signal, p Params) domain.RiskLevels {
	return atrRisk(entry, atr, sig.Direction, p)
}

// atrRisk is the shared ATR-based risk derivation.
func atrRisk(entry, atr float64, dir domain.Direction, p Params) domain.RiskLevels {
	r := p.Float("sl_atr", 1.0) * atr
	tpMult := p.Float("tp_r_multiple", 3.0)
	lv := domain.RiskLevels{
		RPoints:  r,
		ExitBars: p.Int("exit_bars", 24),
	}
	if dir == domain.DirectionBuy {
		lv.Stop = entry - r
		lv.Target = entry + tpMult*r
	} else {
		lv.Stop = entry + r
		lv.Target = entry - tpMult*r
	}
	return lv
}

// Params aliases the strategy package's parameter map so the builtin files
// read cleanly.
type Params = strategy.Params
