package strategy

import (
	"math"
	"time"

	"solotrader/internal/domain"
)

// Indicator helpers shared by the builtin strategies. All return slices
// aligned with the input; positions where the indicator is not warm hold NaN.

var nan = math.NaN()

// SMA is the simple moving average over window n.
func SMA(vals []float64, n int) []float64 {
	out := make([]float64, len(vals))
	var sum float64
	valid := 0
	for i, v := range vals {
		out[i] = nan
		if math.IsNaN(v) {
			// A NaN input poisons the window; restart accumulation.
			sum, valid = 0, 0
			continue
		}
		sum += v
		valid++
		if valid > n {
			sum -= vals[i-n]
		}
		if valid >= n {
			out[i] = sum / float64(n)
		}
	}
	return out
}

// rma is Wilder's smoothing: an EMA with alpha 1/n seeded on the first
// non-NaN value.
func rma(vals []float64, n int) []float64 {
	out := make([]float64, len(vals))
	alpha := 1.0 / float64(n)
	prev := nan
	for i, v := range vals {
		switch {
		case math.IsNaN(v):
			out[i] = prev
		case math.IsNaN(prev):
			prev = v
			out[i] = v
		default:
			prev = (1-alpha)*prev + alpha*v
			out[i] = prev
		}
	}
	return out
}

// RSISMA is RSI with simple-moving-average smoothing of gains and losses.
// When the average loss over the window is zero the value is NaN rather
// than a synthetic 100.
func RSISMA(closes []float64, n int) []float64 {
	up := make([]float64, len(closes))
	down := make([]float64, len(closes))
	for i := range closes {
		if i == 0 {
			up[i], down[i] = nan, nan
			continue
		}
		d := closes[i] - closes[i-1]
		up[i] = math.Max(d, 0)
		down[i] = math.Max(-d, 0)
	}
	avgUp := SMA(up, n)
	avgDown := SMA(down, n)
	out := make([]float64, len(closes))
	for i := range out {
		if math.IsNaN(avgUp[i]) || math.IsNaN(avgDown[i]) || avgDown[i] == 0 {
			out[i] = nan
			continue
		}
		rs := avgUp[i] / avgDown[i]
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// RSIWilder is the classic Wilder RSI.
func RSIWilder(closes []float64, n int) []float64 {
	up := make([]float64, len(closes))
	down := make([]float64, len(closes))
	for i := range closes {
		if i == 0 {
			up[i], down[i] = nan, nan
			continue
		}
		d := closes[i] - closes[i-1]
		up[i] = math.Max(d, 0)
		down[i] = math.Max(-d, 0)
	}
	avgUp := rma(up, n)
	avgDown := rma(down, n)
	out := make([]float64, len(closes))
	for i := range out {
		if math.IsNaN(avgUp[i]) || math.IsNaN(avgDown[i]) || avgDown[i] == 0 {
			out[i] = nan
			continue
		}
		rs := avgUp[i] / avgDown[i]
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// TrueRange computes the per-bar true range. The first bar has no previous
// close, so its range is high-low.
func TrueRange(bars domain.Series) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		hl := b.High - b.Low
		if i == 0 {
			out[i] = hl
			continue
		}
		pc := bars[i-1].Close
		out[i] = math.Max(hl, math.Max(math.Abs(b.High-pc), math.Abs(b.Low-pc)))
	}
	return out
}

// ATRSMA is the true range smoothed with a simple moving average.
func ATRSMA(bars domain.Series, n int) []float64 {
	return SMA(TrueRange(bars), n)
}

// ATRWilder is the true range with Wilder smoothing.
func ATRWilder(bars domain.Series, n int) []float64 {
	return rma(TrueRange(bars), n)
}

// BarRange returns high-low per bar.
func BarRange(bars domain.Series) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High - b.Low
	}
	return out
}

// BodyRatio is |close-open| / (high-low); NaN on a zero-range bar.
func BodyRatio(bars domain.Series) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		rng := b.High - b.Low
		if rng <= 0 {
			out[i] = nan
			continue
		}
		out[i] = math.Abs(b.Close-b.Open) / rng
	}
	return out
}

// Volumes extracts the volume column.
func Volumes(bars domain.Series) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

// RelVolume is volume divided by its n-bar SMA (the SMA window includes the
// current bar). NaN while the average is not warm or is zero.
func RelVolume(bars domain.Series, n int) []float64 {
	vols := Volumes(bars)
	avg := SMA(vols, n)
	out := make([]float64, len(bars))
	for i := range out {
		if math.IsNaN(avg[i]) || avg[i] == 0 {
			out[i] = nan
			continue
		}
		out[i] = vols[i] / avg[i]
	}
	return out
}

// PrevCount counts how many of the window bars strictly before bar i satisfy
// pred. The current bar is excluded.
func PrevCount(bars domain.Series, window int, pred func(domain.Bar) bool) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		if i < window {
			out[i] = nan
			continue
		}
		n := 0
		for j := i - window; j < i; j++ {
			if pred(bars[j]) {
				n++
			}
		}
		out[i] = float64(n)
	}
	return out
}

// VWAPIntraday is the volume-weighted average price accumulated from the
// start of each local calendar day in loc. NaN until the day has volume.
func VWAPIntraday(bars domain.Series, loc *time.Location) []float64 {
	out := make([]float64, len(bars))
	var cumPV, cumV float64
	var day string
	for i, b := range bars {
		d := b.Time.In(loc).Format("2006-01-02")
		if d != day {
			day = d
			cumPV, cumV = 0, 0
		}
		tp := (b.High + b.Low + b.Close) / 3
		cumPV += tp * b.Volume
		cumV += b.Volume
		if cumV == 0 {
			out[i] = nan
			continue
		}
		out[i] = cumPV / cumV
	}
	return out
}
