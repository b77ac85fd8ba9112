package domain

import (
	"sort"
	"time"
)

// Bar is one OHLCV candle. Time is the UTC open time of the candle. The last
// bar of a fetched series is always the currently forming (unclosed) one.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Valid reports whether the bar's OHLC values are internally consistent:
// high >= low with a non-negative range, and open/close inside [low, high].
func (b Bar) Valid() bool {
	if b.High < b.Low {
		return false
	}
	if b.Open < b.Low || b.Open > b.High {
		return false
	}
	if b.Close < b.Low || b.Close > b.High {
		return false
	}
	return !b.Time.IsZero()
}

// Series is an ordered, append-only sequence of bars. All trading decisions
// read the last *closed* bar; the final element is still forming.
type Series []Bar

// LastClosed returns the most recent closed bar (the second-to-last element).
func (s Series) LastClosed() (Bar, bool) {
	if len(s) < 2 {
		return Bar{}, false
	}
	return s[len(s)-2], true
}

// Forming returns the currently forming bar (the last element).
func (s Series) Forming() (Bar, bool) {
	if len(s) == 0 {
		return Bar{}, false
	}
	return s[len(s)-1], true
}

// Closes returns the close column.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// NormalizeSeries sanitises raw broker bars into a usable Series: timestamps
// are forced to UTC, bars with broken OHLC are dropped, duplicates by
// timestamp keep the last occurrence, and the result is sorted by time.
func NormalizeSeries(bars []Bar) Series {
	byTime := make(map[int64]Bar, len(bars))
	for _, b := range bars {
		b.Time = b.Time.UTC()
		if !b.Valid() {
			continue
		}
		byTime[b.Time.UnixNano()] = b
	}

	out := make(Series, 0, len(byTime))
	for _, b := range byTime {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
