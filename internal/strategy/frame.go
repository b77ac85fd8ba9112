package strategy

import (
	"math"

	"solotrader/internal/domain"
)

// Frame is a bar series plus the indicator columns a strategy computed over
// it. Columns are aligned 1:1 with the bars; warmup slots hold NaN.
type Frame struct {
	Bars domain.Series
	cols map[string][]float64
}

// NewFrame wraps a series with no columns yet.
func NewFrame(bars domain.Series) *Frame {
	return &Frame{Bars: bars, cols: make(map[string][]float64)}
}

// Set stores a column. The slice must be the same length as the bars.
func (f *Frame) Set(name string, vals []float64) {
	f.cols[name] = vals
}

// Col returns a column, or nil when it was never set.
func (f *Frame) Col(name string) []float64 {
	return f.cols[name]
}

// At returns the column value at index i. ok is false when the column is
// missing, i is out of range, or the value is NaN/Inf (indicator not warm).
func (f *Frame) At(name string, i int) (v float64, ok bool) {
	col := f.cols[name]
	if col == nil || i < 0 || i >= len(col) {
		return 0, false
	}
	v = col[i]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// SignalIndex is the index of the last closed bar (the last element is the
// forming bar). Negative when the series is too short.
func (f *Frame) SignalIndex() int {
	return len(f.Bars) - 2
}
