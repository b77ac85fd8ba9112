package engine

import "math"

// SizeParams are the inputs to fixed-fractional position sizing.
type SizeParams struct {
	Equity        float64
	RiskPct       float64
	RPoints       float64
	ValuePerPoint float64
	MinSize       float64
	MaxSize       float64 // 0 disables the cap
}

// PositionSize computes floor(equity * riskPct / (rPoints * valuePerPoint)),
// clamped to [MinSize, MaxSize]. Any non-finite or non-positive input fails
// closed to MinSize so a bad tick can never produce an oversized order.
func PositionSize(p SizeParams) float64 {
	minSize := p.MinSize
	if !isFinite(minSize) || minSize < 0 {
		minSize = 1
	}

	equity := finiteOrZero(p.Equity)
	riskPct := math.Min(1, math.Max(0, finiteOrZero(p.RiskPct)))
	rPoints := finiteOrZero(p.RPoints)
	vpp := finiteOrZero(p.ValuePerPoint)

	if equity <= 0 || riskPct <= 0 || rPoints <= 0 || vpp <= 0 {
		return minSize
	}

	raw := equity * riskPct / (rPoints * vpp)
	if !isFinite(raw) || raw <= 0 {
		return minSize
	}

	size := math.Max(minSize, math.Floor(raw))
	if p.MaxSize > 0 && size > p.MaxSize {
		size = math.Max(minSize, p.MaxSize)
	}
	return size
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func finiteOrZero(x float64) float64 {
	if !isFinite(x) {
		return 0
	}
	return x
}
