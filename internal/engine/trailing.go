package engine

import (
	"math"

	"solotrader/internal/domain"
)

// profitPoints is the open profit in price points, positive when favorable.
func profitPoints(dir domain.Direction, entry, live float64) float64 {
	if dir == domain.DirectionBuy {
		return live - entry
	}
	return entry - live
}

// TrailThreshold implements the R-threshold trailing ladder on a position's
// local stop:
//
//	+1R open profit  ->  stop to break-even + buffer
//	+2R open profit  ->  stop to +1R + buffer
//
// Each rung fires once (latched on the position) and the stop only ever
// tightens. It mutates pos and reports whether the stop moved and which
// rungs newly latched.
func TrailThreshold(pos *domain.PositionState, live, bufferR float64) (moved, first1R, first2R bool) {
	if pos.RPoints <= 0 {
		return false, false, false
	}
	ppts := profitPoints(pos.Direction, pos.EntryPrice, live)
	if ppts <= 0 {
		return false, false, false
	}

	buffer := bufferR * pos.RPoints
	var slBE, sl1R float64
	better := func(candidate, current float64) bool { return candidate > current }
	if pos.Direction == domain.DirectionBuy {
		slBE = pos.EntryPrice + buffer
		sl1R = pos.EntryPrice + pos.RPoints + buffer
	} else {
		slBE = pos.EntryPrice - buffer
		sl1R = pos.EntryPrice - pos.RPoints - buffer
		better = func(candidate, current float64) bool { return candidate < current }
	}

	if !pos.Trail2RDone && ppts >= 2*pos.RPoints {
		if better(sl1R, pos.Stop) {
			pos.Stop = sl1R
			moved = true
		}
		first2R = !pos.Trail2RDone
		first1R = first1R || !pos.Trail1RDone
		pos.Trail2RDone = true
		pos.Trail1RDone = true
	}

	if !pos.Trail1RDone && ppts >= pos.RPoints {
		if better(slBE, pos.Stop) {
			pos.Stop = slBE
			moved = true
		}
		first1R = true
		pos.Trail1RDone = true
	}

	return moved, first1R, first2R
}

// TrailExcursion implements the end-of-bar ATR excursion trail with a
// break-even lock: the stop follows the most favorable excursion minus one
// entry-ATR, and once price has traded beyond entry the stop never falls
// back below (above, for shorts) the entry. It mutates pos and reports
// whether the stop or lock state changed.
func TrailExcursion(pos *domain.PositionState, barHigh, barLow float64) (changed bool) {
	if pos.ATREntry <= 0 {
		return false
	}

	// Excursion trackers start at the entry price.
	if pos.MaxFav == 0 {
		pos.MaxFav = pos.EntryPrice
	}
	if pos.MinFav == 0 {
		pos.MinFav = pos.EntryPrice
	}

	prevStop, prevArmed := pos.Stop, pos.BEArmed

	if pos.Direction == domain.DirectionBuy {
		pos.MaxFav = math.Max(pos.MaxFav, barHigh)
		if barHigh > pos.EntryPrice {
			pos.BEArmed = true
		}
		pos.Stop = math.Max(pos.Stop, pos.MaxFav-pos.ATREntry)
		if pos.BEArmed {
			pos.Stop = math.Max(pos.Stop, pos.EntryPrice)
		}
	} else {
		pos.MinFav = math.Min(pos.MinFav, barLow)
		if barLow < pos.EntryPrice {
			pos.BEArmed = true
		}
		pos.Stop = math.Min(pos.Stop, pos.MinFav+pos.ATREntry)
		if pos.BEArmed {
			pos.Stop = math.Min(pos.Stop, pos.EntryPrice)
		}
	}

	return pos.Stop != prevStop || pos.BEArmed != prevArmed
}
