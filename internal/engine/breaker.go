package engine

import (
	"time"

	"solotrader/internal/domain"
)

// applyBreaker updates the circuit-breaker streak in st after a closed trade.
// A losing trade extends the streak; anything else resets it. When the streak
// reaches losses, a cooldown until now+cooldown is armed and tripped is true.
// With losses <= 0 the breaker is disabled.
func applyBreaker(st *domain.EngineState, profitCash float64, losses int, cooldown time.Duration, now time.Time) (tripped bool) {
	if profitCash < 0 {
		st.ConsecLosses++
	} else {
		st.ConsecLosses = 0
	}

	if losses > 0 && st.ConsecLosses >= losses {
		until := now.Add(cooldown)
		st.CooldownUntil = &until
		return true
	}
	return false
}
