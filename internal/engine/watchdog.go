package engine

import (
	"context"
	"sync"
	"time"
)

// Watchdog alerts when the control loop stops ticking. One alert fires per
// stall episode; the next Tick re-arms it.
type Watchdog struct {
	timeout    time.Duration
	checkEvery time.Duration
	onAlert    func(elapsed time.Duration)

	mu      sync.Mutex
	last    time.Time
	alerted bool
}

// NewWatchdog creates a Watchdog that calls onAlert when no Tick arrived for
// timeout. Timeouts under a minute are raised to a minute so a slow broker
// call cannot page anyone.
func NewWatchdog(timeout time.Duration, onAlert func(elapsed time.Duration)) *Watchdog {
	if timeout < time.Minute {
		timeout = time.Minute
	}
	return &Watchdog{
		timeout:    timeout,
		checkEvery: 30 * time.Second,
		onAlert:    onAlert,
		last:       time.Now(),
	}
}

// Tick marks the loop alive and re-arms the alert.
func (w *Watchdog) Tick() {
	w.mu.Lock()
	w.last = time.Now()
	w.alerted = false
	w.mu.Unlock()
}

// Healthy reports whether the loop ticked within the timeout. The status
// endpoint uses it.
func (w *Watchdog) Healthy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Since(w.last) <= w.timeout
}

// Start runs the check loop in a goroutine until ctx is cancelled.
func (w *Watchdog) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.checkEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.check()
			}
		}
	}()
}

func (w *Watchdog) check() {
	w.mu.Lock()
	elapsed := time.Since(w.last)
	stalled := elapsed > w.timeout && !w.alerted
	if stalled {
		w.alerted = true
	}
	w.mu.Unlock()

	if stalled && w.onAlert != nil {
		w.onAlert(elapsed)
	}
}
