package engine

import (
	"testing"
	"time"
)

func TestWatchdogAlertsOncePerStall(t *testing.T) {
	alerts := 0
	w := &Watchdog{
		timeout: 10 * time.Millisecond,
		onAlert: func(time.Duration) { alerts++ },
		last:    time.Now().Add(-time.Second),
	}

	w.check()
	w.check()
	w.check()
	if alerts != 1 {
		t.Fatalf("alerts = %d, want one per stall episode", alerts)
	}
}

func TestWatchdogTickRearms(t *testing.T) {
	alerts := 0
	w := &Watchdog{
		timeout: 10 * time.Millisecond,
		onAlert: func(time.Duration) { alerts++ },
		last:    time.Now().Add(-time.Second),
	}

	w.check()
	w.Tick()
	if !w.Healthy() {
		t.Fatal("fresh tick should report healthy")
	}
	w.check()
	if alerts != 1 {
		t.Fatalf("alerts = %d, healthy loop must not re-alert", alerts)
	}

	// A second stall after the tick alerts again.
	w.mu.Lock()
	w.last = time.Now().Add(-time.Second)
	w.mu.Unlock()
	w.check()
	if alerts != 2 {
		t.Fatalf("alerts = %d, want a new alert for the new stall", alerts)
	}
}

func TestWatchdogMinimumTimeout(t *testing.T) {
	w := NewWatchdog(time.Second, nil)
	if w.timeout != time.Minute {
		t.Fatalf("timeout = %v, want floor of one minute", w.timeout)
	}
}
