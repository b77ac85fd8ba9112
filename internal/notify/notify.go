// Package notify fans trading events out to operators. Notification failures
// are logged and swallowed; they never interrupt the trading loop.
package notify

import (
	"log/slog"
)

// Event kinds emitted by the engine.
const (
	EventStartup        = "STARTUP"
	EventTradeOpen      = "TRADE_OPEN"
	EventTrailStop      = "TRAIL_SL"
	EventTrail1R        = "TRAIL_1R"
	EventTrail2R        = "TRAIL_2R"
	EventFillTimeout    = "FILL_TIMEOUT"
	EventCircuitBreaker = "CIRCUIT_BREAKER"
	EventWatchdogAlert  = "WATCHDOG_ALERT"
	EventHeartbeat      = "HEARTBEAT"
	EventDailySummary   = "DAILY_SUMMARY"
)

// Notifier delivers one event with structured fields.
type Notifier interface {
	Event(kind string, fields map[string]any)
}

// Compile-time interface checks.
var _ Notifier = (*LogNotifier)(nil)
var _ Notifier = (Multi)(nil)

// LogNotifier writes events to the structured log. It is always part of the
// fan-out so every event is at least on disk.
type LogNotifier struct {
	Log *slog.Logger
}

// NewLogNotifier creates a LogNotifier on the given logger, defaulting to
// slog.Default().
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{Log: log}
}

// Event logs the event at info level.
func (n *LogNotifier) Event(kind string, fields map[string]any) {
	attrs := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	n.Log.With("event", kind).Info("notify", attrs...)
}

// Multi fans one event out to several notifiers.
type Multi []Notifier

// Event delivers the event to every notifier in order.
func (m Multi) Event(kind string, fields map[string]any) {
	for _, n := range m {
		if n != nil {
			n.Event(kind, fields)
		}
	}
}
