// Package metrics exposes the bot's Prometheus metrics.
//
// Primary series:
//   - solotrader_iterations_total                 – control loop passes
//   - solotrader_orders_total{direction}          – market orders submitted
//   - solotrader_exits_total{reason}              – position exits by reason
//   - solotrader_consec_losses                    – circuit-breaker loss streak (gauge)
//   - solotrader_open_position                    – 1 while a position is open (gauge)
//   - solotrader_equity                           – last known account equity (gauge)
//   - solotrader_watchdog_alerts_total            – loop stall alerts
//   - solotrader_broker_errors_total{op}          – failed broker calls by operation
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors so tests can use private registries.
type Metrics struct {
	Iterations     prometheus.Counter
	Orders         *prometheus.CounterVec
	Exits          *prometheus.CounterVec
	ConsecLosses   prometheus.Gauge
	OpenPosition   prometheus.Gauge
	Equity         prometheus.Gauge
	WatchdogAlerts prometheus.Counter
	BrokerErrors   *prometheus.CounterVec
}

// New creates and registers the collectors on reg. Pass
// prometheus.DefaultRegisterer in the binary and a fresh
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solotrader_iterations_total",
			Help: "Control loop passes",
		}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solotrader_orders_total",
			Help: "Market orders submitted",
		}, []string{"direction"}),
		Exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solotrader_exits_total",
			Help: "Position exits by reason",
		}, []string{"reason"}),
		ConsecLosses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solotrader_consec_losses",
			Help: "Current consecutive-loss streak",
		}),
		OpenPosition: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solotrader_open_position",
			Help: "1 while a position is open",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solotrader_equity",
			Help: "Last known account equity",
		}),
		WatchdogAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solotrader_watchdog_alerts_total",
			Help: "Loop stall alerts",
		}),
		BrokerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solotrader_broker_errors_total",
			Help: "Failed broker calls by operation",
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.Iterations, m.Orders, m.Exits,
		m.ConsecLosses, m.OpenPosition, m.Equity,
		m.WatchdogAlerts, m.BrokerErrors,
	)
	return m
}
