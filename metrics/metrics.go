// Package metrics exposes engine counters in Prometheus text format.
// Served at /metrics by the run command.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_signals_total",
			Help: "Trade signals by outcome (accepted|rejected|failed)",
		},
		[]string{"outcome"},
	)

	Exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_exits_total",
			Help: "Position exits by reason",
		},
		[]string{"reason"},
	)

	Errors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trader_errors_total",
			Help: "External call failures recorded against the circuit breaker",
		},
	)

	CommittedCapital = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_committed_capital",
			Help: "Capital currently committed to open positions",
		},
	)

	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_open_positions",
			Help: "Number of positions currently open",
		},
	)

	BreakerHalted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_breaker_halted",
			Help: "1 when the circuit breaker refuses new trades",
		},
	)

	RealizedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_realized_pnl",
			Help: "Cumulative realized profit and loss",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Signals,
		Exits,
		Errors,
		CommittedCapital,
		OpenPositions,
		BreakerHalted,
		RealizedPnL,
	)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
