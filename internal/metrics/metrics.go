// Package metrics exposes the bot's Prometheus instrumentation. Collectors
// are registered in init() and served by the HTTP handler started from
// cmd/bot at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders placed",
		},
		[]string{"symbol", "side"},
	)

	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_signals_total",
			Help: "Strategy signals by action",
		},
		[]string{"symbol", "action"},
	)

	StreamReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_stream_reconnects_total",
			Help: "Stream supervision restarts after failure",
		},
		[]string{"symbol", "stream"},
	)

	DriftCorrections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_drift_corrections_total",
			Help: "Reconciliation overwrites of local portfolio state",
		},
		[]string{"symbol"},
	)

	ReconcileFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_reconcile_failures_total",
			Help: "Reconciliation cycles that failed and will retry",
		},
		[]string{"symbol", "stage"}, // stage: fetch|persist
	)

	Equity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_equity_quote",
			Help: "Equity valued in quote currency",
		},
		[]string{"symbol"},
	)

	Position = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_position_base",
			Help: "Open position in base currency",
		},
		[]string{"symbol"},
	)

	OpenLevels = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_open_levels",
			Help: "Filled martingale levels since last flat",
		},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(
		Orders,
		Signals,
		StreamReconnects,
		DriftCorrections,
		ReconcileFailures,
		Equity,
		Position,
		OpenLevels,
	)
}

// Handler returns the Prometheus text exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
