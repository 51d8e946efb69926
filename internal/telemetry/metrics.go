// Package telemetry exposes Prometheus metrics for trading activity and
// active session count, grounded on the teacher's metrics.go (global
// CounterVec/GaugeVec variables registered in init() and served at
// /metrics). Here the vars are fields on a struct instead, each bound to
// its own prometheus.Registry rather than the global default one, so a
// test can spin up as many independent Metrics instances as it needs
// without hitting prometheus's "duplicate metrics collector registration"
// panic.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/curvepost/engine/internal/engine"
)

// Metrics implements engine.Recorder with Prometheus counters and gauges,
// and separately tracks gauges the session layer updates directly
// (active_sessions, post_supply, post_price).
type Metrics struct {
	registry *prometheus.Registry

	tradesTotal       *prometheus.CounterVec
	liquidationsTotal prometheus.Counter
	tradeErrorsTotal  *prometheus.CounterVec
	activeSessions    prometheus.Gauge
	postSupply        *prometheus.GaugeVec
	postPrice         *prometheus.GaugeVec
}

// New creates a Metrics instance registered against its own
// prometheus.Registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tradesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curvepost_trades_total",
				Help: "Trades committed, by side.",
			},
			[]string{"side"},
		),
		liquidationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "curvepost_liquidations_total",
				Help: "Users forced out of a position by a cascading liquidation.",
			},
		),
		tradeErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curvepost_trade_errors_total",
				Help: "Rejected trade/post requests, by error kind.",
			},
			[]string{"kind"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "curvepost_active_sessions",
				Help: "Currently connected WebSocket sessions.",
			},
		),
		postSupply: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "curvepost_post_supply",
				Help: "Current bonding-curve supply, by post id.",
			},
			[]string{"post_id"},
		),
		postPrice: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "curvepost_post_price",
				Help: "Current bonding-curve price, by post id.",
			},
			[]string{"post_id"},
		),
	}
	m.registry.MustRegister(
		m.tradesTotal,
		m.liquidationsTotal,
		m.tradeErrorsTotal,
		m.activeSessions,
		m.postSupply,
		m.postPrice,
	)
	return m
}

// ObserveTrade implements engine.Recorder.
func (m *Metrics) ObserveTrade(side string) {
	m.tradesTotal.WithLabelValues(side).Inc()
}

// ObserveLiquidation implements engine.Recorder.
func (m *Metrics) ObserveLiquidation() {
	m.liquidationsTotal.Inc()
}

// ObserveTradeError implements engine.Recorder.
func (m *Metrics) ObserveTradeError(kind engine.Kind) {
	m.tradeErrorsTotal.WithLabelValues(string(kind)).Inc()
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() { m.activeSessions.Inc() }

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() { m.activeSessions.Dec() }

// ObserveMarket records a post's current supply and price, called after
// every committed trade and post creation.
func (m *Metrics) ObserveMarket(postID string, supply, price float64) {
	m.postSupply.WithLabelValues(postID).Set(supply)
	m.postPrice.WithLabelValues(postID).Set(price)
}

// Handler returns the /metrics HTTP handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
