// Package metrics exposes Prometheus collectors for the trading loops.
// One registry serves the whole process; tenant is a label.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Metrics bundles the process collectors. A nil *Metrics is a valid
// no-op receiver so paper tests can skip the registry.
type Metrics struct {
	registry *prometheus.Registry

	Scans         *prometheus.CounterVec
	ScanDuration  *prometheus.HistogramVec
	Orders        *prometheus.CounterVec
	Trades        *prometheus.CounterVec
	OpenPositions *prometheus.GaugeVec
	DailyPnl      *prometheus.GaugeVec
	Balance       *prometheus.GaugeVec
}

// New builds the registry and collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Scans: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_scans_total",
			Help: "Completed scan cycles.",
		}, []string{"tenant"}),
		ScanDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bot_scan_duration_seconds",
			Help:    "Wall time of one full scan cycle.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"tenant"}),
		Orders: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders placed, by side and outcome.",
		}, []string{"tenant", "side", "outcome"}),
		Trades: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_trades_total",
			Help: "Journal rows written, by action.",
		}, []string{"tenant", "action"}),
		OpenPositions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Currently open positions.",
		}, []string{"tenant"}),
		DailyPnl: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bot_daily_pnl_krw",
			Help: "Realized P&L for the current day.",
		}, []string{"tenant"}),
		Balance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bot_balance_krw",
			Help: "Total account value.",
		}, []string{"tenant"}),
	}
}

// Handler serves the registry for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ScanDone records one finished scan.
func (m *Metrics) ScanDone(tenant string, seconds float64) {
	if m == nil {
		return
	}
	m.Scans.WithLabelValues(tenant).Inc()
	m.ScanDuration.WithLabelValues(tenant).Observe(seconds)
}

// OrderResult records an order attempt.
func (m *Metrics) OrderResult(tenant, side, outcome string) {
	if m == nil {
		return
	}
	m.Orders.WithLabelValues(tenant, side, outcome).Inc()
}

// TradeRecorded counts a journal row.
func (m *Metrics) TradeRecorded(tenant, action string) {
	if m == nil {
		return
	}
	m.Trades.WithLabelValues(tenant, action).Inc()
}

// SetGauges refreshes the per-tenant gauges after a scan.
func (m *Metrics) SetGauges(tenant string, open int, dailyPnl, balance float64) {
	if m == nil {
		return
	}
	m.OpenPositions.WithLabelValues(tenant).Set(float64(open))
	m.DailyPnl.WithLabelValues(tenant).Set(dailyPnl)
	m.Balance.WithLabelValues(tenant).Set(balance)
}
