package live

import (
	"github.com/prometheus/client_golang/prometheus"

	"pyramid-trading-bot/internal/pyramid"
	"pyramid-trading-bot/internal/risk"
	"pyramid-trading-bot/internal/signal"
)

// Metrics are the engine's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	events         *prometheus.CounterVec
	decisions      *prometheus.CounterVec
	blocked        *prometheus.CounterVec
	execFailures   *prometheus.CounterVec
	closedTrades   *prometheus.CounterVec
	realisedPnL    *prometheus.GaugeVec
	openLevels     *prometheus.GaugeVec
	capital        prometheus.Gauge
	lockedMargin   prometheus.Gauge
	confluenceHist *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg
func NewMetrics(reg prometheus.Registerer, engineID string) *Metrics {
	labels := prometheus.Labels{"engine_id": engineID}
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "pyramid_swing_events_total",
			Help:        "Swing events evaluated by the live engine.",
			ConstLabels: labels,
		}, []string{"symbol"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "pyramid_decisions_applied_total",
			Help:        "Executed and applied decisions by action.",
			ConstLabels: labels,
		}, []string{"symbol", "action"}),
		blocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "pyramid_decisions_blocked_total",
			Help:        "Decisions dropped before execution.",
			ConstLabels: labels,
		}, []string{"symbol", "reason"}),
		execFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "pyramid_execution_failures_total",
			Help:        "Decisions the executor rejected.",
			ConstLabels: labels,
		}, []string{"symbol", "action"}),
		closedTrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "pyramid_closed_trades_total",
			Help:        "Closed positions by exit reason.",
			ConstLabels: labels,
		}, []string{"symbol", "exit_reason"}),
		realisedPnL: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "pyramid_realised_pnl",
			Help:        "Net pnl of closed positions since start.",
			ConstLabels: labels,
		}, []string{"symbol"}),
		openLevels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "pyramid_open_levels",
			Help:        "Levels in the open position, 0 when flat.",
			ConstLabels: labels,
		}, []string{"symbol"}),
		capital: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "pyramid_capital",
			Help:        "Ledger capital.",
			ConstLabels: labels,
		}),
		lockedMargin: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "pyramid_locked_margin",
			Help:        "Margin held by open positions.",
			ConstLabels: labels,
		}),
		confluenceHist: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "pyramid_confluence_score",
			Help:        "Confluence score of evaluated swing events.",
			ConstLabels: labels,
			Buckets:     prometheus.LinearBuckets(0, 5, 12),
		}, []string{"symbol"}),
	}
	reg.MustRegister(m.events, m.decisions, m.blocked, m.execFailures, m.closedTrades,
		m.realisedPnL, m.openLevels, m.capital, m.lockedMargin, m.confluenceHist)
	return m
}

func (m *Metrics) observeEvent(symbol string, score int) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(symbol).Inc()
	m.confluenceHist.WithLabelValues(symbol).Observe(float64(score))
}

func (m *Metrics) observeApplied(d signal.Decision, levels int) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(d.Symbol, string(d.Action)).Inc()
	m.openLevels.WithLabelValues(d.Symbol).Set(float64(levels))
}

func (m *Metrics) observeBlocked(symbol, reason string) {
	if m == nil || reason == "" {
		return
	}
	m.blocked.WithLabelValues(symbol, reason).Inc()
}

func (m *Metrics) observeFailure(d signal.Decision) {
	if m == nil {
		return
	}
	m.execFailures.WithLabelValues(d.Symbol, string(d.Action)).Inc()
}

func (m *Metrics) observeClose(t *pyramid.ClosedTrade) {
	if m == nil {
		return
	}
	m.closedTrades.WithLabelValues(t.Symbol, string(t.ExitReason)).Inc()
	m.realisedPnL.WithLabelValues(t.Symbol).Add(t.PnL)
}

func (m *Metrics) observeLedger(st risk.LedgerState) {
	if m == nil {
		return
	}
	m.capital.Set(st.Capital)
	m.lockedMargin.Set(st.LockedMargin)
}
