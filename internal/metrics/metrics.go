package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds every collector the bot exports. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	ordersAttempted   *prometheus.CounterVec
	ordersPlaced      *prometheus.CounterVec
	ordersFailed      *prometheus.CounterVec
	orderRetries      *prometheus.CounterVec
	partialProtection prometheus.Counter
	cycles            *prometheus.CounterVec
	cycleDuration     prometheus.Histogram
	riskRejections    *prometheus.CounterVec
	tradesClosed      *prometheus.CounterVec
	openTrades        prometheus.Gauge
	exposure          prometheus.Gauge
	realizedPnL       prometheus.Gauge
	consecutiveLosses prometheus.Gauge
	dailyTrades       prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		ordersAttempted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gtrader_orders_attempted_total", Help: "Order submissions including retries",
		}, []string{"kind"}),
		ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gtrader_orders_placed_total", Help: "Orders accepted by the exchange",
		}, []string{"kind"}),
		ordersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gtrader_orders_failed_total", Help: "Orders that failed after retries or validation",
		}, []string{"kind", "class"}),
		orderRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gtrader_order_retries_total", Help: "Retries after transient exchange errors",
		}, []string{"kind"}),
		partialProtection: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gtrader_partial_protection_total", Help: "Filled entries left with a missing exit order",
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gtrader_cycles_total", Help: "Trading cycles by outcome",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gtrader_cycle_duration_seconds",
			Help:    "Wall time of one trading cycle",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		riskRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gtrader_risk_rejections_total", Help: "Cycles stopped at the risk check",
		}, []string{"reason"}),
		tradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gtrader_trades_closed_total", Help: "Resolved trades by final status",
		}, []string{"status"}),
		openTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gtrader_open_trades", Help: "Trades currently open",
		}),
		exposure: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gtrader_exposure_usd", Help: "Notional value of open trades",
		}),
		realizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gtrader_realized_pnl_usd", Help: "Realized PnL of resolved trades since start",
		}),
		consecutiveLosses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gtrader_consecutive_losses", Help: "Current loss streak",
		}),
		dailyTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gtrader_daily_trades", Help: "Resolved trades counted today",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ordersAttempted,
		m.ordersPlaced,
		m.ordersFailed,
		m.orderRetries,
		m.partialProtection,
		m.cycles,
		m.cycleDuration,
		m.riskRejections,
		m.tradesClosed,
		m.openTrades,
		m.exposure,
		m.realizedPnL,
		m.consecutiveLosses,
		m.dailyTrades,
	)
	return m
}

func (m *Metrics) OrderAttempt(kind string) {
	if m == nil {
		return
	}
	m.ordersAttempted.WithLabelValues(kind).Inc()
}

func (m *Metrics) OrderPlaced(kind string) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(kind).Inc()
}

// OrderFailed labels failures by class: validation, permanent or exhausted.
func (m *Metrics) OrderFailed(kind, class string) {
	if m == nil {
		return
	}
	m.ordersFailed.WithLabelValues(kind, class).Inc()
}

func (m *Metrics) OrderRetry(kind string) {
	if m == nil {
		return
	}
	m.orderRetries.WithLabelValues(kind).Inc()
}

func (m *Metrics) PartialProtection() {
	if m == nil {
		return
	}
	m.partialProtection.Inc()
}

func (m *Metrics) Cycle(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(took.Seconds())
}

func (m *Metrics) RiskRejected(reason string) {
	if m == nil {
		return
	}
	m.riskRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) TradeClosed(status string) {
	if m == nil {
		return
	}
	m.tradesClosed.WithLabelValues(status).Inc()
}

func (m *Metrics) SetPortfolio(open int, exposure, realized float64) {
	if m == nil {
		return
	}
	m.openTrades.Set(float64(open))
	m.exposure.Set(exposure)
	m.realizedPnL.Set(realized)
}

func (m *Metrics) SetRiskState(tradeCount, consecutiveLosses int) {
	if m == nil {
		return
	}
	m.dailyTrades.Set(float64(tradeCount))
	m.consecutiveLosses.Set(float64(consecutiveLosses))
}
