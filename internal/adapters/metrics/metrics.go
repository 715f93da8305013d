package metrics

import (
	"net/http"
	"time"

	"execEngine/internal/domain"
	"execEngine/internal/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ ports.ExecutionMetrics = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for the execution engine.
type Metrics struct {
	registry *prometheus.Registry

	OrdersSubmitted *prometheus.CounterVec // labels: symbol, side, type
	OrdersFilled    *prometheus.CounterVec // labels: symbol, side
	OrdersCanceled  *prometheus.CounterVec // labels: symbol
	OrdersRejected  *prometheus.CounterVec // labels: symbol
	FillLatency     prometheus.Histogram

	PositionQuantity *prometheus.GaugeVec // labels: symbol
	RealizedPnL      *prometheus.GaugeVec // labels: symbol
}

// NewMetrics registers and returns all Prometheus metrics on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exec_orders_submitted_total",
			Help: "Orders accepted as pending",
		}, []string{"symbol", "side", "type"}),
		OrdersFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exec_orders_filled_total",
			Help: "Orders filled by the simulator",
		}, []string{"symbol", "side"}),
		OrdersCanceled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exec_orders_canceled_total",
			Help: "Orders canceled before filling",
		}, []string{"symbol"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exec_orders_rejected_total",
			Help: "Orders rejected by pre-trade limits",
		}, []string{"symbol"}),
		FillLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exec_fill_latency_seconds",
			Help:    "Time from submission to fill",
			Buckets: []float64{0.1, 0.5, 1, 2, 2.5, 3, 5, 10},
		}),

		PositionQuantity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "exec_position_quantity",
			Help: "Signed open quantity per symbol",
		}, []string{"symbol"}),
		RealizedPnL: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "exec_position_realized_pnl",
			Help: "Cumulative realized P/L per symbol",
		}, []string{"symbol"}),
	}

	m.registry.MustRegister(
		m.OrdersSubmitted,
		m.OrdersFilled,
		m.OrdersCanceled,
		m.OrdersRejected,
		m.FillLatency,
		m.PositionQuantity,
		m.RealizedPnL,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderSubmitted(order *domain.Order) {
	m.OrdersSubmitted.WithLabelValues(order.Symbol, string(order.Side), string(order.Type)).Inc()
}

func (m *Metrics) OrderFilled(order *domain.Order, sinceSubmit time.Duration) {
	m.OrdersFilled.WithLabelValues(order.Symbol, string(order.Side)).Inc()
	m.FillLatency.Observe(sinceSubmit.Seconds())
}

func (m *Metrics) OrderCanceled(order *domain.Order) {
	m.OrdersCanceled.WithLabelValues(order.Symbol).Inc()
}

func (m *Metrics) OrderRejected(order *domain.Order) {
	m.OrdersRejected.WithLabelValues(order.Symbol).Inc()
}

// PositionUpdated mirrors the position into gauges. Float conversion is display only.
func (m *Metrics) PositionUpdated(pos *domain.Position) {
	qty, _ := pos.Quantity.Float64()
	pnl, _ := pos.RealizedPnL.Float64()
	m.PositionQuantity.WithLabelValues(pos.Symbol).Set(qty)
	m.RealizedPnL.WithLabelValues(pos.Symbol).Set(pnl)
}
