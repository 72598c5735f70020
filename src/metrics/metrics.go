package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the back-office collectors. All methods are safe on a nil receiver.
type Metrics struct {
	OrdersPlaced       *prometheus.CounterVec
	OrdersCanceled     *prometheus.CounterVec
	Reservations       *prometheus.CounterVec
	Compensations      *prometheus.CounterVec
	Replays            *prometheus.CounterVec
	LedgerCallDuration *prometheus.HistogramVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		OrdersPlaced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_orders_placed_total",
				Help: "Place-order requests by result.",
			},
			[]string{"result"},
		),
		OrdersCanceled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_orders_canceled_total",
				Help: "Cancel-order requests by result.",
			},
			[]string{"result"},
		),
		Reservations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_balance_reservations_total",
				Help: "Balance reservation attempts by result.",
			},
			[]string{"result"},
		),
		Compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_reservation_compensations_total",
				Help: "Reservations released after a failed or canceled order.",
			},
			[]string{"reason"},
		),
		Replays: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_replays_total",
				Help: "Reconciliation replays by kind and result.",
			},
			[]string{"kind", "result"},
		),
		LedgerCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backoffice_ledger_call_duration_seconds",
				Help:    "Ledger service call duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op", "outcome"},
		),
	}

	registry.MustRegister(
		m.OrdersPlaced,
		m.OrdersCanceled,
		m.Reservations,
		m.Compensations,
		m.Replays,
		m.LedgerCallDuration,
	)
	return m
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveLedgerCall(op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LedgerCallDuration.WithLabelValues(op, outcome).Observe(duration.Seconds())
}

func (m *Metrics) IncOrderPlaced(result string) {
	if m == nil {
		return
	}
	m.OrdersPlaced.WithLabelValues(result).Inc()
}

func (m *Metrics) IncOrderCanceled(result string) {
	if m == nil {
		return
	}
	m.OrdersCanceled.WithLabelValues(result).Inc()
}

func (m *Metrics) IncReservation(result string) {
	if m == nil {
		return
	}
	m.Reservations.WithLabelValues(result).Inc()
}

func (m *Metrics) IncCompensation(reason string) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncReplay(kind, result string) {
	if m == nil {
		return
	}
	m.Replays.WithLabelValues(kind, result).Inc()
}
