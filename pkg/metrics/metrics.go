// Package metrics exposes bridge counters to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "twsbridge"

// Metrics owns its registry so several clients can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	events          *prometheus.CounterVec
	ordersSubmitted *prometheus.CounterVec
	waitOutcomes    *prometheus.CounterVec
	waitDuration    *prometheus.HistogramVec
	transportErrors *prometheus.CounterVec
	tradeLogSize    prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Gateway events handled, by kind",
			},
			[]string{"kind"},
		),
		ordersSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_submitted_total",
				Help:      "Orders sent to the gateway, by composition",
			},
			[]string{"composition"},
		),
		waitOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wait_outcomes_total",
				Help:      "Bounded waits on gateway events, by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		waitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "wait_duration_seconds",
				Help:      "Time spent waiting on gateway events",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		transportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_errors_total",
				Help:      "Gateway error events, by code",
			},
			[]string{"code"},
		),
		tradeLogSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "trade_log_ticks",
				Help:      "Trade ticks currently held in the trade log",
			},
		),
	}

	m.Registry.MustRegister(
		m.events,
		m.ordersSubmitted,
		m.waitOutcomes,
		m.waitDuration,
		m.transportErrors,
		m.tradeLogSize,
	)
	return m
}

func (m *Metrics) Event(kind string) {
	m.events.WithLabelValues(kind).Inc()
}

func (m *Metrics) OrderSubmitted(bracket bool) {
	composition := "single"
	if bracket {
		composition = "bracket"
	}
	m.ordersSubmitted.WithLabelValues(composition).Inc()
}

func (m *Metrics) Wait(op, outcome string, took time.Duration) {
	m.waitOutcomes.WithLabelValues(op, outcome).Inc()
	m.waitDuration.WithLabelValues(op).Observe(took.Seconds())
}

func (m *Metrics) TransportError(code int) {
	m.transportErrors.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) TradeLogSize(n int) {
	m.tradeLogSize.Set(float64(n))
}
