// Package metrics exposes Prometheus metrics for the perp engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks engine activity for Prometheus scraping.
type Metrics struct {
	registry *prometheus.Registry

	positionsOpened prometheus.Counter
	positionsClosed prometheus.Counter
	liquidations    prometheus.Counter
	feesCollected   prometheus.Counter
	settlementsPaid prometheus.Counter

	openPositions prometheus.Gauge
	notional      *prometheus.GaugeVec
	oraclePrice   prometheus.Gauge
}

// New creates a self-contained registry with all engine metrics.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		positionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_opened_total",
			Help:      "Total number of positions opened",
		}),
		positionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_closed_total",
			Help:      "Total number of positions closed by their trader",
		}),
		liquidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidations_total",
			Help:      "Total number of forced position closures",
		}),
		feesCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fees_collected_total",
			Help:      "Total imbalance fees withheld, in smallest units",
		}),
		settlementsPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_paid_total",
			Help:      "Total settlement value paid out, in smallest units",
		}),

		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Number of currently open positions",
		}),
		notional: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notional",
			Help:      "Aggregate open notional by side, in smallest units",
		}, []string{"side"}),
		oraclePrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "oracle_price",
			Help:      "Latest oracle price observed by the host",
		}),
	}

	registry.MustRegister(
		m.positionsOpened,
		m.positionsClosed,
		m.liquidations,
		m.feesCollected,
		m.settlementsPaid,
		m.openPositions,
		m.notional,
		m.oraclePrice,
	)
	return m
}

// Handler serves the registry over HTTP for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordOpen(fee float64) {
	m.positionsOpened.Inc()
	m.feesCollected.Add(fee)
}

func (m *Metrics) RecordClose(settlement float64) {
	m.positionsClosed.Inc()
	m.settlementsPaid.Add(settlement)
}

func (m *Metrics) RecordLiquidation(reward float64) {
	m.liquidations.Inc()
	m.settlementsPaid.Add(reward)
}

func (m *Metrics) SetOpenPositions(n float64) { m.openPositions.Set(n) }

func (m *Metrics) SetNotional(long, short float64) {
	m.notional.WithLabelValues("long").Set(long)
	m.notional.WithLabelValues("short").Set(short)
}

func (m *Metrics) SetOraclePrice(price float64) { m.oraclePrice.Set(price) }
