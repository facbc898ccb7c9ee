// Package metrics содержит коллекторы Prometheus сервиса. Nil *Metrics
// допустим и ничего не пишет.
package metrics

import (
	"time"

	"glamstore/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	syncRuns        *prometheus.CounterVec
	syncDuration    prometheus.Histogram
	catalogProducts prometheus.Gauge
	searches        *prometheus.CounterVec
	checkouts       *prometheus.CounterVec
	inbound         *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		syncRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glamstore_catalog_sync_runs_total",
				Help: "Catalog sync runs by result",
			},
			[]string{"result"},
		),
		syncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "glamstore_catalog_sync_duration_seconds",
				Help:    "Duration of catalog sync runs",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		catalogProducts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "glamstore_catalog_products",
				Help: "Products in the published snapshot",
			},
		),
		searches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glamstore_search_requests_total",
				Help: "Search requests by result kind",
			},
			[]string{"kind"},
		),
		checkouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glamstore_checkouts_total",
				Help: "Checkout attempts by result",
			},
			[]string{"result"},
		),
		inbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glamstore_inbound_messages_total",
				Help: "Inbound messages by outcome",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(
		m.syncRuns,
		m.syncDuration,
		m.catalogProducts,
		m.searches,
		m.checkouts,
		m.inbound,
	)

	return m
}

func (m *Metrics) SyncFinished(err error, took time.Duration) {
	if m == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}

	m.syncRuns.WithLabelValues(result).Inc()
	m.syncDuration.Observe(took.Seconds())
}

func (m *Metrics) SnapshotPublished(count int) {
	if m == nil {
		return
	}
	m.catalogProducts.Set(float64(count))
}

func (m *Metrics) SearchServed(kind models.SearchKind) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) CheckoutFinished(err error) {
	if m == nil {
		return
	}

	result := "created"
	if err != nil {
		result = "failed"
	}
	m.checkouts.WithLabelValues(result).Inc()
}

func (m *Metrics) InboundHandled(outcome string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(outcome).Inc()
}
