// Package metrics exposes the client's sync activity to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"onesmart/inventory/internal/domain"
)

const namespace = "onesmart"

// Sync collects sync pass outcomes on a private registry. A nil *Sync is
// valid and records nothing.
type Sync struct {
	registry *prometheus.Registry

	passes   *prometheus.CounterVec
	records  *prometheus.CounterVec
	duration prometheus.Histogram
	pending  *prometheus.GaugeVec
	online   prometheus.Gauge
}

func New() *Sync {
	registry := prometheus.NewRegistry()
	m := &Sync{
		registry: registry,
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "passes_total",
			Help:      "Sync passes by outcome.",
		}, []string{"outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Pending records pushed to the server, by collection and result.",
		}, []string{"collection", "result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of completed sync passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_records",
			Help:      "Records created offline and not yet synced.",
		}, []string{"collection"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "1 when the inventory server is reachable.",
		}),
	}
	registry.MustRegister(
		m.passes, m.records, m.duration, m.pending, m.online,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObservePass records one finished or skipped sync pass.
func (m *Sync) ObservePass(report domain.SyncReport) {
	if m == nil {
		return
	}
	switch {
	case !report.Synced:
		m.passes.WithLabelValues("skipped").Inc()
		return
	case report.ReloadError != "":
		m.passes.WithLabelValues("reload_failed").Inc()
	default:
		m.passes.WithLabelValues("completed").Inc()
	}

	results := report.Results
	counts := map[domain.Collection]int{
		domain.CollectionProducts:  results.Products,
		domain.CollectionPurchases: results.Purchases,
		domain.CollectionBills:     results.Bills,
		domain.CollectionReturns:   results.Returns,
	}
	for c, n := range counts {
		m.records.WithLabelValues(string(c), "synced").Add(float64(n))
	}
	m.records.WithLabelValues("all", "failed").Add(float64(results.Failed))
	m.duration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
}

func (m *Sync) SetPending(c domain.Collection, n int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(string(c)).Set(float64(n))
}

func (m *Sync) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.online.Set(1)
		return
	}
	m.online.Set(0)
}

func (m *Sync) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
