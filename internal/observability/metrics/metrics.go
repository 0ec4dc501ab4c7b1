// Package metrics exposes the pipeline's Prometheus collectors. All methods
// are nil-safe so components can run without a registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bsewatch"

type Metrics struct {
	reg *prometheus.Registry

	runs          *prometheus.CounterVec
	subscribers   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	sends         *prometheus.CounterVec
}

// New registers every collector on a private registry together with the
// process and Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	m := &Metrics{
		reg: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "batch_runs_total",
			Help: "Batch invocations by job and result.",
		}, []string{"job", "result"}),
		subscribers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "batch_subscribers_total",
			Help: "Subscriber outcomes per batch (processed, skipped, failed).",
		}, []string{"job", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_sent_total",
			Help: "Notification units delivered, by job.",
		}, []string{"job"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "batch_duration_seconds",
			Help:    "Wall time of a batch invocation.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"job"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "quote_cache_lookups_total",
			Help: "Quote cache lookups by result (hit, miss).",
		}, []string{"result"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "upstream_fetch_errors_total",
			Help: "Failed upstream fetches by source.",
		}, []string{"source"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dispatch_sends_total",
			Help: "Per-recipient send attempts by kind and result.",
		}, []string{"kind", "result"}),
	}
	reg.MustRegister(m.runs, m.subscribers, m.notifications, m.batchDuration, m.cacheLookups, m.fetchErrors, m.sends)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) BatchFinished(job string, ok bool, took time.Duration, processed, skipped, failed, sent int) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.runs.WithLabelValues(job, result).Inc()
	m.batchDuration.WithLabelValues(job).Observe(took.Seconds())
	m.subscribers.WithLabelValues(job, "processed").Add(float64(processed))
	m.subscribers.WithLabelValues(job, "skipped").Add(float64(skipped))
	m.subscribers.WithLabelValues(job, "failed").Add(float64(failed))
	m.notifications.WithLabelValues(job).Add(float64(sent))
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) FetchError(source string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(source).Inc()
}

func (m *Metrics) Send(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.sends.WithLabelValues(kind, result).Inc()
}
