package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrygo/clinote/plugin/ai/note"
)

const namespace = "clinote"

// Metrics collects note generation and retrieval metrics on a dedicated registry.
// It implements note.Observer and rag.Observer.
type Metrics struct {
	registry *prometheus.Registry

	attempts       *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
	regenerations  prometheus.Histogram
	embeddings     *prometheus.CounterVec
	queries        prometheus.Counter
	queryChunks    prometheus.Histogram
	queryConf      prometheus.Histogram
	queryDuration  prometheus.Histogram
	requestLatency *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with a fresh registry,
// together with the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_attempts_total",
			Help:      "Generate/validate attempts by verdict.",
		}, []string{"verdict"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_results_total",
			Help:      "Generate-and-validate runs by terminal state.",
		}, []string{"state"}),
		regenerations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_regenerations",
			Help:      "Regeneration count per run.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		}),
		embeddings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "note_embeddings_total",
			Help:      "Note embedding attempts by result.",
		}, []string{"result"}),
		queries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Answered retrieval queries.",
		}),
		queryChunks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_chunks",
			Help:      "Chunks handed to the synthesizer per query.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10},
		}),
		queryConf: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_confidence",
			Help:      "Mean similarity of the chunks behind an answer.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end query latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.attempts,
		m.outcomes,
		m.regenerations,
		m.embeddings,
		m.queries,
		m.queryChunks,
		m.queryConf,
		m.queryDuration,
		m.requestLatency,
	)
	return m
}

// ObserveAttempt records one generate/validate cycle.
func (m *Metrics) ObserveAttempt(a note.Attempt) {
	m.attempts.WithLabelValues(string(a.Verdict)).Inc()
}

// ObserveResult records a terminal controller state.
func (m *Metrics) ObserveResult(state note.State, regenerations int) {
	m.outcomes.WithLabelValues(string(state)).Inc()
	m.regenerations.Observe(float64(regenerations))
}

// ObserveQuery records an answered query.
func (m *Metrics) ObserveQuery(chunks int, confidence float64, elapsed time.Duration) {
	m.queries.Inc()
	m.queryChunks.Observe(float64(chunks))
	m.queryConf.Observe(confidence)
	m.queryDuration.Observe(elapsed.Seconds())
}

// RecordEmbedding counts note embedding successes and failures.
func (m *Metrics) RecordEmbedding(success bool, n int) {
	if n <= 0 {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.embeddings.WithLabelValues(result).Add(float64(n))
}

// RecordRequest records an API request duration.
func (m *Metrics) RecordRequest(route, status string, elapsed time.Duration) {
	m.requestLatency.WithLabelValues(route, status).Observe(elapsed.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
