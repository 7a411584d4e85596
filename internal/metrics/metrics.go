// Package metrics exposes Prometheus instrumentation for conversion runs.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects run, engine, cache and output counters on a private
// registry so tests never collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	runsInFlight prometheus.Gauge

	pagesProcessed   prometheus.Counter
	tablesExtracted  prometheus.Counter
	figuresExtracted prometheus.Counter
	degradedPages    prometheus.Counter

	engineFailures *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	artifactWrites *prometheus.CounterVec

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates a Metrics set labeled with the service name.
func New(service string) *Metrics {
	registry := prometheus.NewRegistry()
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"service": service}, registry)

	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docanvil",
			Subsystem: "run",
			Name:      "total",
			Help:      "Total conversion runs by final status.",
		},
		[]string{"status"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docanvil",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Conversion run duration in seconds by final status.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)
	runsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docanvil",
			Subsystem: "run",
			Name:      "in_flight",
			Help:      "Number of conversion runs currently executing.",
		},
	)
	pagesProcessed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docanvil",
			Subsystem: "run",
			Name:      "pages_processed_total",
			Help:      "Total pages processed across completed runs.",
		},
	)
	tablesExtracted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docanvil",
			Subsystem: "run",
			Name:      "tables_extracted_total",
			Help:      "Total tables extracted across completed runs.",
		},
	)
	figuresExtracted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docanvil",
			Subsystem: "run",
			Name:      "figures_extracted_total",
			Help:      "Total figures extracted across completed runs.",
		},
	)
	degradedPages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docanvil",
			Subsystem: "run",
			Name:      "degraded_pages_total",
			Help:      "Total pages that completed with degraded capabilities.",
		},
	)
	engineFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docanvil",
			Subsystem: "engine",
			Name:      "failures_total",
			Help:      "Total whole-document engine failures.",
		},
		[]string{"engine"},
	)
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docanvil",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total result cache lookups by outcome.",
		},
		[]string{"outcome"},
	)
	artifactWrites := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docanvil",
			Subsystem: "output",
			Name:      "artifact_writes_total",
			Help:      "Total output artifact writes by outcome.",
		},
		[]string{"outcome"},
	)
	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docanvil",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docanvil",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	reg.MustRegister(
		runsTotal,
		runDuration,
		runsInFlight,
		pagesProcessed,
		tablesExtracted,
		figuresExtracted,
		degradedPages,
		engineFailures,
		cacheLookups,
		artifactWrites,
		requestTotal,
		requestDuration,
	)

	return &Metrics{
		registry:         registry,
		runsTotal:        runsTotal,
		runDuration:      runDuration,
		runsInFlight:     runsInFlight,
		pagesProcessed:   pagesProcessed,
		tablesExtracted:  tablesExtracted,
		figuresExtracted: figuresExtracted,
		degradedPages:    degradedPages,
		engineFailures:   engineFailures,
		cacheLookups:     cacheLookups,
		artifactWrites:   artifactWrites,
		requestTotal:     requestTotal,
		requestDuration:  requestDuration,
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartRun marks a run as in flight.
func (m *Metrics) StartRun() {
	m.runsInFlight.Inc()
}

// FinishRun records the final status and duration of a run.
func (m *Metrics) FinishRun(status string, duration time.Duration) {
	m.runsInFlight.Dec()
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordDocument records the extraction counts of a completed run.
func (m *Metrics) RecordDocument(pages, tables, figures, degraded int) {
	m.pagesProcessed.Add(float64(pages))
	m.tablesExtracted.Add(float64(tables))
	m.figuresExtracted.Add(float64(figures))
	if degraded > 0 {
		m.degradedPages.Add(float64(degraded))
	}
}

// RecordEngineFailure counts a whole-document engine failure.
func (m *Metrics) RecordEngineFailure(engine string) {
	if engine == "" {
		engine = "unknown"
	}
	m.engineFailures.WithLabelValues(engine).Inc()
}

// RecordCacheLookup counts one result cache lookup.
func (m *Metrics) RecordCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookups.WithLabelValues(outcome).Inc()
}

// RecordArtifactWrite counts one output artifact write.
func (m *Metrics) RecordArtifactWrite(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.artifactWrites.WithLabelValues(outcome).Inc()
}

// Middleware instruments HTTP handlers with request counters and latency.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(r.Method, path, strconv.Itoa(recorder.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses per-resource URLs so label cardinality stays flat.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/conversions/"):
		return "/api/v1/conversions/{id}"
	default:
		return path
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
