// Package metrics exposes ingestion, deletion and HTTP metrics in the
// Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/immunoload/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "immunoload"

// Recorder implements core.Recorder on a private Prometheus registry.
type Recorder struct {
	registry *prometheus.Registry

	rows        *prometheus.CounterVec
	windows     *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	deleted     *prometheus.CounterVec

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

var _ core.Recorder = (*Recorder)(nil)

// New creates a Recorder with Go runtime and process collectors attached.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rows_total",
			Help:      "Input rows processed, by outcome.",
		}, []string{"outcome"}),
		windows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_windows_total",
			Help:      "Commit windows finished, by outcome.",
		}, []string{"outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_runs_total",
			Help:      "Ingestion runs finished, by result.",
		}, []string{"success"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_run_duration_seconds",
			Help:      "Wall time of ingestion runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		deleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deleted_entities_total",
			Help:      "Entities removed by delete and sweep operations, by kind.",
		}, []string{"kind"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.rows, r.windows, r.runs, r.runDuration, r.deleted,
		r.requests, r.requestDuration,
	)
	return r
}

func (r *Recorder) RowsIngested(outcome string, n int) {
	if n > 0 {
		r.rows.WithLabelValues(outcome).Add(float64(n))
	}
}

func (r *Recorder) WindowFinished(outcome string) {
	r.windows.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RunFinished(success bool, elapsed time.Duration) {
	r.runs.WithLabelValues(strconv.FormatBool(success)).Inc()
	r.runDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) EntitiesDeleted(kind core.EntityKind, n int64) {
	if n > 0 {
		r.deleted.WithLabelValues(string(kind)).Add(float64(n))
	}
}

// ObserveRequest records one served HTTP request. route is the matched
// route pattern, not the raw path, to keep label cardinality bounded.
func (r *Recorder) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	r.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
