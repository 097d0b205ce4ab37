// Package metrics exposes Prometheus collectors for the fetch pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchTotal                 *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	recordsWrittenTotal        *prometheus.CounterVec
	sinkErrorsTotal            *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	queueDepth                 prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers every collector with the default registry. Repeated calls are no-ops.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "urlfetch_fetch_total",
				Help: "Total number of URLs fetched, labeled by site, status and content kind.",
			},
			[]string{"site", "status", "kind"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "urlfetch_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by status.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"status"},
		)

		recordsWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "urlfetch_records_written_total",
				Help: "Total number of result records written, labeled by content type.",
			},
			[]string{"type"},
		)

		sinkErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "urlfetch_sink_errors_total",
				Help: "Total number of failed record writes, labeled by target.",
			},
			[]string{"target"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "urlfetch_active_workers",
				Help: "Number of workers currently fetching a URL.",
			},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "urlfetch_queue_pending",
				Help: "Number of enqueued URLs not yet marked done.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Requests served by the metrics/health listener, by method and status code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Latency of requests served by the metrics/health listener, by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite reduces a fetched URL to its lowercase host so the site label
// stays low-cardinality. Unparseable input maps to "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch records the outcome and latency of a single fetch.
func ObserveFetch(rawURL, status, kind string, duration time.Duration) {
	Init()
	if kind == "" {
		kind = "none"
	}
	fetchTotal.WithLabelValues(SanitizeSite(rawURL), status, kind).Inc()
	fetchDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveRecordWritten increments the written records counter.
func ObserveRecordWritten(contentType string) {
	Init()
	recordsWrittenTotal.WithLabelValues(contentType).Inc()
}

// ObserveSinkError increments the sink error counter for target.
func ObserveSinkError(target string) {
	Init()
	sinkErrorsTotal.WithLabelValues(target).Inc()
}

// IncActiveWorkers marks a worker as busy with a fetch.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers marks a worker as idle again.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// SetQueuePending sets the pending queue gauge.
func SetQueuePending(n int) {
	Init()
	queueDepth.Set(float64(n))
}

// ObserveHTTPRequest records one request to the metrics/health listener.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
