// Package metrics exposes Prometheus collectors for the crawl and segment pipelines.
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

// Task outcomes used as label values.
const (
	OutcomeScraped   = "scraped"
	OutcomeErrored   = "errored"
	OutcomeCancelled = "cancelled"
)

var (
	crawlerPagesTotal           *prometheus.CounterVec
	crawlerBytesTotal           *prometheus.CounterVec
	crawlerLinksEnqueuedTotal   prometheus.Counter
	crawlerSinkFailuresTotal    *prometheus.CounterVec
	crawlerTaskDurationSeconds  *prometheus.HistogramVec
	crawlerActiveWorkers        prometheus.Gauge
	crawlerFrontierSize         *prometheus.GaugeVec
	renderRateLimitDelaySeconds *prometheus.HistogramVec
	segmentChunksTotal          prometheus.Counter
	segmentDocumentsTotal       *prometheus.CounterVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of crawl tasks reduced, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of rendered HTML bytes, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerLinksEnqueuedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_links_enqueued_total",
				Help: "Total number of discovered links added to the frontier.",
			},
		)

		crawlerSinkFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_sink_failures_total",
				Help: "Total number of documents a sink failed to store, labeled by sink.",
			},
			[]string{"sink"},
		)

		crawlerTaskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_task_duration_seconds",
				Help:    "Histogram of crawl task durations, labeled by outcome.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"outcome"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		crawlerFrontierSize = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_frontier_urls",
				Help: "Number of URLs in each frontier set.",
			},
			[]string{"set"},
		)

		renderRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "render_rate_limit_delay_seconds",
				Help:    "Histogram of per-domain render rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		segmentChunksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "segment_chunks_total",
				Help: "Total number of chunks produced by the segmenter.",
			},
		)

		segmentDocumentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "segment_documents_total",
				Help: "Total number of documents segmented, labeled by status.",
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask records one reduced task.
func ObserveTask(site, outcome string, htmlBytes int, elapsed time.Duration) {
	Init()
	sanitized := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitized, outcome).Inc()
	if htmlBytes > 0 {
		crawlerBytesTotal.WithLabelValues(sanitized).Add(float64(htmlBytes))
	}
	crawlerTaskDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// AddLinksEnqueued counts links accepted by the frontier.
func AddLinksEnqueued(n int) {
	Init()
	if n > 0 {
		crawlerLinksEnqueuedTotal.Add(float64(n))
	}
}

// ObserveSinkFailure counts a document the named sink could not store.
func ObserveSinkFailure(sink string) {
	Init()
	crawlerSinkFailuresTotal.WithLabelValues(sink).Inc()
}

// SetFrontierSize publishes the size of each frontier set.
func SetFrontierSize(pending, inflight, scraped, errored int) {
	Init()
	crawlerFrontierSize.WithLabelValues("pending").Set(float64(pending))
	crawlerFrontierSize.WithLabelValues("inflight").Set(float64(inflight))
	crawlerFrontierSize.WithLabelValues("scraped").Set(float64(scraped))
	crawlerFrontierSize.WithLabelValues("errored").Set(float64(errored))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	renderRateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveSegment records one segmented document and its chunk count.
func ObserveSegment(status string, chunks int) {
	Init()
	segmentDocumentsTotal.WithLabelValues(status).Inc()
	if chunks > 0 {
		segmentChunksTotal.Add(float64(chunks))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
