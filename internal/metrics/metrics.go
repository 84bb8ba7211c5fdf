// Package metrics exposes Prometheus collectors for the crawler service.
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

// Item outcomes recorded by ObserveItem.
const (
	ItemCreated   = "created"
	ItemUpdated   = "updated"
	ItemUnchanged = "unchanged"
	ItemFailed    = "failed"
)

var (
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerFetchDurationSeconds   *prometheus.HistogramVec
	crawlerItemsTotal             *prometheus.CounterVec
	crawlerParseSkipsTotal        *prometheus.CounterVec
	crawlerSearchesTotal          *prometheus.CounterVec
	crawlerCategoryRunsTotal      *prometheus.CounterVec
	crawlerNotificationsTotal     *prometheus.CounterVec
	crawlerLockWaitSeconds        prometheus.Histogram
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of listing pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		crawlerItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_items_total",
				Help: "Total number of scraped items reconciled, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerParseSkipsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_parse_skips_total",
				Help: "Total number of listings dropped because they could not be parsed, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerSearchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_searches_total",
				Help: "Total number of address searches, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerCategoryRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_category_runs_total",
				Help: "Total number of category runs, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerNotificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_notifications_total",
				Help: "Total number of notifications handed to the notifier, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerLockWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_lock_wait_seconds",
				Help:    "Histogram of time spent acquiring item URL locks.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently running a category.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// ObservePage records one page fetch.
func ObservePage(pageURL string, status string, bytesFetched int, duration time.Duration) {
	site := SanitizeSite(pageURL)
	crawlerPagesTotal.WithLabelValues(site, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
	crawlerFetchDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveItem counts a reconciled item by outcome.
func ObserveItem(outcome string) {
	crawlerItemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveParseSkips counts dropped listings for a site.
func ObserveParseSkips(site string, n int) {
	if n <= 0 {
		return
	}
	crawlerParseSkipsTotal.WithLabelValues(site).Add(float64(n))
}

// ObserveSearch counts a finished or failed address search.
func ObserveSearch(status string) {
	crawlerSearchesTotal.WithLabelValues(status).Inc()
}

// ObserveCategoryRun counts a category run.
func ObserveCategoryRun(status string) {
	crawlerCategoryRunsTotal.WithLabelValues(status).Inc()
}

// ObserveNotification counts a notifier call.
func ObserveNotification(status string) {
	crawlerNotificationsTotal.WithLabelValues(status).Inc()
}

// ObserveLockWait records time spent waiting for URL locks.
func ObserveLockWait(duration time.Duration) {
	crawlerLockWaitSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
