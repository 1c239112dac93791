// Package metrics exposes Prometheus collectors for the fetch service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal         *prometheus.CounterVec
	attemptsTotal        *prometheus.CounterVec
	fetchDurationSeconds *prometheus.HistogramVec
	proxyPoolSize        prometheus.Gauge
	queueDepth           prometheus.Gauge
	httpRequestsTotal    *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stubborn_fetches_total",
				Help: "Total fetch requests completed, labeled by terminal outcome.",
			},
			[]string{"outcome"},
		)

		attemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stubborn_attempts_total",
				Help: "Total transport attempts, labeled by attempt outcome.",
			},
			[]string{"outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stubborn_fetch_duration_seconds",
				Help:    "End-to-end fetch latency, labeled by terminal outcome.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		)

		proxyPoolSize = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "stubborn_proxy_pool_size",
				Help: "Current number of proxies in the rotation pool.",
			},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "stubborn_queue_depth",
				Help: "Number of fetch requests waiting in the queue.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stubborn_http_requests_total",
				Help: "Total API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
	})
}

// ObserveFetch records one terminal fetch outcome and its latency.
func ObserveFetch(outcome string, elapsed time.Duration) {
	if fetchesTotal == nil {
		return
	}
	fetchesTotal.WithLabelValues(outcome).Inc()
	fetchDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveAttempt records one transport attempt outcome.
func ObserveAttempt(outcome string) {
	if attemptsTotal == nil {
		return
	}
	attemptsTotal.WithLabelValues(outcome).Inc()
}

// SetProxyPoolSize publishes the current proxy pool size.
func SetProxyPoolSize(n int) {
	if proxyPoolSize == nil {
		return
	}
	proxyPoolSize.Set(float64(n))
}

// SetQueueDepth publishes the current queue depth.
func SetQueueDepth(n int) {
	if queueDepth == nil {
		return
	}
	queueDepth.Set(float64(n))
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, code string) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, code).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
