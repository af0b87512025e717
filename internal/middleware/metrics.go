package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lexgig/lexgig-backend/internal/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexgig_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lexgig_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lexgig_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 7), // 100B to 100MB
		},
		[]string{"method", "path"},
	)

	httpDomainErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexgig_http_domain_errors_total",
			Help: "Failed requests by route and error code",
		},
		[]string{"route", "code"},
	)

	activeRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lexgig_http_active_requests",
			Help: "Number of currently active HTTP requests",
		},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lexgig_db_connections_open",
			Help: "Open database connections",
		},
	)
)

// Metrics returns a gin middleware that collects Prometheus metrics. Failed
// requests are also counted by error code, so a spike of INVALID_TRANSITION
// on the bid routes is visible apart from plain 409s.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		activeRequests.Inc()
		defer activeRequests.Dec()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		// route template keeps label cardinality bounded
		path := normalizePath(c.FullPath())

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
		httpResponseSize.WithLabelValues(c.Request.Method, path).Observe(float64(c.Writer.Size()))
		if code := c.GetString(common.ErrorCodeKey); code != "" {
			httpDomainErrors.WithLabelValues(path, code).Inc()
		}
	}
}

// SetDBConnectionsActive updates the DB connection gauge
func SetDBConnectionsActive(count float64) {
	dbConnectionsActive.Set(count)
}

// normalizePath returns the route template (e.g. /api/v1/gigs/:id); unmatched routes share one label
func normalizePath(path string) string {
	if path == "" {
		return "unknown"
	}
	return path
}
