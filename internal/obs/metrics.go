package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	quotaDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_denials_total",
			Help: "Requests rejected because the usage allowance was exhausted.",
		},
		[]string{"role"},
	)

	auditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Audit events that fell back to the local log after store failure.",
	})

	notifyFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notify_failures_total",
		Help: "External notifications that could not be delivered.",
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the readiness probe last succeeded.",
	})
)

// Init registers all metrics in the default registry. Call once at startup.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		quotaDenials, auditWriteFailures, notifyFailures, ready,
	)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountQuotaDenial records a quota rejection for the given role.
func CountQuotaDenial(role string) {
	quotaDenials.WithLabelValues(role).Inc()
}

// CountAuditWriteFailure records an audit store write that fell back locally.
func CountAuditWriteFailure() {
	auditWriteFailures.Inc()
}

// CountNotifyFailure records a failed external notification.
func CountNotifyFailure() {
	notifyFailures.Inc()
}

// SetReady publishes the readiness state.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument wraps a handler with request count, latency and in-flight
// metrics, using canonical paths to bound label cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses per-resource path segments so metric labels stay
// bounded. Unknown shapes pass through unchanged.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "users" {
		switch len(parts) {
		case 4:
			return "/v1/admin/users/:id"
		case 5:
			return "/v1/admin/users/:id/" + parts[4]
		}
	}
	return path
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
