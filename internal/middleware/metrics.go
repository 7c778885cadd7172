package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_http_requests_total",
		Help: "HTTP requests by route pattern and status",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "firewatch_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	rateLimitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_ratelimit_total",
		Help: "Rate limiter decisions",
	}, []string{"result"})
)

// Metrics records per-route counters. Routes are labelled by chi pattern to
// keep label cardinality bounded.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw, ok := w.(*responseWriter)
		if !ok {
			rw = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func RecordRateLimit(result string) {
	rateLimitTotal.WithLabelValues(result).Inc()
}
