// Package server: metrics.go registers the Prometheus metrics for the HTTP
// server and the middleware that records them.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// labelHandler is the "handler" label value used to partition metrics by
// the route pattern rather than the raw URL path, which would otherwise
// explode cardinality with user and content ids.
const labelHandler = "handler"

// serverMetrics holds the Prometheus metrics owned by the HTTP server. They
// are registered against Config.MetricsRegistry.
type serverMetrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpDurationSeconds *prometheus.HistogramVec
	httpInFlight        prometheus.Gauge
	// httpThrottledTotal counts requests rejected by the per-IP limiter.
	httpThrottledTotal prometheus.Counter
}

func httpOpts(name, help string) prometheus.Opts {
	return prometheus.Opts{Namespace: "brandrag", Subsystem: "http", Name: name, Help: help}
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	f := promauto.With(reg)
	latency := prometheus.HistogramOpts{
		Namespace: "brandrag",
		Subsystem: "http",
		Name:      "duration_seconds",
		Help:      "HTTP request latency by method and route pattern.",
		Buckets:   prometheus.DefBuckets,
	}

	return &serverMetrics{
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts(httpOpts("requests_total", "HTTP requests by method, route pattern and status code.")),
			[]string{"method", labelHandler, "code"}),
		httpDurationSeconds: f.NewHistogramVec(latency, []string{"method", labelHandler}),
		httpInFlight: f.NewGauge(
			prometheus.GaugeOpts(httpOpts("in_flight_requests", "Number of HTTP requests currently being served."))),
		httpThrottledTotal: f.NewCounter(
			prometheus.CounterOpts(httpOpts("throttled_total", "Requests rejected by the per-address rate limiter."))),
	}
}

// instrument is chi middleware that records request count, latency and
// in-flight gauge. The route pattern is read after the handler runs, once
// chi has resolved it.
func (m *serverMetrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		handler := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			handler = rc.RoutePattern()
		}
		m.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
	})
}
