// Package metrics provides Prometheus instrumentation for the NAV engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RecomputesTotal counts recompute runs, partitioned by outcome.
	RecomputesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fofnav_recomputes_total",
		Help: "Total number of NAV recompute runs",
	}, []string{"status"})

	// RecomputeDuration tracks how long one FOF recompute takes end to end.
	RecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fofnav_recompute_duration_seconds",
		Help:    "NAV recompute latency in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// RecomputeFailures counts failed runs by error kind.
	RecomputeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fofnav_recompute_failures_total",
		Help: "Failed recompute runs by error kind",
	}, []string{"kind"})

	// RecordsWritten counts NAV records persisted.
	RecordsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fofnav_records_written_total",
		Help: "NAV records written to the store",
	})

	// EventsIngested counts trade events accepted through the API.
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fofnav_events_ingested_total",
		Help: "Trade events accepted, by event type",
	}, []string{"type"})

	// LatestNAV tracks the last computed unit NAV per fund.
	LatestNAV = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fofnav_latest_nav",
		Help: "Most recent unit NAV per FOF",
	}, []string{"fof_id"})

	// CarryCharged tracks cumulative carried interest per fund.
	CarryCharged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fofnav_carry_charged_total",
		Help: "Cumulative carried interest charged, in currency units",
	}, []string{"fof_id"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fofnav_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fofnav_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fofnav_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
