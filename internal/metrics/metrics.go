// Package metrics provides Prometheus instrumentation for the gold ledger.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts ledger operations by action and outcome.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gold_operations_total",
		Help: "Total number of ledger operations",
	}, []string{"action", "outcome"})

	// OperationLatency tracks operation latency including retries.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gold_operation_latency_seconds",
		Help:    "Ledger operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// GramsMoved tracks cumulative grams per action and wallet.
	GramsMoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gold_grams_moved_total",
		Help: "Cumulative grams moved by committed operations",
	}, []string{"action", "wallet"})

	// ConflictRetries counts transaction retries after a concurrency conflict.
	ConflictRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gold_conflict_retries_total",
		Help: "Operation retries caused by concurrency conflicts",
	}, []string{"action"})

	// InvariantViolations counts aborted transactions that broke an invariant.
	InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gold_invariant_violations_total",
		Help: "Transactions aborted by an invariant violation",
	})

	// SpendRejections counts spends refused by the spend guard.
	SpendRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gold_spend_rejections_total",
		Help: "Spends rejected by the spend guard",
	}, []string{"wallet"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gold_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gold_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gold_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics. The
// wrapped writer keeps http.Hijacker and http.Flusher, so WebSocket upgrades
// pass through it.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		duration := time.Since(start).Seconds()

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}
