// Package metrics provides Prometheus instrumentation for the farm engine.
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
	// OperationsTotal counts committed farm operations by kind.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farm_operations_total",
		Help: "Total number of committed farm operations",
	}, []string{"op"})

	// OperationErrors counts rejected farm operations by kind and error class.
	OperationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farm_operation_errors_total",
		Help: "Farm operations rejected, by error class",
	}, []string{"op", "class"})

	// InvariantErrors counts arithmetic failures. Any increase needs a look.
	InvariantErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "farm_invariant_errors_total",
		Help: "Operations aborted by an overflow, underflow or pool inconsistency",
	})

	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "farm_operation_latency_seconds",
		Help:    "Load, mutate and persist latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// TokensMoved tracks token amounts the caller was told to transfer.
	TokensMoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farm_tokens_moved_total",
		Help: "Token base units in operation effects",
	}, []string{"farm_id", "effect"})

	// ActiveFarms tracks the number of farms.
	ActiveFarms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "farm_farms",
		Help: "Number of initialised farms",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "farm_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farm_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "farm_http_request_duration_seconds",
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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern returns the matched chi pattern (/farms/{farmID}/...) so farm
// ids and owners stay out of the label set.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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
