// Package metrics provides Prometheus instrumentation for the option engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ContractsOpened counts contracts created, partitioned by direction.
	ContractsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optx_contracts_opened_total",
		Help: "Total number of option contracts opened",
	}, []string{"direction"})

	// Settlements counts completed settlements by result.
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optx_settlements_total",
		Help: "Total number of contracts settled",
	}, []string{"result"})

	// ContractsVoided counts contracts voided after oracle retry exhaustion.
	ContractsVoided = promauto.NewCounter(prometheus.CounterOpts{
		Name: "optx_contracts_voided_total",
		Help: "Contracts voided and refunded after oracle failure",
	})

	// SettlementLatency tracks time from expiry to completed settlement.
	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "optx_settlement_latency_seconds",
		Help:    "Delay between contract expiry and settlement",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	})

	// OracleFailures counts failed price oracle calls.
	OracleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "optx_oracle_failures_total",
		Help: "Price oracle calls that returned an error",
	})

	// SweepRuns counts reconciliation sweeps executed.
	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "optx_sweep_runs_total",
		Help: "Reconciliation sweeper passes",
	})

	// SweepRecovered counts contracts driven to settlement by the sweeper.
	SweepRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "optx_sweep_recovered_total",
		Help: "Expired contracts settled by the reconciliation sweeper",
	})

	// NotificationsDelivered counts settlement pushes handed to the hub.
	NotificationsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "optx_notifications_delivered_total",
		Help: "Settlement events delivered to live sessions",
	})

	// NotificationsDeduplicated counts events dropped by the dedup window.
	NotificationsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "optx_notifications_deduplicated_total",
		Help: "Settlement events suppressed as recent duplicates",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "optx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "optx_http_request_duration_seconds",
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
