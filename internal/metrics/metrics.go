// Package metrics provides Prometheus instrumentation for the vAMM engine.
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
	// OperationsTotal counts engine operations by kind and outcome.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vamm_operations_total",
		Help: "Total engine operations executed",
	}, []string{"op", "outcome"})

	// OperationLatency tracks engine operation latency by kind.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vamm_operation_latency_seconds",
		Help:    "Engine operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// PositionsOpened counts opened/merged positions by side.
	PositionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vamm_positions_opened_total",
		Help: "Positions opened or merged",
	}, []string{"side"})

	// ActiveMarkets tracks the number of created markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vamm_active_markets",
		Help: "Number of markets in the registry",
	})

	// InsolvencyEvents counts payouts where losses exceeded locked collateral.
	InsolvencyEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vamm_insolvency_events_total",
		Help: "Close/settle payouts with loss beyond locked collateral",
	})

	// RiskRejections counts opens rejected by the exposure limiter.
	RiskRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vamm_risk_rejections_total",
		Help: "Opens rejected by the exposure limiter",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vamm_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vamm_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vamm_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// NotionalVolume tracks cumulative opened notional per market and side.
	NotionalVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vamm_notional_volume_total",
		Help: "Cumulative opened notional",
	}, []string{"market_id", "side"})
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

		// Use the raw path for the label; routes here are low-cardinality.
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
