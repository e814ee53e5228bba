package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks total HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "endpoint", "status"},
	)

	// RequestDuration tracks HTTP request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "endpoint"},
	)

	// CircuitBreakerState tracks circuit breaker state (0=closed, 1=open, 2=half-open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "circuit_name"},
	)

	// CircuitBreakerFailures tracks circuit breaker failures
	CircuitBreakerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of circuit breaker failures",
		},
		[]string{"service", "circuit_name"},
	)

	// BulkheadActiveRequests tracks in-flight gateway calls per bulkhead
	BulkheadActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bulkhead_active_requests",
			Help: "Number of active requests in bulkhead",
		},
		[]string{"service", "bulkhead_name"},
	)

	// BulkheadRejectedRequests tracks rejected requests by bulkhead
	BulkheadRejectedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkhead_rejected_requests_total",
			Help: "Total number of rejected requests by bulkhead",
		},
		[]string{"service", "bulkhead_name"},
	)

	// DonationsTotal tracks processed donation requests by final status and reason
	DonationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "donations_total",
			Help: "Total number of donation requests by outcome",
		},
		[]string{"status", "reason"},
	)

	// DonationAmount tracks settled donation amounts in minor currency units
	DonationAmount = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "donation_amount_minor_units",
			Help:    "Completed donation amounts in minor currency units",
			Buckets: []float64{500, 1000, 2500, 5000, 10000, 50000, 100000},
		},
		[]string{"currency"},
	)

	// SettlementDuration tracks how long gateway settlement takes
	SettlementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_duration_seconds",
			Help:    "Time spent settling a transaction with a gateway",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"gateway", "status"},
	)

	// IdempotentReplaysTotal tracks requests answered from an earlier transaction
	IdempotentReplaysTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idempotent_replays_total",
			Help: "Total number of requests answered by replaying an earlier transaction",
		},
	)

	// NotificationsTotal tracks best-effort notification attempts
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Total number of donation notifications by dispatcher and result",
		},
		[]string{"dispatcher", "result"},
	)

	// GatewayChaosEnabled tracks chaos switches on mock gateways (1=enabled, 0=disabled)
	GatewayChaosEnabled = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_chaos_enabled",
			Help: "Whether a chaos mode is enabled on a mock gateway (1=enabled, 0=disabled)",
		},
		[]string{"gateway", "mode"},
	)
)

// PrometheusMiddleware creates a Gin middleware for automatic metrics collection
func PrometheusMiddleware(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		RequestsTotal.WithLabelValues(
			serviceName,
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()

		RequestDuration.WithLabelValues(
			serviceName,
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}
