package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		paymentPhaseTotal,
		gatewayRequestsTotal,
		gatewayRequestDuration,
		stalePaymentsCleanedTotal,
		paymentAnomaliesTotal,
	)
}

var (
	// phase: approve|complete|cleanup
	// outcome: success|idempotent|rejected|not_approved|conflict|error
	paymentPhaseTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_phase_total",
			Help: "Server-side payment phase results by phase and outcome.",
		},
		[]string{"phase", "outcome"},
	)

	// result: ok|already|rejected|transient
	gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_gateway_requests_total",
			Help: "Calls to the external payment gateway by operation and result.",
		},
		[]string{"gateway", "op", "result"},
	)

	gatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_request_duration_seconds",
			Help:    "Latency of payment gateway calls in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
		[]string{"gateway", "op"},
	)

	stalePaymentsCleanedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_stale_cleaned_total",
			Help: "Stale payment records cancelled by the reconciliation sweeper.",
		},
	)

	paymentAnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_anomalies_total",
			Help: "Lifecycle anomalies surfaced for manual review, by kind.",
		},
		[]string{"kind"},
	)
)

func IncPaymentPhase(phase, outcome string) {
	paymentPhaseTotal.WithLabelValues(norm(phase), norm(outcome)).Inc()
}

func ObserveGatewayCall(gateway, op, result string, took time.Duration) {
	gatewayRequestsTotal.WithLabelValues(norm(gateway), norm(op), norm(result)).Inc()
	gatewayRequestDuration.WithLabelValues(norm(gateway), norm(op)).Observe(took.Seconds())
}

func AddStaleCleaned(n int) {
	if n > 0 {
		stalePaymentsCleanedTotal.Add(float64(n))
	}
}

func IncAnomaly(kind string) {
	paymentAnomaliesTotal.WithLabelValues(norm(kind)).Inc()
}
