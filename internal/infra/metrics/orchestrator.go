package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(orchestratorPhaseTotal, orchestratorAttemptsTotal) }

var (
	// phase: approval|completion; outcome: success|failed|timeout|business
	orchestratorPhaseTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_phase_total",
			Help: "Client-side handshake phase results.",
		},
		[]string{"phase", "outcome"},
	)

	orchestratorAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_backend_attempts_total",
			Help: "Backend calls issued by the client orchestrator, retries included.",
		},
		[]string{"phase"},
	)
)

func IncOrchestratorPhase(phase, outcome string) {
	orchestratorPhaseTotal.WithLabelValues(norm(phase), norm(outcome)).Inc()
}

func IncOrchestratorAttempt(phase string) {
	orchestratorAttemptsTotal.WithLabelValues(norm(phase)).Inc()
}
