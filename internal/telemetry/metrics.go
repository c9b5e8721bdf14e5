package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	agentInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ensemble_agent_invocations_total",
		Help: "Agent invocations by agent and outcome status",
	}, []string{"agent", "status"})

	agentAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ensemble_agent_attempts_total",
		Help: "Agent call attempts including retries",
	}, []string{"agent"})

	agentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ensemble_agent_invocation_duration_seconds",
		Help:    "Agent invocation duration including backoff",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"agent"})

	nodesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ensemble_nodes_in_flight",
		Help: "Nodes currently holding an execution slot",
	})

	levelsExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ensemble_levels_executed_total",
		Help: "Execution levels dispatched",
	})

	verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ensemble_quality_verdicts_total",
		Help: "Quality gate verdicts",
	}, []string{"verdict"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ensemble_run_duration_seconds",
		Help:    "Orchestration run duration by final phase",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"phase"})
)

// ObserveInvocation учитывает завершённый вызов агента.
func ObserveInvocation(agent, status string, attempts int, elapsed time.Duration) {
	agentInvocations.WithLabelValues(agent, status).Inc()
	agentAttempts.WithLabelValues(agent).Add(float64(attempts))
	agentDuration.WithLabelValues(agent).Observe(elapsed.Seconds())
}

// NodeStarted и NodeFinished ведут gauge занятых слотов.
func NodeStarted()  { nodesInFlight.Inc() }
func NodeFinished() { nodesInFlight.Dec() }

// LevelExecuted учитывает запущенный уровень графа.
func LevelExecuted() {
	levelsExecuted.Inc()
}

// ObserveVerdict учитывает решение quality gate.
func ObserveVerdict(verdict string) {
	verdicts.WithLabelValues(verdict).Inc()
}

// ObserveRun учитывает завершённый run.
func ObserveRun(phase string, elapsed time.Duration) {
	runDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
}

var (
	brokerDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ensemble_broker_disconnects_total",
		Help: "RabbitMQ connection losses",
	})

	brokerReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ensemble_broker_reconnects_total",
		Help: "Successful RabbitMQ reconnects",
	})

	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ensemble_queue_deliveries_total",
		Help: "Consumed messages by queue and decision (ack, requeue, dead_letter)",
	}, []string{"queue", "decision"})
)

// ObserveBrokerDisconnect учитывает разрыв соединения с брокером.
func ObserveBrokerDisconnect() { brokerDisconnects.Inc() }

// ObserveBrokerReconnect учитывает успешное переподключение.
func ObserveBrokerReconnect() { brokerReconnects.Inc() }

// ObserveDelivery учитывает решение consumer'а по сообщению.
func ObserveDelivery(queue, decision string) {
	deliveries.WithLabelValues(queue, decision).Inc()
}
