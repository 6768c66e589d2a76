package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	turnsCreated   *prometheus.CounterVec
	turnMutations  *prometheus.CounterVec
	activeSessions prometheus.Gauge

	queueSize    *prometheus.GaugeVec
	taskDuration *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolRejectedTotal     *prometheus.CounterVec

	fillerTotal *prometheus.CounterVec

	governancePassTotal    *prometheus.CounterVec
	governancePassDuration prometheus.Histogram
	governanceRating       prometheus.Gauge

	completionTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			turnsCreated: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "callcore_turns_created_total",
					Help: "Total turns created by role and type.",
				},
				[]string{"role", "type"},
			),
			turnMutations: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "callcore_turn_mutations_total",
					Help: "Total turn mutations by field.",
				},
				[]string{"field"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "callcore_active_sessions",
					Help: "Current open call sessions.",
				},
			),
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "callcore_queue_size",
					Help: "Pending tasks by session lane.",
				},
				[]string{"lane"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "callcore_task_duration_seconds",
					Help:    "Lane task duration in seconds by status.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"status"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "callcore_tool_execution_total",
					Help: "Total tool executions by tool, kind and status.",
				},
				[]string{"tool", "kind", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "callcore_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolRejectedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "callcore_tool_rejected_total",
					Help: "Tool calls rejected before execution by reason.",
				},
				[]string{"reason"},
			),
			fillerTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "callcore_filler_total",
					Help: "Filler timer outcomes by timer and outcome.",
				},
				[]string{"timer", "outcome"},
			),
			governancePassTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "callcore_governance_pass_total",
					Help: "Governance passes by outcome.",
				},
				[]string{"outcome"},
			),
			governancePassDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "callcore_governance_pass_duration_seconds",
					Help:    "Governance pass duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			governanceRating: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "callcore_governance_rating",
					Help: "Most recently merged governance rating.",
				},
			),
			completionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "callcore_completion_total",
					Help: "External completion calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
		}

		prometheus.MustRegister(
			m.turnsCreated,
			m.turnMutations,
			m.activeSessions,
			m.queueSize,
			m.taskDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolRejectedTotal,
			m.fillerTotal,
			m.governancePassTotal,
			m.governancePassDuration,
			m.governanceRating,
			m.completionTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordTurnCreated(role, turnType string) {
	getMetrics().turnsCreated.WithLabelValues(role, turnType).Inc()
}

func RecordTurnMutation(field string) {
	getMetrics().turnMutations.WithLabelValues(field).Inc()
}

func AddActiveSessions(delta int) {
	getMetrics().activeSessions.Add(float64(delta))
}

func SetQueueSize(lane string, size int) {
	getMetrics().queueSize.WithLabelValues(lane).Set(float64(size))
}

func RecordTaskCompletion(duration time.Duration, success bool) {
	getMetrics().taskDuration.WithLabelValues(statusLabel(success)).Observe(duration.Seconds())
}

func RecordToolExecution(tool, kind, status string, duration time.Duration) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, kind, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordToolRejected(reason string) {
	getMetrics().toolRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordFiller counts a filler timer outcome: spoken, suppressed, skipped.
func RecordFiller(timer, outcome string) {
	getMetrics().fillerTotal.WithLabelValues(timer, outcome).Inc()
}

func RecordGovernancePass(outcome string, duration time.Duration) {
	m := getMetrics()
	m.governancePassTotal.WithLabelValues(outcome).Inc()
	m.governancePassDuration.Observe(duration.Seconds())
}

func SetGovernanceRating(rating float64) {
	getMetrics().governanceRating.Set(rating)
}

func RecordCompletion(provider string, success bool) {
	getMetrics().completionTotal.WithLabelValues(provider, statusLabel(success)).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
