package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions prometheus.Gauge
	turnTotal      *prometheus.CounterVec
	turnDuration   prometheus.Histogram

	modelCallTotal    *prometheus.CounterVec
	modelCallDuration *prometheus.HistogramVec

	toolDispatchTotal    *prometheus.CounterVec
	toolDispatchDuration *prometheus.HistogramVec

	guardrailDecisions *prometheus.CounterVec

	escalationTotal     *prometheus.CounterVec
	escalationConflicts prometheus.Counter

	memoryReadDuration  prometheus.Histogram
	memoryWriteDuration prometheus.Histogram

	traceEventsTotal   prometheus.Counter
	traceEventsDropped prometheus.Counter

	laneQueueSize    *prometheus.GaugeVec
	laneTaskDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "sundesk_active_sessions",
					Help: "Current open support session count.",
				},
			),
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sundesk_turn_total",
					Help: "Completed turns by outcome.",
				},
				[]string{"outcome"},
			),
			turnDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "sundesk_turn_duration_seconds",
					Help:    "End-to-end turn duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			modelCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sundesk_model_call_total",
					Help: "Model invocations by provider and status.",
				},
				[]string{"provider", "status"},
			),
			modelCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "sundesk_model_call_duration_seconds",
					Help:    "Model invocation duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			toolDispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sundesk_tool_dispatch_total",
					Help: "Tool dispatches by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolDispatchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "sundesk_tool_dispatch_duration_seconds",
					Help:    "Tool dispatch duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			guardrailDecisions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sundesk_guardrail_decisions_total",
					Help: "Guardrail decisions by direction and verdict.",
				},
				[]string{"direction", "verdict"},
			),
			escalationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sundesk_escalation_total",
					Help: "Ticket escalations by result (created, existing, failed).",
				},
				[]string{"result"},
			),
			escalationConflicts: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sundesk_escalation_conflicts_total",
					Help: "Correlation id collisions between distinct escalation triggers.",
				},
			),
			memoryReadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "sundesk_memory_read_duration_seconds",
					Help:    "Memory fact read duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memoryWriteDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "sundesk_memory_write_duration_seconds",
					Help:    "Memory fact write duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			traceEventsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sundesk_trace_events_total",
					Help: "Trace events accepted by the emitter.",
				},
			),
			traceEventsDropped: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sundesk_trace_events_dropped_total",
					Help: "Trace events dropped due to a full buffer.",
				},
			),
			laneQueueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "sundesk_lane_queue_size",
					Help: "Turns waiting in each session lane.",
				},
				[]string{"lane"},
			),
			laneTaskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "sundesk_lane_task_duration_seconds",
					Help:    "Lane task execution duration in seconds by status.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"status"},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.turnTotal,
			m.turnDuration,
			m.modelCallTotal,
			m.modelCallDuration,
			m.toolDispatchTotal,
			m.toolDispatchDuration,
			m.guardrailDecisions,
			m.escalationTotal,
			m.escalationConflicts,
			m.memoryReadDuration,
			m.memoryWriteDuration,
			m.traceEventsTotal,
			m.traceEventsDropped,
			m.laneQueueSize,
			m.laneTaskDuration,
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

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordTurn(outcome string, duration time.Duration) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(duration.Seconds())
}

func RecordModelCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.modelCallTotal.WithLabelValues(provider, status).Inc()
	m.modelCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordToolDispatch(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolDispatchTotal.WithLabelValues(tool, status).Inc()
	m.toolDispatchDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordGuardrailDecision(direction, verdict string) {
	getMetrics().guardrailDecisions.WithLabelValues(direction, verdict).Inc()
}

func RecordEscalation(result string) {
	getMetrics().escalationTotal.WithLabelValues(result).Inc()
}

func RecordEscalationConflict() {
	getMetrics().escalationConflicts.Inc()
}

func RecordMemoryRead(duration time.Duration) {
	getMetrics().memoryReadDuration.Observe(duration.Seconds())
}

func RecordMemoryWrite(duration time.Duration) {
	getMetrics().memoryWriteDuration.Observe(duration.Seconds())
}

func RecordTraceEvent() {
	getMetrics().traceEventsTotal.Inc()
}

func RecordTraceDrop() {
	getMetrics().traceEventsDropped.Inc()
}

func SetLaneQueueSize(lane string, size int) {
	getMetrics().laneQueueSize.WithLabelValues(lane).Set(float64(size))
}

func RecordLaneTask(duration time.Duration, success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().laneTaskDuration.WithLabelValues(status).Observe(duration.Seconds())
}
