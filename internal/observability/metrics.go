package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	stepDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
)

// Metrics holds the Prometheus instruments of the orchestrator.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Workflow
	WorkflowTransitionsTotal *prometheus.CounterVec
	WorkflowStepDuration     *prometheus.HistogramVec
	WorkflowStepsTotal       *prometheus.CounterVec

	// Tasks and approvals
	TasksUnblockedTotal     prometheus.Counter
	ApprovalDecisionsTotal  *prometheus.CounterVec
	ApprovalEscalationTotal *prometheus.CounterVec
	ApprovalChainsClosed    *prometheus.CounterVec

	// Sync and dead letters
	SyncWritesTotal        *prometheus.CounterVec
	RetryAttemptsTotal     *prometheus.CounterVec
	DeadLetterItemsTotal   *prometheus.CounterVec
	DeadLetterReplaysTotal *prometheus.CounterVec

	// Resume
	ResumeSweepsTotal  prometheus.Counter
	ResumedTotal       *prometheus.CounterVec
	ResumeSweepLatency prometheus.Histogram

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// InitMetrics creates and registers all instruments on reg
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WorkflowTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hr_workflow_transitions_total",
			Help: "Workflow instance status transitions.",
		}, []string{"from", "to", "trigger"}),
		WorkflowStepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hr_workflow_step_duration_seconds",
			Help:    "Step handler execution time.",
			Buckets: stepDurationBuckets,
		}, []string{"step_type"}),
		WorkflowStepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hr_workflow_steps_total",
			Help: "Executed steps by type and outcome.",
		}, []string{"step_type", "outcome"}),

		TasksUnblockedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hr_tasks_unblocked_total",
			Help: "Tasks unblocked by a completed or skipped prerequisite.",
		}),
		ApprovalDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hr_approval_decisions_total",
			Help: "Approval decisions submitted.",
		}, []string{"decision"}),
		ApprovalEscalationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hr_approval_escalations_total",
			Help: "Approval escalations by applied action.",
		}, []string{"action"}),
		ApprovalChainsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hr_approval_chains_closed_total",
			Help: "Approval chains closed by outcome.",
		}, []string{"status"}),

		SyncWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hr_status_sync_writes_total",
			Help: "Status sync writes by direction and outcome.",
		}, []string{"direction", "outcome"}),
		RetryAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hr_retry_attempts_total",
			Help: "Attempts made by the retry pipeline.",
		}, []string{"operation"}),
		DeadLetterItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hr_dead_letter_items_total",
			Help: "Operations moved to the dead-letter queue.",
		}, []string{"operation"}),
		DeadLetterReplaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hr_dead_letter_replays_total",
			Help: "Dead-letter replays by outcome.",
		}, []string{"operation", "outcome"}),

		ResumeSweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hr_resume_sweeps_total",
			Help: "Resume poll sweeps run.",
		}),
		ResumedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hr_workflows_resumed_total",
			Help: "Waiting workflows resumed by path.",
		}, []string{"path"}),
		ResumeSweepLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hr_resume_sweep_duration_seconds",
			Help:    "Resume sweep duration.",
			Buckets: stepDurationBuckets,
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hr_http_requests_total",
			Help: "Admin API requests.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hr_http_request_duration_seconds",
			Help:    "Admin API latency.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.WorkflowTransitionsTotal,
		m.WorkflowStepDuration,
		m.WorkflowStepsTotal,
		m.TasksUnblockedTotal,
		m.ApprovalDecisionsTotal,
		m.ApprovalEscalationTotal,
		m.ApprovalChainsClosed,
		m.SyncWritesTotal,
		m.RetryAttemptsTotal,
		m.DeadLetterItemsTotal,
		m.DeadLetterReplaysTotal,
		m.ResumeSweepsTotal,
		m.ResumedTotal,
		m.ResumeSweepLatency,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// --- Recording helpers ---

func (m *Metrics) RecordTransition(from, to, trigger string) {
	if m == nil {
		return
	}
	m.WorkflowTransitionsTotal.WithLabelValues(from, to, trigger).Inc()
}

func (m *Metrics) RecordStep(stepType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.WorkflowStepsTotal.WithLabelValues(stepType, outcome).Inc()
	m.WorkflowStepDuration.WithLabelValues(stepType).Observe(d.Seconds())
}

func (m *Metrics) RecordUnblocked(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TasksUnblockedTotal.Add(float64(n))
}

func (m *Metrics) RecordDecision(decision string) {
	if m == nil {
		return
	}
	m.ApprovalDecisionsTotal.WithLabelValues(decision).Inc()
}

func (m *Metrics) RecordEscalation(action string) {
	if m == nil {
		return
	}
	m.ApprovalEscalationTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordChainClosed(status string) {
	if m == nil {
		return
	}
	m.ApprovalChainsClosed.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordSyncWrite(direction, outcome string) {
	if m == nil {
		return
	}
	m.SyncWritesTotal.WithLabelValues(direction, outcome).Inc()
}

func (m *Metrics) RecordRetryAttempts(operation string, attempts int) {
	if m == nil {
		return
	}
	m.RetryAttemptsTotal.WithLabelValues(operation).Add(float64(attempts))
}

func (m *Metrics) RecordDeadLetter(operation string) {
	if m == nil {
		return
	}
	m.DeadLetterItemsTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordReplay(operation, outcome string) {
	if m == nil {
		return
	}
	m.DeadLetterReplaysTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) RecordSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.ResumeSweepsTotal.Inc()
	m.ResumeSweepLatency.Observe(d.Seconds())
}

func (m *Metrics) RecordResumed(path string) {
	if m == nil {
		return
	}
	m.ResumedTotal.WithLabelValues(path).Inc()
}

// GinMiddleware records request count and latency per matched route
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, statusClass(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the registry for scraping
func Handler(gatherer prometheus.Gatherer) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	}
	return "2xx"
}
