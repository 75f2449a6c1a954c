package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for lanes, turns, model calls, tools and
// approvals. All methods are safe on a nil receiver so components can run
// without instrumentation in tests.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "success", 1.2, 100, 500)
type Metrics struct {
	// LaneJobs counts lane jobs by outcome (success|error|panic|rejected).
	LaneJobs *prometheus.CounterVec

	// LaneQueueDepth is the number of queued jobs across all lanes.
	LaneQueueDepth prometheus.Gauge

	// LaneWait measures time between enqueue and start in seconds.
	LaneWait prometheus.Histogram

	// Turns counts completed turns. Labels: outcome (text|error), code
	Turns *prometheus.CounterVec

	// TurnIterations measures model calls per turn.
	TurnIterations prometheus.Histogram

	// LLMRequestDuration measures model call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts model calls. Labels: provider, model, status
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed counts tokens. Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations. Labels: tool_name, status
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time. Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// Approvals counts approval decisions. Labels: decision (approved|denied), source
	Approvals *prometheus.CounterVec

	// ApprovalWait measures time from request to decision for pending approvals.
	ApprovalWait prometheus.Histogram

	// PendingApprovals is the current number of unresolved approval requests.
	PendingApprovals prometheus.Gauge

	// HTTPRequestCounter counts API requests. Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures API latency. Labels: method, path
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers all collectors with the default registry.
// Call it once at startup.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers all collectors with reg.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LaneJobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_lane_jobs_total",
				Help: "Total number of lane jobs by outcome",
			},
			[]string{"outcome"},
		),

		LaneQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "warden_lane_queue_depth",
			Help: "Number of jobs waiting across all lanes",
		}),

		LaneWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_lane_wait_seconds",
			Help:    "Time jobs spend queued before running",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
		}),

		Turns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_turns_total",
				Help: "Total number of completed turns by outcome and error code",
			},
			[]string{"outcome", "code"},
		),

		TurnIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_turn_iterations",
			Help:    "Model calls per turn",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 20},
		}),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		Approvals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_approvals_total",
				Help: "Total number of approval decisions by decision and source",
			},
			[]string{"decision", "source"},
		),

		ApprovalWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_approval_wait_seconds",
			Help:    "Time pending approvals wait for a decision",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 300},
		}),

		PendingApprovals: factory.NewGauge(prometheus.GaugeOpts{
			Name: "warden_pending_approvals",
			Help: "Number of approval requests awaiting a decision",
		}),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path"},
		),
	}
}

// RecordLaneJob counts a finished lane job.
func (m *Metrics) RecordLaneJob(outcome string, waitSeconds float64) {
	if m == nil {
		return
	}
	m.LaneJobs.WithLabelValues(outcome).Inc()
	if waitSeconds >= 0 {
		m.LaneWait.Observe(waitSeconds)
	}
}

// SetLaneQueueDepth updates the queued-jobs gauge.
func (m *Metrics) SetLaneQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.LaneQueueDepth.Set(float64(depth))
}

// RecordTurn counts a finished turn.
func (m *Metrics) RecordTurn(outcome, code string, iterations int) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome, code).Inc()
	m.TurnIterations.Observe(float64(iterations))
}

// RecordLLMRequest records metrics for an LLM API request.
//
// Example:
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "success", time.Since(start).Seconds(), 100, 500)
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordApproval counts an approval decision. waitSeconds < 0 skips the
// wait histogram, used for policy decisions that never waited.
func (m *Metrics) RecordApproval(approved bool, source string, waitSeconds float64) {
	if m == nil {
		return
	}
	decision := "denied"
	if approved {
		decision = "approved"
	}
	m.Approvals.WithLabelValues(decision, source).Inc()
	if waitSeconds >= 0 {
		m.ApprovalWait.Observe(waitSeconds)
	}
}

// SetPendingApprovals updates the pending approvals gauge.
func (m *Metrics) SetPendingApprovals(n int) {
	if m == nil {
		return
	}
	m.PendingApprovals.Set(float64(n))
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(durationSeconds)
}
