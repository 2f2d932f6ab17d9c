package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Workflow metrics
	WorkflowExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_executions_total",
			Help: "Total number of workflow executions",
		},
		[]string{"status", "trigger"},
	)

	WorkflowExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workflow_execution_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	SchedulerFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_fallback_total",
			Help: "Runs that fell back to declaration order because the graph could not be sorted",
		},
	)

	// Node metrics
	NodeExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "node_executions_total",
			Help: "Total number of node executions",
		},
		[]string{"node_type", "status"},
	)

	NodeExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "node_execution_duration_seconds",
			Help:    "Node execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"node_type"},
	)

	// Agent and provider metrics
	AgentInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_invocations_total",
			Help: "Total number of AI agent invocations",
		},
		[]string{"provider", "status"},
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Chat completion request duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	ToolExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tool_executions_total",
			Help: "Total number of tool executions",
		},
		[]string{"tool", "status"},
	)

	// Notifier metrics
	NotifierConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_connections",
			Help: "Number of registered progress connections",
		},
	)

	NotifierEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_events_total",
			Help: "Progress events by type and delivery outcome",
		},
		[]string{"type", "outcome"},
	)
)

// RecordHTTPRequest records an HTTP request and its duration
func RecordHTTPRequest(method, path, status string, seconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

// RecordWorkflowExecution records a finished workflow run
func RecordWorkflowExecution(status, trigger string, seconds float64) {
	WorkflowExecutionsTotal.WithLabelValues(status, trigger).Inc()
	WorkflowExecutionDuration.WithLabelValues(status).Observe(seconds)
}

// RecordNodeExecution records a node attempt
func RecordNodeExecution(nodeType, status string, seconds float64) {
	NodeExecutionsTotal.WithLabelValues(nodeType, status).Inc()
	NodeExecutionDuration.WithLabelValues(nodeType).Observe(seconds)
}

func RecordAgentInvocation(provider, status string) {
	AgentInvocationsTotal.WithLabelValues(provider, status).Inc()
}

func RecordProviderDuration(provider string, seconds float64) {
	ProviderRequestDuration.WithLabelValues(provider).Observe(seconds)
}

func RecordToolExecution(tool, status string) {
	ToolExecutionsTotal.WithLabelValues(tool, status).Inc()
}

func RecordNotifierEvent(eventType, outcome string) {
	NotifierEventsTotal.WithLabelValues(eventType, outcome).Inc()
}
