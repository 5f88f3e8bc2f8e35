package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus observations for the orchestrator, grounded
// on the teacher's PrometheusMetrics: a promauto factory bound to a
// registry (nil defaults to the global DefaultRegisterer), one field per
// metric, nil-receiver methods so callers may pass a nil *Metrics to
// disable collection entirely rather than branch at every call site.
type Metrics struct {
	inflightRuns *prometheus.GaugeVec
	workflowRuns *prometheus.CounterVec
	agentRuns    *prometheus.CounterVec
	agentLatency *prometheus.HistogramVec
	tokensUsed   *prometheus.CounterVec
}

// NewMetrics registers the engine's metrics with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		inflightRuns: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "workflow_engine",
			Name:      "inflight_runs",
			Help:      "Workflow runs currently executing.",
		}, []string{"workflow_id"}),
		workflowRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow_engine",
			Name:      "workflow_runs_total",
			Help:      "Workflow runs finished, labeled by terminal status.",
		}, []string{"status"}),
		agentRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow_engine",
			Name:      "agent_runs_total",
			Help:      "Agent node executions finished, labeled by terminal status.",
		}, []string{"status"}),
		agentLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workflow_engine",
			Name:      "agent_latency_ms",
			Help:      "Per-agent-node execution latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"provider"}),
		tokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow_engine",
			Name:      "tokens_used_total",
			Help:      "Cumulative provider tokens consumed, labeled by provider.",
		}, []string{"provider"}),
	}
}

// RunStarted records one more inflight run for workflowID.
func (m *Metrics) RunStarted(workflowID string) {
	if m == nil {
		return
	}
	m.inflightRuns.WithLabelValues(workflowID).Inc()
}

// RunFinished records a run leaving the inflight set and its terminal status.
func (m *Metrics) RunFinished(workflowID, status string) {
	if m == nil {
		return
	}
	m.inflightRuns.WithLabelValues(workflowID).Dec()
	m.workflowRuns.WithLabelValues(status).Inc()
}

// AgentFinished records one agent node's terminal status, and — only for
// a completed node, since latency/tokens are meaningful only then — its
// latency and token usage.
func (m *Metrics) AgentFinished(providerName, status string, latency time.Duration, tokensUsed int) {
	if m == nil {
		return
	}
	m.agentRuns.WithLabelValues(status).Inc()
	if status != "completed" {
		return
	}
	m.agentLatency.WithLabelValues(providerName).Observe(float64(latency.Milliseconds()))
	m.tokensUsed.WithLabelValues(providerName).Add(float64(tokensUsed))
}
