package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rlm"

// runtimeMetrics are the collectors of one rlm process, grouped by the
// component that updates them.
type runtimeMetrics struct {
	registry *prometheus.Registry

	// model service
	modelCalls   *prometheus.CounterVec
	modelLatency *prometheus.HistogramVec
	modelTokens  *prometheus.CounterVec
	rounds       *prometheus.CounterVec
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	delegations  *prometheus.CounterVec

	// tool bridge
	toolCalls   *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec
	truncations *prometheus.CounterVec

	// execution sessions
	liveSessions prometheus.Gauge
	submissions  prometheus.Histogram
	restarts     prometheus.Counter
}

var (
	once    sync.Once
	metrics *runtimeMetrics
)

func newRuntimeMetrics() *runtimeMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}

	return &runtimeMetrics{
		registry: reg,

		modelCalls:   counter("model_call_total", "Model service calls by provider and status.", "provider", "status"),
		modelLatency: histogram("model_call_duration_seconds", "Model service call latency by provider.", prometheus.DefBuckets, "provider"),
		modelTokens:  counter("model_tokens_total", "Tokens consumed by provider and direction.", "provider", "direction"),
		rounds:       counter("rounds_total", "Agent loop rounds by delegation depth.", "depth"),
		runs:         counter("agent_run_total", "Agent runs by kind (root, subagent) and terminal status.", "kind", "status"),
		runDuration:  histogram("agent_run_duration_seconds", "Agent run duration by kind.", prometheus.ExponentialBuckets(0.5, 2, 12), "kind"),
		delegations:  counter("delegation_total", "AGENT delegations by status.", "status"),

		toolCalls:   counter("tool_execution_total", "Tool executions by tool and status.", "tool", "status"),
		toolLatency: histogram("tool_execution_duration_seconds", "Tool execution latency by tool.", prometheus.DefBuckets, "tool"),
		truncations: counter("tool_output_truncated_total", "Tool result streams cut at the truncation limit.", "stream"),

		liveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_sessions",
			Help: "Execution sessions with a live interpreter.",
		}),
		submissions: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "submission_duration_seconds",
			Help:    "Code submission duration, nested delegation included.",
			Buckets: prometheus.DefBuckets,
		}),
		restarts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "interpreter_restarts_total",
			Help: "Interpreters restarted after dying mid-submission.",
		}),
	}
}

func getMetrics() *runtimeMetrics {
	once.Do(func() { metrics = newRuntimeMetrics() })
	return metrics
}

// EnsureRegistered creates the process registry if it does not exist yet
func EnsureRegistered() {
	getMetrics()
}

// MetricsHandler serves the process registry in the Prometheus text format
func MetricsHandler() http.Handler {
	reg := getMetrics().registry
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

func runKind(depth int) string {
	if depth == 0 {
		return "root"
	}
	return "subagent"
}

func RecordModelCall(provider string, d time.Duration, ok bool) {
	m := getMetrics()
	m.modelCalls.WithLabelValues(provider, status(ok)).Inc()
	m.modelLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func RecordTokens(provider string, input, output int) {
	m := getMetrics()
	m.modelTokens.WithLabelValues(provider, "input").Add(float64(input))
	m.modelTokens.WithLabelValues(provider, "output").Add(float64(output))
}

func RecordRound(depth int) {
	getMetrics().rounds.WithLabelValues(strconv.Itoa(depth)).Inc()
}

// RecordAgentRun records the terminal status of a run at the given depth
func RecordAgentRun(depth int, d time.Duration, outcomeStatus string) {
	m := getMetrics()
	kind := runKind(depth)
	m.runs.WithLabelValues(kind, outcomeStatus).Inc()
	m.runDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func RecordDelegation(outcomeStatus string) {
	getMetrics().delegations.WithLabelValues(outcomeStatus).Inc()
}

func RecordToolExecution(tool string, d time.Duration, ok bool) {
	m := getMetrics()
	m.toolCalls.WithLabelValues(tool, status(ok)).Inc()
	m.toolLatency.WithLabelValues(tool).Observe(d.Seconds())
}

func RecordTruncation(stream string) {
	getMetrics().truncations.WithLabelValues(stream).Inc()
}

func SessionStarted() { getMetrics().liveSessions.Inc() }

func SessionStopped() { getMetrics().liveSessions.Dec() }

func RecordSubmission(d time.Duration) {
	getMetrics().submissions.Observe(d.Seconds())
}

func RecordInterpreterRestart() {
	getMetrics().restarts.Inc()
}
