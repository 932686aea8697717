// Package metrics exposes Prometheus collectors for orch runs. A CLI run is
// short-lived, so collectors live in a private registry that can be dumped
// to a node_exporter textfile when the run ends.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orch"

// Metrics records run, task and merge activity. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs         *prometheus.CounterVec
	attempts     prometheus.Counter
	tasks        *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	violations   *prometheus.CounterVec
	merges       *prometheus.CounterVec
	tokens       *prometheus.CounterVec
	cost         prometheus.Counter
}

// New creates Metrics backed by a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Runs by final outcome.",
		}, []string{"kind", "outcome"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Planning attempts, including replans.",
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Delegated tasks by agent and result status.",
		}, []string{"agent", "status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall-clock time of delegated tasks.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"agent"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_violations_total",
			Help:      "Files changed outside an agent's ownership boundary.",
		}, []string{"agent"}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Worktree merges into the root tree by result.",
		}, []string{"result"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens reported by agent invocations.",
		}, []string{"direction"}),
		cost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Spend reported by agent invocations, in USD.",
		}),
	}
	m.registry.MustRegister(m.runs, m.attempts, m.tasks, m.taskDuration, m.violations, m.merges, m.tokens, m.cost)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RunFinished counts a finished run. kind is "run" or "skim".
func (m *Metrics) RunFinished(kind, outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(kind, outcome).Inc()
}

// AttemptStarted counts a planning attempt.
func (m *Metrics) AttemptStarted() {
	if m == nil {
		return
	}
	m.attempts.Inc()
}

// TaskFinished records one delegated task.
func (m *Metrics) TaskFinished(agent, status string, d time.Duration, violations int) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(agent, status).Inc()
	m.taskDuration.WithLabelValues(agent).Observe(d.Seconds())
	if violations > 0 {
		m.violations.WithLabelValues(agent).Add(float64(violations))
	}
}

// Merge counts a merge attempt.
func (m *Metrics) Merge(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.merges.WithLabelValues(result).Inc()
}

// Spend records token and cost usage of one invocation.
func (m *Metrics) Spend(tokensIn, tokensOut int, costUSD float64) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues("in").Add(float64(tokensIn))
	m.tokens.WithLabelValues("out").Add(float64(tokensOut))
	if costUSD > 0 {
		m.cost.Add(costUSD)
	}
}

// WriteTextfile writes every collector to path in the text exposition
// format. The write is atomic.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
