package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.AttemptStarted()
	m.AttemptStarted()
	m.TaskFinished("core-agent", "success", 3*time.Second, 0)
	m.TaskFinished("cli-agent", "permission_violation", time.Second, 2)
	m.Merge(true)
	m.Spend(100, 20, 0.5)
	m.RunFinished("run", "merged")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.attempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasks.WithLabelValues("core-agent", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.violations.WithLabelValues("cli-agent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.merges.WithLabelValues("ok")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.tokens.WithLabelValues("in"))+testutil.ToFloat64(m.tokens.WithLabelValues("out")))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.cost))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("run", "merged")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AttemptStarted()
		m.TaskFinished("a", "failed", time.Second, 1)
		m.Merge(false)
		m.Spend(1, 1, 1)
		m.RunFinished("skim", "rejected")
		assert.Nil(t, m.Registry())
		assert.NoError(t, m.WriteTextfile("/nonexistent/x.prom"))
	})
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := New()
	m.RunFinished("run", "merged")

	path := filepath.Join(t.TempDir(), "orch.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `orch_runs_total{kind="run",outcome="merged"} 1`), string(data))
}
