package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"uipilot/internal/engine"
	"uipilot/internal/flow"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveRun(t *testing.T) {
	m := New()
	var ob engine.Observer = m

	click := flow.Step{Name: "click import", Action: flow.ActionClick}
	ob.StepFinished(click, engine.StepResult{Status: engine.StepSucceeded, Attempts: 2, Elapsed: 3 * time.Second})
	ob.StepFinished(click, engine.StepResult{Status: engine.StepNotFound, Attempts: 3, Elapsed: time.Second})

	start := time.Now()
	ob.RunFinished(&engine.RunResult{Flow: "import", Status: engine.RunCompleted,
		Artifact: "https://a.vercel.app", StartedAt: start, FinishedAt: start.Add(time.Minute)})
	ob.RunFinished(&engine.RunResult{Flow: "import", Status: engine.RunFailedAtStep, ErrorKind: "StepNotFound",
		StartedAt: start, FinishedAt: start.Add(time.Second)})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.steps.WithLabelValues("click import", "click", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.steps.WithLabelValues("click import", "click", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("import", "completed", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("import", "failed_at_step", "StepNotFound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.artifacts.WithLabelValues("import")))
	assert.Equal(t, float64(start.Add(time.Minute).Unix()), testutil.ToFloat64(m.lastRun.WithLabelValues("import", "completed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.stepAttempts))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.StepFinished(flow.Step{}, engine.StepResult{})
	m.RunFinished(&engine.RunResult{})
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := New()
	m.RunFinished(&engine.RunResult{Flow: "deploy", Status: engine.RunTimedOut, ErrorKind: "RunTimedOut"})

	path := filepath.Join(t.TempDir(), "textfile", "uipilot.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "# TYPE uipilot_runs_total counter")
	assert.True(t, strings.Contains(out, `uipilot_runs_total{error_kind="RunTimedOut",flow="deploy",status="timed_out"} 1`), out)
}
