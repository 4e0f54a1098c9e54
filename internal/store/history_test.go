package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"uipilot/internal/diag"
	"uipilot/internal/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history", "runs.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(id, flow string, status engine.RunStatus, started time.Time) *engine.RunResult {
	res := &engine.RunResult{
		RunID:      id,
		Flow:       flow,
		Status:     status,
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		Steps: []engine.StepResult{
			{Index: 1, Name: "open", Action: "navigate", Status: engine.StepSucceeded, Attempts: 1},
		},
	}
	switch status {
	case engine.RunCompleted:
		res.Artifact = "https://demo.vercel.app"
	case engine.RunFailedAtStep:
		res.FailedStep = 2
		res.ErrorKind = engine.KindStepNotFound.String()
		res.Error = "StepNotFound at step 2 (click import): no locator resolved"
		res.Steps = append(res.Steps, engine.StepResult{Index: 2, Name: "click import", Action: "click",
			Status: engine.StepNotFound, Attempts: 3})
		res.Diagnostic = &diag.Diagnostic{StepIndex: 2, TextPath: "/tmp/diag/step-02-click-import.txt"}
	case engine.RunTimedOut:
		res.ErrorKind = engine.KindRunTimedOut.String()
	}
	return res
}

func TestStore_RecordAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, sampleRun("run-1", "import", engine.RunFailedAtStep, started)))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "import", got.Flow)
	assert.Equal(t, engine.RunFailedAtStep, got.Status)
	assert.Equal(t, 2, got.FailedStep)
	assert.Equal(t, "StepNotFound", got.ErrorKind)
	assert.Equal(t, "/tmp/diag/step-02-click-import.txt", got.Diagnostic)
	assert.Equal(t, int64(1500), got.DurationMs)
	assert.True(t, got.StartedAt.Equal(started), "started_at round trips: %v", got.StartedAt)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, engine.StepNotFound, got.Steps[1].Status)
	assert.Equal(t, 3, got.Steps[1].Attempts)
}

func TestStore_GetUnknown(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStore_RecordReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	run := sampleRun("run-1", "import", engine.RunTimedOut, time.Now())
	require.NoError(t, s.Record(ctx, run))
	run.Status = engine.RunCompleted
	run.ErrorKind = ""
	require.NoError(t, s.Record(ctx, run))

	runs, err := s.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, engine.RunCompleted, runs[0].Status)
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, sampleRun("a", "import", engine.RunCompleted, base)))
	require.NoError(t, s.Record(ctx, sampleRun("b", "deploy", engine.RunCompleted, base.Add(time.Minute))))
	require.NoError(t, s.Record(ctx, sampleRun("c", "import", engine.RunFailedAtStep, base.Add(2*time.Minute))))

	all, err := s.List(ctx, "", 10)
	require.NoError(t, err)
	ids := make([]string, len(all))
	for i, r := range all {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids)

	imports, err := s.List(ctx, "import", 1)
	require.NoError(t, err)
	require.Len(t, imports, 1)
	assert.Equal(t, "c", imports[0].ID)
}

func TestStore_StatsAndPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, sampleRun("a", "import", engine.RunCompleted, base)))
	require.NoError(t, s.Record(ctx, sampleRun("b", "import", engine.RunFailedAtStep, base.Add(time.Hour))))
	require.NoError(t, s.Record(ctx, sampleRun("c", "import", engine.RunTimedOut, base.Add(2*time.Hour))))
	require.NoError(t, s.Record(ctx, sampleRun("d", "deploy", engine.RunCompleted, base.Add(3*time.Hour))))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "deploy", stats[0].Flow)
	imp := stats[1]
	assert.Equal(t, FlowStats{Flow: "import", Runs: 3, Completed: 1, Failed: 1, TimedOut: 1, LastRunAt: imp.LastRunAt}, imp)
	assert.InDelta(t, 1.0/3.0, imp.SuccessRate(), 1e-9)
	assert.Zero(t, FlowStats{}.SuccessRate())

	n, err := s.Prune(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	runs, err := s.List(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestStore_ObservesRuns(t *testing.T) {
	s := openTestStore(t)
	var ob engine.Observer = s
	ob.RunFinished(sampleRun("obs", "import", engine.RunCompleted, time.Now()))

	got, err := s.Get(context.Background(), "obs")
	require.NoError(t, err)
	assert.Equal(t, "https://demo.vercel.app", got.Artifact)
}

func TestStore_MigratesOldLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE runs (
		id TEXT PRIMARY KEY,
		flow TEXT NOT NULL,
		status TEXT NOT NULL,
		failed_step INTEGER DEFAULT 0,
		error TEXT,
		artifact TEXT,
		steps TEXT NOT NULL,
		duration_ms INTEGER,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, columnExists(s.db, "runs", "error_kind"))
	assert.True(t, columnExists(s.db, "runs", "diagnostic"))
	require.NoError(t, s.Record(context.Background(), sampleRun("x", "import", engine.RunFailedAtStep, time.Now())))
}

func TestParseTime(t *testing.T) {
	want := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	assert.True(t, parseTime(want.Format(time.RFC3339Nano)).Equal(want))
	assert.True(t, parseTime("2026-03-01 12:00:00.0000005+00:00").Equal(want))
	assert.True(t, parseTime("garbage").IsZero())
}
