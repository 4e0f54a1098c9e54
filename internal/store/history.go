// Package store keeps a SQLite ledger of run outcomes so flow flakiness can be
// tracked across invocations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"uipilot/internal/engine"
	"uipilot/internal/flow"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned by Get for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded run outcome.
type Run struct {
	ID         string              `json:"id"`
	Flow       string              `json:"flow"`
	Status     engine.RunStatus    `json:"status"`
	FailedStep int                 `json:"failed_step,omitempty"`
	ErrorKind  string              `json:"error_kind,omitempty"`
	Error      string              `json:"error,omitempty"`
	Artifact   string              `json:"artifact,omitempty"`
	Steps      []engine.StepResult `json:"steps"`
	Diagnostic string              `json:"diagnostic,omitempty"`
	DurationMs int64               `json:"duration_ms"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
}

// FlowStats summarizes the recorded runs of one flow.
type FlowStats struct {
	Flow      string    `json:"flow"`
	Runs      int       `json:"runs"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	TimedOut  int       `json:"timed_out"`
	LastRunAt time.Time `json:"last_run_at"`
}

// SuccessRate returns the completed fraction, 0 for no runs.
func (s FlowStats) SuccessRate() float64 {
	if s.Runs == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Runs)
}

// Store persists run outcomes in SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	logger *zap.Logger
}

// Open opens or creates the ledger at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Debug("failed to set sqlite busy_timeout", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.Debug("failed to set sqlite journal_mode=WAL", zap.Error(err))
	}

	s := &Store{db: db, dbPath: path, logger: logger}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure run schema: %w", err)
	}
	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("run ledger opened", zap.String("path", path))
	return s, nil
}

func (s *Store) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		flow TEXT NOT NULL,
		status TEXT NOT NULL,
		failed_step INTEGER DEFAULT 0,
		error_kind TEXT,
		error TEXT,
		artifact TEXT,
		steps TEXT NOT NULL,
		diagnostic TEXT,
		duration_ms INTEGER,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_flow ON runs(flow);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Record persists a run result. Recording the same run twice replaces it.
func (s *Store) Record(ctx context.Context, res *engine.RunResult) error {
	if res == nil {
		return errors.New("nil run result")
	}
	stepsJSON, err := json.Marshal(res.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}

	var diagPath string
	if res.Diagnostic != nil {
		diagPath = res.Diagnostic.TextPath
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
		(id, flow, status, failed_step, error_kind, error, artifact, steps,
		 diagnostic, duration_ms, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.Flow, string(res.Status), res.FailedStep, res.ErrorKind, res.Error,
		res.Artifact, string(stepsJSON), diagPath, res.Duration().Milliseconds(),
		res.StartedAt.UTC(), res.FinishedAt.UTC(),
	)
	if err != nil {
		s.logger.Error("failed to record run", zap.String("run", res.RunID), zap.Error(err))
		return fmt.Errorf("record run %s: %w", res.RunID, err)
	}
	s.logger.Debug("run recorded", zap.String("run", res.RunID), zap.String("status", string(res.Status)))
	return nil
}

const runColumns = `id, flow, status, failed_step, error_kind, error, artifact, steps,
	diagnostic, duration_ms, started_at, finished_at`

// List returns the most recent runs, newest first. An empty flow lists all flows.
func (s *Store) List(ctx context.Context, flowName string, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	var (
		rows *sql.Rows
		err  error
	)
	if flowName == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs
			ORDER BY started_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs
			WHERE flow = ? ORDER BY started_at DESC LIMIT ?`, flowName, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// Get returns one run by ID.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	defer rows.Close()
	runs, err := scanRuns(rows)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return runs[0], nil
}

// Stats aggregates outcomes per flow, ordered by flow name.
func (s *Store) Stats(ctx context.Context) ([]FlowStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT flow,
		       COUNT(*),
		       SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
		       MAX(started_at)
		FROM runs
		GROUP BY flow
		ORDER BY flow`,
		string(engine.RunCompleted), string(engine.RunFailedAtStep), string(engine.RunTimedOut))
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()

	var out []FlowStats
	for rows.Next() {
		var (
			st   FlowStats
			last string
		)
		if err := rows.Scan(&st.Flow, &st.Runs, &st.Completed, &st.Failed, &st.TimedOut, &last); err != nil {
			return nil, err
		}
		st.LastRunAt = parseTime(last)
		out = append(out, st)
	}
	return out, rows.Err()
}

// Prune deletes runs that started before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Info("pruned run history", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	return n, nil
}

// RunFinished records the run, so a Store can observe a Runner directly.
func (s *Store) RunFinished(res *engine.RunResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Record(ctx, res); err != nil {
		s.logger.Warn("run history not recorded", zap.String("run", res.RunID), zap.Error(err))
	}
}

// StepFinished implements engine.Observer. Steps are stored with their run.
func (s *Store) StepFinished(flow.Step, engine.StepResult) {}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var (
			r                      Run
			status, steps          string
			kind, errMsg, artifact sql.NullString
			diagnostic             sql.NullString
			duration               sql.NullInt64
			startedAt, finishedAt  string
		)
		if err := rows.Scan(&r.ID, &r.Flow, &status, &r.FailedStep, &kind, &errMsg, &artifact,
			&steps, &diagnostic, &duration, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		r.Status = engine.RunStatus(status)
		r.ErrorKind = kind.String
		r.Error = errMsg.String
		r.Artifact = artifact.String
		r.Diagnostic = diagnostic.String
		r.DurationMs = duration.Int64
		r.StartedAt = parseTime(startedAt)
		r.FinishedAt = parseTime(finishedAt)
		if err := json.Unmarshal([]byte(steps), &r.Steps); err != nil {
			return nil, fmt.Errorf("decode steps of run %s: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// parseTime accepts the layouts the sqlite driver writes time.Time values in.
func parseTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
