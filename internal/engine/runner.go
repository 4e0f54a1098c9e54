// Package engine interprets a step list against a browser session: it runs
// steps in order with per-step retry, extracts the run artifact, captures
// diagnostics on failure, and always tears the session down.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"uipilot/internal/browser"
	"uipilot/internal/diag"
	"uipilot/internal/flow"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DiagnosticTimeout bounds diagnostic capture after the run context is done.
const DiagnosticTimeout = 10 * time.Second

// RunConfig configures one run.
type RunConfig struct {
	Flow           string
	Browser        browser.Config
	Deadline       time.Duration
	DiagnosticsDir string
}

// Runner owns complete runs: session open, step execution, diagnostics,
// teardown. A Runner holds no per-run state and may run flows concurrently.
type Runner struct {
	controller *browser.Controller
	logger     *zap.Logger
	pollLog    *zap.Logger
	observer   Observer
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithPollLogger sets the logger that reports polls ending without a match.
func WithPollLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.pollLog = logger
		}
	}
}

// WithObserver adds an outcome observer.
func WithObserver(ob Observer) Option {
	return func(r *Runner) {
		if ob == nil {
			return
		}
		if _, nop := r.observer.(nopObserver); nop {
			r.observer = ob
			return
		}
		r.observer = Observers{r.observer, ob}
	}
}

// NewRunner creates a runner that opens sessions through controller.
func NewRunner(controller *browser.Controller, opts ...Option) *Runner {
	r := &Runner{
		controller: controller,
		logger:     zap.NewNop(),
		pollLog:    zap.NewNop(),
		observer:   nopObserver{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run opens a session, executes steps, and closes the session exactly once
// however the run ends. The RunResult is always non-nil for a valid step list;
// on failure it is returned together with an *Error.
func (r *Runner) Run(ctx context.Context, cfg RunConfig, steps []flow.Step) (*RunResult, error) {
	if err := flow.ValidateSteps(steps); err != nil {
		return nil, fmt.Errorf("invalid step list: %w", err)
	}

	res := &RunResult{RunID: uuid.NewString(), Flow: cfg.Flow, StartedAt: time.Now()}
	log := r.logger.With(zap.String("run", res.RunID), zap.String("flow", cfg.Flow))
	rec := diag.NewRecorder(cfg.DiagnosticsDir, res.RunID, log.Named("diag"))
	defer r.finish(res, rec, log)

	if cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Deadline)
		defer cancel()
	}

	log.Info("run started", zap.Int("steps", len(steps)), zap.String("start_url", cfg.Browser.StartURL),
		zap.Duration("deadline", cfg.Deadline))

	session, err := r.controller.Open(ctx, cfg.Browser)
	if session != nil {
		defer func() {
			if cerr := session.Close(); cerr != nil {
				log.Warn("session teardown failed", zap.Error(cerr))
			}
		}()
	}
	if err != nil {
		kind := KindSessionLaunch
		label := "launch"
		if errors.Is(err, browser.ErrNavigation) {
			kind, label = KindNavigation, "start-page"
		}
		res.Status = RunFailedAtStep
		// The run deadline outranks the launch or start-page timeout it cut short.
		if ctx.Err() != nil {
			kind = KindRunTimedOut
			res.Status = RunTimedOut
		}
		runErr := &Error{Kind: kind, Err: err}
		if session != nil {
			r.capture(ctx, rec, session.Page(), 0, label, runErr)
		} else if _, werr := rec.Note(0, label, runErr.Error()); werr != nil {
			log.Warn("diagnostic write failed", zap.Error(werr))
		}
		res.Error = runErr.Error()
		res.ErrorKind = kind.String()
		return res, runErr
	}

	if err := session.Acquire(); err != nil {
		busy := busyError(session, err)
		res.Status = RunFailedAtStep
		res.Error = busy.Error()
		res.ErrorKind = busy.Kind.String()
		return res, busy
	}
	defer session.Release()

	return r.runSession(ctx, session, res, rec, steps, log)
}

// RunSession executes steps on a session the caller opened and will close.
// If another run holds the session it returns no result and a KindSessionBusy
// *Error wrapping browser.ErrSessionBusy.
func (r *Runner) RunSession(ctx context.Context, session *browser.Session, cfg RunConfig, steps []flow.Step) (*RunResult, error) {
	if err := flow.ValidateSteps(steps); err != nil {
		return nil, fmt.Errorf("invalid step list: %w", err)
	}
	if err := session.Acquire(); err != nil {
		return nil, busyError(session, err)
	}
	defer session.Release()

	res := &RunResult{RunID: uuid.NewString(), Flow: cfg.Flow, StartedAt: time.Now()}
	log := r.logger.With(zap.String("run", res.RunID), zap.String("flow", cfg.Flow), zap.String("session", session.ID))
	rec := diag.NewRecorder(cfg.DiagnosticsDir, res.RunID, log.Named("diag"))
	defer r.finish(res, rec, log)

	if cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Deadline)
		defer cancel()
	}
	return r.runSession(ctx, session, res, rec, steps, log)
}

func (r *Runner) runSession(ctx context.Context, session *browser.Session, res *RunResult, rec *diag.Recorder, steps []flow.Step, log *zap.Logger) (*RunResult, error) {
	page := session.Page()
	exec := NewExecutor(log.Named("executor"), r.observer)
	exec.pollLog = r.pollLog.With(zap.String("run", res.RunID))
	exec.Progress = func(ctx context.Context, index int, step flow.Step, seq int) {
		label := fmt.Sprintf("%s progress %d", step.Name, seq)
		if _, err := rec.Capture(ctx, page, index, label, "progress"); err != nil {
			log.Warn("progress capture failed", zap.Int("step", index), zap.Error(err))
		}
	}

	checkpoint := func(ctx context.Context, index int, step flow.Step, _ StepResult) {
		if !step.Checkpoint {
			return
		}
		if _, err := rec.Capture(ctx, page, index, step.Name, "checkpoint"); err != nil {
			log.Warn("checkpoint write failed", zap.Int("step", index), zap.Error(err))
		}
	}

	results, artifact, failure := exec.RunSteps(ctx, page, steps, checkpoint)
	res.Steps = results
	res.Artifact = artifact

	if failure != nil {
		r.capture(ctx, rec, page, failure.Step, failure.StepName, failure)
		res.Error = failure.Error()
		res.ErrorKind = failure.Kind.String()
		if failure.Kind == KindRunTimedOut {
			res.Status = RunTimedOut
		} else {
			res.Status = RunFailedAtStep
			res.FailedStep = failure.Step
		}
		return res, failure
	}

	res.Status = RunCompleted
	return res, nil
}

func busyError(session *browser.Session, err error) *Error {
	return &Error{Kind: KindSessionBusy, Err: fmt.Errorf("session %s: %w", session.ID, err)}
}

// capture snapshots the page for a failure. The run context may already be
// done, so capture uses a detached context with its own bound.
func (r *Runner) capture(ctx context.Context, rec *diag.Recorder, page browser.Page, index int, label string, failure error) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DiagnosticTimeout)
	defer cancel()
	if _, err := rec.Capture(dctx, page, index, label, failure.Error()); err != nil {
		r.logger.Warn("diagnostic write failed", zap.Int("step", index), zap.Error(err))
	}
}

func (r *Runner) finish(res *RunResult, rec *diag.Recorder, log *zap.Logger) {
	res.FinishedAt = time.Now()
	res.Diagnostics = rec.All()
	if d, ok := rec.Last(); ok {
		res.Diagnostic = &d
	}
	if res.Status == "" {
		// Panicking or rejected runs still report an outcome.
		res.Status = RunFailedAtStep
	}
	r.observer.RunFinished(res)
	log.Info("run finished",
		zap.String("outcome", res.Outcome()),
		zap.Duration("elapsed", res.Duration()),
		zap.String("artifact", res.Artifact),
		zap.Int("diagnostics", len(res.Diagnostics)))
}
