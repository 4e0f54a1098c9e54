package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"uipilot/internal/browser"
	"uipilot/internal/flow"
	"uipilot/internal/poll"

	"go.uber.org/zap"
)

// StepHook runs after a step succeeds, before the next step starts.
type StepHook func(ctx context.Context, index int, step flow.Step, res StepResult)

// ProgressHook runs while a step with ProgressEvery set is still polling.
// seq counts the step's progress calls from 1.
type ProgressHook func(ctx context.Context, index int, step flow.Step, seq int)

// Executor runs an ordered step list against one page, strictly in order.
type Executor struct {
	logger   *zap.Logger
	pollLog  *zap.Logger
	observer Observer

	// Progress, if set, receives progress ticks from polling steps.
	Progress ProgressHook
}

// NewExecutor creates a step executor.
func NewExecutor(logger *zap.Logger, observer Observer) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Executor{logger: logger, pollLog: zap.NewNop(), observer: observer}
}

// RunSteps executes steps in declared order. It stops at the first failing
// step and returns the results so far (the last one being the failure), the
// extracted artifact if any, and the typed failure.
func (e *Executor) RunSteps(ctx context.Context, page browser.Page, steps []flow.Step, onSuccess StepHook) ([]StepResult, string, *Error) {
	results := make([]StepResult, 0, len(steps))
	var artifact string

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return results, artifact, &Error{Kind: KindRunTimedOut, Step: i + 1, StepName: step.Name,
				Err: fmt.Errorf("deadline reached before step started: %w", err)}
		}

		res, failure := e.RunStep(ctx, page, i+1, step)
		results = append(results, res)
		e.observer.StepFinished(step, res)
		if failure != nil {
			return results, artifact, failure
		}
		if res.Artifact != "" {
			artifact = res.Artifact
		}
		if onSuccess != nil {
			onSuccess(ctx, i+1, step, res)
		}
	}
	return results, artifact, nil
}

// RunStep executes one step with its retry policy. index is 1-indexed.
//
// Transient outcomes (NotFound, TimedOut) are retried after Backoff until
// Retries is spent. ActionFailed is final: the action may already have had
// side effects.
func (e *Executor) RunStep(ctx context.Context, page browser.Page, index int, step flow.Step) (StepResult, *Error) {
	start := time.Now()
	res := StepResult{Index: index, Name: step.Name, Action: step.Action}
	log := e.logger.With(zap.Int("step", index), zap.String("name", step.Name), zap.String("action", string(step.Action)))

	fail := func(status StepStatus, kind Kind, err error) (StepResult, *Error) {
		res.Status = status
		res.Elapsed = time.Since(start)
		res.Error = err.Error()
		log.Warn("step failed",
			zap.String("status", string(status)),
			zap.Int("attempts", res.Attempts),
			zap.Duration("elapsed", res.Elapsed),
			zap.Error(err))
		return res, &Error{Kind: kind, Step: index, StepName: step.Name, Err: err}
	}

	var re *regexp.Regexp
	if step.Action == flow.ActionExtract {
		var err error
		if re, err = regexp.Compile(step.Pattern); err != nil {
			return fail(StepActionFailed, KindStepActionFailed, fmt.Errorf("bad pattern: %w", err))
		}
	}

	onEval := e.progress(ctx, index, step)
	maxAttempts := step.Retries + 1
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		if attempt > 1 {
			log.Info("retrying step", zap.Int("attempt", attempt), zap.Duration("backoff", step.Backoff), zap.Error(lastErr))
			if err := poll.Sleep(ctx, step.Backoff); err != nil {
				return fail(StepTimedOut, KindRunTimedOut, err)
			}
		}
		log.Debug("step attempt", zap.Int("attempt", attempt))

		status, err := e.attempt(ctx, page, step, re, &res, onEval)
		if status == StepSucceeded {
			res.Status = StepSucceeded
			res.Elapsed = time.Since(start)
			log.Info("step succeeded",
				zap.Int("attempts", attempt),
				zap.Duration("elapsed", res.Elapsed),
				zap.String("matched", res.Matched),
				zap.String("artifact", res.Artifact))
			return res, nil
		}
		if cerr := ctx.Err(); cerr != nil {
			if !errors.Is(err, cerr) {
				err = fmt.Errorf("%w during %s", cerr, step.Action)
			}
			return fail(StepTimedOut, KindRunTimedOut, err)
		}
		if !status.Transient() {
			return fail(status, KindStepActionFailed, err)
		}
		res.Status = status
		lastErr = err
	}

	if step.Action == flow.ActionExtract {
		return fail(StepTimedOut, KindArtifactNotDetected, lastErr)
	}
	return fail(StepNotFound, KindStepNotFound, lastErr)
}

// attempt performs the step's action once and reports the step status it
// reached. Matched locators and extracted artifacts are recorded on res.
func (e *Executor) attempt(ctx context.Context, page browser.Page, step flow.Step, re *regexp.Regexp, res *StepResult, onEval func(int)) (StepStatus, error) {
	switch step.Action {
	case flow.ActionNavigate:
		actCtx, cancel := context.WithTimeout(ctx, stepTimeout(step))
		err := page.Navigate(actCtx, step.URL)
		cancel()
		if err != nil {
			return StepActionFailed, fmt.Errorf("navigate %s: %w", step.URL, err)
		}

	case flow.ActionExtract:
		pr, err := poll.Until(ctx, ArtifactPredicate(page, re, step.Contains), poll.Options{
			Timeout:    step.Timeout,
			Interval:   step.Interval,
			OnEvaluate: onEval,
		})
		if err != nil {
			return StepTimedOut, err
		}
		if pr.Status != poll.Matched {
			e.pollTimedOut(step, "artifact", pr)
			return StepTimedOut, fmt.Errorf("no match for %q after %d checks in %s", step.Pattern, pr.Evaluations, pr.Elapsed.Round(time.Millisecond))
		}
		res.Artifact = pr.Value
		res.Matched = step.Pattern

	default:
		el, loc, err := e.resolve(ctx, page, step, onEval)
		if err != nil {
			return StepTimedOut, err
		}
		if el == nil {
			return StepNotFound, fmt.Errorf("no locator resolved within %s: %s", step.Timeout, describe(step.Locators))
		}
		res.Matched = loc.String()
		if err := e.act(ctx, el, step); err != nil {
			return StepActionFailed, fmt.Errorf("%s via %s: %w", step.Action, loc, err)
		}
	}

	if step.Verify != nil {
		ok, err := e.verify(ctx, page, step)
		if err != nil {
			return StepTimedOut, err
		}
		if !ok {
			return StepActionFailed,
				fmt.Errorf("post-action check %s %q did not hold within %s", step.Verify.Kind, step.Verify.Value, step.Verify.Timeout)
		}
	}
	return StepSucceeded, nil
}

// progress returns the poll callback that fires the Progress hook at most
// once per step.ProgressEvery, or nil when the step wants no progress.
func (e *Executor) progress(ctx context.Context, index int, step flow.Step) func(int) {
	if step.ProgressEvery <= 0 || e.Progress == nil {
		return nil
	}
	last := time.Now()
	seq := 0
	return func(int) {
		if time.Since(last) < step.ProgressEvery {
			return
		}
		seq++
		e.Progress(ctx, index, step, seq)
		last = time.Now()
	}
}

func (e *Executor) pollTimedOut(step flow.Step, what string, pr poll.Result) {
	e.pollLog.Debug("poll timed out",
		zap.String("step", step.Name),
		zap.String("waiting_for", what),
		zap.Int("evaluations", pr.Evaluations),
		zap.Duration("elapsed", pr.Elapsed))
}

// resolve polls the step's locators in declared order until one resolves or
// the step timeout passes. A nil element with a nil error means not found.
func (e *Executor) resolve(ctx context.Context, page browser.Page, step flow.Step, onEval func(int)) (browser.Element, browser.Locator, error) {
	var (
		found   browser.Element
		matched browser.Locator
	)
	pr, err := poll.Until(ctx, func(ctx context.Context) (string, bool) {
		for _, loc := range step.Locators {
			el, err := page.Find(ctx, loc)
			if err != nil {
				if !errors.Is(err, browser.ErrNotFound) {
					e.logger.Debug("locator evaluation failed", zap.String("locator", loc.String()), zap.Error(err))
				}
				continue
			}
			found, matched = el, loc
			return loc.String(), true
		}
		return "", false
	}, poll.Options{Timeout: step.Timeout, Interval: step.Interval, OnEvaluate: onEval})
	if err != nil {
		return nil, browser.Locator{}, err
	}
	if pr.Status != poll.Matched {
		e.pollTimedOut(step, describe(step.Locators), pr)
	}
	return found, matched, nil
}

func (e *Executor) act(ctx context.Context, el browser.Element, step flow.Step) error {
	actCtx, cancel := context.WithTimeout(ctx, stepTimeout(step))
	defer cancel()
	switch step.Action {
	case flow.ActionClick:
		return el.Click(actCtx)
	case flow.ActionType:
		return el.Type(actCtx, step.Text)
	case flow.ActionWait:
		return nil
	default:
		return fmt.Errorf("unsupported action %q", step.Action)
	}
}

// verify polls the step's post-action condition.
func (e *Executor) verify(ctx context.Context, page browser.Page, step flow.Step) (bool, error) {
	cond := *step.Verify
	pred := ConditionPredicate(page, cond)
	pr, err := poll.Until(ctx, pred, poll.Options{Timeout: cond.Timeout, Interval: step.Interval})
	if err != nil {
		return false, err
	}
	if pr.Status != poll.Matched {
		e.pollTimedOut(step, "verify "+string(cond.Kind), pr)
	}
	return pr.Status == poll.Matched, nil
}

// ConditionPredicate turns a condition into a poll predicate.
func ConditionPredicate(page browser.Page, cond flow.Condition) poll.Predicate {
	return func(ctx context.Context) (string, bool) {
		switch cond.Kind {
		case flow.ConditionText:
			text, err := page.Text(ctx)
			if err != nil || !strings.Contains(text, cond.Value) {
				return "", false
			}
			return cond.Value, true
		case flow.ConditionURL:
			u, err := page.URL(ctx)
			if err != nil || !strings.Contains(u, cond.Value) {
				return "", false
			}
			return u, true
		case flow.ConditionPresent:
			for _, loc := range cond.Locators {
				if _, err := page.Find(ctx, loc); err == nil {
					return loc.String(), true
				}
			}
			return "", false
		case flow.ConditionAbsent:
			for _, loc := range cond.Locators {
				if _, err := page.Find(ctx, loc); !errors.Is(err, browser.ErrNotFound) {
					return "", false
				}
			}
			return "absent", true
		default:
			return "", false
		}
	}
}

func stepTimeout(step flow.Step) time.Duration {
	if step.Timeout <= 0 {
		return flow.DefaultDefaults().Timeout
	}
	return step.Timeout
}

func describe(locs []browser.Locator) string {
	parts := make([]string, len(locs))
	for i, l := range locs {
		parts[i] = l.String()
	}
	return strings.Join(parts, ", ")
}
