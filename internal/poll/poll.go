// Package poll implements the wait-until-predicate loop used to decide whether
// the page reached a state or produced an artifact.
package poll

import (
	"context"
	"errors"
	"time"
)

// Status is the terminal outcome of a poll.
type Status string

const (
	Matched  Status = "matched"
	TimedOut Status = "timed_out"
)

// DefaultInterval applies when Options.Interval is unset.
const DefaultInterval = 500 * time.Millisecond

// Predicate inspects the current page state. It must not fail on a page that
// is mid-transition; it reports ok=false instead.
type Predicate func(ctx context.Context) (value string, ok bool)

// Options bound a poll.
type Options struct {
	Timeout  time.Duration
	Interval time.Duration

	// OnEvaluate, if set, is called after every evaluation that did not match.
	OnEvaluate func(evaluation int)
}

// Result reports how a poll ended.
type Result struct {
	Status      Status
	Value       string
	Evaluations int
	Elapsed     time.Duration
}

// ErrInvalidOptions is returned for a negative timeout.
var ErrInvalidOptions = errors.New("poll: timeout must not be negative")

// Until evaluates pred immediately and then once per interval until it
// matches or the timeout elapses. A poll that times out has evaluated at least
// Timeout/Interval times and at most Timeout/Interval+1 times. Cancelling ctx
// stops the poll before the next evaluation and returns ctx.Err().
func Until(ctx context.Context, pred Predicate, opts Options) (Result, error) {
	if opts.Timeout < 0 {
		return Result{}, ErrInvalidOptions
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	minEvals := int(opts.Timeout / interval)
	maxEvals := minEvals + 1

	start := time.Now()
	deadline := start.Add(opts.Timeout)

	timer := time.NewTimer(interval)
	timer.Stop()
	defer timer.Stop()

	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return Result{Status: TimedOut, Evaluations: n - 1, Elapsed: time.Since(start)}, err
		}

		if value, ok := pred(ctx); ok {
			return Result{Status: Matched, Value: value, Evaluations: n, Elapsed: time.Since(start)}, nil
		}
		if opts.OnEvaluate != nil {
			opts.OnEvaluate(n)
		}

		if n >= maxEvals || (n >= minEvals && !time.Now().Before(deadline)) {
			return Result{Status: TimedOut, Evaluations: n, Elapsed: time.Since(start)}, nil
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return Result{Status: TimedOut, Evaluations: n, Elapsed: time.Since(start)}, ctx.Err()
		case <-timer.C:
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
