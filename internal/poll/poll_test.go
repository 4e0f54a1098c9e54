package poll

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestUntil_ImmediateMatch(t *testing.T) {
	var calls int32
	res, err := Until(context.Background(), func(context.Context) (string, bool) {
		atomic.AddInt32(&calls, 1)
		return "https://demo.vercel.app", true
	}, Options{Timeout: time.Second, Interval: 100 * time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, Matched, res.Status)
	assert.Equal(t, "https://demo.vercel.app", res.Value)
	assert.Equal(t, 1, res.Evaluations)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Less(t, res.Elapsed, time.Second)
}

func TestUntil_NeverMatchesBoundsEvaluations(t *testing.T) {
	cases := []struct {
		timeout  time.Duration
		interval time.Duration
	}{
		{100 * time.Millisecond, 10 * time.Millisecond},
		{95 * time.Millisecond, 20 * time.Millisecond},
		{30 * time.Millisecond, 50 * time.Millisecond},
		{0, 10 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.timeout.String()+"/"+tc.interval.String(), func(t *testing.T) {
			var calls int
			res, err := Until(context.Background(), func(context.Context) (string, bool) {
				calls++
				return "", false
			}, Options{Timeout: tc.timeout, Interval: tc.interval})

			require.NoError(t, err)
			assert.Equal(t, TimedOut, res.Status)
			assert.Equal(t, calls, res.Evaluations)

			ratio := int(tc.timeout / tc.interval)
			assert.GreaterOrEqual(t, calls, ratio)
			assert.LessOrEqual(t, calls, ratio+1)
			assert.GreaterOrEqual(t, calls, 1)
		})
	}
}

func TestUntil_MatchesLater(t *testing.T) {
	var calls int
	res, err := Until(context.Background(), func(context.Context) (string, bool) {
		calls++
		if calls == 3 {
			return "ready", true
		}
		return "", false
	}, Options{Timeout: time.Second, Interval: 5 * time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, Matched, res.Status)
	assert.Equal(t, 3, res.Evaluations)
}

func TestUntil_CancellationStopsBeforeNextInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32

	done := make(chan struct{})
	var res Result
	var err error
	go func() {
		defer close(done)
		res, err = Until(ctx, func(context.Context) (string, bool) {
			atomic.AddInt32(&calls, 1)
			return "", false
		}, Options{Timeout: time.Hour, Interval: time.Hour})
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not stop after cancellation")
	}
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, TimedOut, res.Status)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestUntil_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Until(ctx, func(context.Context) (string, bool) {
		t.Fatal("predicate must not run")
		return "", false
	}, Options{Timeout: time.Second, Interval: time.Millisecond})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, res.Evaluations)
}

func TestUntil_DeadlineExceeded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := Until(ctx, func(context.Context) (string, bool) { return "", false },
		Options{Timeout: time.Minute, Interval: 10 * time.Millisecond})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUntil_NegativeTimeout(t *testing.T) {
	_, err := Until(context.Background(), func(context.Context) (string, bool) { return "", false },
		Options{Timeout: -time.Second})
	require.ErrorIs(t, err, ErrInvalidOptions)
}

func TestUntil_OnEvaluate(t *testing.T) {
	var seen []int
	_, err := Until(context.Background(), func(context.Context) (string, bool) { return "", false },
		Options{Timeout: 20 * time.Millisecond, Interval: 10 * time.Millisecond, OnEvaluate: func(n int) {
			seen = append(seen, n)
		}})
	require.NoError(t, err)
	require.NotEmpty(t, seen)
	assert.Equal(t, 1, seen[0])
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	require.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
}
