package krontab_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krontab/pkg/krontab"
)

// fakeClock advances its time by exactly the requested duration on every wait.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) option() krontab.Option {
	return krontab.WithClock(c.Now, c.After)
}

func TestDoOnce(t *testing.T) {
	clock := newFakeClock(utc(2021, 3, 15, 8, 0, 0))

	got, err := krontab.DoOnceExpr(context.Background(), "0 0 12 * *",
		func(_ context.Context, at time.Time) (string, error) {
			return at.Format(time.RFC3339), nil
		},
		clock.option(), krontab.WithLocation(time.UTC),
	)

	require.NoError(t, err)
	assert.Equal(t, "2021-03-15T12:00:00Z", got)
	assert.Equal(t, []time.Duration{4 * time.Hour}, clock.waits)
}

func TestDoOnce_ReturnsCallbackError(t *testing.T) {
	clock := newFakeClock(utc(2021, 3, 15, 8, 0, 0))
	boom := errors.New("boom")

	_, err := krontab.DoOnce(context.Background(), krontab.MustParse("0 0 12 * *"),
		func(context.Context, time.Time) (int, error) { return 0, boom },
		clock.option(),
	)
	assert.ErrorIs(t, err, boom)
}

func TestDoOnce_WithLocation(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	clock := newFakeClock(utc(2021, 1, 1, 0, 0, 0))

	at, err := krontab.DoOnceExpr(context.Background(), "0 0 12 * *",
		func(_ context.Context, at time.Time) (time.Time, error) { return at, nil },
		clock.option(), krontab.WithLocation(jst),
	)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 1, 1, 12, 0, 0, 0, jst), at)
	assert.Equal(t, utc(2021, 1, 1, 3, 0, 0), at.UTC())
}

func TestDoWhile(t *testing.T) {
	clock := newFakeClock(utc(2021, 1, 1, 0, 0, 3))
	var fired []time.Time

	err := krontab.DoWhileExpr(context.Background(), "0/10 * * * *",
		func(_ context.Context, at time.Time) (bool, error) {
			fired = append(fired, at)
			return len(fired) < 3, nil
		},
		clock.option(), krontab.WithLocation(time.UTC),
	)

	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		utc(2021, 1, 1, 0, 0, 10),
		utc(2021, 1, 1, 0, 0, 20),
		utc(2021, 1, 1, 0, 0, 30),
	}, fired)
}

func TestDoWhile_NeverFiresTwiceInOneSecond(t *testing.T) {
	now := utc(2021, 1, 1, 0, 0, 0)
	var fired []time.Time

	err := krontab.DoWhileExpr(context.Background(), "* * * * *",
		func(_ context.Context, at time.Time) (bool, error) {
			fired = append(fired, at)
			return len(fired) < 3, nil
		},
		// The clock never moves on its own; only waits advance it.
		krontab.WithClock(func() time.Time { return now }, func(d time.Duration) <-chan time.Time {
			now = now.Add(d)
			ch := make(chan time.Time, 1)
			ch <- now
			return ch
		}),
		krontab.WithLocation(time.UTC),
	)

	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		utc(2021, 1, 1, 0, 0, 0),
		utc(2021, 1, 1, 0, 0, 1),
		utc(2021, 1, 1, 0, 0, 2),
	}, fired)
}

func TestDoWhile_StopsOnError(t *testing.T) {
	clock := newFakeClock(utc(2021, 1, 1, 0, 0, 0))
	boom := errors.New("boom")
	calls := 0

	err := krontab.DoWhileExpr(context.Background(), "0 * * * *",
		func(context.Context, time.Time) (bool, error) {
			calls++
			if calls == 2 {
				return true, boom
			}
			return true, nil
		},
		clock.option(),
	)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestDoForever_StopsOnCancel(t *testing.T) {
	clock := newFakeClock(utc(2021, 1, 1, 0, 0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0

	err := krontab.DoForeverExpr(ctx, "0 * * * *",
		func(context.Context, time.Time) {
			calls++
			if calls == 3 {
				cancel()
			}
		},
		clock.option(),
	)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, calls)
}

func TestDoForever_CancelInterruptsWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := krontab.DoForever(ctx, krontab.MustParse("0 0 0 1 1"),
		func(context.Context, time.Time) { calls.Add(1) },
		krontab.WithClock(nil, func(time.Duration) <-chan time.Time { return make(chan time.Time) }),
	)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDoOnce_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false

	_, err := krontab.DoOnceExpr(ctx, "* * * * *", func(context.Context, time.Time) (bool, error) {
		called = true
		return true, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestCombinators_NoOccurrence(t *testing.T) {
	called := false
	fn := func(context.Context, time.Time) (bool, error) {
		called = true
		return true, nil
	}

	_, err := krontab.DoOnceExpr(context.Background(), "0 0 0 30 2", fn)
	assert.ErrorIs(t, err, krontab.ErrNoOccurrence)

	err = krontab.DoWhileExpr(context.Background(), "0 0 0 31 4", fn)
	assert.ErrorIs(t, err, krontab.ErrNoOccurrence)

	err = krontab.DoForeverExpr(context.Background(), "0 0 0 30 2", func(context.Context, time.Time) { called = true })
	assert.ErrorIs(t, err, krontab.ErrNoOccurrence)

	assert.False(t, called)
}

func TestCombinators_ParseError(t *testing.T) {
	called := false
	err := krontab.DoWhileExpr(context.Background(), "0 0 x * *", func(context.Context, time.Time) (bool, error) {
		called = true
		return false, nil
	})

	var pe *krontab.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, krontab.Hour, pe.Field)
	assert.False(t, called)
}
