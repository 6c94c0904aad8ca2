package krontab

import (
	"context"
	"time"
)

// Option configures the execution helpers.
type Option func(*options)

type options struct {
	loc   *time.Location
	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

func defaultOptions() options {
	return options{
		loc:   time.Local,
		now:   time.Now,
		after: time.After,
	}
}

// WithLocation evaluates the schedule in loc instead of the local time zone.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithClock replaces the wall clock and the timer used for waiting.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
		if after != nil {
			o.after = after
		}
	}
}

// waiter suspends until successive occurrences of a schedule.
type waiter struct {
	options
	schedule *Schedule
	last     time.Time
}

func newWaiter(s *Schedule, opts []Option) *waiter {
	w := &waiter{options: defaultOptions(), schedule: s}
	for _, opt := range opts {
		opt(&w.options)
	}
	return w
}

// wait blocks until the next occurrence after both the current time and the
// previous occurrence, and returns it. It returns ctx.Err() when the context is
// done before or while waiting.
func (w *waiter) wait(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	ref := w.now().In(w.loc)
	if !w.last.IsZero() && !ref.After(w.last) {
		ref = w.last.Add(time.Nanosecond)
	}
	at, ok := w.schedule.NextAfter(ref)
	if !ok {
		return time.Time{}, ErrNoOccurrence
	}

	if d := at.Sub(w.now()); d > 0 {
		select {
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		case <-w.after(d):
		}
	}
	// Both channels may be ready at once; cancellation wins.
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	w.last = at
	return at, nil
}

// DoOnce waits for the next occurrence of s and calls fn once with it.
func DoOnce[T any](ctx context.Context, s *Schedule, fn func(ctx context.Context, at time.Time) (T, error), opts ...Option) (T, error) {
	var zero T
	at, err := newWaiter(s, opts).wait(ctx)
	if err != nil {
		return zero, err
	}
	return fn(ctx, at)
}

// DoWhile calls fn at each occurrence of s for as long as it returns true.
// It returns the first error from fn, ErrNoOccurrence, or ctx.Err().
func DoWhile(ctx context.Context, s *Schedule, fn func(ctx context.Context, at time.Time) (bool, error), opts ...Option) error {
	w := newWaiter(s, opts)
	for {
		at, err := w.wait(ctx)
		if err != nil {
			return err
		}
		more, err := fn(ctx, at)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// DoForever calls fn at each occurrence of s until ctx is done, and returns ctx.Err().
func DoForever(ctx context.Context, s *Schedule, fn func(ctx context.Context, at time.Time), opts ...Option) error {
	return DoWhile(ctx, s, func(ctx context.Context, at time.Time) (bool, error) {
		fn(ctx, at)
		return true, nil
	}, opts...)
}

// DoOnceExpr parses expr and runs DoOnce. Parse errors are returned without waiting.
func DoOnceExpr[T any](ctx context.Context, expr string, fn func(ctx context.Context, at time.Time) (T, error), opts ...Option) (T, error) {
	s, err := Parse(expr)
	if err != nil {
		var zero T
		return zero, err
	}
	return DoOnce(ctx, s, fn, opts...)
}

// DoWhileExpr parses expr and runs DoWhile.
func DoWhileExpr(ctx context.Context, expr string, fn func(ctx context.Context, at time.Time) (bool, error), opts ...Option) error {
	s, err := Parse(expr)
	if err != nil {
		return err
	}
	return DoWhile(ctx, s, fn, opts...)
}

// DoForeverExpr parses expr and runs DoForever.
func DoForeverExpr(ctx context.Context, expr string, fn func(ctx context.Context, at time.Time), opts ...Option) error {
	s, err := Parse(expr)
	if err != nil {
		return err
	}
	return DoForever(ctx, s, fn, opts...)
}
