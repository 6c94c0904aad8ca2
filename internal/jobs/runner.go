package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"krontab/internal/adapter/journal"
	"krontab/pkg/retry"
)

// Journal records finished runs.
type Journal interface {
	Record(ctx context.Context, run journal.Run) (journal.Run, error)
}

// Metrics observes finished runs.
type Metrics interface {
	ObserveRun(job, status string, took time.Duration, attempts int)
	Skipped(job string)
}

// Notifier is told about failed runs.
type Notifier interface {
	Notify(ctx context.Context, run journal.Run) error
}

// bookkeepingTimeout bounds journal writes and notifications after a run,
// which must complete even when the run's context is already done.
const bookkeepingTimeout = 10 * time.Second

// Runner executes single runs of definitions.
type Runner struct {
	journal  Journal
	metrics  Metrics
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClock replaces time.Now and time.After, for tests.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
		if after != nil {
			r.after = after
		}
	}
}

// NewRunner creates a runner. Nil collaborators are replaced with no-ops.
func NewRunner(j Journal, m Metrics, n Notifier, log *slog.Logger, opts ...RunnerOption) *Runner {
	if j == nil {
		j = journal.Nop{}
	}
	if m == nil {
		m = nopMetrics{}
	}
	if n == nil {
		n = nopNotifier{}
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Runner{
		journal:  j,
		metrics:  m,
		notifier: n,
		log:      log.With(slog.String("component", "runner")),
		now:      time.Now,
		after:    time.After,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one activation of def scheduled for scheduledAt. The action is
// retried per def.Retry; the caller's context carries the timeout. The
// returned run has already been recorded.
func (r *Runner) Run(ctx context.Context, def *Definition, scheduledAt time.Time) journal.Run {
	log := r.log.With(slog.String("job", def.Name))
	run := journal.Run{
		Job:         def.Name,
		ScheduledAt: scheduledAt,
		StartedAt:   r.now(),
	}

	cfg := def.Retry
	cfg.After = r.after
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("attempt failed, retrying",
			slog.Int("attempt", attempt), slog.Duration("delay", delay), slog.Any("error", err))
	}
	var output string
	err := retry.DoWithRetryable(ctx, cfg, func(ctx context.Context) error {
		run.Attempts++
		var err error
		output, err = safeRun(ctx, def.Action)
		return err
	}, def.Action.Retryable)

	run.FinishedAt = r.now()
	run.Output = output
	run.Status = journal.StatusSucceeded
	if err != nil {
		run.Status = journal.StatusFailed
		run.Error = err.Error()
	}
	run.Attempts = max(run.Attempts, 1)

	if err != nil {
		log.Error("job failed", slog.Int("attempts", run.Attempts),
			slog.Duration("duration", run.Duration()), slog.Any("error", err))
	} else {
		log.Info("job succeeded", slog.Int("attempts", run.Attempts), slog.Duration("duration", run.Duration()))
	}
	return r.finish(ctx, run)
}

// Skip records an activation dropped because the previous run was still going.
func (r *Runner) Skip(ctx context.Context, job string, scheduledAt time.Time) journal.Run {
	now := r.now()
	r.metrics.Skipped(job)
	r.log.Warn("job still running, activation skipped", slog.String("job", job), slog.Time("scheduled_at", scheduledAt))
	return r.finish(ctx, journal.Run{
		Job:         job,
		ScheduledAt: scheduledAt,
		StartedAt:   now,
		FinishedAt:  now,
		Status:      journal.StatusSkipped,
	})
}

func (r *Runner) finish(ctx context.Context, run journal.Run) journal.Run {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	r.metrics.ObserveRun(run.Job, string(run.Status), run.Duration(), run.Attempts)
	recorded, err := r.journal.Record(ctx, run)
	if err != nil {
		r.log.Error("journal record failed", slog.String("job", run.Job), slog.Any("error", err))
	} else {
		run = recorded
	}
	if run.Status == journal.StatusFailed {
		if err := r.notifier.Notify(ctx, run); err != nil {
			r.log.Warn("failure notification not sent", slog.String("job", run.Job), slog.Any("error", err))
		}
	}
	return run
}

// safeRun turns a panicking action into an error so the run is still recorded.
func safeRun(ctx context.Context, a Action) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = retry.Permanent(fmt.Errorf("action panicked: %v", p))
		}
	}()
	return a.Run(ctx)
}

// RunError is returned to the scheduler for failed runs.
type RunError struct {
	Run journal.Run
}

func (e *RunError) Error() string {
	return fmt.Sprintf("job %s failed after %d attempt(s): %s", e.Run.Job, e.Run.Attempts, e.Run.Error)
}

// Err converts a finished run into the scheduler's error contract.
func Err(run journal.Run) error {
	if run.Status != journal.StatusFailed {
		return nil
	}
	return &RunError{Run: run}
}

// IsRunError reports whether err came from a failed run.
func IsRunError(err error) bool {
	var re *RunError
	return errors.As(err, &re)
}

type nopMetrics struct{}

func (nopMetrics) ObserveRun(string, string, time.Duration, int) {}
func (nopMetrics) Skipped(string)                                {}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, journal.Run) error { return nil }
