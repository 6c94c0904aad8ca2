// Package scheduler runs named jobs on krontab schedules, using
// github.com/robfig/cron/v3 as the timer loop.
//
// Features:
//   - Any cron.Schedule, normally a *krontab.Schedule (AddExpr parses one)
//   - Job overlap control policies (Allow/Skip/Delay)
//   - Per-job timeouts and unique job names
//   - Parent context support for lifecycle management
//   - Graceful shutdown with optional deadline (StopContext)
//   - Idempotent Start/Stop operations
//   - Panic recovery
//   - Hooks for start, finish, error and skipped activations
//
// Basic usage:
//
//	s := New(Config{Logger: logger, Location: loc})
//
//	_, err := s.AddExpr("0 30 2 * *", func(ctx context.Context, at time.Time) error {
//		return backup(ctx)
//	}, JobOptions{
//		Name:          "nightly-backup",
//		Timeout:       10 * time.Minute,
//		OverlapPolicy: SkipIfRunning,
//	})
//
//	s.Start()
//	defer s.Stop()
//
// Overlap policies:
//   - AllowOverlap: activations may run concurrently
//   - SkipIfRunning: drop the activation (OnJobSkip fires) while a run is active
//   - DelayIfRunning: queue the activation until the previous run finishes; the
//     run still receives its own fire second
//
// Stop and StopContext wait for running jobs even when a cancelled parent
// context already began the stop.
package scheduler
