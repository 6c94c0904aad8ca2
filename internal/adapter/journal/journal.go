// Package journal records job runs and serves the recent history per job.
//
// Stores: in-memory (default), SQLite (modernc.org/sqlite) and PostgreSQL (pgx).
// The SQL stores apply their embedded migrations on open.
package journal

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"krontab/internal/shared"
)

//go:embed migrations
var migrationsFS embed.FS

const (
	sqliteMigrations   = "migrations/sqlite"
	postgresMigrations = "migrations/postgres"
)

// DefaultRetention is the number of runs kept per job by the SQL stores.
const DefaultRetention = 500

// Status is the outcome of a single run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Run is one execution of a job.
type Run struct {
	ID          int64     `json:"id"`
	Job         string    `json:"job"`
	ScheduledAt time.Time `json:"scheduled_at"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Status      Status    `json:"status"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error,omitempty"`
	Output      string    `json:"output,omitempty"`
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r Run) validate() error {
	if r.Job == "" {
		return shared.Wrap(shared.ErrValidation, "journal: run without job name")
	}
	if !r.Status.Valid() {
		return shared.Wrapf(shared.ErrValidation, "journal: unknown status %q", r.Status)
	}
	return nil
}

// Store persists runs.
//
// Recent returns at most limit runs of job, newest first. Last returns the
// newest run of job or an error of kind NotFound.
type Store interface {
	Record(ctx context.Context, run Run) (Run, error)
	Recent(ctx context.Context, job string, limit int) ([]Run, error)
	Last(ctx context.Context, job string) (Run, error)
	Ping(ctx context.Context) error
	Close() error
}

// ErrNoRuns is returned by Last when a job has never run.
var ErrNoRuns = shared.MarkKind(errors.New("journal: no runs recorded"), shared.KindNotFound)

func noRuns(job string) error {
	return fmt.Errorf("%w for job %q", ErrNoRuns, job)
}

// storeError marks a storage failure as a dependency failure.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	return shared.MarkKind(fmt.Errorf("journal: %s: %w", op, err), shared.KindDependencyFailure)
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 1000:
		return 1000
	}
	return limit
}
