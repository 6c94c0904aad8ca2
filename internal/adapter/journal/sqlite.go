package journal

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"krontab/internal/platform/sqlite"
)

// SQLite хранит журнал запусков в файле SQLite.
type SQLite struct {
	db        *sql.DB
	retention int
}

// OpenSQLite открывает (или создает) базу по пути path и применяет миграции.
func OpenSQLite(ctx context.Context, path string, retention int) (*SQLite, error) {
	db, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, storeError("open sqlite", err)
	}
	return newSQLite(db, retention)
}

// OpenSQLiteInMemory используется в тестах.
func OpenSQLiteInMemory(ctx context.Context, retention int) (*SQLite, error) {
	db, err := sqlite.OpenInMemory(ctx)
	if err != nil {
		return nil, storeError("open sqlite", err)
	}
	return newSQLite(db, retention)
}

func newSQLite(db *sql.DB, retention int) (*SQLite, error) {
	if _, err := sqlite.Migrate(db, migrationsFS, sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, storeError("migrate sqlite", err)
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &SQLite{db: db, retention: retention}, nil
}

const (
	sqliteInsert = `INSERT INTO runs (job, scheduled_at, started_at, finished_at, status, attempts, error, output)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	// Оставляем только retention последних запусков задачи.
	sqlitePrune = `DELETE FROM runs WHERE job = ? AND id NOT IN (
	SELECT id FROM runs WHERE job = ? ORDER BY started_at DESC, id DESC LIMIT ?)`
	sqliteSelect = `SELECT id, job, scheduled_at, started_at, finished_at, status, attempts, error, output
FROM runs WHERE job = ? ORDER BY started_at DESC, id DESC LIMIT ?`
)

func (s *SQLite) Record(ctx context.Context, run Run) (Run, error) {
	if err := run.validate(); err != nil {
		return Run{}, err
	}
	err := sqlite.WithinTx(ctx, s.db, func(q sqlite.Querier) error {
		res, err := q.ExecContext(ctx, sqliteInsert,
			run.Job, unixNano(run.ScheduledAt), unixNano(run.StartedAt), unixNano(run.FinishedAt),
			string(run.Status), run.Attempts, run.Error, run.Output)
		if err != nil {
			return err
		}
		if run.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, sqlitePrune, run.Job, run.Job, s.retention)
		return err
	})
	if err != nil {
		return Run{}, storeError("record run", err)
	}
	return run, nil
}

func (s *SQLite) Recent(ctx context.Context, job string, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelect, job, normalizeLimit(limit))
	if err != nil {
		return nil, storeError("query runs", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, storeError("scan run", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("query runs", err)
	}
	return out, nil
}

func (s *SQLite) Last(ctx context.Context, job string) (Run, error) {
	run, err := scanSQLiteRun(s.db.QueryRowContext(ctx, sqliteSelect, job, 1))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, noRuns(job)
	}
	if err != nil {
		return Run{}, storeError("last run", err)
	}
	return run, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return storeError("ping sqlite", s.db.PingContext(ctx))
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row scanner) (Run, error) {
	var (
		run                          Run
		scheduled, started, finished int64
		status                       string
	)
	err := row.Scan(&run.ID, &run.Job, &scheduled, &started, &finished,
		&status, &run.Attempts, &run.Error, &run.Output)
	if err != nil {
		return Run{}, err
	}
	run.ScheduledAt = fromUnixNano(scheduled)
	run.StartedAt = fromUnixNano(started)
	run.FinishedAt = fromUnixNano(finished)
	run.Status = Status(status)
	return run, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

var _ Store = (*SQLite)(nil)
