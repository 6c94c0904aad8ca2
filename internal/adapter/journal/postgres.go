package journal

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"krontab/internal/platform/pg"
)

// Postgres хранит журнал запусков в таблице krontab_runs.
type Postgres struct {
	pool      *pgxpool.Pool
	retention int
}

// OpenPostgres применяет миграции и открывает пул. dsn должен быть URL.
func OpenPostgres(ctx context.Context, dsn string, retention int) (*Postgres, error) {
	if _, err := pg.ApplyMigrationsFromFS(dsn, migrationsFS, postgresMigrations); err != nil {
		return nil, storeError("migrate postgres", err)
	}
	pool, err := pg.NewPool(ctx, dsn)
	if err != nil {
		return nil, storeError("open postgres", err)
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Postgres{pool: pool, retention: retention}, nil
}

const (
	pgInsert = `INSERT INTO krontab_runs (job, scheduled_at, started_at, finished_at, status, attempts, error, output)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`
	pgPrune = `DELETE FROM krontab_runs WHERE job = $1 AND id NOT IN (
	SELECT id FROM krontab_runs WHERE job = $1 ORDER BY started_at DESC, id DESC LIMIT $2)`
	pgSelect = `SELECT id, job, scheduled_at, started_at, finished_at, status, attempts, error, output
FROM krontab_runs WHERE job = $1 ORDER BY started_at DESC, id DESC LIMIT $2`
)

func (p *Postgres) Record(ctx context.Context, run Run) (Run, error) {
	if err := run.validate(); err != nil {
		return Run{}, err
	}
	err := pg.WithinTx(ctx, p.pool, func(q pg.Querier) error {
		err := q.QueryRow(ctx, pgInsert,
			run.Job, run.ScheduledAt, run.StartedAt, run.FinishedAt,
			string(run.Status), run.Attempts, run.Error, run.Output,
		).Scan(&run.ID)
		if err != nil {
			return err
		}
		_, err = q.Exec(ctx, pgPrune, run.Job, p.retention)
		return err
	})
	if err != nil {
		return Run{}, storeError("record run", err)
	}
	return run, nil
}

func (p *Postgres) Recent(ctx context.Context, job string, limit int) ([]Run, error) {
	rows, err := p.pool.Query(ctx, pgSelect, job, normalizeLimit(limit))
	if err != nil {
		return nil, storeError("query runs", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanPgRun(rows)
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

func (p *Postgres) Last(ctx context.Context, job string) (Run, error) {
	run, err := scanPgRun(p.pool.QueryRow(ctx, pgSelect, job, 1))
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, noRuns(job)
	}
	if err != nil {
		return Run{}, storeError("last run", err)
	}
	return run, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return storeError("ping postgres", pg.Ping(ctx, p.pool, 2*time.Second))
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanPgRun(row pgx.Row) (Run, error) {
	var (
		run    Run
		status string
	)
	err := row.Scan(&run.ID, &run.Job, &run.ScheduledAt, &run.StartedAt, &run.FinishedAt,
		&status, &run.Attempts, &run.Error, &run.Output)
	if err != nil {
		return Run{}, err
	}
	run.ScheduledAt = run.ScheduledAt.UTC()
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = run.FinishedAt.UTC()
	run.Status = Status(status)
	return run, nil
}

var _ Store = (*Postgres)(nil)
