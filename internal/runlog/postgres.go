package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/heroics-capital/treasury-recon/internal/recon"
)

// pool is the minimal pgxpool surface the store needs; pgxmock satisfies it
// in tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 5
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: p, closeFn: p.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	label        TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	summary      JSONB,
	error        TEXT
);

CREATE TABLE IF NOT EXISTS run_tasks (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	date        TEXT NOT NULL,
	fundation   TEXT NOT NULL,
	bank        TEXT NOT NULL,
	kind        TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	error       TEXT,
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_run_tasks_run_id ON run_tasks(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Start(ctx context.Context, label string) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, label, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, label, string(StatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: start run")
	}
	return id, nil
}

func (s *PostgresStore) RecordTask(ctx context.Context, runID string, q recon.Quadruple, outcome, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_tasks (id, run_id, date, fundation, bank, kind, outcome, error, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New().String(), runID,
		recon.FormatDate(q.Date), string(q.Fundation), string(q.Bank), string(q.Kind),
		outcome, nullable(errMsg), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: record task %s", q)
}

func (s *PostgresStore) Complete(ctx context.Context, runID string, summary Summary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, completed_at = $2, summary = $3 WHERE id = $4`,
		string(StatusComplete), time.Now().UTC(), summaryJSON, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("runlog: run %s not found", runID)
	}
	return nil
}

func (s *PostgresStore) Fail(ctx context.Context, runID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, completed_at = $2, error = $3 WHERE id = $4`,
		string(StatusFailed), time.Now().UTC(), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("runlog: run %s not found", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, label, status, started_at, completed_at, summary, error
		 FROM runs WHERE id = $1`, runID)
	run, err := scanPgRun(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("runlog: run %s not found", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, label, status, started_at, completed_at, summary, error
		 FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanPgRun(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs")
}

func (s *PostgresStore) ListTasks(ctx context.Context, runID string) ([]TaskRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, date, fundation, bank, kind, outcome, error, recorded_at
		 FROM run_tasks WHERE run_id = $1 ORDER BY recorded_at`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list tasks %s", runID)
	}
	defer rows.Close()

	var tasks []TaskRecord
	for rows.Next() {
		var (
			t      TaskRecord
			errStr *string
		)
		if err := rows.Scan(&t.ID, &t.RunID, &t.Date, &t.Fundation, &t.Bank, &t.Kind, &t.Outcome, &errStr, &t.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan task")
		}
		if errStr != nil {
			t.Error = *errStr
		}
		tasks = append(tasks, t)
	}
	return tasks, eris.Wrapf(rows.Err(), "postgres: list tasks %s", runID)
}

func scanPgRun(scan func(...any) error) (*Run, error) {
	var (
		run         Run
		status      string
		completedAt *time.Time
		summaryJSON []byte
		errStr      *string
	)
	if err := scan(&run.ID, &run.Label, &status, &run.StartedAt, &completedAt, &summaryJSON, &errStr); err != nil {
		return nil, err
	}
	run.Status = Status(status)
	run.CompletedAt = completedAt
	if len(summaryJSON) > 0 {
		var sum Summary
		if err := json.Unmarshal(summaryJSON, &sum); err == nil {
			run.Summary = &sum
		}
	}
	if errStr != nil {
		run.Error = *errStr
	}
	return &run, nil
}
