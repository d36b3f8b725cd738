package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/heroics-capital/treasury-recon/internal/recon"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	label        TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	summary      TEXT,
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
	recorded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_run_tasks_run_id ON run_tasks(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Start(ctx context.Context, label string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, label, status, started_at) VALUES (?, ?, ?, ?)`,
		id, label, string(StatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: start run")
	}
	return id, nil
}

func (s *SQLiteStore) RecordTask(ctx context.Context, runID string, q recon.Quadruple, outcome, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_tasks (id, run_id, date, fundation, bank, kind, outcome, error, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), runID,
		recon.FormatDate(q.Date), string(q.Fundation), string(q.Bank), string(q.Kind),
		outcome, nullable(errMsg), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: record task %s", q)
}

func (s *SQLiteStore) Complete(ctx context.Context, runID string, summary Summary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, summary = ? WHERE id = ?`,
		string(StatusComplete), time.Now().UTC(), string(summaryJSON), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) Fail(ctx context.Context, runID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(StatusFailed), time.Now().UTC(), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, label, status, started_at, completed_at, summary, error
		 FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row.Scan)
	if errIsNoRows(err) {
		return nil, eris.Errorf("runlog: run %s not found", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label, status, started_at, completed_at, summary, error
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs")
}

func (s *SQLiteStore) ListTasks(ctx context.Context, runID string) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, date, fundation, bank, kind, outcome, error, recorded_at
		 FROM run_tasks WHERE run_id = ? ORDER BY recorded_at`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list tasks %s", runID)
	}
	defer rows.Close()

	var tasks []TaskRecord
	for rows.Next() {
		var (
			t      TaskRecord
			errStr sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.RunID, &t.Date, &t.Fundation, &t.Bank, &t.Kind, &t.Outcome, &errStr, &t.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan task")
		}
		t.Error = errStr.String
		tasks = append(tasks, t)
	}
	return tasks, eris.Wrapf(rows.Err(), "sqlite: list tasks %s", runID)
}

// scanRun decodes one runs row via the given Scan function, shared by the
// single-row and multi-row paths.
func scanRun(scan func(...any) error) (*Run, error) {
	var (
		run         Run
		status      string
		completedAt sql.NullTime
		summaryJSON sql.NullString
		errStr      sql.NullString
	)
	if err := scan(&run.ID, &run.Label, &status, &run.StartedAt, &completedAt, &summaryJSON, &errStr); err != nil {
		return nil, err
	}
	run.Status = Status(status)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if summaryJSON.Valid && summaryJSON.String != "" {
		var sum Summary
		if err := json.Unmarshal([]byte(summaryJSON.String), &sum); err == nil {
			run.Summary = &sum
		}
	}
	run.Error = errStr.String
	return &run, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func errIsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("runlog: run %s not found", runID)
	}
	return nil
}
