// Package runlog persists reconciliation run history: one row per run, one
// row per quadruple task, queryable after the fact. Two drivers are
// provided, embedded SQLite for single-operator setups and Postgres for the
// shared deployment.
package runlog

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/heroics-capital/treasury-recon/internal/recon"
)

// Status of a recorded run.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Summary aggregates per-quadruple outcomes for one run.
type Summary struct {
	CacheHits   int `json:"cache_hits"`
	Resolved    int `json:"resolved"`
	Merged      int `json:"merged"`
	Skipped     int `json:"skipped"`
	Unavailable int `json:"unavailable"`
	Failed      int `json:"failed"`
}

// Run is one recorded reconciliation run.
type Run struct {
	ID          string     `json:"id"`
	Label       string     `json:"label"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Summary     *Summary   `json:"summary,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// TaskRecord is one quadruple's outcome within a run.
type TaskRecord struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Date       string    `json:"date"`
	Fundation  string    `json:"fundation"`
	Bank       string    `json:"bank"`
	Kind       string    `json:"kind"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Store is the run history persistence interface.
type Store interface {
	Start(ctx context.Context, label string) (string, error)
	RecordTask(ctx context.Context, runID string, q recon.Quadruple, outcome, errMsg string) error
	Complete(ctx context.Context, runID string, summary Summary) error
	Fail(ctx context.Context, runID string, errMsg string) error

	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	ListTasks(ctx context.Context, runID string) ([]TaskRecord, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open constructs a Store for the configured driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, dsn)
	default:
		return nil, eris.Errorf("runlog: unknown driver %q", driver)
	}
}
