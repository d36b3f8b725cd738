package runlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heroics-capital/treasury-recon/internal/recon"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "runlog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteRunLifecycle(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	id, err := s.Start(ctx, "2025-01-10..2025-01-10")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Nil(t, run.CompletedAt)

	summary := Summary{CacheHits: 3, Merged: 2, Unavailable: 1}
	require.NoError(t, s.Complete(ctx, id, summary))

	run, err = s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, run.Status)
	require.NotNil(t, run.CompletedAt)
	require.NotNil(t, run.Summary)
	assert.Equal(t, summary, *run.Summary)
}

func TestSQLiteFailRun(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	id, err := s.Start(ctx, "label")
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, id, "history write failed"))

	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, "history write failed", run.Error)
}

func TestSQLiteUnknownRun(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	_, err := s.GetRun(ctx, "missing")
	assert.Error(t, err)
	assert.Error(t, s.Complete(ctx, "missing", Summary{}))
	assert.Error(t, s.Fail(ctx, "missing", "x"))
}

func TestSQLiteTasks(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	id, err := s.Start(ctx, "label")
	require.NoError(t, err)

	q := recon.Quadruple{
		Date:      time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		Fundation: recon.FundationHV,
		Bank:      recon.BankGS,
		Kind:      recon.KindCash,
	}
	require.NoError(t, s.RecordTask(ctx, id, q, "merged", ""))
	q.Bank = recon.BankMS
	require.NoError(t, s.RecordTask(ctx, id, q, "failed", "garbled statement"))

	tasks, err := s.ListTasks(ctx, id)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "2025-01-10", tasks[0].Date)
	assert.Equal(t, "GS", tasks[0].Bank)
	assert.Equal(t, "merged", tasks[0].Outcome)
	assert.Empty(t, tasks[0].Error)
	assert.Equal(t, "failed", tasks[1].Outcome)
	assert.Equal(t, "garbled statement", tasks[1].Error)
}

func TestSQLiteListRunsNewestFirst(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	first, err := s.Start(ctx, "first")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := s.Start(ctx, "second")
	require.NoError(t, err)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, first, runs[1].ID)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "dsn")
	assert.Error(t, err)
}
