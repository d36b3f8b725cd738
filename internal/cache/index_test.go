package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heroics-capital/treasury-recon/internal/recon"
)

var testDate = time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC)

func quad(bank recon.Bank, kind recon.Kind) recon.Quadruple {
	return recon.Quadruple{Date: testDate, Fundation: recon.FundationHV, Bank: bank, Kind: kind}
}

// finderFunc adapts a function to the Finder interface.
type finderFunc func(date time.Time, fundation recon.Fundation) (string, error)

func (f finderFunc) Find(date time.Time, fundation recon.Fundation) (string, error) {
	return f(date, fundation)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	idx, err := Load(filepath.Join(t.TempDir(), "index.csv"))
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
}

func TestLoadCorruptFileFailsLoudly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.csv")
	require.NoError(t, os.WriteFile(path, []byte("Date,Fundation,Bank\nx,y,z\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "columns")
}

func TestUpsertRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "index.csv")
	idx, err := Load(path)
	require.NoError(t, err)

	idx.Upsert(Entry{Date: testDate, Fundation: recon.FundationHV, Bank: recon.BankGS, Kind: recon.KindCash, Filename: "gs_cash.pdf"})
	idx.Upsert(Entry{Date: testDate, Fundation: recon.FundationHV, Bank: recon.BankUBS, Kind: recon.KindCollateral, Filename: "ubs_collat.xlsx"})
	require.NoError(t, idx.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, reloaded.Len())

	name, ok := reloaded.Lookup(quad(recon.BankGS, recon.KindCash))
	require.True(t, ok)
	assert.Equal(t, "gs_cash.pdf", name)

	_, ok = reloaded.Lookup(quad(recon.BankMS, recon.KindCash))
	assert.False(t, ok)
}

func TestUpsertReplacesNotAppends(t *testing.T) {
	idx, err := Load(filepath.Join(t.TempDir(), "index.csv"))
	require.NoError(t, err)

	e := Entry{Date: testDate, Fundation: recon.FundationHV, Bank: recon.BankGS, Kind: recon.KindCash, Filename: "v1.pdf"}
	idx.Upsert(e)
	e.Filename = "v2.pdf"
	idx.Upsert(e)

	assert.Equal(t, 1, idx.Len())
	name, _ := idx.Lookup(quad(recon.BankGS, recon.KindCash))
	assert.Equal(t, "v2.pdf", name)
}

func TestLookupNormalizesDateTime(t *testing.T) {
	idx, err := Load(filepath.Join(t.TempDir(), "index.csv"))
	require.NoError(t, err)

	idx.Upsert(Entry{Date: testDate, Fundation: recon.FundationHV, Bank: recon.BankGS, Kind: recon.KindCash, Filename: "f.pdf"})

	q := quad(recon.BankGS, recon.KindCash)
	q.Date = testDate.Add(15 * time.Hour) // time-of-day must not matter
	_, ok := idx.Lookup(q)
	assert.True(t, ok)
}

func TestReindexUpsertUniqueness(t *testing.T) {
	idx, err := Load(filepath.Join(t.TempDir(), "index.csv"))
	require.NoError(t, err)

	finders := map[FinderKey]Finder{
		{Bank: recon.BankGS, Kind: recon.KindCash}: finderFunc(func(time.Time, recon.Fundation) (string, error) {
			return "gs_cash.pdf", nil
		}),
	}

	for n := 0; n < 3; n++ {
		_, err := idx.Reindex(context.Background(), testDate,
			[]recon.Fundation{recon.FundationHV},
			[]recon.Bank{recon.BankGS},
			[]recon.Kind{recon.KindCash},
			finders)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, idx.Len())
}

func TestReindexPartialFailureIsolation(t *testing.T) {
	idx, err := Load(filepath.Join(t.TempDir(), "index.csv"))
	require.NoError(t, err)

	finders := map[FinderKey]Finder{
		{Bank: recon.BankGS, Kind: recon.KindCash}: finderFunc(func(time.Time, recon.Fundation) (string, error) {
			return "", eris.New("directory unreadable")
		}),
		{Bank: recon.BankMS, Kind: recon.KindCash}: finderFunc(func(time.Time, recon.Fundation) (string, error) {
			return "", ErrNotFound
		}),
		{Bank: recon.BankUBS, Kind: recon.KindCash}: finderFunc(func(time.Time, recon.Fundation) (string, error) {
			return "ubs.xlsx", nil
		}),
	}

	added, err := idx.Reindex(context.Background(), testDate,
		[]recon.Fundation{recon.FundationHV},
		[]recon.Bank{recon.BankGS, recon.BankMS, recon.BankUBS},
		[]recon.Kind{recon.KindCash},
		finders)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	// The failing and the missing bank did not block UBS.
	name, ok := idx.Lookup(quad(recon.BankUBS, recon.KindCash))
	require.True(t, ok)
	assert.Equal(t, "ubs.xlsx", name)
}

func TestSaveIsAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.csv")

	idx, err := Load(path)
	require.NoError(t, err)
	idx.Upsert(Entry{Date: testDate, Fundation: recon.FundationWR, Bank: recon.BankEDB, Kind: recon.KindCash, Filename: "edb.xlsx"})
	require.NoError(t, idx.Save())

	// No stray temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "index.csv", entries[0].Name())
}
