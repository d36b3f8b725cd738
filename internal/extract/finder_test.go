package extract

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heroics-capital/treasury-recon/internal/cache"
	"github.com/heroics-capital/treasury-recon/internal/recon"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
}

func TestPatternFinderMatches(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "HV_cash_20250110.csv")
	touch(t, dir, "HV_collateral_20250110.csv")
	touch(t, dir, "WR_cash_20250110.csv")
	touch(t, dir, "HV_cash_20250109.csv")
	touch(t, dir, "HV_cash_20250110.pdf") // wrong extension

	f := &patternFinder{
		dir:         dir,
		kindTokens:  []string{"cash"},
		dateLayouts: []string{"20060102"},
		extensions:  []string{".csv"},
	}

	date := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	path, err := f.Find(date, recon.FundationHV)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "HV_cash_20250110.csv"), path)

	path, err = f.Find(date, recon.FundationWR)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "WR_cash_20250110.csv"), path)
}

func TestPatternFinderAlternateDateSpelling(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "Saxo HV cash 10Jan2025.xlsx")

	f := &patternFinder{
		dir:         dir,
		kindTokens:  []string{"cash"},
		dateLayouts: []string{"2006-01-02", "02Jan2006"},
		extensions:  []string{".xlsx"},
	}

	date := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	path, err := f.Find(date, recon.FundationHV)
	require.NoError(t, err)
	assert.Contains(t, path, "10Jan2025")
}

func TestPatternFinderNotFound(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "HV_cash_20250109.csv")

	f := &patternFinder{
		dir:         dir,
		kindTokens:  []string{"cash"},
		dateLayouts: []string{"20060102"},
		extensions:  []string{".csv"},
	}

	_, err := f.Find(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), recon.FundationHV)
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestPatternFinderMissingDirIsNotFound(t *testing.T) {
	f := &patternFinder{
		dir:         filepath.Join(t.TempDir(), "never-created"),
		kindTokens:  []string{"cash"},
		dateLayouts: []string{"20060102"},
		extensions:  []string{".csv"},
	}

	_, err := f.Find(time.Now(), recon.FundationHV)
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestNewFindersCoversEveryBankKind(t *testing.T) {
	finders := NewFinders(t.TempDir())
	for _, bank := range recon.AllBanks() {
		for _, kind := range recon.AllKinds() {
			_, ok := finders[cache.FinderKey{Bank: bank, Kind: kind}]
			assert.True(t, ok, "finder for %s/%s", bank, kind)
		}
	}
}
