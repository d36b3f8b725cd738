// Package history owns the append-only, deduplicated position history per
// (fundation, kind): in-memory tables with idempotent merge and date-range
// slicing, persisted as xlsx workbooks.
package history

import (
	"sort"
	"time"

	"github.com/heroics-capital/treasury-recon/internal/recon"
)

// Key is the natural key of one history row. Merging dedups on it, so
// re-extracting a statement with minor formatting drift in the values cannot
// create duplicate rows.
type Key struct {
	Date    time.Time
	Bank    recon.Bank
	Account string
}

// Position is one normalized history row of either kind.
type Position interface {
	NaturalKey() Key
}

// CashPosition is one normalized cash balance record.
type CashPosition struct {
	Fundation recon.Fundation `json:"fundation"`
	Account   string          `json:"account"`
	Date      time.Time       `json:"date"`
	Bank      recon.Bank      `json:"bank"`
	Currency  string          `json:"currency"`
	Type      string          `json:"type"`
	AmountCcy float64         `json:"amount_ccy"`
	FxRate    float64         `json:"fx_rate"`
	AmountEUR float64         `json:"amount_eur"`
}

// NaturalKey implements Position.
func (p CashPosition) NaturalKey() Key {
	return Key{Date: recon.Date(p.Date), Bank: p.Bank, Account: p.Account}
}

// CollateralPosition is one normalized margin/collateral record.
type CollateralPosition struct {
	Fundation        recon.Fundation `json:"fundation"`
	Account          string          `json:"account"`
	Date             time.Time       `json:"date"`
	Bank             recon.Bank      `json:"bank"`
	Currency         string          `json:"currency"`
	Total            float64         `json:"total"`
	InitialMargin    float64         `json:"initial_margin"`
	VariationMargin  float64         `json:"variation_margin"`
	Requirement      float64         `json:"requirement"`
	NetExcessDeficit float64         `json:"net_excess_deficit"`
}

// NaturalKey implements Position.
func (p CollateralPosition) NaturalKey() Key {
	return Key{Date: recon.Date(p.Date), Bank: p.Bank, Account: p.Account}
}

// Table is the in-memory history for one (fundation, kind). It is owned by
// the controlling goroutine for the duration of a run.
type Table[T Position] struct {
	rows  []T
	seen  map[Key]struct{}
	dates map[time.Time]map[recon.Bank]struct{}
}

// NewTable returns an empty table.
func NewTable[T Position]() *Table[T] {
	return &Table[T]{
		seen:  make(map[Key]struct{}),
		dates: make(map[time.Time]map[recon.Bank]struct{}),
	}
}

// Len returns the number of rows.
func (t *Table[T]) Len() int {
	return len(t.rows)
}

// Rows returns the rows sorted by date (stable within a date).
func (t *Table[T]) Rows() []T {
	out := make([]T, len(t.rows))
	copy(out, t.rows)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].NaturalKey().Date.Before(out[j].NaturalKey().Date)
	})
	return out
}

// HasDate reports whether any row exists for the calendar date.
func (t *Table[T]) HasDate(date time.Time) bool {
	_, ok := t.dates[recon.Date(date)]
	return ok
}

// HasBankDate reports whether any row exists for the bank on the date. The
// orchestrator uses it to skip banks already satisfied by existing history.
func (t *Table[T]) HasBankDate(date time.Time, bank recon.Bank) bool {
	banks, ok := t.dates[recon.Date(date)]
	if !ok {
		return false
	}
	_, ok = banks[bank]
	return ok
}

// Merge appends the fresh rows whose natural key is not already present and
// returns how many were added. Merging the same batch twice is a no-op the
// second time.
func (t *Table[T]) Merge(fresh []T) int {
	added := 0
	for _, row := range fresh {
		k := row.NaturalKey()
		if _, ok := t.seen[k]; ok {
			continue
		}
		t.seen[k] = struct{}{}
		t.rows = append(t.rows, row)

		banks, ok := t.dates[k.Date]
		if !ok {
			banks = make(map[recon.Bank]struct{})
			t.dates[k.Date] = banks
		}
		banks[k.Bank] = struct{}{}
		added++
	}
	return added
}

// Slice returns the rows with start <= date <= end, date-sorted. An empty
// table yields an empty slice, not an error.
func (t *Table[T]) Slice(start, end time.Time) []T {
	start, end = recon.Date(start), recon.Date(end)
	var out []T
	for _, row := range t.Rows() {
		d := row.NaturalKey().Date
		if d.Before(start) || d.After(end) {
			continue
		}
		out = append(out, row)
	}
	return out
}
