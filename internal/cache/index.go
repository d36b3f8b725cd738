// Package cache maintains the persistent index mapping an identity quadruple
// (date, fundation, bank, kind) to a resolved local filename.
package cache

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/heroics-capital/treasury-recon/internal/recon"
)

// ErrNotFound signals that a finder scanned its directory and genuinely found
// no file for the quadruple. Any other error from a finder is a real failure.
var ErrNotFound = eris.New("file not found")

// Finder locates a local statement file for a (date, fundation) pair. One
// finder is registered per (bank, kind). It returns ErrNotFound when no file
// matches.
type Finder interface {
	Find(date time.Time, fundation recon.Fundation) (string, error)
}

// FinderKey keys a finder by counterparty and record kind.
type FinderKey struct {
	Bank recon.Bank
	Kind recon.Kind
}

// Entry is one cache row. Entries are upserted by quadruple, never duplicated.
type Entry struct {
	Date      time.Time
	Fundation recon.Fundation
	Bank      recon.Bank
	Kind      recon.Kind
	Filename  string
}

// Quadruple returns the entry's identity key.
func (e Entry) Quadruple() recon.Quadruple {
	return recon.Quadruple{Date: e.Date, Fundation: e.Fundation, Bank: e.Bank, Kind: e.Kind}
}

var header = []string{"Date", "Fundation", "Bank", "Kind", "Filename"}

// Index is the in-memory cache table. It is owned by a single goroutine; the
// dispatcher's workers never touch it.
type Index struct {
	path    string
	entries []Entry
	byKey   map[recon.Quadruple]int
	dirty   bool
}

// Load reads the persisted index, or returns an empty one when the file does
// not exist yet. An existing but unreadable file is a loud error, never
// silently treated as empty.
func Load(path string) (*Index, error) {
	idx := &Index{path: path, byKey: make(map[recon.Quadruple]int)}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		zap.L().Info("cache index not found, starting empty", zap.String("path", path))
		return idx, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "cache: open index %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "cache: parse index %s", path)
	}
	if len(records) == 0 {
		return idx, nil
	}
	if len(records[0]) != len(header) {
		return nil, eris.Errorf("cache: index %s has %d columns, want %d", path, len(records[0]), len(header))
	}

	for i, rec := range records[1:] {
		date, err := recon.ParseDate(rec[0])
		if err != nil {
			return nil, eris.Wrapf(err, "cache: index %s row %d", path, i+2)
		}
		fundation, err := recon.ParseFundation(rec[1])
		if err != nil {
			return nil, eris.Wrapf(err, "cache: index %s row %d", path, i+2)
		}
		bank, err := recon.ParseBank(rec[2])
		if err != nil {
			return nil, eris.Wrapf(err, "cache: index %s row %d", path, i+2)
		}
		kind, err := recon.ParseKind(rec[3])
		if err != nil {
			return nil, eris.Wrapf(err, "cache: index %s row %d", path, i+2)
		}
		idx.upsert(Entry{Date: date, Fundation: fundation, Bank: bank, Kind: kind, Filename: rec[4]})
	}

	idx.dirty = false
	zap.L().Info("cache index loaded", zap.String("path", path), zap.Int("entries", len(idx.entries)))
	return idx, nil
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Entries returns a copy of the table sorted by date, fundation, bank, kind.
func (idx *Index) Entries() []Entry {
	out := make([]Entry, len(idx.entries))
	copy(out, idx.entries)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Fundation != b.Fundation {
			return a.Fundation < b.Fundation
		}
		if a.Bank != b.Bank {
			return a.Bank < b.Bank
		}
		return a.Kind < b.Kind
	})
	return out
}

// Lookup returns the resolved filename for a quadruple. The second return is
// false on a miss. Upsert semantics guarantee at most one entry per
// quadruple, so there is never an ambiguous match to resolve.
func (idx *Index) Lookup(q recon.Quadruple) (string, bool) {
	i, ok := idx.byKey[keyOf(q)]
	if !ok {
		return "", false
	}
	return idx.entries[i].Filename, true
}

// Upsert inserts the entry, replacing any existing entry for the same
// quadruple.
func (idx *Index) Upsert(e Entry) {
	idx.upsert(e)
}

func (idx *Index) upsert(e Entry) {
	e.Date = recon.Date(e.Date)
	k := keyOf(e.Quadruple())
	if i, ok := idx.byKey[k]; ok {
		if idx.entries[i].Filename != e.Filename {
			idx.entries[i] = e
			idx.dirty = true
		}
		return
	}
	idx.byKey[k] = len(idx.entries)
	idx.entries = append(idx.entries, e)
	idx.dirty = true
}

func keyOf(q recon.Quadruple) recon.Quadruple {
	q.Date = recon.Date(q.Date)
	return q
}

// Save persists the table. The write goes to a temporary file which is then
// renamed over the index, so a crash mid-write cannot corrupt the previous
// good file. No-op when nothing changed since load.
func (idx *Index) Save() error {
	if !idx.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(idx.path), 0o755); err != nil {
		return eris.Wrapf(err, "cache: create dir for %s", idx.path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(idx.path), ".index-*.csv")
	if err != nil {
		return eris.Wrap(err, "cache: create temp file")
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return eris.Wrap(err, "cache: write header")
	}
	for _, e := range idx.Entries() {
		rec := []string{
			recon.FormatDate(e.Date),
			string(e.Fundation),
			string(e.Bank),
			string(e.Kind),
			e.Filename,
		}
		if err := w.Write(rec); err != nil {
			tmp.Close()
			return eris.Wrap(err, "cache: write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return eris.Wrap(err, "cache: flush")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "cache: close temp file")
	}
	if err := os.Rename(tmp.Name(), idx.path); err != nil {
		return eris.Wrapf(err, "cache: replace %s", idx.path)
	}

	idx.dirty = false
	return nil
}

// Reindex fills missing quadruples for the given date by invoking the
// matching finders against the local attachment directories, then persists
// the table. A finder failure for one quadruple is logged and does not block
// the others. Returns the number of entries added.
func (idx *Index) Reindex(
	ctx context.Context,
	date time.Time,
	fundations []recon.Fundation,
	banks []recon.Bank,
	kinds []recon.Kind,
	finders map[FinderKey]Finder,
) (int, error) {
	log := zap.L().With(zap.String("component", "cache.reindex"), zap.String("date", recon.FormatDate(date)))
	added := 0

	for _, fundation := range fundations {
		for _, bank := range banks {
			for _, kind := range kinds {
				if err := ctx.Err(); err != nil {
					return added, eris.Wrap(err, "cache: reindex cancelled")
				}

				q := recon.Quadruple{Date: date, Fundation: fundation, Bank: bank, Kind: kind}
				if _, ok := idx.Lookup(q); ok {
					continue
				}

				finder, ok := finders[FinderKey{Bank: bank, Kind: kind}]
				if !ok {
					continue
				}

				filename, err := finder.Find(date, fundation)
				if errors.Is(err, ErrNotFound) {
					log.Debug("no local file", zap.String("quadruple", q.String()))
					continue
				}
				if err != nil {
					log.Warn("finder failed",
						zap.String("quadruple", q.String()),
						zap.Error(err),
					)
					continue
				}

				idx.upsert(Entry{Date: date, Fundation: fundation, Bank: bank, Kind: kind, Filename: filename})
				added++
			}
		}
	}

	if added > 0 {
		if err := idx.Save(); err != nil {
			return added, err
		}
		log.Info("cache reindexed", zap.Int("added", added))
	}
	return added, nil
}
