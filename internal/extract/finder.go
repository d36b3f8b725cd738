package extract

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/heroics-capital/treasury-recon/internal/cache"
	"github.com/heroics-capital/treasury-recon/internal/recon"
)

// patternFinder locates a statement file inside one bank's attachment
// directory by filename convention: the name must carry the fundation code,
// the date in one of the bank's spellings, a kind token, and an allowed
// extension.
type patternFinder struct {
	dir         string
	kindTokens  []string // any of these marks the kind
	dateLayouts []string // any of these spellings of the date
	extensions  []string
}

// Find implements cache.Finder. A missing directory means nothing was
// delivered yet and is reported as cache.ErrNotFound; an unreadable
// directory is a real failure.
func (f *patternFinder) Find(date time.Time, fundation recon.Fundation) (string, error) {
	entries, err := os.ReadDir(f.dir)
	if errors.Is(err, os.ErrNotExist) {
		return "", cache.ErrNotFound
	}
	if err != nil {
		return "", eris.Wrapf(err, "finder: read dir %s", f.dir)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	fundToken := strings.ToLower(string(fundation))
	for _, name := range names {
		lower := strings.ToLower(name)

		if !hasExtension(lower, f.extensions) {
			continue
		}
		if !strings.Contains(lower, fundToken) {
			continue
		}
		if !containsDate(lower, date, f.dateLayouts) {
			continue
		}
		if !containsAny(lower, f.kindTokens) {
			continue
		}
		return filepath.Join(f.dir, name), nil
	}
	return "", cache.ErrNotFound
}

func hasExtension(name string, exts []string) bool {
	for _, ext := range exts {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func containsDate(name string, date time.Time, layouts []string) bool {
	for _, layout := range layouts {
		if strings.Contains(name, strings.ToLower(date.Format(layout))) {
			return true
		}
	}
	return false
}

func containsAny(name string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(name, tok) {
			return true
		}
	}
	return false
}

// finderSpec captures one bank's filename conventions.
type finderSpec struct {
	bank        recon.Bank
	kind        recon.Kind
	kindTokens  []string
	dateLayouts []string
	extensions  []string
}

// finderSpecs lists the delivery conventions per counterparty. Every bank
// ships the fundation code and the date somewhere in the filename; the date
// spelling and the kind marker differ per bank.
var finderSpecs = []finderSpec{
	{recon.BankGS, recon.KindCash, []string{"cash"}, []string{"20060102"}, []string{".csv"}},
	{recon.BankGS, recon.KindCollateral, []string{"collateral", "collat", "margin"}, []string{"20060102"}, []string{".csv"}},
	{recon.BankMS, recon.KindCash, []string{"cash"}, []string{"20060102", "2006-01-02"}, []string{".txt"}},
	{recon.BankMS, recon.KindCollateral, []string{"collateral", "collat", "margin"}, []string{"20060102", "2006-01-02"}, []string{".txt"}},
	{recon.BankSAXO, recon.KindCash, []string{"cash"}, []string{"2006-01-02", "02jan2006"}, []string{".xlsx"}},
	{recon.BankSAXO, recon.KindCollateral, []string{"collateral", "collat"}, []string{"2006-01-02", "02jan2006"}, []string{".xlsx"}},
	{recon.BankUBS, recon.KindCash, []string{"cash"}, []string{"20060102"}, []string{".xlsx"}},
	{recon.BankUBS, recon.KindCollateral, []string{"collateral", "collat"}, []string{"20060102"}, []string{".xlsx"}},
	{recon.BankEDB, recon.KindCash, []string{"cash"}, []string{"2006.01.02", "20060102"}, []string{".xlsx"}},
	{recon.BankEDB, recon.KindCollateral, []string{"collateral", "collat"}, []string{"2006.01.02", "20060102"}, []string{".xlsx"}},
}

// NewFinders builds the per-(bank, kind) filename finders rooted at the
// attachments directory, one subdirectory per counterparty.
func NewFinders(attachmentsDir string) map[cache.FinderKey]cache.Finder {
	finders := make(map[cache.FinderKey]cache.Finder, len(finderSpecs))
	for _, spec := range finderSpecs {
		finders[cache.FinderKey{Bank: spec.bank, Kind: spec.kind}] = &patternFinder{
			dir:         filepath.Join(attachmentsDir, string(spec.bank)),
			kindTokens:  spec.kindTokens,
			dateLayouts: spec.dateLayouts,
			extensions:  spec.extensions,
		}
	}
	return finders
}
