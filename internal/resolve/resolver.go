// Package resolve implements the staged lookup that turns a quadruple into a
// local statement file: cache hit, local re-scan, one remote pull per date,
// then a final re-scan before giving up.
package resolve

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/heroics-capital/treasury-recon/internal/cache"
	"github.com/heroics-capital/treasury-recon/internal/recon"
)

// Outcome says which stage produced (or failed to produce) the file.
type Outcome string

const (
	// OutcomeCached: the index already mapped the quadruple to a file.
	OutcomeCached Outcome = "cached"
	// OutcomeReindexed: a local directory scan found the file.
	OutcomeReindexed Outcome = "reindexed"
	// OutcomeFetched: the file appeared after pulling remote sources.
	OutcomeFetched Outcome = "fetched"
	// OutcomeUnavailable: every stage was exhausted without a file.
	OutcomeUnavailable Outcome = "unavailable"
)

// Resolution is the result of resolving one quadruple.
type Resolution struct {
	Outcome Outcome
	Path    string
}

// Ingestor pulls statement attachments for a whole date from remote sources
// into the local attachment directories.
type Ingestor interface {
	IngestDate(ctx context.Context, date time.Time) error
}

// Resolver drives the staged protocol. It belongs to the single controlling
// goroutine of a run and must not be shared across goroutines: the per-date
// ingestion ledger is unguarded on purpose.
type Resolver struct {
	index    *cache.Index
	finders  map[cache.FinderKey]cache.Finder
	ingestor Ingestor
	logger   *zap.Logger

	// ingested records dates for which remote ingestion already ran this
	// run, successful or not. One pull per date, never more.
	ingested map[time.Time]bool
}

func New(index *cache.Index, finders map[cache.FinderKey]cache.Finder, ingestor Ingestor, logger *zap.Logger) *Resolver {
	return &Resolver{
		index:    index,
		finders:  finders,
		ingestor: ingestor,
		logger:   logger,
		ingested: make(map[time.Time]bool),
	}
}

// Resolve walks the stages in order and stops at the first one that yields a
// file. OutcomeUnavailable is a normal answer, not an error; a returned error
// means a stage itself broke (index persistence, cancelled context).
func (r *Resolver) Resolve(ctx context.Context, q recon.Quadruple) (Resolution, error) {
	log := r.logger.With(zap.String("quadruple", q.String()))

	if path, ok := r.index.Lookup(q); ok {
		return Resolution{Outcome: OutcomeCached, Path: path}, nil
	}

	if path, err := r.reindexOne(ctx, q); err != nil {
		return Resolution{Outcome: OutcomeUnavailable}, err
	} else if path != "" {
		log.Debug("resolved by local scan", zap.String("path", path))
		return Resolution{Outcome: OutcomeReindexed, Path: path}, nil
	}

	date := recon.Date(q.Date)
	if r.ingestor != nil && !r.ingested[date] {
		r.ingested[date] = true
		log.Info("pulling remote sources", zap.String("date", recon.FormatDate(date)))
		if err := r.ingestor.IngestDate(ctx, date); err != nil {
			// A failed pull may still have delivered some files before
			// breaking, so fall through to the final scan either way.
			log.Warn("remote ingestion failed", zap.Error(err))
		}

		if path, err := r.reindexOne(ctx, q); err != nil {
			return Resolution{Outcome: OutcomeUnavailable}, err
		} else if path != "" {
			log.Debug("resolved after remote pull", zap.String("path", path))
			return Resolution{Outcome: OutcomeFetched, Path: path}, nil
		}
	}

	log.Debug("statement unavailable")
	return Resolution{Outcome: OutcomeUnavailable}, nil
}

// reindexOne runs a directory scan restricted to the quadruple, then checks
// the index again.
func (r *Resolver) reindexOne(ctx context.Context, q recon.Quadruple) (string, error) {
	_, err := r.index.Reindex(ctx, q.Date,
		[]recon.Fundation{q.Fundation},
		[]recon.Bank{q.Bank},
		[]recon.Kind{q.Kind},
		r.finders,
	)
	if err != nil {
		return "", eris.Wrap(err, "resolve: reindex")
	}
	path, _ := r.index.Lookup(q)
	return path, nil
}
