// Package engine drives a reconciliation run: for every quadruple in the
// requested date range it resolves a statement file, extracts positions, and
// merges them into the history workbooks, recording each outcome in the run
// log.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/heroics-capital/treasury-recon/internal/extract"
	"github.com/heroics-capital/treasury-recon/internal/fx"
	"github.com/heroics-capital/treasury-recon/internal/history"
	"github.com/heroics-capital/treasury-recon/internal/recon"
	"github.com/heroics-capital/treasury-recon/internal/resolve"
	"github.com/heroics-capital/treasury-recon/internal/runlog"
)

// Task outcome labels as persisted in the run log.
const (
	OutcomeInHistory   = "already_in_history"
	OutcomeMerged      = "merged"
	OutcomeEmpty       = "empty"
	OutcomeUnavailable = "unavailable"
	OutcomeFailed      = "failed"
)

// Scope restricts a run to a subset of fundations, kinds, or banks. An empty
// slice means "all of them".
type Scope struct {
	Fundations []recon.Fundation
	Kinds      []recon.Kind
	Banks      []recon.Bank
}

func (s Scope) fundations() []recon.Fundation {
	if len(s.Fundations) == 0 {
		return recon.AllFundations()
	}
	return s.Fundations
}

func (s Scope) banks() []recon.Bank {
	if len(s.Banks) == 0 {
		return recon.AllBanks()
	}
	return s.Banks
}

func (s Scope) hasKind(kind recon.Kind) bool {
	if len(s.Kinds) == 0 {
		return true
	}
	for _, k := range s.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// TaskOutcome is the final status of one quadruple in a run.
type TaskOutcome struct {
	Quadruple  recon.Quadruple
	Outcome    string
	Resolution resolve.Outcome // how the file was found, when it was
	Err        string
}

// Report is the in-memory result of a run, mirrored into the run log.
type Report struct {
	RunID    string
	Outcomes []TaskOutcome
	Summary  runlog.Summary
}

// Engine owns one run at a time. All orchestration happens on the calling
// goroutine; only extraction fans out, through the dispatcher.
type Engine struct {
	resolver   *resolve.Resolver
	dispatcher *extract.Dispatcher
	store      *history.Store
	rates      fx.Client
	log        runlog.Store
	logger     *zap.Logger
}

func New(resolver *resolve.Resolver, dispatcher *extract.Dispatcher, store *history.Store, rates fx.Client, log runlog.Store, logger *zap.Logger) *Engine {
	return &Engine{
		resolver:   resolver,
		dispatcher: dispatcher,
		store:      store,
		rates:      rates,
		log:        log,
		logger:     logger,
	}
}

// Run reconciles every (date, fundation, bank, kind) combination in the
// inclusive date range that the scope admits. A quadruple already present in
// history is never re-extracted; re-running the same range is a no-op.
func (e *Engine) Run(ctx context.Context, start, end time.Time, scope Scope) (*Report, error) {
	dates := recon.DateRange(start, end)
	if len(dates) == 0 {
		return nil, eris.Errorf("engine: empty date range %s..%s", recon.FormatDate(start), recon.FormatDate(end))
	}

	label := fmt.Sprintf("%s..%s", recon.FormatDate(dates[0]), recon.FormatDate(dates[len(dates)-1]))
	runID, err := e.log.Start(ctx, label)
	if err != nil {
		return nil, err
	}
	e.logger.Info("run started", zap.String("run_id", runID), zap.String("range", label))

	report := &Report{RunID: runID}
	if err := e.run(ctx, dates, scope, report); err != nil {
		if failErr := e.log.Fail(ctx, runID, err.Error()); failErr != nil {
			e.logger.Error("run log update failed", zap.Error(failErr))
		}
		return report, err
	}

	if err := e.log.Complete(ctx, runID, report.Summary); err != nil {
		return report, err
	}
	e.logger.Info("run complete",
		zap.String("run_id", runID),
		zap.Int("merged", report.Summary.Merged),
		zap.Int("cache_hits", report.Summary.CacheHits),
		zap.Int("unavailable", report.Summary.Unavailable),
		zap.Int("failed", report.Summary.Failed))
	return report, nil
}

func (e *Engine) run(ctx context.Context, dates []time.Time, scope Scope, report *Report) error {
	ratesByDate := make(map[time.Time]fx.Rates)

	for _, fundation := range scope.fundations() {
		cash, err := e.store.LoadCash(fundation)
		if err != nil {
			return err
		}
		collateral, err := e.store.LoadCollateral(fundation)
		if err != nil {
			return err
		}

		cashDirty, collateralDirty := false, false
		for _, date := range dates {
			if err := ctx.Err(); err != nil {
				return eris.Wrap(err, "engine: run cancelled")
			}

			if scope.hasKind(recon.KindCash) {
				added, err := e.reconcileBatch(ctx, report, date, fundation, recon.KindCash, scope, ratesByDate,
					func(batch extract.BatchResult, bank recon.Bank) int {
						return cash.Merge(batch.Cash[bank])
					},
					func(date time.Time, bank recon.Bank) bool { return cash.HasBankDate(date, bank) },
				)
				if err != nil {
					return err
				}
				cashDirty = cashDirty || added
			}

			if scope.hasKind(recon.KindCollateral) {
				added, err := e.reconcileBatch(ctx, report, date, fundation, recon.KindCollateral, scope, ratesByDate,
					func(batch extract.BatchResult, bank recon.Bank) int {
						return collateral.Merge(batch.Collateral[bank])
					},
					func(date time.Time, bank recon.Bank) bool { return collateral.HasBankDate(date, bank) },
				)
				if err != nil {
					return err
				}
				collateralDirty = collateralDirty || added
			}
		}

		if cashDirty {
			if err := e.store.SaveCash(fundation, cash); err != nil {
				return err
			}
		}
		if collateralDirty {
			if err := e.store.SaveCollateral(fundation, collateral); err != nil {
				return err
			}
		}
	}
	return nil
}

// reconcileBatch handles one (date, fundation, kind) slice of the run:
// resolve each bank's statement, dispatch the extractions, and merge the
// joined results. Merging happens only after the whole batch has joined.
func (e *Engine) reconcileBatch(
	ctx context.Context,
	report *Report,
	date time.Time,
	fundation recon.Fundation,
	kind recon.Kind,
	scope Scope,
	ratesByDate map[time.Time]fx.Rates,
	merge func(extract.BatchResult, recon.Bank) int,
	inHistory func(time.Time, recon.Bank) bool,
) (bool, error) {
	var (
		tasks       []extract.Task
		resolutions = make(map[recon.Bank]resolve.Outcome)
	)

	for _, bank := range scope.banks() {
		q := recon.Quadruple{Date: date, Fundation: fundation, Bank: bank, Kind: kind}

		if inHistory(date, bank) {
			e.record(ctx, report, TaskOutcome{Quadruple: q, Outcome: OutcomeInHistory})
			continue
		}

		res, err := e.resolver.Resolve(ctx, q)
		if err != nil {
			return false, err
		}
		if res.Outcome == resolve.OutcomeUnavailable {
			e.record(ctx, report, TaskOutcome{Quadruple: q, Outcome: OutcomeUnavailable, Resolution: res.Outcome})
			continue
		}

		resolutions[bank] = res.Outcome
		tasks = append(tasks, extract.Task{Quadruple: q, Path: res.Path})
	}

	if len(tasks) == 0 {
		return false, nil
	}

	rates, err := e.ratesFor(ctx, date, kind, ratesByDate)
	if err != nil {
		// No usable FX surface: every cash task for the date fails, the
		// rest of the run continues.
		for _, task := range tasks {
			e.record(ctx, report, TaskOutcome{
				Quadruple:  task.Quadruple,
				Outcome:    OutcomeFailed,
				Resolution: resolutions[task.Quadruple.Bank],
				Err:        err.Error(),
			})
		}
		return false, nil
	}

	batch := e.dispatcher.Dispatch(ctx, tasks, rates)

	failed := make(map[recon.Bank]error, len(batch.Failures))
	for _, f := range batch.Failures {
		failed[f.Quadruple.Bank] = f.Err
	}

	anyMerged := false
	for _, task := range tasks {
		q := task.Quadruple
		out := TaskOutcome{Quadruple: q, Resolution: resolutions[q.Bank]}
		switch {
		case failed[q.Bank] != nil:
			out.Outcome = OutcomeFailed
			out.Err = failed[q.Bank].Error()
		default:
			added := merge(batch, q.Bank)
			if added > 0 {
				out.Outcome = OutcomeMerged
				anyMerged = true
			} else {
				out.Outcome = OutcomeEmpty
			}
		}
		e.record(ctx, report, out)
	}
	return anyMerged, nil
}

func (e *Engine) ratesFor(ctx context.Context, date time.Time, kind recon.Kind, cache map[time.Time]fx.Rates) (fx.Rates, error) {
	if kind != recon.KindCash {
		return nil, nil
	}
	date = recon.Date(date)
	if rates, ok := cache[date]; ok {
		return rates, nil
	}
	rates, err := e.rates.RatesFor(ctx, date)
	if err != nil {
		return nil, err
	}
	cache[date] = rates
	return rates, nil
}

func (e *Engine) record(ctx context.Context, report *Report, out TaskOutcome) {
	report.Outcomes = append(report.Outcomes, out)

	switch out.Outcome {
	case OutcomeInHistory:
		report.Summary.Skipped++
	case OutcomeMerged:
		report.Summary.Merged++
	case OutcomeEmpty:
		report.Summary.Skipped++
	case OutcomeUnavailable:
		report.Summary.Unavailable++
	case OutcomeFailed:
		report.Summary.Failed++
	}
	switch out.Resolution {
	case resolve.OutcomeCached:
		report.Summary.CacheHits++
	case resolve.OutcomeReindexed, resolve.OutcomeFetched:
		report.Summary.Resolved++
	}

	if err := e.log.RecordTask(ctx, report.RunID, out.Quadruple, out.Outcome, out.Err); err != nil {
		e.logger.Warn("run log task record failed",
			zap.String("quadruple", out.Quadruple.String()),
			zap.Error(err))
	}
}
