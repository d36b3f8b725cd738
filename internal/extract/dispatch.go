package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/heroics-capital/treasury-recon/internal/fx"
	"github.com/heroics-capital/treasury-recon/internal/history"
	"github.com/heroics-capital/treasury-recon/internal/recon"
)

// Task is one extraction unit: a resolved statement file for a quadruple.
type Task struct {
	Quadruple recon.Quadruple
	Path      string
}

// TaskFailure records a task that errored or panicked. The batch as a whole
// still completes; callers decide what to do with the gaps.
type TaskFailure struct {
	Quadruple recon.Quadruple
	Path      string
	Err       error
}

// BatchResult is the joined output of one dispatch batch, grouped by bank.
type BatchResult struct {
	Cash       map[recon.Bank][]history.CashPosition
	Collateral map[recon.Bank][]history.CollateralPosition
	Failures   []TaskFailure
}

// Dispatcher fans extraction tasks out over a bounded worker pool. It owns
// no mutable state of its own; all coordination happens inside Dispatch.
type Dispatcher struct {
	registry    *Registry
	concurrency int
	timeout     time.Duration
	logger      *zap.Logger
}

func NewDispatcher(registry *Registry, concurrency int, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		registry:    registry,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      logger,
	}
}

type taskResult struct {
	cash       []history.CashPosition
	collateral []history.CollateralPosition
	err        error
}

// Dispatch runs every task on the pool and joins before returning, so the
// caller never observes a partially extracted batch. Each worker writes only
// its own result slot; failures are collected, never propagated through the
// group, so one bad statement cannot cancel its siblings.
//
// A task still running when the batch deadline fires is abandoned: it is
// recorded as a failure and its goroutine is left behind, its eventual output
// never read.
func (d *Dispatcher) Dispatch(ctx context.Context, tasks []Task, rates fx.Rates) BatchResult {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	results := make([]taskResult, len(tasks))
	done := make([]chan struct{}, len(tasks))
	for i := range done {
		done[i] = make(chan struct{})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	go func() {
		for i, task := range tasks {
			i, task := i, task
			g.Go(func() error {
				results[i] = d.runTask(gctx, task, rates)
				close(done[i])
				return nil
			})
		}
		_ = g.Wait() // workers never return errors
	}()

	out := BatchResult{
		Cash:       make(map[recon.Bank][]history.CashPosition),
		Collateral: make(map[recon.Bank][]history.CollateralPosition),
	}
	for i, task := range tasks {
		select {
		case <-done[i]:
		case <-ctx.Done():
			// A result that raced the deadline still counts.
			select {
			case <-done[i]:
			default:
				d.logger.Warn("extraction task abandoned",
					zap.String("quadruple", task.Quadruple.String()),
					zap.String("path", task.Path),
					zap.Error(ctx.Err()))
				out.Failures = append(out.Failures, TaskFailure{
					Quadruple: task.Quadruple,
					Path:      task.Path,
					Err:       eris.Wrap(ctx.Err(), "extraction abandoned"),
				})
				continue
			}
		}
		res := results[i]
		switch {
		case res.err != nil:
			d.logger.Warn("extraction task failed",
				zap.String("quadruple", task.Quadruple.String()),
				zap.String("path", task.Path),
				zap.Error(res.err))
			out.Failures = append(out.Failures, TaskFailure{
				Quadruple: task.Quadruple,
				Path:      task.Path,
				Err:       res.err,
			})
		case len(res.cash) > 0:
			out.Cash[task.Quadruple.Bank] = append(out.Cash[task.Quadruple.Bank], res.cash...)
		case len(res.collateral) > 0:
			out.Collateral[task.Quadruple.Bank] = append(out.Collateral[task.Quadruple.Bank], res.collateral...)
		default:
			d.logger.Debug("statement yielded no positions",
				zap.String("quadruple", task.Quadruple.String()),
				zap.String("path", task.Path))
		}
	}
	return out
}

func (d *Dispatcher) runTask(ctx context.Context, task Task, rates fx.Rates) (res taskResult) {
	defer func() {
		if r := recover(); r != nil {
			res = taskResult{err: eris.New(fmt.Sprintf("extractor panic: %v", r))}
		}
	}()

	if err := ctx.Err(); err != nil {
		return taskResult{err: eris.Wrap(err, "extraction canceled")}
	}

	switch task.Quadruple.Kind {
	case recon.KindCash:
		ex, err := d.registry.Cash(task.Quadruple.Bank)
		if err != nil {
			return taskResult{err: err}
		}
		rows, err := ex.Extract(ctx, task.Quadruple.Date, task.Quadruple.Fundation, rates, task.Path)
		return taskResult{cash: rows, err: err}
	case recon.KindCollateral:
		ex, err := d.registry.Collateral(task.Quadruple.Bank)
		if err != nil {
			return taskResult{err: err}
		}
		rows, err := ex.Extract(ctx, task.Quadruple.Date, task.Quadruple.Fundation, rates, task.Path)
		return taskResult{collateral: rows, err: err}
	default:
		return taskResult{err: eris.Errorf("unknown kind %q", task.Quadruple.Kind)}
	}
}
