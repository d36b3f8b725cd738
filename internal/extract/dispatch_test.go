package extract

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/heroics-capital/treasury-recon/internal/fx"
	"github.com/heroics-capital/treasury-recon/internal/history"
	"github.com/heroics-capital/treasury-recon/internal/recon"
)

type stubCash struct {
	bank  recon.Bank
	rows  []history.CashPosition
	err   error
	boom  bool
	delay time.Duration
}

func (s *stubCash) Bank() recon.Bank { return s.bank }

func (s *stubCash) Extract(context.Context, time.Time, recon.Fundation, fx.Rates, string) ([]history.CashPosition, error) {
	if s.boom {
		panic("adapter exploded")
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.rows, s.err
}

func cashRow(bank recon.Bank, account string) history.CashPosition {
	return history.CashPosition{
		Fundation: recon.FundationHV,
		Account:   account,
		Date:      time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		Bank:      bank,
		Currency:  "EUR",
		Type:      "Balance",
		AmountCcy: 1,
		FxRate:    1,
		AmountEUR: 1,
	}
}

func cashTask(bank recon.Bank) Task {
	return Task{
		Quadruple: recon.Quadruple{
			Date:      time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
			Fundation: recon.FundationHV,
			Bank:      bank,
			Kind:      recon.KindCash,
		},
		Path: "statement",
	}
}

func stubRegistry(extractors ...*stubCash) *Registry {
	reg := NewRegistry()
	for _, e := range extractors {
		reg.RegisterCash(e)
	}
	return reg
}

func TestDispatchGroupsByBank(t *testing.T) {
	reg := stubRegistry(
		&stubCash{bank: recon.BankGS, rows: []history.CashPosition{cashRow(recon.BankGS, "GS-1")}},
		&stubCash{bank: recon.BankUBS, rows: []history.CashPosition{cashRow(recon.BankUBS, "UBS-1"), cashRow(recon.BankUBS, "UBS-2")}},
	)
	d := NewDispatcher(reg, 4, 0, zap.NewNop())

	res := d.Dispatch(context.Background(), []Task{cashTask(recon.BankGS), cashTask(recon.BankUBS)}, nil)

	assert.Empty(t, res.Failures)
	assert.Len(t, res.Cash[recon.BankGS], 1)
	assert.Len(t, res.Cash[recon.BankUBS], 2)
}

func TestDispatchIsolatesFailures(t *testing.T) {
	reg := stubRegistry(
		&stubCash{bank: recon.BankGS, rows: []history.CashPosition{cashRow(recon.BankGS, "GS-1")}},
		&stubCash{bank: recon.BankMS, err: eris.New("garbled statement")},
		&stubCash{bank: recon.BankUBS, rows: []history.CashPosition{cashRow(recon.BankUBS, "UBS-1")}},
	)
	d := NewDispatcher(reg, 2, 0, zap.NewNop())

	res := d.Dispatch(context.Background(),
		[]Task{cashTask(recon.BankGS), cashTask(recon.BankMS), cashTask(recon.BankUBS)}, nil)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, recon.BankMS, res.Failures[0].Quadruple.Bank)
	assert.Contains(t, res.Failures[0].Err.Error(), "garbled")
	assert.Len(t, res.Cash[recon.BankGS], 1)
	assert.Len(t, res.Cash[recon.BankUBS], 1)
}

func TestDispatchRecoversPanic(t *testing.T) {
	reg := stubRegistry(
		&stubCash{bank: recon.BankGS, boom: true},
		&stubCash{bank: recon.BankUBS, rows: []history.CashPosition{cashRow(recon.BankUBS, "UBS-1")}},
	)
	d := NewDispatcher(reg, 2, 0, zap.NewNop())

	res := d.Dispatch(context.Background(), []Task{cashTask(recon.BankGS), cashTask(recon.BankUBS)}, nil)

	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Err.Error(), "panic")
	assert.Len(t, res.Cash[recon.BankUBS], 1)
}

func TestDispatchEmptyResultsDropped(t *testing.T) {
	reg := stubRegistry(&stubCash{bank: recon.BankGS})
	d := NewDispatcher(reg, 1, 0, zap.NewNop())

	res := d.Dispatch(context.Background(), []Task{cashTask(recon.BankGS)}, nil)

	assert.Empty(t, res.Failures)
	assert.Empty(t, res.Cash)
}

func TestDispatchAbandonsTasksAtDeadline(t *testing.T) {
	reg := stubRegistry(
		&stubCash{bank: recon.BankGS, rows: []history.CashPosition{cashRow(recon.BankGS, "GS-1")}},
		&stubCash{bank: recon.BankMS, delay: 2 * time.Second, rows: []history.CashPosition{cashRow(recon.BankMS, "MS-1")}},
	)
	d := NewDispatcher(reg, 2, 50*time.Millisecond, zap.NewNop())

	started := time.Now()
	res := d.Dispatch(context.Background(), []Task{cashTask(recon.BankGS), cashTask(recon.BankMS)}, nil)

	// Dispatch returns at the deadline instead of waiting out the stuck task.
	assert.Less(t, time.Since(started), time.Second)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, recon.BankMS, res.Failures[0].Quadruple.Bank)
	assert.Contains(t, res.Failures[0].Err.Error(), "abandoned")

	// The stuck task's output never leaks into the batch.
	assert.Empty(t, res.Cash[recon.BankMS])
	assert.Len(t, res.Cash[recon.BankGS], 1)
}

func TestDispatchUnregisteredBank(t *testing.T) {
	reg := &Registry{}
	d := NewDispatcher(reg, 1, 0, zap.NewNop())

	res := d.Dispatch(context.Background(), []Task{cashTask(recon.BankGS)}, nil)
	require.Len(t, res.Failures, 1)
}
