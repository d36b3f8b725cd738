package extract

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/heroics-capital/treasury-recon/internal/fx"
	"github.com/heroics-capital/treasury-recon/internal/history"
	"github.com/heroics-capital/treasury-recon/internal/recon"
)

// CashExtractor turns one resolved cash statement file into normalized rows.
// An empty result means "nothing to merge today", not an error.
type CashExtractor interface {
	Bank() recon.Bank
	Extract(ctx context.Context, date time.Time, fundation recon.Fundation, rates fx.Rates, path string) ([]history.CashPosition, error)
}

// CollateralExtractor turns one resolved collateral statement file into
// normalized rows.
type CollateralExtractor interface {
	Bank() recon.Bank
	Extract(ctx context.Context, date time.Time, fundation recon.Fundation, rates fx.Rates, path string) ([]history.CollateralPosition, error)
}

// Registry maps (bank, kind) to extraction adapters.
type Registry struct {
	cash       map[recon.Bank]CashExtractor
	collateral map[recon.Bank]CollateralExtractor
}

// NewRegistry creates a registry populated with every bank adapter. Adapters
// receive the absolute statement path from the resolver.
func NewRegistry() *Registry {
	r := &Registry{
		cash:       make(map[recon.Bank]CashExtractor),
		collateral: make(map[recon.Bank]CollateralExtractor),
	}

	// Spreadsheet statements.
	r.RegisterCash(&xlsxCash{bank: recon.BankUBS})
	r.RegisterCollateral(&xlsxCollateral{bank: recon.BankUBS})
	r.RegisterCash(&xlsxCash{bank: recon.BankSAXO})
	r.RegisterCollateral(&xlsxCollateral{bank: recon.BankSAXO})
	r.RegisterCash(&xlsxCash{bank: recon.BankEDB})
	r.RegisterCollateral(&xlsxCollateral{bank: recon.BankEDB})

	// CSV reports.
	r.RegisterCash(&csvCash{bank: recon.BankGS})
	r.RegisterCollateral(&csvCollateral{bank: recon.BankGS})

	// Fixed-layout text statements (PDF text layer).
	r.RegisterCash(&textCash{bank: recon.BankMS})
	r.RegisterCollateral(&textCollateral{bank: recon.BankMS})

	return r
}

// RegisterCash adds a cash adapter.
func (r *Registry) RegisterCash(e CashExtractor) {
	r.cash[e.Bank()] = e
}

// RegisterCollateral adds a collateral adapter.
func (r *Registry) RegisterCollateral(e CollateralExtractor) {
	r.collateral[e.Bank()] = e
}

// Cash returns the cash adapter for a bank.
func (r *Registry) Cash(bank recon.Bank) (CashExtractor, error) {
	e, ok := r.cash[bank]
	if !ok {
		return nil, eris.Errorf("extract: no cash adapter for bank %s", bank)
	}
	return e, nil
}

// Collateral returns the collateral adapter for a bank.
func (r *Registry) Collateral(bank recon.Bank) (CollateralExtractor, error) {
	e, ok := r.collateral[bank]
	if !ok {
		return nil, eris.Errorf("extract: no collateral adapter for bank %s", bank)
	}
	return e, nil
}

// Banks returns the banks that have an adapter for the kind, in fixed order.
func (r *Registry) Banks(kind recon.Kind) []recon.Bank {
	var out []recon.Bank
	for _, b := range recon.AllBanks() {
		switch kind {
		case recon.KindCash:
			if _, ok := r.cash[b]; ok {
				out = append(out, b)
			}
		case recon.KindCollateral:
			if _, ok := r.collateral[b]; ok {
				out = append(out, b)
			}
		}
	}
	return out
}
