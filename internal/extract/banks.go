package extract

import (
	"context"
	"encoding/csv"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/heroics-capital/treasury-recon/internal/fx"
	"github.com/heroics-capital/treasury-recon/internal/history"
	"github.com/heroics-capital/treasury-recon/internal/recon"
)

// cashFromTable normalizes a header+rows statement table into cash positions.
// Rows without an account are skipped; an unquoted currency fails the whole
// statement so the bank task surfaces the problem instead of writing partial
// history.
func cashFromTable(records [][]string, date time.Time, fundation recon.Fundation, bank recon.Bank, rates fx.Rates) ([]history.CashPosition, error) {
	if len(records) < 2 {
		return nil, nil
	}
	idx := mapColumns(records[0])

	var out []history.CashPosition
	for _, rec := range records[1:] {
		account := col(rec, idx, "Account", "AccNumber", "Account Number")
		if account == "" {
			continue
		}
		currency := col(rec, idx, "Currency", "Ccy")
		amount, ok := ParseAmount(col(rec, idx, "Amount in CCY", "Amount", "Balance"))
		if !ok {
			continue
		}

		eur, rate, ok := rates.Convert(amount, currency)
		if !ok {
			return nil, eris.Errorf("%s: no FX rate for %q", bank, currency)
		}

		posType := col(rec, idx, "Type")
		if posType == "" {
			posType = "Balance"
		}

		out = append(out, history.CashPosition{
			Fundation: fundation,
			Account:   account,
			Date:      recon.Date(date),
			Bank:      bank,
			Currency:  currency,
			Type:      posType,
			AmountCcy: amount,
			FxRate:    rate,
			AmountEUR: eur,
		})
	}
	return out, nil
}

// collateralFromTable normalizes a header+rows statement table into
// collateral positions. Banks report IM and VM as amounts held against the
// fund, so both are sign-flipped; Requirement and Net Excess/Deficit are
// derived.
func collateralFromTable(records [][]string, date time.Time, fundation recon.Fundation, bank recon.Bank) ([]history.CollateralPosition, error) {
	if len(records) < 2 {
		return nil, nil
	}
	idx := mapColumns(records[0])

	var out []history.CollateralPosition
	for _, rec := range records[1:] {
		account := col(rec, idx, "Account", "AccNumber", "Account Number")
		if account == "" {
			continue
		}

		total, ok := ParseAmount(col(rec, idx, "Total", "TotalCollat", "Total Collateral"))
		if !ok {
			continue
		}
		rawIM, _ := ParseAmount(col(rec, idx, "IM", "Initial Margin"))
		rawVM, _ := ParseAmount(col(rec, idx, "VM", "Variation Margin"))

		im, vm := -rawIM, -rawVM
		requirement := im + vm

		out = append(out, history.CollateralPosition{
			Fundation:        fundation,
			Account:          account,
			Date:             recon.Date(date),
			Bank:             bank,
			Currency:         col(rec, idx, "Currency", "Ccy"),
			Total:            total,
			InitialMargin:    im,
			VariationMargin:  vm,
			Requirement:      requirement,
			NetExcessDeficit: total + requirement,
		})
	}
	return out, nil
}

func readXLSXTable(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("extract: %s has no sheets", path)
	}
	var records [][]string
	for _, row := range f.Sheets[0].Rows {
		records = append(records, rowStrings(row))
	}
	return records, nil
}

func rowStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		cells[i] = cell.String()
	}
	return cells
}

func readCSVTable(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "extract: parse %s", path)
	}
	return records, nil
}

// xlsxCash extracts cash positions from spreadsheet statements (UBS, SAXO, EDB).
type xlsxCash struct {
	bank recon.Bank
}

func (e *xlsxCash) Bank() recon.Bank { return e.bank }

func (e *xlsxCash) Extract(_ context.Context, date time.Time, fundation recon.Fundation, rates fx.Rates, path string) ([]history.CashPosition, error) {
	records, err := readXLSXTable(path)
	if err != nil {
		return nil, err
	}
	return cashFromTable(records, date, fundation, e.bank, rates)
}

// xlsxCollateral extracts collateral positions from spreadsheet statements.
type xlsxCollateral struct {
	bank recon.Bank
}

func (e *xlsxCollateral) Bank() recon.Bank { return e.bank }

func (e *xlsxCollateral) Extract(_ context.Context, date time.Time, fundation recon.Fundation, _ fx.Rates, path string) ([]history.CollateralPosition, error) {
	records, err := readXLSXTable(path)
	if err != nil {
		return nil, err
	}
	return collateralFromTable(records, date, fundation, e.bank)
}

// csvCash extracts cash positions from CSV reports (GS).
type csvCash struct {
	bank recon.Bank
}

func (e *csvCash) Bank() recon.Bank { return e.bank }

func (e *csvCash) Extract(_ context.Context, date time.Time, fundation recon.Fundation, rates fx.Rates, path string) ([]history.CashPosition, error) {
	records, err := readCSVTable(path)
	if err != nil {
		return nil, err
	}
	return cashFromTable(records, date, fundation, e.bank, rates)
}

// csvCollateral extracts collateral positions from CSV reports.
type csvCollateral struct {
	bank recon.Bank
}

func (e *csvCollateral) Bank() recon.Bank { return e.bank }

func (e *csvCollateral) Extract(_ context.Context, date time.Time, fundation recon.Fundation, _ fx.Rates, path string) ([]history.CollateralPosition, error) {
	records, err := readCSVTable(path)
	if err != nil {
		return nil, err
	}
	return collateralFromTable(records, date, fundation, e.bank)
}

// textCash extracts a single cash balance from a fixed-layout text statement
// (the PDF text layer MS delivers). One statement carries one account.
type textCash struct {
	bank recon.Bank
}

func (e *textCash) Bank() recon.Bank { return e.bank }

func (e *textCash) Extract(_ context.Context, date time.Time, fundation recon.Fundation, rates fx.Rates, path string) ([]history.CashPosition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: read %s", path)
	}
	lines := statementLines(string(data))

	account := fieldValue(lines, "Account Number")
	if account == "" {
		return nil, eris.Errorf("%s: statement %s has no account number", e.bank, path)
	}
	currency := fieldValue(lines, "Currency")
	amount, ok := ParseAmount(fieldValue(lines, "Cash Balance"))
	if !ok {
		return nil, nil
	}

	eur, rate, ok := rates.Convert(amount, currency)
	if !ok {
		return nil, eris.Errorf("%s: no FX rate for %q", e.bank, currency)
	}

	return []history.CashPosition{{
		Fundation: fundation,
		Account:   account,
		Date:      recon.Date(date),
		Bank:      e.bank,
		Currency:  currency,
		Type:      "Balance",
		AmountCcy: amount,
		FxRate:    rate,
		AmountEUR: eur,
	}}, nil
}

// textCollateral extracts a single collateral position from a fixed-layout
// text statement.
type textCollateral struct {
	bank recon.Bank
}

func (e *textCollateral) Bank() recon.Bank { return e.bank }

func (e *textCollateral) Extract(_ context.Context, date time.Time, fundation recon.Fundation, _ fx.Rates, path string) ([]history.CollateralPosition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: read %s", path)
	}
	lines := statementLines(string(data))

	account := fieldValue(lines, "Account Number")
	if account == "" {
		return nil, eris.Errorf("%s: statement %s has no account number", e.bank, path)
	}
	total, ok := ParseAmount(fieldValue(lines, "Total Collateral"))
	if !ok {
		return nil, nil
	}
	rawIM, _ := ParseAmount(fieldValue(lines, "Initial Margin"))
	rawVM, _ := ParseAmount(fieldValue(lines, "Variation Margin"))

	im, vm := -rawIM, -rawVM
	requirement := im + vm

	return []history.CollateralPosition{{
		Fundation:        fundation,
		Account:          account,
		Date:             recon.Date(date),
		Bank:             e.bank,
		Currency:         fieldValue(lines, "Currency"),
		Total:            total,
		InitialMargin:    im,
		VariationMargin:  vm,
		Requirement:      requirement,
		NetExcessDeficit: total + requirement,
	}}, nil
}
