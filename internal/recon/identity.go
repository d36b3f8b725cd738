// Package recon defines the identity types shared across the reconciliation
// pipeline: banks, record kinds, fundations, and the quadruple that keys one
// expected source document.
package recon

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Bank identifies a counterparty sending daily statements.
type Bank string

const (
	BankGS   Bank = "GS"
	BankMS   Bank = "MS"
	BankSAXO Bank = "SAXO"
	BankUBS  Bank = "UBS"
	BankEDB  Bank = "EDB"
)

// AllBanks returns the counterparties in scope, in fixed order.
func AllBanks() []Bank {
	return []Bank{BankGS, BankMS, BankSAXO, BankUBS, BankEDB}
}

// ParseBank converts a string like "gs" or "UBS" into a Bank.
func ParseBank(s string) (Bank, error) {
	b := Bank(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllBanks() {
		if b == known {
			return b, nil
		}
	}
	return "", eris.Errorf("unknown bank: %q (valid: GS, MS, SAXO, UBS, EDB)", s)
}

// Kind is the record category of a statement.
type Kind string

const (
	KindCash       Kind = "cash"
	KindCollateral Kind = "collateral"
)

// AllKinds returns both record kinds.
func AllKinds() []Kind {
	return []Kind{KindCash, KindCollateral}
}

// ParseKind converts a string into a Kind. "collat" is accepted as a legacy
// spelling for collateral.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cash":
		return KindCash, nil
	case "collateral", "collat":
		return KindCollateral, nil
	default:
		return "", eris.Errorf("unknown kind: %q (valid: cash, collateral)", s)
	}
}

// Fundation is the short code of a legal entity on whose behalf positions
// are reconciled.
type Fundation string

const (
	FundationHV Fundation = "HV"
	FundationWR Fundation = "WR"
)

// FundationNames maps short codes to the full legal entity names that appear
// inside bank statements.
var FundationNames = map[Fundation]string{
	FundationHV: "Heroics Volatility",
	FundationWR: "WR by Heroics",
}

// AllFundations returns the fundations in scope, in fixed order.
func AllFundations() []Fundation {
	return []Fundation{FundationHV, FundationWR}
}

// ParseFundation converts a short code or a full legal name into a Fundation.
func ParseFundation(s string) (Fundation, error) {
	trimmed := strings.TrimSpace(s)
	f := Fundation(strings.ToUpper(trimmed))
	for code, full := range FundationNames {
		if f == code || strings.EqualFold(trimmed, full) {
			return code, nil
		}
	}
	return "", eris.Errorf("unknown fundation: %q (valid: HV, WR)", s)
}

// FullName returns the full legal entity name for the fundation.
func (f Fundation) FullName() string {
	if full, ok := FundationNames[f]; ok {
		return full
	}
	return string(f)
}

// DateLayout is the canonical calendar-date format used in persisted files
// and CLI flags.
const DateLayout = "2006-01-02"

// Date truncates t to a calendar date in UTC.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "parse date %q", s)
	}
	return t, nil
}

// FormatDate renders a calendar date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DateRange returns every calendar date from start to end inclusive.
func DateRange(start, end time.Time) []time.Time {
	start, end = Date(start), Date(end)
	if end.Before(start) {
		return nil
	}
	var dates []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}

// Quadruple is the identity key for one expected source document.
type Quadruple struct {
	Date      time.Time
	Fundation Fundation
	Bank      Bank
	Kind      Kind
}

// String renders the quadruple for logs and run summaries.
func (q Quadruple) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", FormatDate(q.Date), q.Fundation, q.Bank, q.Kind)
}
