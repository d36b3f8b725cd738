package history

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/heroics-capital/treasury-recon/internal/recon"
)

var cashHeader = []string{
	"Fundation", "Account", "Date", "Bank", "Currency", "Type",
	"Amount in CCY", "Exchange", "Amount in EUR",
}

var collateralHeader = []string{
	"Fundation", "Account", "Date", "Bank", "Currency", "Total",
	"IM", "VM", "Requirement", "Net Excess/Deficit",
}

// Store persists history tables as one xlsx workbook per (fundation, kind)
// under <dir>/<fundation>/<kind>.xlsx.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the workbook path for a (fundation, kind).
func (s *Store) Path(fundation recon.Fundation, kind recon.Kind) string {
	return filepath.Join(s.dir, string(fundation), string(kind)+".xlsx")
}

// LoadCash reads the persisted cash history for a fundation, or returns an
// empty table when no file exists yet. An existing but unreadable file is a
// loud error.
func (s *Store) LoadCash(fundation recon.Fundation) (*Table[CashPosition], error) {
	table := NewTable[CashPosition]()
	rows, err := s.read(fundation, recon.KindCash, cashHeader)
	if err != nil {
		return nil, err
	}
	for i, rec := range rows {
		p, err := decodeCash(rec)
		if err != nil {
			return nil, eris.Wrapf(err, "history: %s row %d", s.Path(fundation, recon.KindCash), i+2)
		}
		table.Merge([]CashPosition{p})
	}
	return table, nil
}

// LoadCollateral reads the persisted collateral history for a fundation.
func (s *Store) LoadCollateral(fundation recon.Fundation) (*Table[CollateralPosition], error) {
	table := NewTable[CollateralPosition]()
	rows, err := s.read(fundation, recon.KindCollateral, collateralHeader)
	if err != nil {
		return nil, err
	}
	for i, rec := range rows {
		p, err := decodeCollateral(rec)
		if err != nil {
			return nil, eris.Wrapf(err, "history: %s row %d", s.Path(fundation, recon.KindCollateral), i+2)
		}
		table.Merge([]CollateralPosition{p})
	}
	return table, nil
}

// SaveCash writes the table date-sorted, replacing the previous workbook
// atomically.
func (s *Store) SaveCash(fundation recon.Fundation, table *Table[CashPosition]) error {
	records := make([][]string, 0, table.Len())
	for _, p := range table.Rows() {
		records = append(records, encodeCash(p))
	}
	return s.write(fundation, recon.KindCash, cashHeader, records)
}

// SaveCollateral writes the table date-sorted, replacing the previous
// workbook atomically.
func (s *Store) SaveCollateral(fundation recon.Fundation, table *Table[CollateralPosition]) error {
	records := make([][]string, 0, table.Len())
	for _, p := range table.Rows() {
		records = append(records, encodeCollateral(p))
	}
	return s.write(fundation, recon.KindCollateral, collateralHeader, records)
}

func (s *Store) read(fundation recon.Fundation, kind recon.Kind, header []string) ([][]string, error) {
	path := s.Path(fundation, kind)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		zap.L().Info("history not found, starting empty", zap.String("path", path))
		return nil, nil
	}

	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "history: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("history: %s has no sheets", path)
	}

	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, nil
	}
	if got := rowStrings(sheet.Rows[0]); len(got) < len(header) {
		return nil, eris.Errorf("history: %s has %d columns, want %d", path, len(got), len(header))
	}

	var records [][]string
	for _, row := range sheet.Rows[1:] {
		rec := rowStrings(row)
		if len(rec) == 0 || rec[0] == "" {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) write(fundation recon.Fundation, kind recon.Kind, header []string, records [][]string) error {
	path := s.Path(fundation, kind)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "history: create dir for %s", path)
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(string(kind))
	if err != nil {
		return eris.Wrap(err, "history: add sheet")
	}

	writeRow(sheet, header)
	for _, rec := range records {
		writeRow(sheet, rec)
	}

	// Save to a sibling temp path and rename, so a crash mid-write leaves
	// the previous workbook intact.
	tmp := path + ".tmp"
	if err := f.Save(tmp); err != nil {
		os.Remove(tmp)
		return eris.Wrapf(err, "history: save %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return eris.Wrapf(err, "history: replace %s", path)
	}

	zap.L().Info("history saved",
		zap.String("fundation", string(fundation)),
		zap.String("kind", string(kind)),
		zap.Int("rows", len(records)),
	)
	return nil
}

func writeRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func rowStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		cells[i] = cell.String()
	}
	return cells
}

func encodeCash(p CashPosition) []string {
	return []string{
		string(p.Fundation), p.Account, recon.FormatDate(p.Date), string(p.Bank),
		p.Currency, p.Type,
		formatFloat(p.AmountCcy), formatFloat(p.FxRate), formatFloat(p.AmountEUR),
	}
}

func decodeCash(rec []string) (CashPosition, error) {
	var p CashPosition
	if len(rec) < len(cashHeader) {
		return p, eris.Errorf("history: cash row has %d cells, want %d", len(rec), len(cashHeader))
	}
	fundation, err := recon.ParseFundation(rec[0])
	if err != nil {
		return p, err
	}
	date, err := recon.ParseDate(rec[2])
	if err != nil {
		return p, err
	}
	bank, err := recon.ParseBank(rec[3])
	if err != nil {
		return p, err
	}
	amountCcy, err := parseFloat(rec[6])
	if err != nil {
		return p, err
	}
	fxRate, err := parseFloat(rec[7])
	if err != nil {
		return p, err
	}
	amountEUR, err := parseFloat(rec[8])
	if err != nil {
		return p, err
	}
	return CashPosition{
		Fundation: fundation, Account: rec[1], Date: date, Bank: bank,
		Currency: rec[4], Type: rec[5],
		AmountCcy: amountCcy, FxRate: fxRate, AmountEUR: amountEUR,
	}, nil
}

func encodeCollateral(p CollateralPosition) []string {
	return []string{
		string(p.Fundation), p.Account, recon.FormatDate(p.Date), string(p.Bank),
		p.Currency,
		formatFloat(p.Total), formatFloat(p.InitialMargin), formatFloat(p.VariationMargin),
		formatFloat(p.Requirement), formatFloat(p.NetExcessDeficit),
	}
}

func decodeCollateral(rec []string) (CollateralPosition, error) {
	var p CollateralPosition
	if len(rec) < len(collateralHeader) {
		return p, eris.Errorf("history: collateral row has %d cells, want %d", len(rec), len(collateralHeader))
	}
	fundation, err := recon.ParseFundation(rec[0])
	if err != nil {
		return p, err
	}
	date, err := recon.ParseDate(rec[2])
	if err != nil {
		return p, err
	}
	bank, err := recon.ParseBank(rec[3])
	if err != nil {
		return p, err
	}
	vals := make([]float64, 5)
	for i, cell := range rec[5:10] {
		v, err := parseFloat(cell)
		if err != nil {
			return p, err
		}
		vals[i] = v
	}
	return CollateralPosition{
		Fundation: fundation, Account: rec[1], Date: date, Bank: bank, Currency: rec[4],
		Total: vals[0], InitialMargin: vals[1], VariationMargin: vals[2],
		Requirement: vals[3], NetExcessDeficit: vals[4],
	}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "history: parse number %q", s)
	}
	return v, nil
}
