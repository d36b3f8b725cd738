package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/heroics-capital/treasury-recon/internal/history"
	"github.com/heroics-capital/treasury-recon/internal/recon"
)

var (
	historyStart string
	historyEnd   string
)

var historyCmd = &cobra.Command{
	Use:   "history <fundation> <kind>",
	Short: "Show stored positions for a fundation and kind",
	Long:  "Prints the history workbook rows for one (fundation, kind), optionally restricted to an inclusive date range.",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		fundation, err := recon.ParseFundation(args[0])
		if err != nil {
			return err
		}
		kind, err := recon.ParseKind(args[1])
		if err != nil {
			return err
		}

		start, end, err := historyRange()
		if err != nil {
			return err
		}

		store := history.NewStore(cfg.Paths.HistoryDir)
		switch kind {
		case recon.KindCash:
			table, err := store.LoadCash(fundation)
			if err != nil {
				return err
			}
			printCash(sliceOrAll(table, start, end))
		case recon.KindCollateral:
			table, err := store.LoadCollateral(fundation)
			if err != nil {
				return err
			}
			printCollateral(sliceOrAll(table, start, end))
		}
		return nil
	},
}

func historyRange() (start, end time.Time, err error) {
	if (historyStart == "") != (historyEnd == "") {
		return start, end, eris.New("history: --start and --end must be given together")
	}
	if historyStart == "" {
		return start, end, nil
	}
	if start, err = recon.ParseDate(historyStart); err != nil {
		return start, end, err
	}
	end, err = recon.ParseDate(historyEnd)
	return start, end, err
}

func sliceOrAll[T history.Position](table *history.Table[T], start, end time.Time) []T {
	if start.IsZero() {
		return table.Rows()
	}
	return table.Slice(start, end)
}

func printCash(rows []history.CashPosition) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tBANK\tACCOUNT\tCCY\tTYPE\tAMOUNT CCY\tRATE\tAMOUNT EUR")
	for _, p := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\t%.4f\t%.2f\n",
			recon.FormatDate(p.Date), p.Bank, p.Account, p.Currency, p.Type,
			p.AmountCcy, p.FxRate, p.AmountEUR)
	}
	w.Flush()
	fmt.Printf("\n%d position(s)\n", len(rows))
}

func printCollateral(rows []history.CollateralPosition) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tBANK\tACCOUNT\tCCY\tTOTAL\tIM\tVM\tREQUIREMENT\tNET")
	for _, p := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\n",
			recon.FormatDate(p.Date), p.Bank, p.Account, p.Currency,
			p.Total, p.InitialMargin, p.VariationMargin, p.Requirement, p.NetExcessDeficit)
	}
	w.Flush()
	fmt.Printf("\n%d position(s)\n", len(rows))
}

func init() {
	historyCmd.Flags().StringVar(&historyStart, "start", "", "first date, YYYY-MM-DD")
	historyCmd.Flags().StringVar(&historyEnd, "end", "", "last date, YYYY-MM-DD")
	rootCmd.AddCommand(historyCmd)
}
