package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/heroics-capital/treasury-recon/internal/engine"
	"github.com/heroics-capital/treasury-recon/internal/recon"
)

var (
	runStart      string
	runEnd        string
	runFundations []string
	runKinds      []string
	runBanks      []string
	runMailboxes  []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile a date range into the history workbooks",
	Long:  "Resolves a statement file for every (date, fundation, bank, kind) combination in the range, extracts positions, and merges them into history. Quadruples already in history are skipped, so re-running a range is safe.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		start, err := parseDateFlag(runStart)
		if err != nil {
			return err
		}
		end := start
		if runEnd != "" {
			if end, err = recon.ParseDate(runEnd); err != nil {
				return err
			}
		}

		scope, err := parseScope(runFundations, runKinds, runBanks)
		if err != nil {
			return err
		}

		e, err := initEnv(ctx, runMailboxes)
		if err != nil {
			return err
		}
		defer e.Close()

		report, err := e.engine.Run(ctx, start, end, scope)
		if err != nil {
			return err
		}

		printReport(report)
		return nil
	},
}

// parseScope validates the filter flags. Empty flags leave the scope open.
func parseScope(fundations, kinds, banks []string) (engine.Scope, error) {
	var scope engine.Scope
	for _, v := range fundations {
		f, err := recon.ParseFundation(v)
		if err != nil {
			return engine.Scope{}, err
		}
		scope.Fundations = append(scope.Fundations, f)
	}
	for _, v := range kinds {
		k, err := recon.ParseKind(v)
		if err != nil {
			return engine.Scope{}, err
		}
		scope.Kinds = append(scope.Kinds, k)
	}
	for _, v := range banks {
		b, err := recon.ParseBank(v)
		if err != nil {
			return engine.Scope{}, err
		}
		scope.Banks = append(scope.Banks, b)
	}
	return scope, nil
}

func printReport(report *engine.Report) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "QUADRUPLE\tOUTCOME\tVIA\tERROR")
	for _, out := range report.Outcomes {
		if out.Outcome == engine.OutcomeInHistory {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", out.Quadruple, out.Outcome, out.Resolution, out.Err)
	}
	w.Flush()

	s := report.Summary
	fmt.Printf("\nrun %s: merged %d, skipped %d, unavailable %d, failed %d (cache hits %d, newly resolved %d)\n",
		report.RunID, s.Merged, s.Skipped, s.Unavailable, s.Failed, s.CacheHits, s.Resolved)
}

func init() {
	runCmd.Flags().StringVar(&runStart, "start", "", "first date to reconcile, YYYY-MM-DD (default today)")
	runCmd.Flags().StringVar(&runEnd, "end", "", "last date to reconcile, YYYY-MM-DD (default --start)")
	runCmd.Flags().StringSliceVar(&runFundations, "fundation", nil, "restrict the run to these fundations (default all)")
	runCmd.Flags().StringSliceVar(&runKinds, "kind", nil, "restrict the run to these kinds, cash or collateral (default both)")
	runCmd.Flags().StringSliceVar(&runBanks, "bank", nil, "restrict the run to these banks (default all)")
	runCmd.Flags().StringSliceVar(&runMailboxes, "mailbox", nil, "mailboxes to ingest from (default configured list)")
	rootCmd.AddCommand(runCmd)
}
