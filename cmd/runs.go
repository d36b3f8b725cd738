package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/heroics-capital/treasury-recon/internal/runlog"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect reconciliation run history",
}

var runsLimit int

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reconciliation runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initRunLog(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListRuns(ctx, runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tRANGE\tSTATUS\tSTARTED\tMERGED\tFAILED")
		for _, run := range runs {
			merged, failed := "-", "-"
			if run.Summary != nil {
				merged = fmt.Sprint(run.Summary.Merged)
				failed = fmt.Sprint(run.Summary.Failed)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				run.ID, run.Label, run.Status,
				run.StartedAt.Local().Format(time.RFC3339), merged, failed)
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show per-quadruple outcomes of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initRunLog(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		tasks, err := st.ListTasks(ctx, run.ID)
		if err != nil {
			return err
		}

		fmt.Printf("run %s (%s) %s\n", run.ID, run.Label, run.Status)
		if run.Error != "" {
			fmt.Printf("error: %s\n", run.Error)
		}
		printRunSummary(run.Summary)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DATE\tFUNDATION\tBANK\tKIND\tOUTCOME\tERROR")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				t.Date, t.Fundation, t.Bank, t.Kind, t.Outcome, t.Error)
		}
		return w.Flush()
	},
}

func printRunSummary(s *runlog.Summary) {
	if s == nil {
		return
	}
	fmt.Printf("merged %d, skipped %d, unavailable %d, failed %d (cache hits %d, newly resolved %d)\n\n",
		s.Merged, s.Skipped, s.Unavailable, s.Failed, s.CacheHits, s.Resolved)
}

func init() {
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
	runsCmd.AddCommand(runsListCmd, runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
