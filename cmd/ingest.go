package main

import (
	"github.com/spf13/cobra"
)

var (
	ingestDate      string
	ingestMailboxes []string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Pull statements from mailboxes and FTP drops for one date",
	Long:  "Sweeps the configured mailboxes, buckets mail by counterparty, downloads attachments into the per-bank directories, and mirrors the FTP drops. Does not touch history; run `run` afterwards to reconcile.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		date, err := parseDateFlag(ingestDate)
		if err != nil {
			return err
		}

		ingestor, err := initIngestor(ingestMailboxes)
		if err != nil {
			return err
		}
		return ingestor.IngestDate(ctx, date)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDate, "date", "", "date to pull, YYYY-MM-DD (default today)")
	ingestCmd.Flags().StringSliceVar(&ingestMailboxes, "mailbox", nil, "mailboxes to sweep (default configured list)")
	rootCmd.AddCommand(ingestCmd)
}
