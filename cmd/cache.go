package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/heroics-capital/treasury-recon/internal/cache"
	"github.com/heroics-capital/treasury-recon/internal/extract"
	"github.com/heroics-capital/treasury-recon/internal/recon"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and rebuild the statement file index",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed statement files",
	RunE: func(cmd *cobra.Command, _ []string) error {
		index, err := cache.Load(cfg.Paths.CacheFile)
		if err != nil {
			return err
		}

		entries := index.Entries()
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Cache is empty.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DATE\tFUNDATION\tBANK\tKIND\tFILE")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				recon.FormatDate(e.Date), e.Fundation, e.Bank, e.Kind, e.Filename)
		}
		return w.Flush()
	},
}

var cacheReindexDate string

var cacheReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Scan the attachment directories and index new statement files",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		date, err := parseDateFlag(cacheReindexDate)
		if err != nil {
			return err
		}

		index, err := cache.Load(cfg.Paths.CacheFile)
		if err != nil {
			return err
		}

		added, err := index.Reindex(ctx, date,
			recon.AllFundations(), recon.AllBanks(), recon.AllKinds(),
			extract.NewFinders(cfg.Paths.AttachmentsDir))
		if err != nil {
			return err
		}

		fmt.Printf("indexed %d new file(s) for %s\n", added, recon.FormatDate(date))
		return nil
	},
}

func init() {
	cacheReindexCmd.Flags().StringVar(&cacheReindexDate, "date", "", "date to scan, YYYY-MM-DD (default today)")
	cacheCmd.AddCommand(cacheListCmd, cacheReindexCmd)
	rootCmd.AddCommand(cacheCmd)
}
