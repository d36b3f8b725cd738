package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/heroics-capital/treasury-recon/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "treasury-recon",
	Short: "Daily cash and collateral statement reconciliation",
	Long:  "Pulls bank statements from shared mailboxes and FTP drops, extracts cash and collateral positions per fundation, and maintains the append-only history workbooks.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
