package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-import/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "crm-import",
	Short: "Bulk CSV/XLSX import pipeline for CRM contacts and companies",
	Long:  "Streams uploaded CSV and XLSX files into the CRM: maps headers to canonical fields, validates and normalizes rows, deduplicates against recent records, and reports live progress.",
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
