package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jusbridge/casesync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "casesync",
	Short: "Asynchronous judicial case enrichment pipeline",
	Long:  "Submits CNJ lookups to the Judit API, ingests webhook callbacks, reconciles multi-source case timelines, and downloads attachments.",
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
