package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ghostmonday/formmonkeyplatform/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "formmonkey",
	Short: "Prediction resilience and correction reconciliation engine",
	Long:  "Runs field predictions through a governed fallback chain of backends, validates and reconciles human corrections, and keeps an append-only version history per field.",
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
