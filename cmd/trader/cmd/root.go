package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "A position lifecycle and risk-control engine for speculative DEX tokens",
	Long: `Trader manages the full lifecycle of speculative token positions on a DEX.

It provides:
  - Budget ledger with hard reserve/release accounting
  - Daily circuit breaker (trade count, realized loss, error streaks)
  - Take-profit ladders, trailing stops and static stop losses
  - Per-position price monitoring with safe close handoff
  - SQLite or CSV trade journaling
  - Telegram notifications and a Prometheus metrics endpoint`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
