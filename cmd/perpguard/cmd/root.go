package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "perpguard",
	Short: "Risk management and execution engine for leveraged perpetual futures",
	Long: `Perpguard sizes, protects, and unwinds leveraged perpetual futures positions.

It provides tools for:
  - Risk-based position sizing with liquidation awareness
  - ATR-driven trailing stops with breakeven protection
  - Emergency exits on drawdown, volatility, and liquidation proximity
  - Fee- and slippage-true P&L accounting
  - Crash-scenario backtesting against synthetic price paths`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
