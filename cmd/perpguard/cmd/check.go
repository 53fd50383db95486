package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pkrawiec/perpguard/fees"
	"github.com/pkrawiec/perpguard/market"
	"github.com/pkrawiec/perpguard/risk"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Inspect sizing and liquidation math for a prospective entry",
	Long: `Check prints the sized position, liquidation price, and fee-adjusted
breakeven for a prospective entry without touching the exchange.

Example:
  perpguard check --entry 50000 --stop 49000 --balance 10000 --leverage 10`,
	RunE: runCheck,
}

var (
	checkEntry    float64
	checkStop     float64
	checkBalance  float64
	checkRisk     float64
	checkLeverage int
	checkBuffer   float64
	checkShort    bool
)

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().Float64VarP(&checkEntry, "entry", "e", 0, "entry price (required)")
	checkCmd.Flags().Float64VarP(&checkStop, "stop", "s", 0, "stop loss price (required)")
	checkCmd.Flags().Float64VarP(&checkBalance, "balance", "b", 10_000, "account balance")
	checkCmd.Flags().Float64VarP(&checkRisk, "risk", "r", 0.025, "risk fraction per trade")
	checkCmd.Flags().IntVarP(&checkLeverage, "leverage", "l", 10, "leverage")
	checkCmd.Flags().Float64Var(&checkBuffer, "buffer", 0.20, "liquidation safety buffer")
	checkCmd.Flags().BoolVar(&checkShort, "short", false, "size a short instead of a long")

	checkCmd.MarkFlagRequired("entry")
	checkCmd.MarkFlagRequired("stop")
}

func runCheck(cmd *cobra.Command, args []string) error {
	side := market.Long
	if checkShort {
		side = market.Short
	}

	sized, err := risk.Size(risk.SizeInputs{
		Capital:           checkBalance,
		RiskFraction:      checkRisk,
		EntryPrice:        checkEntry,
		StopLossPrice:     checkStop,
		Side:              side,
		Leverage:          checkLeverage,
		SafetyBuffer:      checkBuffer,
		MaxMarginFraction: 0.25,
	})
	if err != nil {
		return err
	}

	be := fees.New().Breakeven(checkEntry, sized.Quantity, side, false)

	fmt.Printf("Side:              %s\n", side)
	fmt.Printf("Notional:          $%.2f\n", sized.NotionalUSD)
	fmt.Printf("Margin:            $%.2f\n", sized.MarginUSD)
	fmt.Printf("Quantity:          %.6f\n", sized.Quantity)
	fmt.Printf("Risk:              $%.2f\n", sized.RiskUSD)
	fmt.Printf("Liquidation Price: %.2f\n", sized.LiquidationPrice)
	fmt.Printf("Breakeven Price:   %.2f\n", be.BreakevenPrice)
	if sized.MarginCapped {
		fmt.Println("Note: margin capped, position reduced")
	}
	return nil
}
