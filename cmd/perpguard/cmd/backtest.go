package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pkrawiec/perpguard/backtest"
	"github.com/pkrawiec/perpguard/fees"
	"github.com/pkrawiec/perpguard/logging"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run crash-scenario backtests",
	Long: `Backtest replays synthetic crash and trend scenarios through the risk
pipeline and reports whether the account survives each one.

Example:
  perpguard backtest --balance 10000 --leverage 10 --seed 42`,
	RunE: runBacktest,
}

var (
	btBalance  float64
	btLeverage int
	btBuffer   float64
	btSeed     int64
	btScenario string
	btLogLevel string
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().Float64VarP(&btBalance, "balance", "b", 10_000, "starting account balance")
	backtestCmd.Flags().IntVarP(&btLeverage, "leverage", "l", 10, "position leverage")
	backtestCmd.Flags().Float64Var(&btBuffer, "buffer", 0.20, "liquidation safety buffer")
	backtestCmd.Flags().Int64Var(&btSeed, "seed", 42, "price path RNG seed")
	backtestCmd.Flags().StringVarP(&btScenario, "scenario", "s", "", "run a single named scenario (default: all)")
	backtestCmd.Flags().StringVar(&btLogLevel, "log-level", "warn", "log level")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	log, err := logging.New(btLogLevel, true)
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg := backtest.DefaultConfig()
	cfg.InitialCapital = btBalance
	cfg.Leverage = btLeverage
	cfg.SafetyBuffer = btBuffer

	engine := backtest.NewEngine(cfg, fees.New(), log)

	scenarios := backtest.CrashScenarios()
	if btScenario != "" {
		var found []backtest.Scenario
		for _, s := range scenarios {
			if s.Name == btScenario {
				found = append(found, s)
			}
		}
		if len(found) == 0 {
			return fmt.Errorf("unknown scenario %q", btScenario)
		}
		scenarios = found
	}

	summary := engine.RunAll(scenarios, btSeed)
	summary.Print(os.Stdout)
	return nil
}
