package backtest

import (
	"fmt"
	"io"
)

// Result summarizes one scenario run.
type Result struct {
	Scenario string

	StartBalance float64
	EndBalance   float64
	ReturnPct    float64

	Trades       int
	Wins         int
	Losses       int
	Liquidations int
	WinRate      float64
	SurvivalRate float64 // percent of trades not liquidated

	GrossProfit    float64
	GrossLoss      float64
	ProfitFactor   float64
	LargestWin     float64
	LargestLoss    float64
	AvgHoldCandles float64
	PeakBalance    float64
	MaxDrawdownPct float64
	Sharpe         float64

	Survived    bool
	EquityCurve []float64
}

// Summary aggregates several scenario results. SurvivalRate is the fraction
// of trades across all scenarios that were not liquidated.
type Summary struct {
	Results           []Result
	Survived          int // scenarios that avoided capital ruin
	TotalTrades       int
	TotalLiquidations int
	SurvivalRate      float64
}

func (r Result) Print(w io.Writer) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintf(w, " Scenario: %s\n", r.Scenario)
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintf(w, "Start Balance: %.2f\n", r.StartBalance)
	fmt.Fprintf(w, "End Balance:   %.2f\n", r.EndBalance)
	fmt.Fprintf(w, "Return:        %.2f%%\n", r.ReturnPct)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Trades:        %d\n", r.Trades)
	fmt.Fprintf(w, "Wins:          %d\n", r.Wins)
	fmt.Fprintf(w, "Losses:        %d\n", r.Losses)
	fmt.Fprintf(w, "Liquidations:  %d\n", r.Liquidations)
	fmt.Fprintf(w, "Win Rate:      %.2f%%\n", r.WinRate)
	fmt.Fprintf(w, "Survival Rate: %.2f%%\n", r.SurvivalRate)

	fmt.Fprintln(w)
	if r.ProfitFactor > 0 {
		fmt.Fprintf(w, "Profit Factor: %.2f\n", r.ProfitFactor)
	}
	fmt.Fprintf(w, "Largest Win:   %.2f\n", r.LargestWin)
	fmt.Fprintf(w, "Largest Loss:  %.2f\n", r.LargestLoss)
	fmt.Fprintf(w, "Avg Hold:      %.1f candles\n", r.AvgHoldCandles)
	fmt.Fprintf(w, "Peak Balance:  %.2f\n", r.PeakBalance)
	fmt.Fprintf(w, "Max Drawdown:  %.2f%%\n", r.MaxDrawdownPct*100)
	fmt.Fprintf(w, "Sharpe:        %.2f\n", r.Sharpe)
	fmt.Fprintf(w, "Survived:      %v\n", r.Survived)
}

func (s Summary) Print(w io.Writer) {
	for _, r := range s.Results {
		r.Print(w)
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintf(w, "Survival Rate: %.1f%% (%d/%d trades not liquidated)\n",
		s.SurvivalRate, s.TotalTrades-s.TotalLiquidations, s.TotalTrades)
	fmt.Fprintf(w, "Scenarios without ruin: %d/%d\n", s.Survived, len(s.Results))
}
