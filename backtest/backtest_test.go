package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkrawiec/perpguard/fees"
	"github.com/pkrawiec/perpguard/market"
)

func TestGenerate_Deterministic(t *testing.T) {
	t.Parallel()

	s := CrashScenarios()[1] // crash_40

	a := Generate(s, 42)
	b := Generate(s, 42)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i], b[i])
	}

	c := Generate(s, 43)
	assert.NotEqual(t, a[len(a)-1].Close, c[len(c)-1].Close)
}

func TestGenerate_CrashEndsLower(t *testing.T) {
	t.Parallel()

	for _, s := range CrashScenarios() {
		if s.Kind != KindCrash {
			continue
		}
		candles := Generate(s, 42)
		require.Len(t, candles, s.Candles)

		last := candles[len(candles)-1].Close
		assert.Less(t, last, s.StartPrice*0.9, "scenario %s should end well below start", s.Name)

		for i, c := range candles {
			assert.GreaterOrEqual(t, c.High, c.Low, "candle %d", i)
			assert.Positive(t, c.Close, "candle %d", i)
		}
	}
}

func TestGenerate_TrendEndsHigher(t *testing.T) {
	t.Parallel()

	s := Scenario{Name: "up", Kind: KindTrend, StartPrice: 50_000, TotalMove: 0.15, Candles: 576, VolMultiplier: 1.0}
	candles := Generate(s, 42)

	assert.Greater(t, candles[len(candles)-1].Close, s.StartPrice*1.05)
}

// A dip entry whose candle low sweeps through the liquidation level must be
// closed as a liquidation before the stop loss is even considered.
func TestRun_LiquidationBeatsStop(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Leverage = 100 // liquidation sits inside the 2% stop distance
	engine := NewEngine(cfg, fees.New(), nil)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(i int, open, close float64) market.Candle {
		hi, lo := open, close
		if close > hi {
			hi, lo = close, open
		}
		return market.Candle{
			Time: start.Add(time.Duration(i) * 5 * time.Minute),
			Open: open, High: hi, Low: lo, Close: close, Volume: 1000,
		}
	}

	candles := []market.Candle{
		mk(0, 50_000, 50_000),
		mk(1, 50_000, 46_500), // -7% dip triggers the entry at the close
		mk(2, 46_500, 44_500), // sweeps far below the 100x liquidation level
		mk(3, 44_500, 44_500),
	}

	res := engine.Run("test", candles)

	require.Equal(t, 1, res.Trades)
	assert.Equal(t, 1, res.Liquidations)
	assert.Equal(t, 0, res.Wins)
	assert.Less(t, res.EndBalance, res.StartBalance)
	// A liquidation never costs more than the posted margin plus fees.
	assert.Greater(t, res.EndBalance, res.StartBalance*0.9)
}

func TestRun_TakeProfit(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	engine := NewEngine(cfg, fees.New(), nil)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(i int, open, close float64) market.Candle {
		hi, lo := open, close
		if close > hi {
			hi, lo = close, open
		}
		return market.Candle{
			Time: start.Add(time.Duration(i) * 5 * time.Minute),
			Open: open, High: hi, Low: lo, Close: close, Volume: 1000,
		}
	}

	candles := []market.Candle{
		mk(0, 50_000, 50_000),
		mk(1, 50_000, 47_000), // -6% dip: entry at 47,000
		mk(2, 47_000, 50_500), // high crosses the 6% take profit
		mk(3, 50_500, 50_500),
	}

	res := engine.Run("test", candles)

	require.Equal(t, 1, res.Trades)
	assert.Equal(t, 1, res.Wins)
	assert.Greater(t, res.EndBalance, res.StartBalance)
	assert.True(t, res.Survived)
}

func TestRun_RuinStopsTheRun(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.PositionFraction = 1.0 // all-in every entry
	cfg.Leverage = 100
	engine := NewEngine(cfg, fees.New(), nil)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(i int, open, close float64) market.Candle {
		hi, lo := open, close
		if close > hi {
			hi, lo = close, open
		}
		return market.Candle{
			Time: start.Add(time.Duration(i) * 5 * time.Minute),
			Open: open, High: hi, Low: lo, Close: close, Volume: 1000,
		}
	}

	// Repeated dip-and-liquidate legs grind the account below the ruin line.
	var candles []market.Candle
	price := 50_000.0
	candles = append(candles, mk(0, price, price))
	for i := 1; i < 40; i += 2 {
		dip := price * 0.94
		candles = append(candles, mk(i, price, dip))
		crash := dip * 0.97
		candles = append(candles, mk(i+1, dip, crash))
		price = crash
	}

	res := engine.Run("test", candles)

	assert.False(t, res.Survived)
	assert.Less(t, res.EndBalance, res.StartBalance*0.30)
}

// Once in profit past 1:1, the stop trails up off the streaming ATR and a
// pullback exits at the raised stop for a win. Without the trail the same
// series would ride the position down into a losing end-of-data close.
func TestRun_TrailingStopLocksInProfit(t *testing.T) {
	t.Parallel()

	engine := NewEngine(DefaultConfig(), fees.New(), nil)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	at := func(i int) time.Time { return start.Add(time.Duration(i) * 5 * time.Minute) }

	var candles []market.Candle
	for i := 0; i < 16; i++ {
		candles = append(candles, market.Candle{
			Time: at(i), Open: 50_000, High: 50_100, Low: 49_900, Close: 50_000, Volume: 1000,
		})
	}
	candles = append(candles,
		// -6% dip: long entry at 47000, stop 46060, take profit 49820.
		market.Candle{Time: at(16), Open: 50_000, High: 50_000, Low: 46_950, Close: 47_000, Volume: 1000},
		// Rally past 1:1 arms breakeven; the stop trails above entry.
		market.Candle{Time: at(17), Open: 47_000, High: 48_250, Low: 46_950, Close: 48_200, Volume: 1000},
		// Pullback sweeps the trailed stop but stays above the original one.
		market.Candle{Time: at(18), Open: 48_200, High: 48_210, Low: 47_050, Close: 47_100, Volume: 1000},
		// Further drift down that an untrailed position would eat.
		market.Candle{Time: at(19), Open: 47_100, High: 47_100, Low: 46_080, Close: 46_100, Volume: 1000},
	)

	res := engine.Run("trail", candles)

	require.Equal(t, 1, res.Trades)
	assert.Equal(t, 1, res.Wins)
	assert.Equal(t, 0, res.Liquidations)
	assert.Greater(t, res.EndBalance, res.StartBalance)
	assert.InDelta(t, 100.0, res.SurvivalRate, 1e-9)
}

// A -40% crash at 100x wipes out every dip entry. The survival rate counts
// trades that escaped liquidation, so it must fall below 100%.
func TestRun_CrashAtHighLeverageLiquidates(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Leverage = 100
	engine := NewEngine(cfg, fees.New(), nil)

	s := CrashScenarios()[1] // crash_40
	res := engine.Run(s.Name, Generate(s, 42))

	require.Greater(t, res.Trades, 0)
	assert.Greater(t, res.Liquidations, 0)
	assert.Less(t, res.SurvivalRate, 100.0)
}

func TestRunAll_ReportsSurvival(t *testing.T) {
	t.Parallel()

	engine := NewEngine(DefaultConfig(), fees.New(), nil)
	sum := engine.RunAll(CrashScenarios(), 42)

	require.Len(t, sum.Results, len(CrashScenarios()))
	assert.Greater(t, sum.TotalTrades, 0)
	assert.GreaterOrEqual(t, sum.TotalTrades, sum.TotalLiquidations)

	// The aggregate rate is the per-trade tally, not a scenario count.
	want := float64(sum.TotalTrades-sum.TotalLiquidations) / float64(sum.TotalTrades) * 100
	assert.InDelta(t, want, sum.SurvivalRate, 1e-9)

	var trades, liqs int
	for _, r := range sum.Results {
		trades += r.Trades
		liqs += r.Liquidations
		assert.NotEmpty(t, r.EquityCurve)
	}
	assert.Equal(t, trades, sum.TotalTrades)
	assert.Equal(t, liqs, sum.TotalLiquidations)
}
