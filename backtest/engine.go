package backtest

import (
	"math"

	"go.uber.org/zap"

	"github.com/pkrawiec/perpguard/fees"
	"github.com/pkrawiec/perpguard/indicators"
	"github.com/pkrawiec/perpguard/internal/id"
	"github.com/pkrawiec/perpguard/market"
	"github.com/pkrawiec/perpguard/risk"
	"github.com/pkrawiec/perpguard/trailing"
)

const (
	atrPeriod = 14
	volWindow = 12
)

// Config tunes the simulated dip-buying strategy and its risk limits.
type Config struct {
	InitialCapital   float64
	Leverage         int
	SafetyBuffer     float64
	PositionFraction float64 // fraction of capital committed as margin per entry
	DipThreshold     float64 // close-to-close drop that triggers an entry, negative
	StopLossPct      float64 // distance below entry
	TakeProfitPct    float64 // distance above entry
	MaxLossOfMargin  float64 // unrealized loss fraction of margin that forces a close
	MaxHoldCandles   int
	RuinFraction     float64 // stop the run when capital falls below this fraction
}

func DefaultConfig() Config {
	return Config{
		InitialCapital:   10000,
		Leverage:         10,
		SafetyBuffer:     0.20,
		PositionFraction: 0.05,
		DipThreshold:     -0.05,
		StopLossPct:      0.02,
		TakeProfitPct:    0.06,
		MaxLossOfMargin:  0.50,
		MaxHoldCandles:   288,
		RuinFraction:     0.30,
	}
}

// Engine runs scenarios through the fee-aware position lifecycle.
type Engine struct {
	cfg  Config
	fees fees.Calculator
	log  *zap.Logger
}

func NewEngine(cfg Config, calc fees.Calculator, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cfg: cfg, fees: calc, log: log}
}

type openPosition struct {
	pos         risk.Position
	entryCandle int
}

// Run replays one candle series. Exit checks run in strict priority order on
// each candle: liquidation, stop loss, take profit, margin drawdown, then
// hold timeout. The run aborts once capital falls below the ruin fraction.
func (e *Engine) Run(scenarioName string, candles []market.Candle) Result {
	capital := e.cfg.InitialCapital
	peak := capital

	res := Result{
		Scenario:     scenarioName,
		StartBalance: capital,
		Survived:     true,
	}

	var open *openPosition
	equity := make([]float64, 0, len(candles))
	idx := 0
	holdCandles := 0

	atr := indicators.NewATR(atrPeriod)
	vol := indicators.NewVolatility(volWindow)
	trail := trailing.NewEngine(trailing.Config{
		InitialStopPercent: e.cfg.StopLossPct,
		ATRMultiplier:      1.5,
	}, e.log)

	closeAt := func(price float64, reason risk.ExitReason) {
		p := open.pos
		pnl, err := e.fees.TruePnL(fees.PnLInputs{
			EntryPrice: p.EntryPrice,
			ExitPrice:  price,
			Quantity:   p.Quantity,
			Side:       p.Side,
			Leverage:   p.Leverage,
		})
		net := -p.MarginUSD
		if err == nil {
			net = pnl.NetPnL
			if reason == risk.ExitLiquidated && net < -p.MarginUSD {
				// Losses past the margin are absorbed by the exchange.
				net = -p.MarginUSD
			}
		}

		capital += net
		res.Trades++
		holdCandles += idx - open.entryCandle
		if net > 0 {
			res.Wins++
			res.GrossProfit += net
			if net > res.LargestWin {
				res.LargestWin = net
			}
		} else {
			res.Losses++
			res.GrossLoss += -net
			if net < res.LargestLoss {
				res.LargestLoss = net
			}
		}
		if reason == risk.ExitLiquidated {
			res.Liquidations++
		}
		trail.Close(p.Symbol, p.Side)
		open = nil
	}

	for i, c := range candles {
		idx = i
		atr.Update(c)
		vol.Update(c)

		if open != nil {
			p := open.pos
			switch {
			case c.Low <= p.LiquidationPrice:
				closeAt(p.LiquidationPrice, risk.ExitLiquidated)
			case c.Low <= p.StopLoss:
				closeAt(p.StopLoss, risk.ExitStopLoss)
			case c.High >= p.TakeProfit:
				closeAt(p.TakeProfit, risk.ExitTakeProfit)
			case p.MarginUSD > 0 && -p.UnrealizedPnL(c.Close)/p.MarginUSD > e.cfg.MaxLossOfMargin:
				closeAt(c.Close, risk.ExitEmergency)
			case i-open.entryCandle >= e.cfg.MaxHoldCandles:
				closeAt(c.Close, risk.ExitTimeout)
			}
		}

		if open == nil && i > 0 && capital > 0 {
			if c.Change(candles[i-1].Close) <= e.cfg.DipThreshold {
				if p, ok := e.enter(c.Close, capital); ok {
					open = &openPosition{pos: p, entryCandle: i}
					trail.Initialize(p.Symbol, p.Side, p.EntryPrice)
				}
			}
		}

		// Advance the trailing stop on the streaming indicators. Stop hits
		// themselves are handled by the candle-low check above.
		if open != nil {
			snap := market.Snapshot{
				Symbol:     open.pos.Symbol,
				Time:       c.Time,
				Price:      c.Close,
				High:       c.High,
				Low:        c.Low,
				ATR:        atr.Value(),
				Volatility: vol.Value(),
			}
			upd, err := trail.Evaluate(open.pos.Symbol, open.pos.Side, snap, open.pos.AchievedRR(c.Close))
			if err == nil && upd.Moved {
				open.pos.StopLoss = upd.NewStop
			}
		}

		eq := capital
		if open != nil {
			eq += open.pos.UnrealizedPnL(c.Close)
		}
		equity = append(equity, eq)
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			dd := (peak - eq) / peak
			if dd > res.MaxDrawdownPct {
				res.MaxDrawdownPct = dd
			}
		}

		if capital < e.cfg.InitialCapital*e.cfg.RuinFraction {
			res.Survived = false
			break
		}
	}

	// Mark any position still open at the end to the last close.
	if open != nil && len(candles) > 0 {
		closeAt(candles[len(candles)-1].Close, risk.ExitTimeout)
		equity[len(equity)-1] = capital
	}

	res.EndBalance = capital
	res.ReturnPct = (capital - res.StartBalance) / res.StartBalance * 100
	res.EquityCurve = equity
	if res.GrossLoss > 0 {
		res.ProfitFactor = res.GrossProfit / res.GrossLoss
	}
	res.SurvivalRate = 100
	if res.Trades > 0 {
		res.WinRate = float64(res.Wins) / float64(res.Trades) * 100
		res.AvgHoldCandles = float64(holdCandles) / float64(res.Trades)
		res.SurvivalRate = float64(res.Trades-res.Liquidations) / float64(res.Trades) * 100
	}
	res.PeakBalance = peak
	res.Sharpe = sharpeRatio(equity)

	e.log.Info("scenario complete",
		zap.String("scenario", scenarioName),
		zap.Float64("end_balance", capital),
		zap.Int("trades", res.Trades),
		zap.Int("liquidations", res.Liquidations),
		zap.Bool("survived", res.Survived))
	return res
}

// enter opens a long of PositionFraction of capital as margin.
func (e *Engine) enter(price, capital float64) (risk.Position, bool) {
	margin := capital * e.cfg.PositionFraction
	notional := margin * float64(e.cfg.Leverage)
	qty := notional / price

	liq, err := risk.LiquidationPrice(risk.LiquidationInputs{
		EntryPrice:   price,
		Leverage:     e.cfg.Leverage,
		SafetyBuffer: e.cfg.SafetyBuffer,
		NotionalUSD:  notional,
		Side:         market.Long,
	})
	if err != nil {
		return risk.Position{}, false
	}

	return risk.Position{
		ID:               id.New(),
		Symbol:           "BTCUSDT",
		Side:             market.Long,
		EntryPrice:       price,
		Quantity:         qty,
		NotionalUSD:      notional,
		MarginUSD:        margin,
		Leverage:         e.cfg.Leverage,
		LiquidationPrice: liq,
		StopLoss:         price * (1 - e.cfg.StopLossPct),
		InitialStop:      price * (1 - e.cfg.StopLossPct),
		TakeProfit:       price * (1 + e.cfg.TakeProfitPct),
		Status:           risk.StatusOpen,
	}, true
}

// RunAll replays every scenario with the same seed. The aggregate survival
// rate is the fraction of trades not liquidated across all scenarios.
func (e *Engine) RunAll(scenarios []Scenario, seed int64) Summary {
	sum := Summary{SurvivalRate: 100}
	for _, s := range scenarios {
		r := e.Run(s.Name, Generate(s, seed))
		sum.Results = append(sum.Results, r)
		sum.TotalTrades += r.Trades
		sum.TotalLiquidations += r.Liquidations
		if r.Survived {
			sum.Survived++
		}
	}
	if sum.TotalTrades > 0 {
		sum.SurvivalRate = float64(sum.TotalTrades-sum.TotalLiquidations) / float64(sum.TotalTrades) * 100
	}
	return sum
}

// sharpeRatio computes the annualized Sharpe of per-candle equity returns,
// assuming 5-minute candles and a zero risk-free rate.
func sharpeRatio(equity []float64) float64 {
	if len(equity) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		returns = append(returns, (equity[i]-equity[i-1])/equity[i-1])
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}

	candlesPerYear := 365.0 * 24 * 12
	return mean / math.Sqrt(variance) * math.Sqrt(candlesPerYear)
}
