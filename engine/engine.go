// Package engine orchestrates the full position lifecycle: sizing, entry,
// trailing stops, emergency exits, and P&L reconciliation on close.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pkrawiec/perpguard/emergency"
	"github.com/pkrawiec/perpguard/exchange"
	"github.com/pkrawiec/perpguard/fees"
	"github.com/pkrawiec/perpguard/internal/id"
	"github.com/pkrawiec/perpguard/journal"
	"github.com/pkrawiec/perpguard/market"
	"github.com/pkrawiec/perpguard/metrics"
	"github.com/pkrawiec/perpguard/orders"
	"github.com/pkrawiec/perpguard/risk"
	"github.com/pkrawiec/perpguard/trailing"
)

var (
	ErrPositionExists = errors.New("engine: position already open for symbol and side")
	ErrNoPosition     = errors.New("engine: no open position")
	ErrTradingHalted  = errors.New("engine: trading halted")
)

// Config tunes the engine's risk gates and loop cadence.
type Config struct {
	RiskPerTrade      float64 // fraction of balance risked per entry
	MaxMarginFraction float64
	Leverage          int
	SafetyBuffer      float64
	MaxDrawdown       float64 // account drawdown that halts new entries
	MaxVolatility     float64 // realized volatility that halts new entries
	DrainInterval     time.Duration
	EquityInterval    time.Duration
}

func DefaultConfig() Config {
	return Config{
		RiskPerTrade:      0.025,
		MaxMarginFraction: 0.25,
		Leverage:          10,
		SafetyBuffer:      0.20,
		MaxDrawdown:       0.25,
		MaxVolatility:     0.08,
		DrainInterval:     time.Second,
		EquityInterval:    time.Minute,
	}
}

// Engine is the single writer of account and position state. All mutations
// go through its mutex; the drain loop and tick evaluation never race.
type Engine struct {
	cfg    Config
	log    *zap.Logger
	exch   exchange.Exchange
	queue  *orders.Queue
	trail  *trailing.Engine
	emerg  *emergency.System
	fees   fees.Calculator
	jrnl   journal.Journal
	health *exchange.HealthTracker

	mu         sync.Mutex
	account    risk.Account
	positions  map[string]*risk.Position
	volatility float64
}

func New(
	cfg Config,
	account risk.Account,
	exch exchange.Exchange,
	queue *orders.Queue,
	trail *trailing.Engine,
	emerg *emergency.System,
	calc fees.Calculator,
	jrnl journal.Journal,
	health *exchange.HealthTracker,
	log *zap.Logger,
) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		log:       log,
		exch:      exch,
		queue:     queue,
		trail:     trail,
		emerg:     emerg,
		fees:      calc,
		jrnl:      jrnl,
		health:    health,
		account:   account,
		positions: make(map[string]*risk.Position),
	}
}

func posKey(symbol string, side market.Side) string {
	return symbol + "/" + side.String()
}

// Account returns a copy of the current account state.
func (e *Engine) Account() risk.Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account
}

// Position returns a copy of the open position for symbol+side.
func (e *Engine) Position(symbol string, side market.Side) (risk.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.positions[posKey(symbol, side)]
	if !ok {
		return risk.Position{}, false
	}
	return *p, true
}

// OpenPosition sizes and submits a new entry. At most one open position per
// symbol+side. Entries are refused while the halt gate is up.
func (e *Engine) OpenPosition(ctx context.Context, symbol string, side market.Side, entryPrice, stopLoss float64) (risk.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	halted, reasons := emergency.ShouldHalt(emergency.HaltInputs{
		APIHealthy:      e.health.Healthy(),
		CurrentDrawdown: e.account.DrawdownFromPeak(),
		MaxDrawdown:     e.cfg.MaxDrawdown,
		Volatility:      e.volatility,
		MaxVolatility:   e.cfg.MaxVolatility,
	})
	if halted {
		e.log.Warn("entry refused, trading halted", zap.Strings("reasons", reasons))
		return risk.Position{}, fmt.Errorf("%w: %v", ErrTradingHalted, reasons)
	}

	key := posKey(symbol, side)
	if _, ok := e.positions[key]; ok {
		return risk.Position{}, fmt.Errorf("%w: %s", ErrPositionExists, key)
	}

	sized, err := risk.Size(risk.SizeInputs{
		Capital:           e.account.Balance,
		RiskFraction:      e.cfg.RiskPerTrade,
		EntryPrice:        entryPrice,
		StopLossPrice:     stopLoss,
		Side:              side,
		Leverage:          e.cfg.Leverage,
		SafetyBuffer:      e.cfg.SafetyBuffer,
		MaxMarginFraction: e.cfg.MaxMarginFraction,
	})
	if err != nil {
		return risk.Position{}, fmt.Errorf("engine: size entry: %w", err)
	}

	if err := e.exch.SetLeverage(ctx, symbol, e.cfg.Leverage); err != nil {
		return risk.Position{}, err
	}

	entry := orders.New(symbol, side, orders.TypeMarket, sized.Quantity)
	if err := e.queue.Enqueue(entry); err != nil {
		return risk.Position{}, err
	}

	// Venue-side protection from the first moment: a reduce-only stop at the
	// initial stop-loss rides with the entry. Trailing replaces it later.
	stop := orders.New(symbol, side.Opposite(), orders.TypeStopMarket, sized.Quantity)
	stop.StopPrice = stopLoss
	stop.ReduceOnly = true
	stop.Critical = true
	if err := e.queue.Enqueue(stop); err != nil {
		return risk.Position{}, err
	}

	pos := &risk.Position{
		ID:               id.New(),
		Symbol:           symbol,
		Side:             side,
		EntryPrice:       entryPrice,
		Quantity:         sized.Quantity,
		NotionalUSD:      sized.NotionalUSD,
		MarginUSD:        sized.MarginUSD,
		Leverage:         e.cfg.Leverage,
		LiquidationPrice: sized.LiquidationPrice,
		StopLoss:         stopLoss,
		InitialStop:      stopLoss,
		OpenedAt:         time.Now().UTC(),
		Status:           risk.StatusOpen,
	}
	e.positions[key] = pos

	if _, err := e.trail.Initialize(symbol, side, entryPrice); err != nil {
		e.log.Warn("trailing stop init failed", zap.Error(err))
	}

	metrics.PositionsOpen.Set(float64(len(e.positions)))
	e.log.Info("position opened",
		zap.String("symbol", symbol),
		zap.String("side", side.String()),
		zap.Float64("entry", entryPrice),
		zap.Float64("quantity", sized.Quantity),
		zap.Float64("notional_usd", sized.NotionalUSD),
		zap.Float64("liquidation", sized.LiquidationPrice))
	return *pos, nil
}

// EvaluateTick advances every open position on the snapshot's symbol:
// trailing-stop progression first, then the emergency decision table.
func (e *Engine) EvaluateTick(ctx context.Context, snap market.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.volatility = snap.Volatility

	var firstErr error
	for _, side := range []market.Side{market.Long, market.Short} {
		pos, ok := e.positions[posKey(snap.Symbol, side)]
		if !ok {
			continue
		}
		if err := e.evaluatePositionLocked(ctx, pos, snap); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Engine) evaluatePositionLocked(ctx context.Context, pos *risk.Position, snap market.Snapshot) error {
	upd, err := e.trail.Evaluate(pos.Symbol, pos.Side, snap, pos.AchievedRR(snap.Price))
	if err == nil {
		if upd.Moved {
			pos.StopLoss = upd.NewStop
			// Replace the venue-side stop so protection survives a feed
			// outage. The old stop is cleared first, both on the venue and
			// any copy still waiting in the queue.
			if err := e.exch.CancelOpenOrders(ctx, pos.Symbol); err != nil {
				e.log.Error("cancel stale stop order", zap.Error(err))
			}
			e.queue.CancelStops(pos.Symbol, pos.Side.Opposite())
			stop := orders.New(pos.Symbol, pos.Side.Opposite(), orders.TypeStopMarket, pos.Quantity)
			stop.StopPrice = upd.NewStop
			stop.ReduceOnly = true
			stop.Critical = true
			if err := e.queue.Enqueue(stop); err != nil {
				e.log.Error("enqueue replacement stop", zap.Error(err))
			}
		}
		if upd.StopHit {
			_, err := e.closeLocked(ctx, pos, snap.Price, risk.ExitStopLoss)
			return err
		}
	}

	dec := e.emerg.Evaluate(emergency.Inputs{
		Position:     *pos,
		CurrentPrice: snap.Price,
		APIHealthy:   e.health.Healthy(),
		Volatility:   snap.Volatility,
		Now:          snap.Time,
	})
	if !dec.Emergency() {
		return nil
	}
	metrics.EmergencyActions.WithLabelValues(pos.Symbol, string(dec.Action)).Inc()

	switch dec.Action {
	case emergency.MarketExit:
		// Clear resting entries first so nothing fills against the exit.
		if err := e.exch.CancelOpenOrders(ctx, pos.Symbol); err != nil {
			e.log.Error("cancel open orders before exit", zap.Error(err))
		}
		e.queue.CancelNonCritical()
		exit := orders.New(pos.Symbol, pos.Side.Opposite(), orders.TypeMarket, pos.Quantity)
		exit.ReduceOnly = true
		exit.Critical = true
		if err := e.queue.Enqueue(exit); err != nil {
			return err
		}
		_, err := e.closeLocked(ctx, pos, snap.Price, risk.ExitEmergency)
		return err

	case emergency.ReducePosition:
		half := pos.Quantity / 2
		reduce := orders.New(pos.Symbol, pos.Side.Opposite(), orders.TypeMarket, half)
		reduce.ReduceOnly = true
		reduce.Critical = true
		if err := e.queue.Enqueue(reduce); err != nil {
			return err
		}
		pos.Quantity -= half
		pos.NotionalUSD = pos.Quantity * pos.EntryPrice
		pos.MarginUSD = pos.NotionalUSD / float64(pos.Leverage)
		e.log.Warn("position reduced",
			zap.String("symbol", pos.Symbol),
			zap.Float64("remaining_qty", pos.Quantity),
			zap.Strings("reasons", dec.Reasons))
		return nil

	case emergency.ClosePosition:
		exit := orders.New(pos.Symbol, pos.Side.Opposite(), orders.TypeMarket, pos.Quantity)
		exit.ReduceOnly = true
		exit.Critical = true
		if err := e.queue.Enqueue(exit); err != nil {
			return err
		}
		_, err := e.closeLocked(ctx, pos, snap.Price, risk.ExitTimeout)
		return err
	}
	return nil
}

// ClosePosition reconciles and records a close at the given price.
func (e *Engine) ClosePosition(ctx context.Context, symbol string, side market.Side, exitPrice float64, reason risk.ExitReason) (risk.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[posKey(symbol, side)]
	if !ok {
		return risk.Trade{}, fmt.Errorf("%w: %s %s", ErrNoPosition, symbol, side)
	}
	return e.closeLocked(ctx, pos, exitPrice, reason)
}

func (e *Engine) closeLocked(ctx context.Context, pos *risk.Position, exitPrice float64, reason risk.ExitReason) (risk.Trade, error) {
	// Closes go out as market orders, so the fill is assumed to slip by the
	// full tolerance. The haircut flows into the recorded trade.
	slip := e.fees.MaxSlippage
	res, err := e.fees.TruePnL(fees.PnLInputs{
		EntryPrice:       pos.EntryPrice,
		ExitPrice:        exitPrice,
		Quantity:         pos.Quantity,
		Side:             pos.Side,
		Leverage:         pos.Leverage,
		SlippageRealized: slip,
	})
	if err != nil {
		return risk.Trade{}, fmt.Errorf("engine: reconcile close: %w", err)
	}

	if chk := e.fees.CheckSlippage(exitPrice, res.EffectiveExit); !chk.Acceptable {
		e.log.Warn("exit slipped past tolerance",
			zap.String("symbol", pos.Symbol),
			zap.Float64("intended", exitPrice),
			zap.Float64("effective", res.EffectiveExit),
			zap.Float64("slippage", chk.SlippageFraction))
	}

	now := time.Now().UTC()
	trade := risk.Trade{
		ID:               pos.ID,
		Symbol:           pos.Symbol,
		Side:             pos.Side,
		EntryPrice:       pos.EntryPrice,
		ExitPrice:        exitPrice,
		Quantity:         pos.Quantity,
		Leverage:         pos.Leverage,
		FeesPaid:         res.TotalFees,
		SlippageRealized: slip,
		GrossPnL:         res.GrossPnL,
		NetPnL:           res.NetPnL,
		ExitReason:       reason,
		OpenedAt:         pos.OpenedAt,
		ClosedAt:         now,
	}

	e.account.ApplyPnL(res.NetPnL)
	pos.Status = risk.StatusClosed
	if reason == risk.ExitLiquidated {
		pos.Status = risk.StatusLiquidated
	}
	delete(e.positions, posKey(pos.Symbol, pos.Side))
	e.queue.CancelStops(pos.Symbol, pos.Side.Opposite())
	e.trail.Close(pos.Symbol, pos.Side)

	if e.jrnl != nil {
		if err := e.jrnl.RecordTrade(trade); err != nil {
			e.log.Error("journal trade", zap.Error(err))
		}
	}

	metrics.PositionsOpen.Set(float64(len(e.positions)))
	metrics.AccountBalance.Set(e.account.Balance)
	e.log.Info("position closed",
		zap.String("symbol", pos.Symbol),
		zap.String("side", pos.Side.String()),
		zap.String("reason", string(reason)),
		zap.Float64("exit", exitPrice),
		zap.Float64("net_pnl", res.NetPnL),
		zap.Float64("balance", e.account.Balance))
	return trade, nil
}

// Run drains the order queue and records equity snapshots until the context
// is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	drain := time.NewTicker(e.cfg.DrainInterval)
	defer drain.Stop()
	equity := time.NewTicker(e.cfg.EquityInterval)
	defer equity.Stop()

	sub := orders.SubmitterFunc(func(ctx context.Context, o *orders.Order) error {
		return e.exch.SubmitOrder(ctx, o)
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-drain.C:
			_, failed := e.queue.Drain(ctx, sub)
			for _, o := range failed {
				// A permanently failed order means the venue rejected us
				// repeatedly. Flag the connection so the emergency table
				// sees an unhealthy API on the next tick.
				e.health.RecordFailure()
				e.log.Error("order permanently failed",
					zap.String("order_id", o.ID),
					zap.String("symbol", o.Symbol),
					zap.Error(o.LastError))
			}
		case <-equity.C:
			e.recordEquity()
		}
	}
}

func (e *Engine) recordEquity() {
	e.mu.Lock()
	acct := e.account
	var marginUsed float64
	for _, p := range e.positions {
		marginUsed += p.MarginUSD
	}
	e.mu.Unlock()

	if e.jrnl == nil {
		return
	}
	snap := journal.EquitySnapshot{
		Time:       time.Now().UTC(),
		Balance:    acct.Balance,
		Equity:     acct.Balance,
		MarginUsed: marginUsed,
		Drawdown:   acct.DrawdownFromPeak(),
	}
	if err := e.jrnl.RecordEquity(snap); err != nil {
		e.log.Error("journal equity", zap.Error(err))
	}
}
