// Package trailing advances a per-position stop price monotonically toward
// profit as the achieved risk:reward improves.
package trailing

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/pkrawiec/perpguard/market"
	"github.com/pkrawiec/perpguard/risk"
)

// State is the lifecycle phase of one trailing stop.
type State string

const (
	StateInitialized    State = "initialized"
	StateBreakevenArmed State = "breakeven_armed"
	StateTrailing       State = "trailing"
	StateTightTrailing  State = "tight_trailing"
	StateClosed         State = "closed"
)

// R:R thresholds that arm each phase.
const (
	breakevenRR = 1.0
	trailingRR  = 3.0
	tightRR     = 10.0
)

var stateRank = map[State]int{
	StateInitialized:    0,
	StateBreakevenArmed: 1,
	StateTrailing:       2,
	StateTightTrailing:  3,
	StateClosed:         4,
}

// advance moves the stop into a later phase. Phases never regress, so a dip
// in achieved R:R keeps the tighter label along with the tighter stop.
func (s *Stop) advance(to State) {
	if stateRank[to] > stateRank[s.State] {
		s.State = to
	}
}

// Stop is the trailing stop owned by exactly one open position.
type Stop struct {
	Symbol         string
	Side           market.Side
	EntryPrice     float64
	InitialStop    float64
	CurrentStop    float64
	HighestPrice   float64 // extremum for longs
	LowestPrice    float64 // extremum for shorts
	TrailingActive bool
	LastLiquidity  float64
	State          State
}

// Update is the outcome of one tick evaluation.
type Update struct {
	OldStop float64
	NewStop float64
	Moved   bool
	State   State
	StopHit bool
	Reason  string
}

// Config tunes the engine.
type Config struct {
	InitialStopPercent float64 // e.g. 0.20 for a 20% initial stop
	ATRMultiplier      float64 // e.g. 1.5
}

func DefaultConfig() Config {
	return Config{
		InitialStopPercent: 0.20,
		ATRMultiplier:      1.5,
	}
}

// Engine manages trailing stops for open positions, keyed by symbol+side.
type Engine struct {
	cfg   Config
	log   *zap.Logger
	stops map[string]*Stop
}

func NewEngine(cfg Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:   cfg,
		log:   log,
		stops: make(map[string]*Stop),
	}
}

func key(symbol string, side market.Side) string {
	return symbol + "/" + side.String()
}

// Initialize creates the stop for a freshly opened position at
// entry*(1 -/+ InitialStopPercent).
func (e *Engine) Initialize(symbol string, side market.Side, entryPrice float64) (*Stop, error) {
	if entryPrice <= 0 {
		return nil, fmt.Errorf("%w: entry price %f must be positive", risk.ErrInvalidInput, entryPrice)
	}

	initial := entryPrice * (1 - side.Sign()*e.cfg.InitialStopPercent)

	s := &Stop{
		Symbol:      symbol,
		Side:        side,
		EntryPrice:  entryPrice,
		InitialStop: initial,
		CurrentStop: initial,
		State:       StateInitialized,
	}
	if side == market.Long {
		s.HighestPrice = entryPrice
	} else {
		s.LowestPrice = entryPrice
	}

	e.stops[key(symbol, side)] = s
	e.log.Info("trailing stop initialized",
		zap.String("symbol", symbol),
		zap.Stringer("side", side),
		zap.Float64("entry", entryPrice),
		zap.Float64("stop", initial))
	return s, nil
}

// Get returns the active stop for a position, if any.
func (e *Engine) Get(symbol string, side market.Side) (*Stop, bool) {
	s, ok := e.stops[key(symbol, side)]
	return s, ok
}

// Close marks the stop closed and forgets it.
func (e *Engine) Close(symbol string, side market.Side) {
	k := key(symbol, side)
	if s, ok := e.stops[k]; ok {
		s.State = StateClosed
		delete(e.stops, k)
	}
}

// Evaluate advances the stop for one tick. The stop only ever moves toward
// profit; candidates that would move it backward are discarded and logged.
// rrAchieved is the realized favorable move as a multiple of the original
// risk distance.
func (e *Engine) Evaluate(symbol string, side market.Side, snap market.Snapshot, rrAchieved float64) (Update, error) {
	s, ok := e.stops[key(symbol, side)]
	if !ok {
		return Update{}, fmt.Errorf("%w: no trailing stop for %s %s", risk.ErrInvalidInput, symbol, side)
	}

	price := snap.Price
	up := Update{OldStop: s.CurrentStop, NewStop: s.CurrentStop, State: s.State}

	// Track extrema before anything else.
	if side == market.Long && price > s.HighestPrice {
		s.HighestPrice = price
	}
	if side == market.Short && (price < s.LowestPrice || s.LowestPrice == 0) {
		s.LowestPrice = price
	}

	// Stop hit closes the position regardless of phase.
	if side.Sign()*(price-s.CurrentStop) <= 0 {
		s.State = StateClosed
		up.State = StateClosed
		up.StopHit = true
		up.Reason = "stop crossed"
		delete(e.stops, key(symbol, side))
		return up, nil
	}

	var candidate float64
	var reason string
	haveCandidate := false

	switch {
	case rrAchieved >= tightRR:
		// Very tight trailing at 0.5 ATR.
		candidate = price - side.Sign()*0.5*snap.ATR
		reason = "tight trailing"
		s.advance(StateTightTrailing)
		haveCandidate = true

	case rrAchieved >= trailingRR:
		// ATR trail blended with the nearest liquidity level on the profit
		// side of price.
		candidate = price - side.Sign()*e.cfg.ATRMultiplier*snap.ATR
		reason = "atr trailing"
		if side == market.Long {
			if lv, ok := snap.NearestLevelBelow(price); ok && lv > candidate {
				candidate = lv
				s.LastLiquidity = lv
				reason = "liquidity trailing"
			}
		} else {
			if lv, ok := snap.NearestLevelAbove(price); ok && lv < candidate {
				candidate = lv
				s.LastLiquidity = lv
				reason = "liquidity trailing"
			}
		}
		s.advance(StateTrailing)
		haveCandidate = true

	case rrAchieved >= breakevenRR:
		// Breakeven plus a small ATR buffer.
		candidate = s.EntryPrice + side.Sign()*0.5*snap.ATR
		reason = "breakeven armed"
		s.advance(StateBreakevenArmed)
		s.TrailingActive = true
		haveCandidate = true
	}

	up.State = s.State

	if !haveCandidate {
		return up, nil
	}

	// Monotonicity: accept only candidates strictly on the profit side of the
	// current stop.
	if side.Sign()*(candidate-s.CurrentStop) > 0 {
		s.CurrentStop = candidate
		s.TrailingActive = true
		up.NewStop = candidate
		up.Moved = true
		up.Reason = reason
		e.log.Info("trailing stop moved",
			zap.String("symbol", symbol),
			zap.Stringer("side", side),
			zap.Float64("old", up.OldStop),
			zap.Float64("new", candidate),
			zap.String("reason", reason))
	} else {
		e.log.Debug("stop candidate discarded",
			zap.String("symbol", symbol),
			zap.Float64("candidate", candidate),
			zap.Float64("current", s.CurrentStop),
			zap.String("reason", reason))
	}

	return up, nil
}
