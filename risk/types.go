package risk

import (
	"time"

	"github.com/pkrawiec/perpguard/market"
)

// Account is the trading account state. Balance is mutated only by the
// component that closes a position (single writer); everything else reads a
// copy per evaluation cycle.
type Account struct {
	Balance      float64
	PeakBalance  float64
	Leverage     int
	SafetyBuffer float64 // fraction of margin deliberately left unused
}

// ApplyPnL credits realized P&L and advances the high-water mark.
func (a *Account) ApplyPnL(pnl float64) {
	a.Balance += pnl
	if a.Balance > a.PeakBalance {
		a.PeakBalance = a.Balance
	}
}

// DrawdownFromPeak returns the fractional drawdown from the high-water mark.
func (a Account) DrawdownFromPeak() float64 {
	if a.PeakBalance <= 0 {
		return 0
	}
	dd := (a.PeakBalance - a.Balance) / a.PeakBalance
	if dd < 0 {
		return 0
	}
	return dd
}

type PositionStatus string

const (
	StatusOpen       PositionStatus = "open"
	StatusClosed     PositionStatus = "closed"
	StatusLiquidated PositionStatus = "liquidated"
)

// Position is one open leveraged position. Exactly one open position per
// symbol+side is permitted.
type Position struct {
	ID               string
	Symbol           string
	Side             market.Side
	EntryPrice       float64
	Quantity         float64
	NotionalUSD      float64
	MarginUSD        float64
	Leverage         int
	LiquidationPrice float64
	StopLoss         float64
	InitialStop      float64 // original stop, anchors R:R after the stop trails
	TakeProfit       float64
	OpenedAt         time.Time
	Status           PositionStatus
}

// UnrealizedPnL returns the price P&L at the given mark, before fees.
func (p Position) UnrealizedPnL(price float64) float64 {
	return p.Side.Sign() * (price - p.EntryPrice) * p.Quantity
}

// UnrealizedLossFraction returns the adverse price move as a fraction of
// entry; favorable moves return <= 0.
func (p Position) UnrealizedLossFraction(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return -p.Side.Sign() * (price - p.EntryPrice) / p.EntryPrice
}

// AchievedRR returns the realized favorable move as a multiple of the original
// risk distance (entry to initial stop). Zero when the stop distance is
// degenerate.
func (p Position) AchievedRR(price float64) float64 {
	anchor := p.InitialStop
	if anchor == 0 {
		anchor = p.StopLoss
	}
	riskDist := p.Side.Sign() * (p.EntryPrice - anchor)
	if riskDist <= 0 {
		return 0
	}
	favorable := p.Side.Sign() * (price - p.EntryPrice)
	if favorable <= 0 {
		return 0
	}
	return favorable / riskDist
}

// DistanceToLiquidation returns the remaining distance to the liquidation
// price as a fraction of the current price.
func (p Position) DistanceToLiquidation(price float64) float64 {
	if price == 0 {
		return 0
	}
	d := price - p.LiquidationPrice
	if d < 0 {
		d = -d
	}
	return d / price
}

type ExitReason string

const (
	ExitTakeProfit ExitReason = "take_profit"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitLiquidated ExitReason = "liquidated"
	ExitEmergency  ExitReason = "emergency"
	ExitTimeout    ExitReason = "timeout"
)

// Trade is the immutable record of a closed position, produced exactly once.
type Trade struct {
	ID               string
	Symbol           string
	Side             market.Side
	EntryPrice       float64
	ExitPrice        float64
	Quantity         float64
	Leverage         int
	FeesPaid         float64
	SlippageRealized float64
	GrossPnL         float64
	NetPnL           float64
	ExitReason       ExitReason
	OpenedAt         time.Time
	ClosedAt         time.Time
}

func (t Trade) Duration() time.Duration {
	return t.ClosedAt.Sub(t.OpenedAt)
}
