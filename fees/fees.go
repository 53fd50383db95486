// Package fees converts raw entry/exit prices into fee- and slippage-adjusted
// cost, proceeds and net P&L. Every function is pure.
package fees

import (
	"fmt"
	"math"

	"github.com/pkrawiec/perpguard/market"
	"github.com/pkrawiec/perpguard/risk"
)

// Calculator applies fixed maker/taker rates and a slippage tolerance.
type Calculator struct {
	MakerFee    float64 // e.g. 0.0001 (0.01%)
	TakerFee    float64 // e.g. 0.0002 (0.02%)
	MaxSlippage float64 // fraction, e.g. 0.001 (0.1%)
}

// New returns a Calculator with Binance-like default rates.
func New() Calculator {
	return Calculator{
		MakerFee:    0.0001,
		TakerFee:    0.0002,
		MaxSlippage: 0.001,
	}
}

func (c Calculator) rate(isMaker bool) float64 {
	if isMaker {
		return c.MakerFee
	}
	return c.TakerFee
}

// EntryCost is the total cost of opening a position including the entry fee.
type EntryCost struct {
	PositionValue float64
	FeeAmount     float64
	TotalCost     float64
}

func (c Calculator) EntryCost(quantity, entryPrice float64, isMaker bool) EntryCost {
	value := quantity * entryPrice
	fee := value * c.rate(isMaker)
	return EntryCost{
		PositionValue: value,
		FeeAmount:     fee,
		TotalCost:     value + fee,
	}
}

// ExitProceeds is the net proceeds of closing a position after the exit fee.
type ExitProceeds struct {
	PositionValue float64
	FeeAmount     float64
	NetProceeds   float64
}

func (c Calculator) ExitProceeds(quantity, exitPrice float64, isMaker bool) ExitProceeds {
	value := quantity * exitPrice
	fee := value * c.rate(isMaker)
	return ExitProceeds{
		PositionValue: value,
		FeeAmount:     fee,
		NetProceeds:   value - fee,
	}
}

// PnLInputs parameterize a full round-trip P&L reconciliation.
type PnLInputs struct {
	EntryPrice       float64
	ExitPrice        float64
	Quantity         float64
	Side             market.Side
	Leverage         int
	IsMakerEntry     bool
	IsMakerExit      bool
	SlippageRealized float64 // fraction of exit price lost to slippage
}

// PnLResult is the reconciled outcome of a closed position.
type PnLResult struct {
	Entry EntryCost
	Exit  ExitProceeds

	EffectiveExit  float64 // exit after the slippage haircut
	GrossPnL       float64 // price P&L on the effective exit, before fees
	TotalFees      float64
	NetPnL         float64
	PnLPercent     float64 // relative to margin, i.e. leverage-scaled
	SlippageCost   float64
	BreakevenPrice float64
}

// TruePnL reconciles a fill against fees and slippage. Slippage is applied as
// a price haircut on the exit, in the loss direction of the side, before fee
// computation. NetPnL is always <= GrossPnL and the breakeven price always
// lies beyond raw entry in the profitable direction.
func (c Calculator) TruePnL(in PnLInputs) (PnLResult, error) {
	if in.EntryPrice <= 0 || in.ExitPrice <= 0 {
		return PnLResult{}, fmt.Errorf("%w: prices must be positive", risk.ErrInvalidInput)
	}
	if in.Quantity <= 0 {
		return PnLResult{}, fmt.Errorf("%w: quantity %f must be positive", risk.ErrInvalidInput, in.Quantity)
	}
	if in.Leverage < 1 {
		return PnLResult{}, fmt.Errorf("%w: leverage %d must be >= 1", risk.ErrInvalidInput, in.Leverage)
	}
	if in.SlippageRealized < 0 || in.SlippageRealized >= 1 {
		return PnLResult{}, fmt.Errorf("%w: slippage %f must be in [0,1)", risk.ErrInvalidInput, in.SlippageRealized)
	}

	entry := c.EntryCost(in.Quantity, in.EntryPrice, in.IsMakerEntry)

	effectiveExit := in.ExitPrice * (1 - in.Side.Sign()*in.SlippageRealized)
	exit := c.ExitProceeds(in.Quantity, effectiveExit, in.IsMakerExit)

	gross := in.Side.Sign() * (effectiveExit - in.EntryPrice) * in.Quantity
	totalFees := entry.FeeAmount + exit.FeeAmount
	net := gross - totalFees

	margin := entry.PositionValue / float64(in.Leverage)
	pct := 0.0
	if margin > 0 {
		pct = net / margin * 100
	}

	breakeven := in.EntryPrice * (1 + in.Side.Sign()*totalFees/entry.PositionValue)

	return PnLResult{
		Entry:          entry,
		Exit:           exit,
		EffectiveExit:  effectiveExit,
		GrossPnL:       gross,
		TotalFees:      totalFees,
		NetPnL:         net,
		PnLPercent:     pct,
		SlippageCost:   in.ExitPrice * in.SlippageRealized * in.Quantity,
		BreakevenPrice: breakeven,
	}, nil
}

// TargetPriceWithFees solves for the exit price that yields targetNetPct net
// P&L relative to margin, accounting for both fees.
func (c Calculator) TargetPriceWithFees(entryPrice, quantity float64, side market.Side, targetNetPct float64, leverage int, isMaker bool) (float64, error) {
	if entryPrice <= 0 || quantity <= 0 {
		return 0, fmt.Errorf("%w: entry price and quantity must be positive", risk.ErrInvalidInput)
	}
	if leverage < 1 {
		return 0, fmt.Errorf("%w: leverage %d must be >= 1", risk.ErrInvalidInput, leverage)
	}

	entry := c.EntryCost(quantity, entryPrice, isMaker)
	exitRate := c.rate(isMaker)

	margin := entry.PositionValue / float64(leverage)
	targetNet := margin * targetNetPct / 100

	// Solve side*(exit - entry)*qty - entryFee - exit*qty*rate = targetNet
	// for exit.
	numerator := targetNet + entry.FeeAmount + side.Sign()*entry.PositionValue
	denominator := quantity * (side.Sign() - exitRate)
	if denominator == 0 {
		return 0, fmt.Errorf("%w: fee rate degenerate", risk.ErrInvalidInput)
	}

	return numerator / denominator, nil
}

// SlippageCheck reports whether a fill deviated acceptably from intent.
type SlippageCheck struct {
	SlippageFraction float64
	Acceptable       bool
	LossOnSlippage   float64 // per unit of quantity
}

// CheckSlippage compares an intended price with the actual fill.
func (c Calculator) CheckSlippage(intendedPrice, actualPrice float64) SlippageCheck {
	if intendedPrice == 0 {
		return SlippageCheck{}
	}
	s := math.Abs(actualPrice-intendedPrice) / intendedPrice
	return SlippageCheck{
		SlippageFraction: s,
		Acceptable:       s <= c.MaxSlippage,
		LossOnSlippage:   intendedPrice * s,
	}
}

// BreakevenAnalysis reports how far price must move to cover round-trip fees.
type BreakevenAnalysis struct {
	BreakevenPrice  float64
	RequiredMovePct float64
	TotalFees       float64
}

// Breakeven computes the round-trip fee burden at the entry price.
func (c Calculator) Breakeven(entryPrice, quantity float64, side market.Side, isMaker bool) BreakevenAnalysis {
	entry := c.EntryCost(quantity, entryPrice, isMaker)
	exit := c.ExitProceeds(quantity, entryPrice, isMaker)

	totalFees := entry.FeeAmount + exit.FeeAmount
	requiredPct := 0.0
	if entry.PositionValue > 0 {
		requiredPct = totalFees / entry.PositionValue * 100
	}

	return BreakevenAnalysis{
		BreakevenPrice:  entryPrice * (1 + side.Sign()*requiredPct/100),
		RequiredMovePct: requiredPct,
		TotalFees:       totalFees,
	}
}
