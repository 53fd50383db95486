package risk

import (
	"fmt"

	"github.com/pkrawiec/perpguard/market"
)

// LiquidationInputs describe one position for liquidation pricing.
type LiquidationInputs struct {
	EntryPrice   float64
	Side         market.Side
	NotionalUSD  float64
	Leverage     int
	SafetyBuffer float64 // fraction of margin held back, [0,1)
}

// LiquidationPrice computes the price at which usable margin is exhausted.
//
//	margin       = notional / leverage
//	usableMargin = margin * (1 - safetyBuffer)
//	quantity     = notional / entryPrice
//	liqDistance  = usableMargin / quantity
//
// Long liquidates at entry - liqDistance, short at entry + liqDistance. The
// function is pure: identical inputs always give the identical output.
func LiquidationPrice(in LiquidationInputs) (float64, error) {
	if in.EntryPrice <= 0 {
		return 0, fmt.Errorf("%w: entry price %f must be positive", ErrInvalidInput, in.EntryPrice)
	}
	if in.NotionalUSD <= 0 {
		return 0, fmt.Errorf("%w: notional %f must be positive", ErrInvalidInput, in.NotionalUSD)
	}
	if in.Leverage < 1 {
		return 0, fmt.Errorf("%w: leverage %d must be >= 1", ErrInvalidInput, in.Leverage)
	}
	if in.SafetyBuffer < 0 || in.SafetyBuffer >= 1 {
		return 0, fmt.Errorf("%w: safety buffer %f must be in [0,1)", ErrInvalidInput, in.SafetyBuffer)
	}
	if in.Side != market.Long && in.Side != market.Short {
		return 0, fmt.Errorf("%w: side must be long or short", ErrInvalidInput)
	}

	margin := in.NotionalUSD / float64(in.Leverage)
	usableMargin := margin * (1 - in.SafetyBuffer)
	quantity := in.NotionalUSD / in.EntryPrice
	liqDistance := usableMargin / quantity

	if in.Side == market.Long {
		return in.EntryPrice - liqDistance, nil
	}
	return in.EntryPrice + liqDistance, nil
}
