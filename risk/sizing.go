package risk

import (
	"fmt"
	"math"

	"github.com/pkrawiec/perpguard/market"
)

// SizeInputs describe a signal to be converted into a position size.
type SizeInputs struct {
	Capital       float64
	RiskFraction  float64 // fraction of capital risked if the stop is hit, (0,1]
	EntryPrice    float64
	StopLossPrice float64
	Side          market.Side
	Leverage      int
	SafetyBuffer  float64

	// MaxMarginFraction caps margin at this fraction of capital. Zero disables
	// the cap.
	MaxMarginFraction float64
}

// SizeResult is a sized position before any order is placed.
type SizeResult struct {
	NotionalUSD      float64
	MarginUSD        float64
	Quantity         float64
	RiskUSD          float64
	LiquidationPrice float64

	// MarginCapped reports that MaxMarginFraction reduced the size, which
	// lowers realized risk below the requested RiskFraction.
	MarginCapped bool
}

// Size converts a risk budget and stop distance into a position notional and
// margin requirement, then prices the liquidation level for the result.
func Size(in SizeInputs) (SizeResult, error) {
	if in.Capital <= 0 {
		return SizeResult{}, fmt.Errorf("%w: capital %f must be positive", ErrInvalidInput, in.Capital)
	}
	if in.RiskFraction <= 0 || in.RiskFraction > 1 {
		return SizeResult{}, fmt.Errorf("%w: risk fraction %f must be in (0,1]", ErrInvalidInput, in.RiskFraction)
	}
	if in.EntryPrice <= 0 {
		return SizeResult{}, fmt.Errorf("%w: entry price %f must be positive", ErrInvalidInput, in.EntryPrice)
	}
	if in.Leverage < 1 {
		return SizeResult{}, fmt.Errorf("%w: leverage %d must be >= 1", ErrInvalidInput, in.Leverage)
	}

	priceRiskFraction := math.Abs(in.EntryPrice-in.StopLossPrice) / in.EntryPrice
	if priceRiskFraction == 0 {
		return SizeResult{}, fmt.Errorf("%w: entry %f equals stop %f", ErrInsufficientRiskDistance, in.EntryPrice, in.StopLossPrice)
	}

	riskUSD := in.Capital * in.RiskFraction
	notional := riskUSD / priceRiskFraction
	margin := notional / float64(in.Leverage)

	capped := false
	if in.MaxMarginFraction > 0 {
		ceiling := in.Capital * in.MaxMarginFraction
		if margin > ceiling {
			margin = ceiling
			notional = margin * float64(in.Leverage)
			capped = true
		}
	}

	liq, err := LiquidationPrice(LiquidationInputs{
		EntryPrice:   in.EntryPrice,
		Side:         in.Side,
		NotionalUSD:  notional,
		Leverage:     in.Leverage,
		SafetyBuffer: in.SafetyBuffer,
	})
	if err != nil {
		return SizeResult{}, err
	}

	return SizeResult{
		NotionalUSD:      notional,
		MarginUSD:        margin,
		Quantity:         notional / in.EntryPrice,
		RiskUSD:          riskUSD,
		LiquidationPrice: liq,
		MarginCapped:     capped,
	}, nil
}
