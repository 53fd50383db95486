package risk

import (
	"fmt"

	"github.com/pkrawiec/perpguard/market"
)

// TakeProfitLevel is one rung of a partial-exit ladder.
type TakeProfitLevel struct {
	Price       float64
	RR          float64 // reward multiple of the stop distance
	GainPercent float64
	Allocation  float64 // fraction of the position closed at this rung
}

// DefaultRRMultiples mirrors the conventional 1:3 / 1:5 / 1:10 ladder.
var DefaultRRMultiples = []float64{3, 5, 10}

// DefaultAllocations split exits 30/40/30 across the ladder. These are
// configurable defaults, not a contract.
var DefaultAllocations = []float64{0.30, 0.40, 0.30}

// TakeProfitLadder computes take-profit prices at the given R:R multiples of
// the entry-to-stop distance, with allocations assigned rung by rung. When
// allocations is shorter than multiples the remainder is spread evenly.
func TakeProfitLadder(entry, stop float64, side market.Side, multiples, allocations []float64) ([]TakeProfitLevel, error) {
	if entry <= 0 {
		return nil, fmt.Errorf("%w: entry price %f must be positive", ErrInvalidInput, entry)
	}
	riskDist := side.Sign() * (entry - stop)
	if riskDist <= 0 {
		return nil, fmt.Errorf("%w: stop %f not on the loss side of entry %f", ErrInsufficientRiskDistance, stop, entry)
	}
	if len(multiples) == 0 {
		multiples = DefaultRRMultiples
	}

	levels := make([]TakeProfitLevel, 0, len(multiples))
	for i, rr := range multiples {
		price := entry + side.Sign()*riskDist*rr

		alloc := 0.0
		if i < len(allocations) {
			alloc = allocations[i]
		} else if n := len(multiples) - len(allocations); n > 0 {
			remaining := 1.0
			for _, a := range allocations {
				remaining -= a
			}
			alloc = remaining / float64(n)
		}

		levels = append(levels, TakeProfitLevel{
			Price:       price,
			RR:          rr,
			GainPercent: side.Sign() * (price - entry) / entry * 100,
			Allocation:  alloc,
		})
	}
	return levels, nil
}

// PyramidEntry is one planned entry of a pyramiding ladder.
type PyramidEntry struct {
	Index      int
	EntryPrice float64
	MarginUSD  float64
	Size       SizeResult
}

// PyramidPlan splits a total risk budget across n entries stepped 0.5% apart
// in the adverse direction from baseEntry, sizing each with the same stop
// distance fraction. The plan is advisory; callers place orders one by one as
// the ladder fills.
func PyramidPlan(baseEntry float64, side market.Side, n int, totalRiskUSD float64, stopFraction float64, leverage int, safetyBuffer float64) ([]PyramidEntry, error) {
	if baseEntry <= 0 || totalRiskUSD <= 0 {
		return nil, fmt.Errorf("%w: base entry and risk budget must be positive", ErrInvalidInput)
	}
	if n < 1 {
		return nil, fmt.Errorf("%w: entry count %d must be >= 1", ErrInvalidInput, n)
	}
	if stopFraction <= 0 || stopFraction >= 1 {
		return nil, fmt.Errorf("%w: stop fraction %f must be in (0,1)", ErrInvalidInput, stopFraction)
	}

	perEntry := totalRiskUSD / float64(n)
	const entryStep = 0.005

	entries := make([]PyramidEntry, 0, n)
	for i := 0; i < n; i++ {
		entry := baseEntry * (1 - side.Sign()*entryStep*float64(i))
		stop := entry * (1 - side.Sign()*stopFraction)

		size, err := Size(SizeInputs{
			Capital:       perEntry,
			RiskFraction:  1.0,
			EntryPrice:    entry,
			StopLossPrice: stop,
			Side:          side,
			Leverage:      leverage,
			SafetyBuffer:  safetyBuffer,
		})
		if err != nil {
			return nil, err
		}

		entries = append(entries, PyramidEntry{
			Index:      i + 1,
			EntryPrice: entry,
			MarginUSD:  size.MarginUSD,
			Size:       size,
		})
	}
	return entries, nil
}
