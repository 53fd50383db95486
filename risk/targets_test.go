package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkrawiec/perpguard/market"
)

func TestTakeProfitLadder_Long(t *testing.T) {
	t.Parallel()

	levels, err := TakeProfitLadder(50_000, 49_000, market.Long, DefaultRRMultiples, DefaultAllocations)
	require.NoError(t, err)
	require.Len(t, levels, 3)

	assert.InDelta(t, 53_000.0, levels[0].Price, 1e-9)
	assert.InDelta(t, 55_000.0, levels[1].Price, 1e-9)
	assert.InDelta(t, 60_000.0, levels[2].Price, 1e-9)

	assert.InDelta(t, 0.30, levels[0].Allocation, 1e-9)
	assert.InDelta(t, 0.40, levels[1].Allocation, 1e-9)
	assert.InDelta(t, 0.30, levels[2].Allocation, 1e-9)

	total := 0.0
	for _, l := range levels {
		total += l.Allocation
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestTakeProfitLadder_Short(t *testing.T) {
	t.Parallel()

	levels, err := TakeProfitLadder(50_000, 51_000, market.Short, []float64{3}, []float64{1.0})
	require.NoError(t, err)
	require.Len(t, levels, 1)

	assert.InDelta(t, 47_000.0, levels[0].Price, 1e-9)
	assert.Greater(t, levels[0].GainPercent, 0.0)
}

func TestTakeProfitLadder_StopOnWrongSide(t *testing.T) {
	t.Parallel()

	_, err := TakeProfitLadder(50_000, 51_000, market.Long, nil, nil)
	assert.ErrorIs(t, err, ErrInsufficientRiskDistance)
}

func TestPyramidPlan(t *testing.T) {
	t.Parallel()

	entries, err := PyramidPlan(50_000, market.Long, 3, 300, 0.02, 10, 0.20)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Entries step down 0.5% each for a long.
	assert.InDelta(t, 50_000.0, entries[0].EntryPrice, 1e-9)
	assert.InDelta(t, 49_750.0, entries[1].EntryPrice, 1e-9)
	assert.InDelta(t, 49_500.0, entries[2].EntryPrice, 1e-9)

	// Each rung risks a third of the budget.
	for _, e := range entries {
		assert.InDelta(t, 100.0, e.Size.RiskUSD, 1e-9)
	}
}

func TestPyramidPlan_Invalid(t *testing.T) {
	t.Parallel()

	_, err := PyramidPlan(50_000, market.Long, 0, 300, 0.02, 10, 0.20)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = PyramidPlan(50_000, market.Long, 3, 300, 0, 10, 0.20)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
