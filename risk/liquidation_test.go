package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkrawiec/perpguard/market"
)

func TestLiquidationPrice_Long(t *testing.T) {
	t.Parallel()

	got, err := LiquidationPrice(LiquidationInputs{
		EntryPrice:   50_000,
		Side:         market.Long,
		NotionalUSD:  5_000,
		Leverage:     100,
		SafetyBuffer: 0.20,
	})
	require.NoError(t, err)

	// margin 50, usable 40, qty 0.1, distance 400
	assert.InDelta(t, 49_600.0, got, 1e-9)
}

func TestLiquidationPrice_Short(t *testing.T) {
	t.Parallel()

	got, err := LiquidationPrice(LiquidationInputs{
		EntryPrice:   50_000,
		Side:         market.Short,
		NotionalUSD:  5_000,
		Leverage:     100,
		SafetyBuffer: 0.20,
	})
	require.NoError(t, err)

	assert.InDelta(t, 50_400.0, got, 1e-9)
}

func TestLiquidationPrice_DistanceShrinksWithLeverage(t *testing.T) {
	t.Parallel()

	dist := func(lev int) float64 {
		liq, err := LiquidationPrice(LiquidationInputs{
			EntryPrice:   50_000,
			Side:         market.Long,
			NotionalUSD:  10_000,
			Leverage:     lev,
			SafetyBuffer: 0.20,
		})
		require.NoError(t, err)
		return 50_000 - liq
	}

	d10 := dist(10)
	d50 := dist(50)
	d100 := dist(100)

	assert.Greater(t, d10, d50)
	assert.Greater(t, d50, d100)
	// Distance is inversely proportional to leverage.
	assert.InDelta(t, d10/10, d100, 1e-9)
}

func TestLiquidationPrice_NoBuffer(t *testing.T) {
	t.Parallel()

	got, err := LiquidationPrice(LiquidationInputs{
		EntryPrice:   50_000,
		Side:         market.Long,
		NotionalUSD:  5_000,
		Leverage:     100,
		SafetyBuffer: 0,
	})
	require.NoError(t, err)

	// Without the buffer the full margin is usable: distance 500.
	assert.InDelta(t, 49_500.0, got, 1e-9)
}

func TestLiquidationPrice_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   LiquidationInputs
	}{
		{"zero_entry", LiquidationInputs{EntryPrice: 0, Side: market.Long, NotionalUSD: 100, Leverage: 10}},
		{"negative_notional", LiquidationInputs{EntryPrice: 100, Side: market.Long, NotionalUSD: -1, Leverage: 10}},
		{"zero_leverage", LiquidationInputs{EntryPrice: 100, Side: market.Long, NotionalUSD: 100, Leverage: 0}},
		{"buffer_too_high", LiquidationInputs{EntryPrice: 100, Side: market.Long, NotionalUSD: 100, Leverage: 10, SafetyBuffer: 1.0}},
		{"no_side", LiquidationInputs{EntryPrice: 100, NotionalUSD: 100, Leverage: 10}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LiquidationPrice(tt.in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}
