package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pkrawiec/perpguard/market"
)

func candle(high, low, close float64) market.Candle {
	return market.Candle{Open: close, High: high, Low: low, Close: close}
}

func TestATR_ConstantRange(t *testing.T) {
	t.Parallel()

	a := NewATR(14)
	assert.Equal(t, 15, a.Warmup())
	assert.False(t, a.Ready())
	assert.InDelta(t, 0.0, a.Value(), 1e-12)

	// Identical candles with a fixed 100-point range: ATR converges to 100.
	for i := 0; i < 20; i++ {
		a.Update(candle(50_100, 50_000, 50_050))
	}

	assert.True(t, a.Ready())
	assert.InDelta(t, 100.0, a.Value(), 1e-9)
}

func TestATR_GapContributesToTrueRange(t *testing.T) {
	t.Parallel()

	a := NewATR(2)
	a.Update(candle(50_100, 50_000, 50_050))
	// Gap up: high-prevClose dominates high-low.
	a.Update(candle(51_000, 50_900, 50_950))
	a.Update(candle(51_000, 50_900, 50_950))

	assert.True(t, a.Ready())
	// TRs: 950 (gap) and 100, warmup average 525.
	assert.InDelta(t, 525.0, a.Value(), 1e-9)
}

func TestATR_Reset(t *testing.T) {
	t.Parallel()

	a := NewATR(3)
	for i := 0; i < 10; i++ {
		a.Update(candle(50_100, 50_000, 50_050))
	}
	assert.True(t, a.Ready())

	a.Reset()
	assert.False(t, a.Ready())
	assert.InDelta(t, 0.0, a.Value(), 1e-12)
}

func TestVolatility_ConstantPriceIsZero(t *testing.T) {
	t.Parallel()

	v := NewVolatility(10)
	for i := 0; i < 15; i++ {
		v.Update(candle(50_000, 50_000, 50_000))
	}

	assert.True(t, v.Ready())
	assert.InDelta(t, 0.0, v.Value(), 1e-12)
}

func TestVolatility_AlternatingReturns(t *testing.T) {
	t.Parallel()

	v := NewVolatility(4)
	closes := []float64{100, 101, 100, 101, 100}
	for _, c := range closes {
		v.Update(candle(c, c, c))
	}

	assert.True(t, v.Ready())
	// Alternating ~1% moves: stddev near 0.01.
	assert.InDelta(t, 0.01, v.Value(), 0.001)
}

func TestVolatility_NotReadyBeforeWindow(t *testing.T) {
	t.Parallel()

	v := NewVolatility(10)
	for i := 0; i < 5; i++ {
		v.Update(candle(50_000, 50_000, 50_000))
	}
	assert.False(t, v.Ready())
}
