package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSide(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "long", Long.String())
	assert.Equal(t, "short", Short.String())
	assert.InDelta(t, 1.0, Long.Sign(), 1e-12)
	assert.InDelta(t, -1.0, Short.Sign(), 1e-12)
	assert.Equal(t, Short, Long.Opposite())
	assert.Equal(t, Long, Short.Opposite())
	assert.True(t, Long.Valid())
	assert.False(t, Side(0).Valid())
}

func TestParseSide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Side
		ok   bool
	}{
		{"long", Long, true},
		{"BUY", Long, true},
		{"short", Short, true},
		{"sell", Short, true},
		{"sideways", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSide(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCandle_Change(t *testing.T) {
	t.Parallel()

	c := Candle{Close: 47_500}
	assert.InDelta(t, -0.05, c.Change(50_000), 1e-9)
	assert.InDelta(t, 0.0, c.Change(0), 1e-9)
}

func TestSnapshot_NearestLevels(t *testing.T) {
	t.Parallel()

	s := Snapshot{
		Price:           50_000,
		LiquidityLevels: []float64{48_000, 49_500, 50_500, 52_000},
	}

	below, ok := s.NearestLevelBelow(50_000)
	require.True(t, ok)
	assert.InDelta(t, 49_500.0, below, 1e-9)

	above, ok := s.NearestLevelAbove(50_000)
	require.True(t, ok)
	assert.InDelta(t, 50_500.0, above, 1e-9)

	_, ok = s.NearestLevelBelow(47_000)
	assert.False(t, ok)

	_, ok = s.NearestLevelAbove(53_000)
	assert.False(t, ok)
}

func TestSnapshotStore(t *testing.T) {
	t.Parallel()

	ss := NewSnapshotStore()

	_, err := ss.Get("BTCUSDT")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	ss.Set(Snapshot{Symbol: "BTCUSDT", Price: 50_000})
	got, err := ss.Get("BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 50_000.0, got.Price, 1e-9)

	// Later writes replace earlier ones.
	ss.Set(Snapshot{Symbol: "BTCUSDT", Price: 51_000})
	got, err = ss.Get("BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 51_000.0, got.Price, 1e-9)
}
