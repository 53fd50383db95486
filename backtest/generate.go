// Package backtest replays synthetic crash and trend scenarios through the
// risk pipeline to measure whether an account survives them.
package backtest

import (
	"math/rand"
	"time"

	"github.com/pkrawiec/perpguard/market"
)

// ScenarioKind selects the price-path generator.
type ScenarioKind string

const (
	KindCrash ScenarioKind = "crash"
	KindTrend ScenarioKind = "trend"
)

// Scenario describes one synthetic price path. TotalMove is the fractional
// move from start to end, negative for crashes.
type Scenario struct {
	Name          string
	Kind          ScenarioKind
	StartPrice    float64
	TotalMove     float64
	Candles       int
	VolMultiplier float64
	Cascades      int // sudden 5% drops layered on crash paths
}

// CrashScenarios are the stress paths every release is run against.
func CrashScenarios() []Scenario {
	return []Scenario{
		{Name: "flash_crash_20", Kind: KindCrash, StartPrice: 50000, TotalMove: -0.20, Candles: 288, VolMultiplier: 2.0, Cascades: 3},
		{Name: "crash_40", Kind: KindCrash, StartPrice: 50000, TotalMove: -0.40, Candles: 576, VolMultiplier: 2.5, Cascades: 5},
		{Name: "slow_bleed_30", Kind: KindCrash, StartPrice: 50000, TotalMove: -0.30, Candles: 2016, VolMultiplier: 1.2, Cascades: 2},
		{Name: "uptrend_15", Kind: KindTrend, StartPrice: 50000, TotalMove: 0.15, Candles: 576, VolMultiplier: 1.0},
	}
}

const candleInterval = 5 * time.Minute

// Generate builds the scenario's candle series. The same seed always yields
// the same path.
func Generate(s Scenario, seed int64) []market.Candle {
	rng := rand.New(rand.NewSource(seed))

	n := s.Candles
	if n < 2 {
		n = 2
	}
	volMult := s.VolMultiplier
	if volMult <= 0 {
		volMult = 1.0
	}

	endPrice := s.StartPrice * (1 + s.TotalMove)
	closes := make([]float64, n)
	for i := range closes {
		base := s.StartPrice + (endPrice-s.StartPrice)*float64(i)/float64(n-1)
		noise := rng.NormFloat64() * s.StartPrice * 0.003 * volMult
		closes[i] = base + noise
	}

	// Crash paths get sudden cascade drops: from a random candle onward the
	// whole remaining path shifts down 5%.
	if s.Kind == KindCrash {
		for c := 0; c < s.Cascades; c++ {
			at := 1 + rng.Intn(n-1)
			for i := at; i < n; i++ {
				closes[i] *= 0.95
			}
		}
	}

	floor := s.StartPrice * 0.01
	for i := range closes {
		if closes[i] < floor {
			closes[i] = floor
		}
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, n)
	prev := s.StartPrice
	for i, cl := range closes {
		hi, lo := prev, cl
		if cl > hi {
			hi, lo = cl, prev
		}
		wick := rng.Float64() * 0.002 * volMult
		candles[i] = market.Candle{
			Time:   start.Add(time.Duration(i) * candleInterval),
			Open:   prev,
			High:   hi * (1 + wick),
			Low:    lo * (1 - wick),
			Close:  cl,
			Volume: 1000 + rng.Float64()*9000,
		}
		prev = cl
	}
	return candles
}
