package indicators

import (
	"math"

	"github.com/pkrawiec/perpguard/market"
)

// Volatility is a streaming realized-volatility estimate: the standard
// deviation of close-to-close returns over a rolling window, as a fraction.
type Volatility struct {
	window    int
	returns   []float64
	next      int
	count     int
	prevClose float64
	hasPrev   bool
}

func NewVolatility(window int) *Volatility {
	return &Volatility{
		window:  window,
		returns: make([]float64, window),
	}
}

func (v *Volatility) Reset() {
	v.next = 0
	v.count = 0
	v.hasPrev = false
}

func (v *Volatility) Update(c market.Candle) {
	if !v.hasPrev {
		v.prevClose = c.Close
		v.hasPrev = true
		return
	}
	r := 0.0
	if v.prevClose != 0 {
		r = (c.Close - v.prevClose) / v.prevClose
	}
	v.returns[v.next] = r
	v.next = (v.next + 1) % v.window
	if v.count < v.window {
		v.count++
	}
	v.prevClose = c.Close
}

func (v *Volatility) Ready() bool {
	return v.count >= v.window
}

func (v *Volatility) Value() float64 {
	if v.count == 0 {
		return 0
	}
	mean := 0.0
	for i := 0; i < v.count; i++ {
		mean += v.returns[i]
	}
	mean /= float64(v.count)

	variance := 0.0
	for i := 0; i < v.count; i++ {
		d := v.returns[i] - mean
		variance += d * d
	}
	variance /= float64(v.count)

	return math.Sqrt(variance)
}
