package market

import "time"

// Candle represents OHLCV candlestick data.
type Candle struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	time.Time
}

// Change returns the close-to-close fractional change against a previous close.
func (c Candle) Change(prevClose float64) float64 {
	if prevClose == 0 {
		return 0
	}
	return (c.Close - prevClose) / prevClose
}

// Range returns the high-low span of the candle.
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// Series is an ordered slice of candles on a fixed timeframe.
type Series struct {
	Symbol    string
	Timeframe time.Duration
	Candles   []Candle
}

func (s *Series) Len() int { return len(s.Candles) }

// CloseAt returns the close of candle i, or 0 when out of range.
func (s *Series) CloseAt(i int) float64 {
	if i < 0 || i >= len(s.Candles) {
		return 0
	}
	return s.Candles[i].Close
}
