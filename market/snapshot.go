package market

import (
	"errors"
	"sync"
	"time"
)

// Snapshot is the per-tick view of a market that the risk components consume.
// It is immutable once handed to an evaluation call.
type Snapshot struct {
	Symbol     string
	Time       time.Time
	Price      float64
	High       float64
	Low        float64
	ATR        float64
	Volatility float64 // realized volatility as a fraction, e.g. 0.02

	// LiquidityLevels are known support/resistance prices, unordered.
	LiquidityLevels []float64
}

// NearestLevelBelow returns the highest liquidity level strictly below price.
func (s Snapshot) NearestLevelBelow(price float64) (float64, bool) {
	var best float64
	found := false
	for _, lv := range s.LiquidityLevels {
		if lv < price && (!found || lv > best) {
			best = lv
			found = true
		}
	}
	return best, found
}

// NearestLevelAbove returns the lowest liquidity level strictly above price.
func (s Snapshot) NearestLevelAbove(price float64) (float64, bool) {
	var best float64
	found := false
	for _, lv := range s.LiquidityLevels {
		if lv > price && (!found || lv < best) {
			best = lv
			found = true
		}
	}
	return best, found
}

var ErrNoSnapshot = errors.New("no snapshot for symbol")

// SnapshotStore holds the latest snapshot per symbol.
type SnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snaps: make(map[string]Snapshot)}
}

func (ss *SnapshotStore) Set(s Snapshot) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.snaps[s.Symbol] = s
}

func (ss *SnapshotStore) Get(symbol string) (Snapshot, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	s, ok := ss.snaps[symbol]
	if !ok {
		return Snapshot{}, ErrNoSnapshot
	}
	return s, nil
}
