// Package exchange defines the venue abstraction the engine trades through
// and tracks the health of the connection to it.
package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkrawiec/perpguard/market"
	"github.com/pkrawiec/perpguard/orders"
)

// ConnectionError marks a venue call that failed at the transport or API
// layer. It doubles as a health signal for the halt gate.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("exchange: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PositionInfo is a venue-side view of an open position.
type PositionInfo struct {
	Symbol           string
	Side             market.Side
	Quantity         float64
	EntryPrice       float64
	MarkPrice        float64
	LiquidationPrice float64
	Leverage         int
	UnrealizedPnL    float64
}

// Exchange is the minimal venue surface the engine needs. Implementations
// must be safe for concurrent use.
type Exchange interface {
	// SubmitOrder sends one order to the venue.
	SubmitOrder(ctx context.Context, o *orders.Order) error

	// FetchPositions returns open positions, optionally filtered by symbol
	// (empty symbol means all).
	FetchPositions(ctx context.Context, symbol string) ([]PositionInfo, error)

	// CancelOpenOrders cancels all resting orders for a symbol.
	CancelOpenOrders(ctx context.Context, symbol string) error

	// SetLeverage sets the leverage for a symbol before entry.
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// HealthTracker decides API health from the age of the last successful call.
// The connection is unhealthy once no call has succeeded within the
// threshold, or after an explicit failure until the next success.
type HealthTracker struct {
	mu        sync.Mutex
	lastOK    time.Time
	down      bool
	threshold time.Duration
}

const defaultHealthThreshold = 10 * time.Second

func NewHealthTracker(threshold time.Duration) *HealthTracker {
	if threshold <= 0 {
		threshold = defaultHealthThreshold
	}
	return &HealthTracker{lastOK: time.Now(), threshold: threshold}
}

// RecordSuccess marks the connection as alive now.
func (h *HealthTracker) RecordSuccess() {
	h.mu.Lock()
	h.lastOK = time.Now()
	h.down = false
	h.mu.Unlock()
}

// RecordFailure marks the connection as down until the next success. Permanent
// order rejections report here so emergency evaluation sees the outage.
func (h *HealthTracker) RecordFailure() {
	h.mu.Lock()
	h.down = true
	h.mu.Unlock()
}

// Healthy reports whether a call has succeeded within the threshold and no
// failure has been recorded since.
func (h *HealthTracker) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.down && time.Since(h.lastOK) <= h.threshold
}

// LastSuccess returns the time of the last successful call.
func (h *HealthTracker) LastSuccess() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastOK
}
