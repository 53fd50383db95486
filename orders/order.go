// Package orders implements the order model and the retrying execution queue
// that sits between risk decisions and the exchange.
package orders

import (
	"fmt"
	"time"

	"github.com/pkrawiec/perpguard/internal/id"
	"github.com/pkrawiec/perpguard/market"
)

// ExecutionError reports an order that exhausted its retry budget.
type ExecutionError struct {
	OrderID  string
	Symbol   string
	Attempts int
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("order %s (%s) failed after %d attempts: %v",
		e.OrderID, e.Symbol, e.Attempts, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Type is the exchange order type.
type Type string

const (
	TypeMarket     Type = "MARKET"
	TypeLimit      Type = "LIMIT"
	TypeStopMarket Type = "STOP_MARKET"
)

// Order is a pending instruction for the exchange. Critical orders are
// risk-reducing (stops, emergency exits) and are never evicted while a
// non-critical order remains in the queue.
type Order struct {
	ID         string
	Symbol     string
	Side       market.Side
	Type       Type
	Quantity   float64
	Price      float64 // limit price, zero for market orders
	StopPrice  float64 // trigger price for stop orders
	ReduceOnly bool
	Critical   bool

	CreatedAt   time.Time
	Attempts    int
	LastAttempt time.Time
	LastError   error
}

// New builds an order with a fresh ULID and creation timestamp.
func New(symbol string, side market.Side, typ Type, qty float64) *Order {
	return &Order{
		ID:        id.New(),
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Quantity:  qty,
		CreatedAt: time.Now().UTC(),
	}
}

// Age reports how long the order has been pending.
func (o *Order) Age(now time.Time) time.Duration {
	return now.Sub(o.CreatedAt)
}
