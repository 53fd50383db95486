package orders

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pkrawiec/perpguard/market"
	"github.com/pkrawiec/perpguard/metrics"
)

var (
	// ErrQueueFull is returned when the queue is at capacity and every
	// pending order is critical.
	ErrQueueFull = errors.New("orders: queue full of critical orders")

	// ErrInvalidOrder is returned for orders that can never execute.
	ErrInvalidOrder = errors.New("orders: invalid order")
)

// Submitter executes a single order against the exchange.
type Submitter interface {
	Submit(ctx context.Context, o *Order) error
}

// SubmitterFunc adapts a function to the Submitter interface.
type SubmitterFunc func(ctx context.Context, o *Order) error

func (f SubmitterFunc) Submit(ctx context.Context, o *Order) error { return f(ctx, o) }

// QueueConfig controls queue behavior.
type QueueConfig struct {
	Capacity    int           // maximum pending orders
	StaleAfter  time.Duration // pending age before an order is stale
	MaxAttempts int           // attempts before a non-critical order is dropped
	BaseDelay   time.Duration // first retry delay
	MaxDelay    time.Duration // backoff cap
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Capacity:    100,
		StaleAfter:  60 * time.Second,
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// Queue is a bounded retry queue for orders. All access is serialized by a
// single mutex so eviction, retry bookkeeping, and drains never race.
//
// Invariants:
//   - capacity eviction removes the oldest non-critical order first and
//     never evicts a critical order while a non-critical one exists
//   - critical orders for the same symbol execute in FIFO order
//   - stale non-critical orders are dropped; stale critical limit orders
//     are promoted to market orders instead
type Queue struct {
	cfg QueueConfig
	log *zap.Logger

	mu      sync.Mutex
	pending []*Order
	now     func() time.Time // overridable in tests
}

func NewQueue(cfg QueueConfig, log *zap.Logger) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultQueueConfig().Capacity
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultQueueConfig().StaleAfter
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultQueueConfig().MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultQueueConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultQueueConfig().MaxDelay
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{cfg: cfg, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Enqueue adds an order, evicting the oldest non-critical order when the
// queue is full. A full queue of critical orders rejects the newcomer.
func (q *Queue) Enqueue(o *Order) error {
	if o == nil || o.Symbol == "" || o.Quantity <= 0 {
		return ErrInvalidOrder
	}
	if o.Type == TypeLimit && o.Price <= 0 {
		return ErrInvalidOrder
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) >= q.cfg.Capacity {
		evicted := false
		for i, p := range q.pending {
			if !p.Critical {
				q.log.Warn("queue full, evicting oldest non-critical order",
					zap.String("evicted_id", p.ID),
					zap.String("evicted_symbol", p.Symbol))
				metrics.OrdersDropped.WithLabelValues(p.Symbol, "evicted").Inc()
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			return ErrQueueFull
		}
	}

	q.pending = append(q.pending, o)
	metrics.OrdersQueued.WithLabelValues(o.Symbol, string(o.Type)).Inc()
	metrics.QueueDepth.Set(float64(len(q.pending)))
	return nil
}

// Len reports the number of pending orders.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns a snapshot of the queue in FIFO order.
func (q *Queue) Pending() []*Order {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Order, len(q.pending))
	copy(out, q.pending)
	return out
}

// backoffDelay returns min(base * 2^attempts, maxDelay).
func (q *Queue) backoffDelay(attempts int) time.Duration {
	d := q.cfg.BaseDelay
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= q.cfg.MaxDelay {
			return q.cfg.MaxDelay
		}
	}
	return d
}

// due reports whether the order's backoff window has elapsed.
func (q *Queue) due(o *Order, now time.Time) bool {
	if o.Attempts == 0 {
		return true
	}
	return now.Sub(o.LastAttempt) >= q.backoffDelay(o.Attempts-1)
}

// Drain walks the queue once, executing every due order through sub.
// Executed and permanently failed orders are removed; retryable failures
// stay with their attempt count bumped. Orders that exhausted their retry
// budget are returned with an ExecutionError in LastError so the caller can
// react to the rejection.
func (q *Queue) Drain(ctx context.Context, sub Submitter) (int, []*Order) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	executed := 0
	var keep []*Order
	var failed []*Order
	// Symbols with an earlier critical order still pending this pass.
	blocked := make(map[string]bool)

	for _, o := range q.pending {
		if ctx.Err() != nil {
			keep = append(keep, o)
			continue
		}

		if o.Age(now) > q.cfg.StaleAfter {
			if !o.Critical {
				q.log.Warn("dropping stale order",
					zap.String("id", o.ID), zap.String("symbol", o.Symbol),
					zap.Duration("age", o.Age(now)))
				metrics.OrdersDropped.WithLabelValues(o.Symbol, "stale").Inc()
				continue
			}
			if o.Type != TypeMarket {
				// A critical order must reach the exchange. Give up on the
				// limit price and force a market fill.
				q.log.Warn("promoting stale critical order to market",
					zap.String("id", o.ID), zap.String("symbol", o.Symbol))
				o.Type = TypeMarket
				o.Price = 0
			}
		}

		if o.Critical && blocked[o.Symbol] {
			keep = append(keep, o)
			continue
		}
		if !q.due(o, now) {
			if o.Critical {
				blocked[o.Symbol] = true
			}
			keep = append(keep, o)
			continue
		}

		o.Attempts++
		o.LastAttempt = now
		if o.Attempts > 1 {
			metrics.OrderRetries.WithLabelValues(o.Symbol).Inc()
		}

		err := sub.Submit(ctx, o)
		if err == nil {
			executed++
			metrics.OrdersExecuted.WithLabelValues(o.Symbol, string(o.Type)).Inc()
			q.log.Info("order executed",
				zap.String("id", o.ID), zap.String("symbol", o.Symbol),
				zap.String("type", string(o.Type)), zap.Int("attempts", o.Attempts))
			continue
		}

		o.LastError = &ExecutionError{OrderID: o.ID, Symbol: o.Symbol, Attempts: o.Attempts, Err: err}
		if !o.Critical && o.Attempts >= q.cfg.MaxAttempts {
			q.log.Error("order failed permanently",
				zap.String("id", o.ID), zap.String("symbol", o.Symbol),
				zap.Int("attempts", o.Attempts), zap.Error(err))
			metrics.OrdersDropped.WithLabelValues(o.Symbol, "failed").Inc()
			failed = append(failed, o)
			continue
		}
		if o.Critical && o.Attempts >= q.cfg.MaxAttempts && o.Type != TypeMarket {
			// Repeated failures on a critical limit order: force market.
			o.Type = TypeMarket
			o.Price = 0
		}
		if o.Critical {
			blocked[o.Symbol] = true
		}
		q.log.Warn("order execution failed, will retry",
			zap.String("id", o.ID), zap.String("symbol", o.Symbol),
			zap.Int("attempts", o.Attempts), zap.Error(err))
		keep = append(keep, o)
	}

	q.pending = keep
	metrics.QueueDepth.Set(float64(len(q.pending)))
	return executed, failed
}

// CancelStops removes pending reduce-only stop orders matching symbol and
// order side. Used when a protective stop is replaced or its position
// closes, so a superseded stop can never reach the exchange.
func (q *Queue) CancelStops(symbol string, side market.Side) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	var keep []*Order
	removed := 0
	for _, o := range q.pending {
		if o.Symbol == symbol && o.Side == side && o.Type == TypeStopMarket && o.ReduceOnly {
			metrics.OrdersDropped.WithLabelValues(o.Symbol, "replaced").Inc()
			removed++
			continue
		}
		keep = append(keep, o)
	}
	q.pending = keep
	metrics.QueueDepth.Set(float64(len(q.pending)))
	return removed
}

// CancelNonCritical removes every non-critical order, returning how many
// were removed. Used before emergency exits so stale entries cannot fill
// against a position that is being closed.
func (q *Queue) CancelNonCritical() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	var keep []*Order
	removed := 0
	for _, o := range q.pending {
		if o.Critical {
			keep = append(keep, o)
			continue
		}
		metrics.OrdersDropped.WithLabelValues(o.Symbol, "cancelled").Inc()
		removed++
	}
	q.pending = keep
	metrics.QueueDepth.Set(float64(len(q.pending)))
	return removed
}
