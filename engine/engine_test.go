package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkrawiec/perpguard/emergency"
	"github.com/pkrawiec/perpguard/exchange"
	"github.com/pkrawiec/perpguard/fees"
	"github.com/pkrawiec/perpguard/market"
	"github.com/pkrawiec/perpguard/orders"
	"github.com/pkrawiec/perpguard/risk"
	"github.com/pkrawiec/perpguard/trailing"
)

type fakeExchange struct {
	submitted []*orders.Order
	cancelled []string
	leverage  map[string]int
	submitErr error
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{leverage: make(map[string]int)}
}

func (f *fakeExchange) SubmitOrder(_ context.Context, o *orders.Order) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, o)
	return nil
}

func (f *fakeExchange) FetchPositions(context.Context, string) ([]exchange.PositionInfo, error) {
	return nil, nil
}

func (f *fakeExchange) CancelOpenOrders(_ context.Context, symbol string) error {
	f.cancelled = append(f.cancelled, symbol)
	return nil
}

func (f *fakeExchange) SetLeverage(_ context.Context, symbol string, lev int) error {
	f.leverage[symbol] = lev
	return nil
}

var _ exchange.Exchange = (*fakeExchange)(nil)

func newTestEngine(t *testing.T, health *exchange.HealthTracker) (*Engine, *fakeExchange, *orders.Queue) {
	t.Helper()

	if health == nil {
		health = exchange.NewHealthTracker(time.Minute)
	}
	exch := newFakeExchange()
	queue := orders.NewQueue(orders.DefaultQueueConfig(), nil)
	trail := trailing.NewEngine(trailing.DefaultConfig(), nil)
	emerg := emergency.NewSystem(emergency.DefaultConfig(), nil)

	acct := risk.Account{Balance: 10_000, PeakBalance: 10_000, Leverage: 10, SafetyBuffer: 0.20}
	eng := New(DefaultConfig(), acct, exch, queue, trail, emerg, fees.New(), nil, health, nil)
	return eng, exch, queue
}

func TestOpenPosition_SizesAndQueuesEntry(t *testing.T) {
	t.Parallel()

	eng, exch, queue := newTestEngine(t, nil)
	ctx := context.Background()

	pos, err := eng.OpenPosition(ctx, "BTCUSDT", market.Long, 50_000, 49_000)
	require.NoError(t, err)

	assert.InDelta(t, 0.25, pos.Quantity, 1e-9)
	assert.InDelta(t, 12_500.0, pos.NotionalUSD, 1e-9)
	assert.InDelta(t, 1_250.0, pos.MarginUSD, 1e-9)
	assert.InDelta(t, 46_000.0, pos.LiquidationPrice, 1e-6)
	assert.Equal(t, risk.StatusOpen, pos.Status)
	assert.NotEmpty(t, pos.ID)

	assert.Equal(t, 10, exch.leverage["BTCUSDT"])

	// Entry plus its protective stop, enqueued together.
	require.Equal(t, 2, queue.Len())
	entry := queue.Pending()[0]
	assert.Equal(t, orders.TypeMarket, entry.Type)
	assert.Equal(t, market.Long, entry.Side)
	assert.False(t, entry.Critical)

	stop := queue.Pending()[1]
	assert.Equal(t, orders.TypeStopMarket, stop.Type)
	assert.Equal(t, market.Short, stop.Side)
	assert.InDelta(t, 49_000.0, stop.StopPrice, 1e-9)
	assert.True(t, stop.Critical)
	assert.True(t, stop.ReduceOnly)

	got, ok := eng.Position("BTCUSDT", market.Long)
	require.True(t, ok)
	assert.Equal(t, pos.ID, got.ID)
}

func TestOpenPosition_DuplicateRejected(t *testing.T) {
	t.Parallel()

	eng, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := eng.OpenPosition(ctx, "BTCUSDT", market.Long, 50_000, 49_000)
	require.NoError(t, err)

	_, err = eng.OpenPosition(ctx, "BTCUSDT", market.Long, 50_000, 49_000)
	assert.ErrorIs(t, err, ErrPositionExists)

	// Opposite side of the same symbol is a distinct position.
	_, err = eng.OpenPosition(ctx, "BTCUSDT", market.Short, 50_000, 51_000)
	assert.NoError(t, err)
}

func TestOpenPosition_HaltedWhenAPIDown(t *testing.T) {
	t.Parallel()

	health := exchange.NewHealthTracker(time.Nanosecond)
	time.Sleep(time.Millisecond)

	eng, _, queue := newTestEngine(t, health)

	_, err := eng.OpenPosition(context.Background(), "BTCUSDT", market.Long, 50_000, 49_000)
	assert.ErrorIs(t, err, ErrTradingHalted)
	assert.Equal(t, 0, queue.Len())
}

func TestEvaluateTick_StopHitClosesPosition(t *testing.T) {
	t.Parallel()

	eng, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := eng.OpenPosition(ctx, "BTCUSDT", market.Long, 50_000, 49_000)
	require.NoError(t, err)

	// Initial trailing stop sits at entry*(1-0.20)=40000; sweep through it.
	err = eng.EvaluateTick(ctx, market.Snapshot{
		Symbol:     "BTCUSDT",
		Time:       time.Now().UTC(),
		Price:      39_500,
		ATR:        200,
		Volatility: 0.01,
	})
	require.NoError(t, err)

	_, ok := eng.Position("BTCUSDT", market.Long)
	assert.False(t, ok)
	assert.Less(t, eng.Account().Balance, 10_000.0)
}

func TestEvaluateTick_TrailMoveReplacesVenueStop(t *testing.T) {
	t.Parallel()

	eng, exch, queue := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := eng.OpenPosition(ctx, "BTCUSDT", market.Long, 50_000, 49_000)
	require.NoError(t, err)

	// 1.5R in profit arms breakeven: stop moves to entry + 0.5*ATR = 50100.
	err = eng.EvaluateTick(ctx, market.Snapshot{
		Symbol:     "BTCUSDT",
		Time:       time.Now().UTC(),
		Price:      51_500,
		ATR:        200,
		Volatility: 0.01,
	})
	require.NoError(t, err)

	pos, ok := eng.Position("BTCUSDT", market.Long)
	require.True(t, ok)
	assert.InDelta(t, 50_100.0, pos.StopLoss, 1e-9)
	assert.InDelta(t, 49_000.0, pos.InitialStop, 1e-9)

	assert.Equal(t, []string{"BTCUSDT"}, exch.cancelled)

	// The initial 49000 stop was dropped from the queue and replaced.
	pending := queue.Pending()
	require.Len(t, pending, 2)
	stop := pending[1]
	assert.Equal(t, orders.TypeStopMarket, stop.Type)
	assert.InDelta(t, 50_100.0, stop.StopPrice, 1e-9)
	assert.True(t, stop.Critical)
	assert.True(t, stop.ReduceOnly)
	assert.Equal(t, market.Short, stop.Side)
	for _, o := range pending {
		assert.NotEqual(t, 49_000.0, o.StopPrice)
	}
}

func TestEvaluateTick_LiquidationProximityMarketExit(t *testing.T) {
	t.Parallel()

	eng, exch, queue := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := eng.OpenPosition(ctx, "BTCUSDT", market.Long, 50_000, 49_000)
	require.NoError(t, err)
	require.Equal(t, 2, queue.Len())

	// Liquidation at 46000; at 48000 proximity is 4.2%, inside the 5% band
	// but above the 40000 trailing stop.
	err = eng.EvaluateTick(ctx, market.Snapshot{
		Symbol:     "BTCUSDT",
		Time:       time.Now().UTC(),
		Price:      48_000,
		ATR:        200,
		Volatility: 0.01,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT"}, exch.cancelled)

	// Non-critical entry was cancelled, the critical reduce-only exit remains.
	require.Equal(t, 1, queue.Len())
	exit := queue.Pending()[0]
	assert.True(t, exit.Critical)
	assert.True(t, exit.ReduceOnly)
	assert.Equal(t, market.Short, exit.Side)
	assert.Equal(t, orders.TypeMarket, exit.Type)
	assert.InDelta(t, 0.25, exit.Quantity, 1e-9)

	_, ok := eng.Position("BTCUSDT", market.Long)
	assert.False(t, ok)
}

func TestClosePosition_AppliesNetPnL(t *testing.T) {
	t.Parallel()

	eng, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := eng.OpenPosition(ctx, "BTCUSDT", market.Long, 50_000, 49_000)
	require.NoError(t, err)

	trade, err := eng.ClosePosition(ctx, "BTCUSDT", market.Long, 51_000, risk.ExitTakeProfit)
	require.NoError(t, err)

	// 0.1% slippage haircuts the exit to 50949: gross 237.25, taker fees
	// 2.50 in and ~2.55 out.
	assert.InDelta(t, 237.25, trade.GrossPnL, 1e-9)
	assert.InDelta(t, 5.04745, trade.FeesPaid, 1e-9)
	assert.InDelta(t, 232.20255, trade.NetPnL, 1e-9)
	assert.InDelta(t, 0.001, trade.SlippageRealized, 1e-12)
	assert.Equal(t, risk.ExitTakeProfit, trade.ExitReason)

	acct := eng.Account()
	assert.InDelta(t, 10_232.20255, acct.Balance, 1e-9)
	assert.InDelta(t, 10_232.20255, acct.PeakBalance, 1e-9)

	_, ok := eng.Position("BTCUSDT", market.Long)
	assert.False(t, ok)
}

func TestRun_PermanentOrderFailureTripsHealth(t *testing.T) {
	t.Parallel()

	health := exchange.NewHealthTracker(time.Minute)
	exch := newFakeExchange()
	exch.submitErr = errors.New("venue rejected")
	queue := orders.NewQueue(orders.QueueConfig{
		Capacity:    10,
		StaleAfter:  time.Minute,
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}, nil)
	trail := trailing.NewEngine(trailing.DefaultConfig(), nil)
	emerg := emergency.NewSystem(emergency.DefaultConfig(), nil)

	cfg := DefaultConfig()
	cfg.DrainInterval = 5 * time.Millisecond
	acct := risk.Account{Balance: 10_000, PeakBalance: 10_000, Leverage: 10, SafetyBuffer: 0.20}
	eng := New(cfg, acct, exch, queue, trail, emerg, fees.New(), nil, health, nil)

	require.NoError(t, queue.Enqueue(orders.New("BTCUSDT", market.Long, orders.TypeMarket, 1)))
	require.True(t, health.Healthy())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	// The order exhausts its retry budget; the drain loop must flag the
	// connection down so emergency evaluation sees the outage.
	assert.Eventually(t, func() bool { return !health.Healthy() },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, queue.Len())
}

func TestClosePosition_NoPosition(t *testing.T) {
	t.Parallel()

	eng, _, _ := newTestEngine(t, nil)

	_, err := eng.ClosePosition(context.Background(), "ETHUSDT", market.Long, 3_000, risk.ExitTakeProfit)
	assert.ErrorIs(t, err, ErrNoPosition)
}
