// Package binance adapts the Binance USDT-margined futures API to the
// exchange.Exchange interface.
package binance

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"

	"github.com/pkrawiec/perpguard/exchange"
	"github.com/pkrawiec/perpguard/market"
	"github.com/pkrawiec/perpguard/orders"
)

// Client wraps the futures client, reports health, and translates our order
// model into Binance request builders.
type Client struct {
	api    *futures.Client
	health *exchange.HealthTracker
	log    *zap.Logger

	qtyPrecision   int
	pricePrecision int
}

// Config holds credentials and venue settings.
type Config struct {
	APIKey         string
	SecretKey      string
	Testnet        bool
	QtyPrecision   int
	PricePrecision int
}

func New(cfg Config, health *exchange.HealthTracker, log *zap.Logger) *Client {
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.QtyPrecision <= 0 {
		cfg.QtyPrecision = 3
	}
	if cfg.PricePrecision <= 0 {
		cfg.PricePrecision = 2
	}
	return &Client{
		api:            binance.NewFuturesClient(cfg.APIKey, cfg.SecretKey),
		health:         health,
		log:            log,
		qtyPrecision:   cfg.QtyPrecision,
		pricePrecision: cfg.PricePrecision,
	}
}

func (c *Client) sideOf(s market.Side) futures.SideType {
	if s == market.Long {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func (c *Client) typeOf(t orders.Type) futures.OrderType {
	switch t {
	case orders.TypeLimit:
		return futures.OrderTypeLimit
	case orders.TypeStopMarket:
		return futures.OrderType(futures.AlgoOrderTypeStopMarket)
	default:
		return futures.OrderTypeMarket
	}
}

func (c *Client) fmtQty(q float64) string {
	return strconv.FormatFloat(q, 'f', c.qtyPrecision, 64)
}

func (c *Client) fmtPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', c.pricePrecision, 64)
}

// SubmitOrder sends one order. A success records API health.
func (c *Client) SubmitOrder(ctx context.Context, o *orders.Order) error {
	svc := c.api.NewCreateOrderService().
		Symbol(o.Symbol).
		Side(c.sideOf(o.Side)).
		Type(c.typeOf(o.Type)).
		Quantity(c.fmtQty(o.Quantity))

	switch o.Type {
	case orders.TypeLimit:
		svc = svc.Price(c.fmtPrice(o.Price)).TimeInForce(futures.TimeInForceTypeGTC)
	case orders.TypeStopMarket:
		svc = svc.StopPrice(c.fmtPrice(o.StopPrice))
	}
	if o.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		c.health.RecordFailure()
		return &exchange.ConnectionError{Op: fmt.Sprintf("submit %s %s", o.Symbol, o.Type), Err: err}
	}

	c.health.RecordSuccess()
	c.log.Info("order submitted",
		zap.String("symbol", o.Symbol),
		zap.String("type", string(o.Type)),
		zap.Int64("exchange_order_id", res.OrderID))
	return nil
}

// FetchPositions returns the venue's open positions. Zero-quantity rows are
// skipped.
func (c *Client) FetchPositions(ctx context.Context, symbol string) ([]exchange.PositionInfo, error) {
	svc := c.api.NewGetPositionRiskService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	rows, err := svc.Do(ctx)
	if err != nil {
		c.health.RecordFailure()
		return nil, &exchange.ConnectionError{Op: "fetch positions", Err: err}
	}
	c.health.RecordSuccess()

	var out []exchange.PositionInfo
	for _, r := range rows {
		qty, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if qty == 0 {
			continue
		}
		side := market.Long
		if qty < 0 {
			side = market.Short
			qty = -qty
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(r.MarkPrice, 64)
		liq, _ := strconv.ParseFloat(r.LiquidationPrice, 64)
		lev, _ := strconv.Atoi(r.Leverage)
		upnl, _ := strconv.ParseFloat(r.UnRealizedProfit, 64)

		out = append(out, exchange.PositionInfo{
			Symbol:           r.Symbol,
			Side:             side,
			Quantity:         qty,
			EntryPrice:       entry,
			MarkPrice:        mark,
			LiquidationPrice: liq,
			Leverage:         lev,
			UnrealizedPnL:    upnl,
		})
	}
	return out, nil
}

// CancelOpenOrders cancels every resting order for the symbol.
func (c *Client) CancelOpenOrders(ctx context.Context, symbol string) error {
	if err := c.api.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		c.health.RecordFailure()
		return &exchange.ConnectionError{Op: "cancel open orders " + symbol, Err: err}
	}
	c.health.RecordSuccess()
	return nil
}

// SetLeverage sets the symbol's leverage.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if _, err := c.api.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx); err != nil {
		c.health.RecordFailure()
		return &exchange.ConnectionError{Op: "set leverage " + symbol, Err: err}
	}
	c.health.RecordSuccess()
	return nil
}

var _ exchange.Exchange = (*Client)(nil)
