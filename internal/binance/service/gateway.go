// internal/binance/service/gateway.go
package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"laddertrade/internal/exchange"
	"laddertrade/internal/logger"
	"laddertrade/internal/metrics"
)

const (
	opPrice        = "get_price"
	opTickers      = "tickers"
	opPlaceLimit   = "place_limit_order"
	opPlaceTP      = "place_take_profit"
	opCancel       = "cancel_order"
	opStatus       = "get_order_status"
	opExchangeInfo = "exchange_info"
)

// FuturesGateway talks to Binance USDⓈ-M futures. It implements
// exchange.OrderGateway, exchange.MarketFeed and exchange.TickerSource.
// Streams are optional: when present their fresh data is served first and REST
// is the fallback.
type FuturesGateway struct {
	client    *futures.Client
	cb        *gobreaker.CircuitBreaker
	precision *Precision
	prices    *PriceStream
	orders    *OrderStream
	clock     *TimeSyncService
}

func NewFuturesGateway(client *futures.Client, prices *PriceStream, orders *OrderStream, clock *TimeSyncService) *FuturesGateway {
	g := &FuturesGateway{
		client: client,
		prices: prices,
		orders: orders,
		clock:  clock,
	}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "binance-futures",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(context.Background(), "FuturesGateway: circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
			metrics.ExchangeBreakerState.WithLabelValues(name).Set(float64(to))
		},
		IsSuccessful: countsAsSuccess,
	})
	g.precision = NewPrecision(g.loadRules)
	return g
}

// call runs fn through the breaker, records metrics and classifies the error.
func (g *FuturesGateway) call(ctx context.Context, op string, fn func() (interface{}, error)) (interface{}, error) {
	start := time.Now()
	res, err := g.cb.Execute(fn)
	metrics.ExchangeRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ExchangeRequestsTotal.WithLabelValues(op, "error").Inc()
		if apiCode(err) == codeTimestamp && g.clock != nil {
			go g.clock.SyncTime(context.WithoutCancel(ctx))
		}
		return nil, classify(op, err)
	}
	metrics.ExchangeRequestsTotal.WithLabelValues(op, "ok").Inc()
	return res, nil
}

func (g *FuturesGateway) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if g.prices != nil {
		if t, ok := g.prices.Ticker(symbol); ok {
			return t.LastPrice, nil
		}
	}
	res, err := g.call(ctx, opPrice, func() (interface{}, error) {
		return g.client.NewListPricesService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return decimal.Zero, err
	}
	for _, p := range res.([]*futures.SymbolPrice) {
		if p.Symbol != symbol {
			continue
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return decimal.Zero, exchange.Transient(opPrice, fmt.Errorf("bad price %q: %w", p.Price, err))
		}
		return price, nil
	}
	return decimal.Zero, exchange.Permanent(opPrice, 0, fmt.Errorf("no price for %s", symbol))
}

func (g *FuturesGateway) Get24hChange(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if g.prices != nil {
		if t, ok := g.prices.Ticker(symbol); ok {
			return t.ChangePercent, nil
		}
	}
	res, err := g.call(ctx, opTickers, func() (interface{}, error) {
		return g.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return decimal.Zero, err
	}
	for _, s := range res.([]*futures.PriceChangeStats) {
		if s.Symbol == symbol {
			return decimal.NewFromString(s.PriceChangePercent)
		}
	}
	return decimal.Zero, exchange.Permanent(opTickers, 0, fmt.Errorf("no 24h stats for %s", symbol))
}

func (g *FuturesGateway) Tickers(ctx context.Context) ([]exchange.Ticker, error) {
	if g.prices != nil {
		if snap := g.prices.Snapshot(); len(snap) > 0 {
			return snap, nil
		}
	}
	res, err := g.call(ctx, opTickers, func() (interface{}, error) {
		return g.client.NewListPriceChangeStatsService().Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	stats := res.([]*futures.PriceChangeStats)
	out := make([]exchange.Ticker, 0, len(stats))
	for _, s := range stats {
		t, err := parseTicker(s.Symbol, s.LastPrice, s.PriceChangePercent, s.QuoteVolume)
		if err != nil {
			logger.Debug(ctx, "FuturesGateway: skipping malformed ticker", "symbol", s.Symbol, "error", err)
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (g *FuturesGateway) PlaceLimitOrder(ctx context.Context, symbol string, side exchange.Side, price, qty decimal.Decimal, clientID string) (string, error) {
	return g.placeOrder(ctx, opPlaceLimit, symbol, side, price, qty, clientID, false)
}

// PlaceTakeProfitOrder rests a reduce-only GTC limit at triggerPrice.
func (g *FuturesGateway) PlaceTakeProfitOrder(ctx context.Context, symbol string, side exchange.Side, triggerPrice, qty decimal.Decimal, clientID string) (string, error) {
	return g.placeOrder(ctx, opPlaceTP, symbol, side, triggerPrice, qty, clientID, true)
}

func (g *FuturesGateway) placeOrder(ctx context.Context, op, symbol string, side exchange.Side,
	price, qty decimal.Decimal, clientID string, reduceOnly bool) (string, error) {
	p, q, err := g.precision.Normalize(ctx, symbol, price, qty)
	if err != nil {
		return "", err
	}

	svc := g.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Price(p).
		Quantity(q)
	if reduceOnly {
		svc.ReduceOnly(true)
	}
	if clientID != "" {
		svc.NewClientOrderID(clientID)
	}

	res, err := g.call(ctx, op, func() (interface{}, error) {
		return svc.Do(ctx)
	})
	if err != nil {
		// a retry after a lost response: the first attempt went through
		if apiCode(err) == codeDuplicateClientID && clientID != "" {
			logger.Info(ctx, "FuturesGateway: duplicate client order id, looking up original",
				"symbol", symbol, "client_id", clientID)
			return g.FindOrder(ctx, symbol, clientID)
		}
		return "", err
	}
	order := res.(*futures.CreateOrderResponse)
	orderID := strconv.FormatInt(order.OrderID, 10)
	logger.Info(ctx, "FuturesGateway: order placed",
		"op", op, "symbol", symbol, "side", string(side), "price", p, "qty", q,
		"order_id", orderID, "client_id", clientID)
	return orderID, nil
}

// FindOrder looks an order up by the client id it was placed with.
func (g *FuturesGateway) FindOrder(ctx context.Context, symbol, clientID string) (string, error) {
	res, err := g.call(ctx, opStatus, func() (interface{}, error) {
		return g.client.NewGetOrderService().Symbol(symbol).OrigClientOrderID(clientID).Do(ctx)
	})
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(res.(*futures.Order).OrderID, 10), nil
}

func (g *FuturesGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := parseOrderID(opCancel, orderID)
	if err != nil {
		return err
	}
	_, err = g.call(ctx, opCancel, func() (interface{}, error) {
		return g.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "FuturesGateway: order cancelled", "symbol", symbol, "order_id", orderID)
	return nil
}

func (g *FuturesGateway) GetOrderStatus(ctx context.Context, symbol, orderID string) (exchange.OrderStatus, error) {
	if g.orders != nil {
		if st, ok := g.orders.Lookup(orderID); ok {
			return st, nil
		}
	}
	id, err := parseOrderID(opStatus, orderID)
	if err != nil {
		return exchange.OrderStatus{}, err
	}
	res, err := g.call(ctx, opStatus, func() (interface{}, error) {
		return g.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	})
	if err != nil {
		return exchange.OrderStatus{}, err
	}
	o := res.(*futures.Order)
	return orderStatus(string(o.Status), o.ExecutedQuantity, o.AvgPrice)
}

func (g *FuturesGateway) loadRules(ctx context.Context) (map[string]SymbolRules, error) {
	res, err := g.call(ctx, opExchangeInfo, func() (interface{}, error) {
		return g.client.NewExchangeInfoService().Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	info := res.(*futures.ExchangeInfo)
	rules := make(map[string]SymbolRules, len(info.Symbols))
	for i := range info.Symbols {
		s := &info.Symbols[i]
		var r SymbolRules
		if f := s.PriceFilter(); f != nil {
			r.TickSize, _ = decimal.NewFromString(f.TickSize)
		}
		if f := s.LotSizeFilter(); f != nil {
			r.StepSize, _ = decimal.NewFromString(f.StepSize)
			r.MinQty, _ = decimal.NewFromString(f.MinQuantity)
		}
		rules[s.Symbol] = r
	}
	logger.Info(ctx, "FuturesGateway: exchange info loaded", "symbols", len(rules))
	return rules, nil
}

func parseOrderID(op, orderID string) (int64, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return 0, exchange.Permanent(op, 0, fmt.Errorf("bad order id %q: %w", orderID, err))
	}
	return id, nil
}

// orderStatus converts Binance status fields. Quantities come as strings and
// are empty on some stream events.
func orderStatus(status, executedQty, avgPrice string) (exchange.OrderStatus, error) {
	st := exchange.OrderStatus{State: mapOrderState(status)}
	if executedQty != "" {
		qty, err := decimal.NewFromString(executedQty)
		if err != nil {
			return exchange.OrderStatus{}, exchange.Transient(opStatus, fmt.Errorf("bad executed qty %q: %w", executedQty, err))
		}
		st.FilledQty = qty
	}
	if avgPrice != "" {
		price, err := decimal.NewFromString(avgPrice)
		if err != nil {
			return exchange.OrderStatus{}, exchange.Transient(opStatus, fmt.Errorf("bad avg price %q: %w", avgPrice, err))
		}
		st.FilledPrice = price
	}
	return st, nil
}

func mapOrderState(status string) exchange.OrderState {
	switch status {
	case "PARTIALLY_FILLED":
		return exchange.OrderPartiallyFilled
	case "FILLED":
		return exchange.OrderFilled
	case "CANCELED":
		return exchange.OrderCancelled
	case "REJECTED":
		return exchange.OrderRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return exchange.OrderExpired
	default:
		// NEW, NEW_INSURANCE, NEW_ADL
		return exchange.OrderNew
	}
}

func parseTicker(symbol, last, change, volume string) (exchange.Ticker, error) {
	t := exchange.Ticker{Symbol: symbol}
	var err error
	if t.LastPrice, err = decimal.NewFromString(last); err != nil {
		return t, err
	}
	if t.ChangePercent, err = decimal.NewFromString(change); err != nil {
		return t, err
	}
	if t.QuoteVolume, err = decimal.NewFromString(volume); err != nil {
		return t, err
	}
	return t, nil
}

