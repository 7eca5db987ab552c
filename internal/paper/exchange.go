// internal/paper/exchange.go
//
// In-memory paper exchange. Orders never leave the process: limit orders fill
// when the last known price makes them marketable, take-profits when price
// reaches them. Prices come from SetPrice or from an upstream MarketFeed.
package paper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"laddertrade/internal/exchange"
)

// Op names accepted by FailNext.
const (
	OpPrice      = "price"
	OpPlaceLimit = "place_limit"
	OpPlaceTP    = "place_tp"
	OpCancel     = "cancel"
	OpStatus     = "status"
	OpFind       = "find"
)

type kind int

const (
	kindLimit kind = iota
	kindTakeProfit
)

// Order is the paper exchange's view of one order.
type Order struct {
	ID        string
	ClientID  string
	Symbol    string
	Side      exchange.Side
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	State     exchange.OrderState
	FilledAt  decimal.Decimal
	CreatedAt time.Time
	kind      kind
}

// IsTakeProfit reports whether the order was placed as a take-profit.
func (o Order) IsTakeProfit() bool { return o.kind == kindTakeProfit }

type Exchange struct {
	mu       sync.Mutex
	upstream exchange.MarketFeed
	prices   map[string]decimal.Decimal
	orders   map[string]*Order
	byClient map[string]string
	failures map[string][]error
	calls    map[string]int
}

// New returns a paper exchange. upstream may be nil, then prices must be set with SetPrice.
func New(upstream exchange.MarketFeed) *Exchange {
	return &Exchange{
		upstream: upstream,
		prices:   make(map[string]decimal.Decimal),
		orders:   make(map[string]*Order),
		byClient: make(map[string]string),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// SetPrice moves the market and fills whatever became marketable.
func (e *Exchange) SetPrice(symbol string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
	e.match(symbol)
}

// FailNext makes the next call of op return err. Calls queue up in order.
func (e *Exchange) FailNext(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[op] = append(e.failures[op], err)
}

// Calls returns how many times op was invoked, failed calls included.
func (e *Exchange) Calls(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[op]
}

func (e *Exchange) takeFailure(op string) error {
	e.calls[op]++
	queue := e.failures[op]
	if len(queue) == 0 {
		return nil
	}
	e.failures[op] = queue[1:]
	return queue[0]
}

func (e *Exchange) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	e.mu.Lock()
	if err := e.takeFailure(OpPrice); err != nil {
		e.mu.Unlock()
		return decimal.Zero, err
	}
	upstream := e.upstream
	e.mu.Unlock()

	if upstream != nil {
		price, err := upstream.GetPrice(ctx, symbol)
		if err != nil {
			return decimal.Zero, err
		}
		e.SetPrice(symbol, price)
		return price, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	price, ok := e.prices[symbol]
	if !ok {
		return decimal.Zero, exchange.Transient("get_price", fmt.Errorf("no price for %s yet", symbol))
	}
	return price, nil
}

func (e *Exchange) PlaceLimitOrder(ctx context.Context, symbol string, side exchange.Side, price, qty decimal.Decimal, clientID string) (string, error) {
	return e.place(OpPlaceLimit, kindLimit, symbol, side, price, qty, clientID)
}

func (e *Exchange) PlaceTakeProfitOrder(ctx context.Context, symbol string, side exchange.Side, triggerPrice, qty decimal.Decimal, clientID string) (string, error) {
	return e.place(OpPlaceTP, kindTakeProfit, symbol, side, triggerPrice, qty, clientID)
}

func (e *Exchange) place(op string, k kind, symbol string, side exchange.Side, price, qty decimal.Decimal, clientID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.takeFailure(op); err != nil {
		return "", err
	}
	if !price.IsPositive() || !qty.IsPositive() {
		return "", exchange.Permanent(op, 0, errors.New("price and quantity must be positive"))
	}
	// same client id twice means a retried request: hand back the original order
	if id, ok := e.byClient[clientID]; ok && clientID != "" {
		return id, nil
	}

	o := &Order{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Quantity:  qty,
		State:     exchange.OrderNew,
		CreatedAt: time.Now().UTC(),
		kind:      k,
	}
	e.orders[o.ID] = o
	if clientID != "" {
		e.byClient[clientID] = o.ID
	}
	e.match(symbol)
	return o.ID, nil
}

func (e *Exchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.takeFailure(OpCancel); err != nil {
		return err
	}
	o, ok := e.orders[orderID]
	if !ok || o.Symbol != symbol || !o.State.IsOpen() {
		return exchange.ErrOrderNotOpen
	}
	o.State = exchange.OrderCancelled
	return nil
}

func (e *Exchange) GetOrderStatus(ctx context.Context, symbol, orderID string) (exchange.OrderStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.takeFailure(OpStatus); err != nil {
		return exchange.OrderStatus{}, err
	}
	o, ok := e.orders[orderID]
	if !ok || o.Symbol != symbol {
		return exchange.OrderStatus{}, fmt.Errorf("get_order_status %s: %w", orderID, exchange.ErrOrderNotFound)
	}
	st := exchange.OrderStatus{State: o.State}
	if o.State == exchange.OrderFilled {
		st.FilledQty = o.Quantity
		st.FilledPrice = o.FilledAt
	}
	return st, nil
}

func (e *Exchange) FindOrder(ctx context.Context, symbol, clientID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.takeFailure(OpFind); err != nil {
		return "", err
	}
	id, ok := e.byClient[clientID]
	if !ok || clientID == "" || e.orders[id].Symbol != symbol {
		return "", fmt.Errorf("find %s: %w", clientID, exchange.ErrOrderNotFound)
	}
	return id, nil
}

// Fill marks an open order filled at price regardless of the market.
func (e *Exchange) Fill(orderID string, price decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok || !o.State.IsOpen() {
		return exchange.ErrOrderNotOpen
	}
	o.State = exchange.OrderFilled
	o.FilledAt = price
	return nil
}

// Order returns a copy of one order.
func (e *Exchange) Order(orderID string) (Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// OpenOrders lists working orders for symbol, oldest first.
func (e *Exchange) OpenOrders(symbol string) []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Order
	for _, o := range e.orders {
		if o.Symbol == symbol && o.State.IsOpen() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// match fills open orders of symbol that the current price makes marketable.
// Caller holds e.mu.
func (e *Exchange) match(symbol string) {
	price, ok := e.prices[symbol]
	if !ok {
		return
	}
	for _, o := range e.orders {
		if o.Symbol != symbol || !o.State.IsOpen() {
			continue
		}
		// buy limit and short take-profit fill at or below, sell side at or above
		hit := price.LessThanOrEqual(o.Price)
		if o.Side == exchange.SideSell {
			hit = price.GreaterThanOrEqual(o.Price)
		}
		if hit {
			o.State = exchange.OrderFilled
			o.FilledAt = o.Price
		}
	}
}
