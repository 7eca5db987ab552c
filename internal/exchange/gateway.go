package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderState string

const (
	OrderNew             OrderState = "NEW"
	OrderPartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderFilled          OrderState = "FILLED"
	OrderCancelled       OrderState = "CANCELLED"
	OrderRejected        OrderState = "REJECTED"
	OrderExpired         OrderState = "EXPIRED"
)

// IsOpen reports whether the order can still trade.
func (s OrderState) IsOpen() bool {
	return s == OrderNew || s == OrderPartiallyFilled
}

type OrderStatus struct {
	State       OrderState
	FilledQty   decimal.Decimal
	FilledPrice decimal.Decimal
}

// MarketFeed is the only market data the ladder engine needs.
type MarketFeed interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Ticker is one row of a 24h snapshot.
type Ticker struct {
	Symbol        string          `json:"symbol"`
	LastPrice     decimal.Decimal `json:"last_price"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	QuoteVolume   decimal.Decimal `json:"quote_volume"`
}

// TickerSource feeds the scanner.
type TickerSource interface {
	Get24hChange(ctx context.Context, symbol string) (decimal.Decimal, error)
	Tickers(ctx context.Context) ([]Ticker, error)
}

// OrderGateway places and tracks orders. clientID is echoed to the exchange so a
// retried placement can be matched with an order that was accepted before a timeout.
type OrderGateway interface {
	PlaceLimitOrder(ctx context.Context, symbol string, side Side, price, qty decimal.Decimal, clientID string) (string, error)
	PlaceTakeProfitOrder(ctx context.Context, symbol string, side Side, triggerPrice, qty decimal.Decimal, clientID string) (string, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderStatus, error)
	// FindOrder resolves clientID to the exchange order id, ErrOrderNotFound when
	// the exchange never accepted it.
	FindOrder(ctx context.Context, symbol, clientID string) (string, error)
}
