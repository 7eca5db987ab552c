package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laddertrade/internal/exchange"
)

const exchangeInfoJSON = `{"symbols":[{"symbol":"BTCUSDT","filters":[
	{"filterType":"PRICE_FILTER","tickSize":"0.10","minPrice":"0.10","maxPrice":"1000000"},
	{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001","maxQty":"1000"}]}]}`

// fakeFutures answers the handful of REST endpoints the gateway uses.
type fakeFutures struct {
	mu      sync.Mutex
	created []map[string]string
	handler func(w http.ResponseWriter, r *http.Request) bool
}

func (f *fakeFutures) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.handler != nil && f.handler(w, r) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/fapi/v1/exchangeInfo":
		fmt.Fprint(w, exchangeInfoJSON)
	case r.URL.Path == "/fapi/v1/ticker/price":
		fmt.Fprint(w, `[{"symbol":"BTCUSDT","price":"64000.10","time":1}]`)
	case r.URL.Path == "/fapi/v1/order" && r.Method == http.MethodPost:
		r.ParseForm()
		f.mu.Lock()
		f.created = append(f.created, map[string]string{
			"price":            r.Form.Get("price"),
			"quantity":         r.Form.Get("quantity"),
			"reduceOnly":       r.Form.Get("reduceOnly"),
			"newClientOrderId": r.Form.Get("newClientOrderId"),
		})
		f.mu.Unlock()
		fmt.Fprint(w, `{"orderId":1001,"symbol":"BTCUSDT","status":"NEW"}`)
	case r.URL.Path == "/fapi/v1/order" && r.Method == http.MethodGet:
		fmt.Fprint(w, `{"orderId":1001,"symbol":"BTCUSDT","status":"PARTIALLY_FILLED","executedQty":"0.002","avgPrice":"63990.0"}`)
	case r.URL.Path == "/fapi/v1/order" && r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-2011,"msg":"Unknown order sent."}`)
	default:
		http.NotFound(w, r)
	}
}

func newTestGateway(t *testing.T, fake *fakeFutures, prices *PriceStream) *FuturesGateway {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := futures.NewClient("key", "secret")
	client.BaseURL = srv.URL
	client.HTTPClient = srv.Client()
	return NewFuturesGateway(client, prices, nil, nil)
}

func TestGatewayGetPriceREST(t *testing.T) {
	g := newTestGateway(t, &fakeFutures{}, nil)

	price, err := g.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "64000.1", price.String())

	_, err = g.GetPrice(context.Background(), "ETHUSDT")
	assert.True(t, exchange.IsPermanent(err))
}

func TestGatewayPrefersFreshStream(t *testing.T) {
	stream := NewPriceStream(time.Minute)
	stream.handle(futures.WsAllMarketTickerEvent{
		{Symbol: "BTCUSDT", ClosePrice: "65000", PriceChangePercent: "1.5", QuoteVolume: "1000"},
	})
	g := newTestGateway(t, &fakeFutures{}, stream)

	price, err := g.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "65000", price.String())

	change, err := g.Get24hChange(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "1.5", change.String())
}

func TestGatewayPlaceNormalizesOrder(t *testing.T) {
	fake := &fakeFutures{}
	g := newTestGateway(t, fake, nil)

	id, err := g.PlaceTakeProfitOrder(context.Background(), "BTCUSDT", exchange.SideSell,
		decimal.RequireFromString("64123.456"), decimal.RequireFromString("0.0129"), "LADDER_TP_abc_0")
	require.NoError(t, err)
	assert.Equal(t, "1001", id)

	require.Len(t, fake.created, 1)
	assert.Equal(t, "64123.5", fake.created[0]["price"])
	assert.Equal(t, "0.012", fake.created[0]["quantity"])
	assert.Equal(t, "true", fake.created[0]["reduceOnly"])
	assert.Equal(t, "LADDER_TP_abc_0", fake.created[0]["newClientOrderId"])
}

func TestGatewayPlaceBelowMinQty(t *testing.T) {
	fake := &fakeFutures{}
	g := newTestGateway(t, fake, nil)

	_, err := g.PlaceLimitOrder(context.Background(), "BTCUSDT", exchange.SideBuy,
		decimal.RequireFromString("64000"), decimal.RequireFromString("0.0004"), "x")
	assert.True(t, exchange.IsPermanent(err))
	assert.Empty(t, fake.created)
}

func TestGatewayDuplicateClientIDReturnsOriginal(t *testing.T) {
	fake := &fakeFutures{handler: func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/fapi/v1/order" && r.Method == http.MethodPost {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"code":-4116,"msg":"ClientOrderId is duplicated."}`)
			return true
		}
		return false
	}}
	g := newTestGateway(t, fake, nil)

	id, err := g.PlaceLimitOrder(context.Background(), "BTCUSDT", exchange.SideBuy,
		decimal.RequireFromString("64000"), decimal.RequireFromString("0.01"), "LADDER_ADD_abc_2")
	require.NoError(t, err)
	assert.Equal(t, "1001", id)
}

func TestGatewayFindOrder(t *testing.T) {
	fake := &fakeFutures{handler: func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path != "/fapi/v1/order" || r.Method != http.MethodGet {
			return false
		}
		if r.URL.Query().Get("origClientOrderId") == "LADDER_ADD_abc_1" {
			return false
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-2013,"msg":"Order does not exist."}`)
		return true
	}}
	g := newTestGateway(t, fake, nil)

	id, err := g.FindOrder(context.Background(), "BTCUSDT", "LADDER_ADD_abc_1")
	require.NoError(t, err)
	assert.Equal(t, "1001", id)

	_, err = g.FindOrder(context.Background(), "BTCUSDT", "LADDER_ADD_abc_2")
	assert.ErrorIs(t, err, exchange.ErrOrderNotFound)
	assert.False(t, exchange.IsTransient(err))
}

func TestGatewayCancelUnknownOrder(t *testing.T) {
	g := newTestGateway(t, &fakeFutures{}, nil)

	err := g.CancelOrder(context.Background(), "BTCUSDT", "1001")
	assert.ErrorIs(t, err, exchange.ErrOrderNotOpen)
}

func TestGatewayOrderStatus(t *testing.T) {
	g := newTestGateway(t, &fakeFutures{}, nil)

	st, err := g.GetOrderStatus(context.Background(), "BTCUSDT", "1001")
	require.NoError(t, err)
	assert.Equal(t, exchange.OrderPartiallyFilled, st.State)
	assert.Equal(t, "0.002", st.FilledQty.String())
}

func TestGatewayStatusPrefersStreamedFinalState(t *testing.T) {
	srv := httptest.NewServer(&fakeFutures{})
	t.Cleanup(srv.Close)
	client := futures.NewClient("key", "secret")
	client.BaseURL = srv.URL

	orders := NewOrderStream(client)
	orders.handleOrderUpdate([]byte(`{"i":1001,"s":"BTCUSDT","X":"FILLED","z":"0.01","ap":"64000","c":"LADDER_ADD_abc_1"}`))
	g := NewFuturesGateway(client, nil, orders, nil)

	st, err := g.GetOrderStatus(context.Background(), "BTCUSDT", "1001")
	require.NoError(t, err)
	assert.Equal(t, exchange.OrderFilled, st.State)
	assert.Equal(t, "64000", st.FilledPrice.String())
}

func TestGatewayTransportErrorIsTransient(t *testing.T) {
	client := futures.NewClient("key", "secret")
	client.BaseURL = "http://127.0.0.1:1"
	g := NewFuturesGateway(client, nil, nil, nil)

	_, err := g.GetPrice(context.Background(), "BTCUSDT")
	assert.True(t, exchange.IsTransient(err))
	assert.False(t, errors.Is(err, exchange.ErrOrderNotOpen))
}
