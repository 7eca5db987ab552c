package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laddertrade/internal/exchange"
	"laddertrade/internal/scanner/service"
)

type stubSource struct {
	tickers []exchange.Ticker
	err     error
}

func (s stubSource) Get24hChange(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (s stubSource) Tickers(context.Context) ([]exchange.Ticker, error) {
	return s.tickers, s.err
}

func newHandler(src stubSource) *Handler {
	return NewHandler(service.NewScanner(src, service.Filter{
		MinAbsChange: decimal.NewFromInt(5),
		QuoteAsset:   "USDT",
		Limit:        20,
	}))
}

func TestScanHandler(t *testing.T) {
	h := newHandler(stubSource{tickers: []exchange.Ticker{
		{Symbol: "BTCUSDT", ChangePercent: decimal.RequireFromString("3"), QuoteVolume: decimal.NewFromInt(10)},
		{Symbol: "ETHUSDT", ChangePercent: decimal.RequireFromString("-8"), QuoteVolume: decimal.NewFromInt(10)},
	}})

	rec := httptest.NewRecorder()
	h.Scan(rec, httptest.NewRequest(http.MethodGet, "/api/scanner?min_change=2.5", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var movers []service.Mover
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&movers))
	require.Len(t, movers, 2)
	assert.Equal(t, "ETHUSDT", movers[0].Symbol)
	assert.Equal(t, "DOWN", movers[0].Direction)
}

func TestScanHandlerBadParams(t *testing.T) {
	h := newHandler(stubSource{})
	for _, query := range []string{"min_change=abc", "min_change=-1", "min_volume=x", "limit=0", "limit=501"} {
		rec := httptest.NewRecorder()
		h.Scan(rec, httptest.NewRequest(http.MethodGet, "/api/scanner?"+query, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestScanHandlerUpstreamError(t *testing.T) {
	h := newHandler(stubSource{err: errors.New("connection refused")})
	rec := httptest.NewRecorder()
	h.Scan(rec, httptest.NewRequest(http.MethodGet, "/api/scanner", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
