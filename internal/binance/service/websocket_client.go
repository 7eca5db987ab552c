// internal/binance/service/websocket_client.go
package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"laddertrade/internal/exchange"
	"laddertrade/internal/logger"
	"laddertrade/internal/metrics"
)

const priceStreamName = "all_market_tickers"

type cachedTicker struct {
	ticker exchange.Ticker
	at     time.Time
}

// PriceStream keeps the latest 24h ticker of every futures symbol from the
// all-market ticker stream. Entries older than maxAge are not served, so a dead
// connection makes the gateway fall back to REST.
type PriceStream struct {
	mu      sync.RWMutex
	tickers map[string]cachedTicker
	maxAge  time.Duration

	reconnectDelay time.Duration
	now            func() time.Time
}

func NewPriceStream(maxAge time.Duration) *PriceStream {
	if maxAge <= 0 {
		maxAge = 5 * time.Second
	}
	return &PriceStream{
		tickers:        make(map[string]cachedTicker),
		maxAge:         maxAge,
		reconnectDelay: 3 * time.Second,
		now:            time.Now,
	}
}

// Start connects and keeps reconnecting until ctx is done.
func (s *PriceStream) Start(ctx context.Context) error {
	doneC, stopC, err := s.connect()
	if err != nil {
		return fmt.Errorf("failed to connect to futures ticker WebSocket: %w", err)
	}
	go s.supervise(ctx, doneC, stopC)
	return nil
}

func (s *PriceStream) connect() (chan struct{}, chan struct{}, error) {
	doneC, stopC, err := futures.WsAllMarketTickerServe(s.handle, func(err error) {
		logger.Warn(context.Background(), "PriceStream: WebSocket error", "error", err)
	})
	if err != nil {
		return nil, nil, err
	}
	metrics.ExchangeWebSocketConnections.WithLabelValues(priceStreamName).Set(1)
	logger.Info(context.Background(), "PriceStream: connected")
	return doneC, stopC, nil
}

func (s *PriceStream) supervise(ctx context.Context, doneC, stopC chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			metrics.ExchangeWebSocketConnections.WithLabelValues(priceStreamName).Set(0)
			logger.Info(ctx, "PriceStream: stopped")
			return
		case <-doneC:
			metrics.ExchangeWebSocketConnections.WithLabelValues(priceStreamName).Set(0)
			logger.Warn(ctx, "PriceStream: connection closed, reconnecting", "delay", s.reconnectDelay.String())
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.reconnectDelay):
			}
			var err error
			doneC, stopC, err = s.connect()
			if err == nil {
				break
			}
			logger.Warn(ctx, "PriceStream: reconnect failed", "error", err)
		}
	}
}

func (s *PriceStream) handle(event futures.WsAllMarketTickerEvent) {
	at := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range event {
		if e == nil {
			continue
		}
		t, err := parseTicker(e.Symbol, e.ClosePrice, e.PriceChangePercent, e.QuoteVolume)
		if err != nil {
			continue
		}
		s.tickers[e.Symbol] = cachedTicker{ticker: t, at: at}
	}
}

// Ticker returns the cached ticker of symbol if it is fresh.
func (s *PriceStream) Ticker(symbol string) (exchange.Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.tickers[symbol]
	if !ok || s.now().Sub(c.at) > s.maxAge {
		return exchange.Ticker{}, false
	}
	return c.ticker, true
}

// Snapshot returns every fresh ticker sorted by symbol.
func (s *PriceStream) Snapshot() []exchange.Ticker {
	now := s.now()
	s.mu.RLock()
	out := make([]exchange.Ticker, 0, len(s.tickers))
	for _, c := range s.tickers {
		if now.Sub(c.at) <= s.maxAge {
			out = append(out, c.ticker)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
