// internal/binance/service/user_data_stream.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"laddertrade/internal/exchange"
	"laddertrade/internal/logger"
	"laddertrade/internal/metrics"
)

const orderStreamName = "user_data"

// OrderStream caches order updates from the user data stream. Only final states
// are served from the cache: an open order may have traded while the socket was
// down, so open orders are always confirmed over REST.
type OrderStream struct {
	client *futures.Client

	mu        sync.Mutex
	orders    map[string]exchange.OrderStatus
	listenKey string
	stopWsC   chan struct{}
	stopped   bool

	keepAlive time.Duration
}

func NewOrderStream(client *futures.Client) *OrderStream {
	return &OrderStream{
		client:    client,
		orders:    make(map[string]exchange.OrderStatus),
		keepAlive: 50 * time.Minute,
	}
}

// Lookup returns the streamed status of orderID if the order is done.
func (u *OrderStream) Lookup(orderID string) (exchange.OrderStatus, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	st, ok := u.orders[orderID]
	if !ok || st.State.IsOpen() {
		return exchange.OrderStatus{}, false
	}
	return st, true
}

func (u *OrderStream) Start(ctx context.Context) error {
	key, err := u.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to create listen key: %w", err)
	}
	u.mu.Lock()
	u.listenKey = key
	u.mu.Unlock()

	if err := u.runWs(); err != nil {
		return err
	}
	go u.keepAliveLoop(ctx)
	logger.Info(ctx, "OrderStream: started")
	return nil
}

func (u *OrderStream) runWs() error {
	u.mu.Lock()
	if u.stopped {
		u.mu.Unlock()
		return fmt.Errorf("cannot start WS: stream already stopped")
	}
	key := u.listenKey
	u.mu.Unlock()

	doneC, stopC, err := futures.WsUserDataServe(key, u.HandleWsEvent, func(err error) {
		logger.Warn(context.Background(), "OrderStream: WebSocket error", "error", err)
	})
	if err != nil {
		return fmt.Errorf("failed to start WebSocket: %w", err)
	}

	u.mu.Lock()
	if u.stopped {
		u.mu.Unlock()
		close(stopC)
		return fmt.Errorf("stream stopped during connection setup")
	}
	u.stopWsC = stopC
	u.mu.Unlock()
	metrics.ExchangeWebSocketConnections.WithLabelValues(orderStreamName).Set(1)

	go func() {
		<-doneC
		metrics.ExchangeWebSocketConnections.WithLabelValues(orderStreamName).Set(0)
		logger.Info(context.Background(), "OrderStream: WebSocket connection closed")
	}()
	return nil
}

func (u *OrderStream) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(u.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			u.stop()
			return
		case <-ticker.C:
			u.mu.Lock()
			key := u.listenKey
			u.mu.Unlock()

			err := u.client.NewKeepaliveUserStreamService().ListenKey(key).Do(ctx)
			if err == nil {
				logger.Debug(ctx, "OrderStream: keep-alive ok")
				continue
			}
			logger.Warn(ctx, "OrderStream: keep-alive failed, recreating stream", "error", err)
			if err := u.recreate(ctx); err != nil {
				logger.ErrorWithErr(ctx, "OrderStream: failed to recreate stream", err)
			}
		}
	}
}

func (u *OrderStream) recreate(ctx context.Context) error {
	u.mu.Lock()
	if u.stopWsC != nil {
		close(u.stopWsC)
		u.stopWsC = nil
	}
	u.mu.Unlock()

	key, err := u.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return err
	}
	u.mu.Lock()
	u.listenKey = key
	u.mu.Unlock()
	return u.runWs()
}

func (u *OrderStream) stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stopped {
		return
	}
	u.stopped = true
	if u.stopWsC != nil {
		close(u.stopWsC)
		u.stopWsC = nil
	}
	logger.Info(context.Background(), "OrderStream: stopped")
}

// HandleWsEvent picks ORDER_TRADE_UPDATE payloads out of a user data event.
func (u *OrderStream) HandleWsEvent(e *futures.WsUserDataEvent) {
	if e == nil {
		return
	}

	// the SDK struct is re-read as raw JSON so only the fields used here matter
	var raw map[string]json.RawMessage
	b, err := json.Marshal(e)
	if err != nil {
		logger.Warn(context.Background(), "OrderStream: JSON marshal error", "error", err)
		return
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		logger.Warn(context.Background(), "OrderStream: JSON unmarshal error", "error", err)
		return
	}
	orderRaw, ok := raw["o"]
	if !ok {
		return
	}
	u.handleOrderUpdate(orderRaw)
}

func (u *OrderStream) handleOrderUpdate(data []byte) {
	var upd struct {
		ID          int64  `json:"i"`
		Symbol      string `json:"s"`
		Status      string `json:"X"`
		AccumQty    string `json:"z"`
		AvgPrice    string `json:"ap"`
		ClientOrder string `json:"c"`
	}
	if err := json.Unmarshal(data, &upd); err != nil {
		logger.Warn(context.Background(), "OrderStream: failed to decode order update", "error", err)
		return
	}
	if upd.ID == 0 || upd.Status == "" {
		return
	}
	st, err := orderStatus(upd.Status, upd.AccumQty, upd.AvgPrice)
	if err != nil {
		logger.Warn(context.Background(), "OrderStream: bad order update", "order_id", upd.ID, "error", err)
		return
	}

	id := strconv.FormatInt(upd.ID, 10)
	u.mu.Lock()
	u.orders[id] = st
	u.mu.Unlock()
	logger.Debug(context.Background(), "OrderStream: order update",
		"symbol", upd.Symbol, "order_id", id, "client_id", upd.ClientOrder, "status", string(st.State))
}
