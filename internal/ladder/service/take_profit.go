// internal/ladder/service/take_profit.go
package service

import (
	"context"
	"errors"
	"fmt"

	"laddertrade/internal/exchange"
	"laddertrade/internal/ladder/entity"
	"laddertrade/internal/logger"
	"laddertrade/internal/metrics"
)

// TakeProfitManager keeps a single reduce-only take-profit covering the filled position.
type TakeProfitManager struct {
	gateway exchange.OrderGateway
	retry   RetryPolicy
	orders  *orderCanceller
}

func NewTakeProfitManager(gateway exchange.OrderGateway, retry RetryPolicy) *TakeProfitManager {
	return &TakeProfitManager{
		gateway: gateway,
		retry:   retry,
		orders:  &orderCanceller{gateway: gateway, retry: retry},
	}
}

// Reconcile re-quotes the take-profit after a fill or a previous failed attempt.
// The old order is cancelled and resolved before a new one is placed.
func (m *TakeProfitManager) Reconcile(ctx context.Context, plan *entity.Plan) {
	if !plan.AutoTakeProfit || plan.State.IsTerminal() {
		return
	}
	avg, qty := plan.FilledPosition()
	if !qty.IsPositive() {
		return
	}
	target := plan.TakeProfitPriceFor(avg)

	if plan.ActiveTakeProfitOrderID != "" {
		if !plan.TPInconsistent && plan.TakeProfitPrice.Equal(target) && plan.TakeProfitQuantity.Equal(qty) {
			return
		}
		if !m.retire(ctx, plan) {
			return
		}
	}

	clientID := plan.ClientOrderID("TP", plan.TakeProfitSeq)
	var orderID string
	err := m.retry.Do(ctx, "place_take_profit", func(ctx context.Context) error {
		var err error
		orderID, err = m.gateway.PlaceTakeProfitOrder(ctx, plan.Symbol, exchange.Side(plan.ExitSide()), target, qty, clientID)
		return err
	})
	plan.Touch()
	if err != nil {
		plan.TPInconsistent = true
		plan.LastError = fmt.Sprintf("take-profit not placed, position uncovered: %v", err)
		metrics.LadderTakeProfitTotal.WithLabelValues("place_failed").Inc()
		logger.Warn(ctx, "TakeProfitManager: placement failed, will retry next cycle",
			"plan_id", plan.ID, "target", target.String(), "qty", qty.String(), "error", err)
		return
	}

	plan.ActiveTakeProfitOrderID = orderID
	plan.TakeProfitPrice = target
	plan.TakeProfitQuantity = qty
	plan.TakeProfitSeq++
	plan.TPInconsistent = false
	metrics.LadderTakeProfitTotal.WithLabelValues("placed").Inc()
	logger.Event(ctx, "TakeProfitManager: take-profit placed",
		"plan_id", plan.ID, "symbol", plan.Symbol, "order_id", orderID,
		"avg_price", avg.String(), "target", target.String(), "qty", qty.String())
}

// retire cancels the active take-profit. It returns true when no take-profit is
// live any more and a replacement may be placed.
func (m *TakeProfitManager) retire(ctx context.Context, plan *entity.Plan) bool {
	id := plan.ActiveTakeProfitOrderID
	err := m.retry.Do(ctx, "cancel_take_profit", func(ctx context.Context) error {
		return m.gateway.CancelOrder(ctx, plan.Symbol, id)
	})
	if err == nil {
		plan.ActiveTakeProfitOrderID = ""
		plan.Touch()
		metrics.LadderTakeProfitTotal.WithLabelValues("cancelled").Inc()
		return true
	}

	// cancel refused: ask the exchange what happened to the order
	status, serr := m.status(ctx, plan, id)
	if serr != nil {
		plan.TPInconsistent = true
		plan.LastError = fmt.Sprintf("take-profit %s unresolved: cancel: %v, status: %v", id, err, serr)
		plan.Touch()
		logger.Warn(ctx, "TakeProfitManager: cannot resolve take-profit, keeping it", "plan_id", plan.ID, "order_id", id,
			"cancel_error", err, "status_error", serr)
		return false
	}
	return m.resolve(ctx, plan, id, status, err)
}

// Watch checks the resting take-profit once per cycle.
func (m *TakeProfitManager) Watch(ctx context.Context, plan *entity.Plan) {
	if plan.ActiveTakeProfitOrderID == "" || plan.State.IsTerminal() {
		return
	}
	id := plan.ActiveTakeProfitOrderID
	status, err := m.status(ctx, plan, id)
	if err != nil {
		logger.Debug(ctx, "TakeProfitManager: status unavailable", "plan_id", plan.ID, "error", err)
		return
	}
	if status.State.IsOpen() {
		return
	}
	if m.resolve(ctx, plan, id, status, nil) {
		// vanished without a fill: put a new one up on this cycle's reconcile
		plan.TPInconsistent = true
	}
}

// resolve applies a non-open or open status of take-profit id. It returns true
// when the order is gone without having filled.
func (m *TakeProfitManager) resolve(ctx context.Context, plan *entity.Plan, id string, status exchange.OrderStatus, cancelErr error) bool {
	switch {
	case status.State == exchange.OrderFilled:
		plan.ActiveTakeProfitOrderID = ""
		plan.RealizedExit = true
		plan.State = entity.StateCompleted
		plan.TPInconsistent = false
		plan.Touch()
		metrics.LadderTakeProfitTotal.WithLabelValues("hit").Inc()
		logger.Event(ctx, "TakeProfitManager: take-profit filled, ladder completed",
			"plan_id", plan.ID, "order_id", id, "filled_price", status.FilledPrice.String(), "filled_qty", status.FilledQty.String())
		if err := m.orders.cancelAll(ctx, plan, true); err != nil {
			logger.ErrorWithErr(ctx, "TakeProfitManager: step cleanup incomplete, will retry", err, "plan_id", plan.ID)
		}
		return false

	case status.State.IsOpen():
		plan.TPInconsistent = true
		plan.LastError = fmt.Sprintf("take-profit %s still open after cancel: %v", id, cancelErr)
		plan.Touch()
		logger.Warn(ctx, "TakeProfitManager: take-profit still open, replacement deferred", "plan_id", plan.ID, "order_id", id)
		return false

	default:
		inc := &entity.InconsistencyError{
			PlanID: plan.ID,
			Detail: fmt.Sprintf("take-profit %s is %s", id, status.State),
		}
		if cancelErr != nil && !errors.Is(cancelErr, exchange.ErrOrderNotOpen) {
			inc.Detail += fmt.Sprintf(" (cancel: %v)", cancelErr)
		}
		plan.ActiveTakeProfitOrderID = ""
		plan.LastError = inc.Error()
		plan.Touch()
		metrics.LadderTakeProfitTotal.WithLabelValues("vanished").Inc()
		logger.Warn(ctx, "TakeProfitManager: take-profit gone without fill", "plan_id", plan.ID, "error", inc)
		return true
	}
}

func (m *TakeProfitManager) status(ctx context.Context, plan *entity.Plan, id string) (exchange.OrderStatus, error) {
	var status exchange.OrderStatus
	err := m.retry.Do(ctx, "get_take_profit_status", func(ctx context.Context) error {
		var err error
		status, err = m.gateway.GetOrderStatus(ctx, plan.Symbol, id)
		return err
	})
	return status, err
}
