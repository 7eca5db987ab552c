// internal/ladder/service/trigger_engine.go
package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"laddertrade/internal/exchange"
	"laddertrade/internal/ladder/entity"
	"laddertrade/internal/logger"
	"laddertrade/internal/metrics"
)

// Outcome summarizes one Advance call.
type Outcome struct {
	Filled    bool
	Submitted bool
}

// TriggerEngine moves a plan forward one step at a time from price samples.
type TriggerEngine struct {
	gateway exchange.OrderGateway
	retry   RetryPolicy
	orders  *orderCanceller
}

func NewTriggerEngine(gateway exchange.OrderGateway, retry RetryPolicy) *TriggerEngine {
	return &TriggerEngine{
		gateway: gateway,
		retry:   retry,
		orders:  &orderCanceller{gateway: gateway, retry: retry},
	}
}

// Advance syncs the outstanding step and evaluates the trigger against price.
// A non-positive price means no sample was available, so only fills are synced.
// halt is checked before any new submission.
func (e *TriggerEngine) Advance(ctx context.Context, plan *entity.Plan, price decimal.Decimal, halt func() bool) Outcome {
	var out Outcome
	if plan.State.IsTerminal() {
		return out
	}

	out.Filled = e.syncOutstanding(ctx, plan)

	if !price.IsPositive() || (halt != nil && halt()) {
		return out
	}

	switch plan.State {
	case entity.StatePending:
		step := plan.PendingStep()
		if step == nil {
			step = plan.AppendStep(plan.EntryLimitPrice(price))
			plan.Touch()
		}
		out.Submitted = e.submit(ctx, plan, step)

	case entity.StateActive:
		// one order in flight at a time, one step per cycle
		if plan.OutstandingStep() != nil || plan.CapReached() {
			return out
		}
		if step := plan.PendingStep(); step != nil {
			if plan.Crossed(price, step.PlannedPrice) {
				out.Submitted = e.submit(ctx, plan, step)
			}
			return out
		}

		trigger := plan.CurrentTriggerPrice
		if !plan.Crossed(price, trigger) {
			return out
		}
		step := plan.AppendStep(trigger)
		plan.Touch()
		out.Submitted = e.submit(ctx, plan, step)
	}

	return out
}

func (e *TriggerEngine) submit(ctx context.Context, plan *entity.Plan, step *entity.Step) bool {
	var orderID string
	err := e.retry.Do(ctx, "place_limit_order", func(ctx context.Context) error {
		var err error
		orderID, err = e.gateway.PlaceLimitOrder(ctx, plan.Symbol, exchange.Side(plan.Side()),
			step.PlannedPrice, step.Quantity, step.ClientOrderID)
		return err
	})
	plan.Touch()
	step.UpdatedAt = plan.UpdatedAt

	switch {
	case err == nil:
		step.OrderID = orderID
		step.Status = entity.StepSubmitted
		plan.LastTriggeredIndex = step.Index
		plan.CurrentTriggerPrice = plan.NextTrigger(step.PlannedPrice)
		plan.LastError = ""
		if plan.State == entity.StatePending {
			plan.State = entity.StateActive
		}
		metrics.LadderStepsTotal.WithLabelValues(plan.Symbol, "submitted").Inc()
		logger.Event(ctx, "TriggerEngine: step submitted",
			"plan_id", plan.ID, "symbol", plan.Symbol, "step", step.Index,
			"price", step.PlannedPrice.String(), "qty", step.Quantity.String(),
			"order_id", orderID, "next_trigger", plan.CurrentTriggerPrice.String())
		return true

	case exchange.IsPermanent(err):
		step.Status = entity.StepRejected
		plan.LastError = fmt.Sprintf("step %d rejected: %v", step.Index, err)
		metrics.LadderStepsTotal.WithLabelValues(plan.Symbol, "rejected").Inc()
		logger.ErrorWithErr(ctx, "TriggerEngine: step rejected, failing plan", err,
			"plan_id", plan.ID, "symbol", plan.Symbol, "step", step.Index)
		e.Fail(ctx, plan)
		return false

	default:
		plan.LastError = fmt.Sprintf("step %d not submitted, will retry: %v", step.Index, err)
		metrics.LadderStepsTotal.WithLabelValues(plan.Symbol, "transient").Inc()
		logger.Warn(ctx, "TriggerEngine: submission failed, step stays scheduled",
			"plan_id", plan.ID, "step", step.Index, "error", err)
		return false
	}
}

// syncOutstanding polls the SUBMITTED step and reports whether it filled.
func (e *TriggerEngine) syncOutstanding(ctx context.Context, plan *entity.Plan) bool {
	step := plan.OutstandingStep()
	if step == nil {
		return false
	}

	var status exchange.OrderStatus
	err := e.retry.Do(ctx, "get_order_status", func(ctx context.Context) error {
		var err error
		status, err = e.gateway.GetOrderStatus(ctx, plan.Symbol, step.OrderID)
		return err
	})
	switch {
	case err == nil:
		if status.State.IsOpen() {
			return false
		}
		applyTerminalStatus(plan, step, status)
	case !exchange.IsPermanent(err):
		logger.Warn(ctx, "TriggerEngine: order status unavailable", "plan_id", plan.ID, "order_id", step.OrderID, "error", err)
		return false
	default:
		// the status was refused: close the order ourselves before moving on
		logger.Warn(ctx, "TriggerEngine: order status rejected, cancelling step order",
			"plan_id", plan.ID, "order_id", step.OrderID, "error", err)
		if cerr := e.orders.cancelStep(ctx, plan, step); cerr != nil {
			plan.LastError = fmt.Sprintf("step %d order %s unresolved: %v", step.Index, step.OrderID, cerr)
			plan.Touch()
			logger.ErrorWithErr(ctx, "TriggerEngine: step order unresolved", cerr, "plan_id", plan.ID)
			return false
		}
	}

	if step.Status == entity.StepFilled {
		metrics.LadderStepsTotal.WithLabelValues(plan.Symbol, "filled").Inc()
		logger.Event(ctx, "TriggerEngine: step filled",
			"plan_id", plan.ID, "step", step.Index,
			"filled_qty", step.FilledQuantity.String(), "filled_price", step.FilledPrice.String())
		return true
	}

	inc := &entity.InconsistencyError{
		PlanID: plan.ID,
		Detail: fmt.Sprintf("step %d order %s ended as %s without a fill", step.Index, step.OrderID, step.Status),
	}
	plan.LastError = inc.Error()
	logger.Warn(ctx, "TriggerEngine: step order closed by exchange", "plan_id", plan.ID, "error", inc)
	return false
}

// CheckCompletion moves an ACTIVE plan to COMPLETED once every allowed step was
// accepted and the last one filled. The final take-profit stays on the book.
func (e *TriggerEngine) CheckCompletion(ctx context.Context, plan *entity.Plan) bool {
	if plan.State != entity.StateActive || !plan.CapReached() {
		return false
	}
	if last := plan.LastStep(); last == nil || last.Status != entity.StepFilled {
		return false
	}
	plan.State = entity.StateCompleted
	plan.Touch()
	avg, qty := plan.FilledPosition()
	logger.Event(ctx, "TriggerEngine: ladder completed",
		"plan_id", plan.ID, "steps", len(plan.Steps), "avg_price", avg.String(), "qty", qty.String())
	return true
}

// Fail moves plan to FAILED and cancels its open orders.
func (e *TriggerEngine) Fail(ctx context.Context, plan *entity.Plan) {
	plan.State = entity.StateFailed
	plan.Touch()
	if err := e.Cleanup(ctx, plan); err != nil {
		logger.ErrorWithErr(ctx, "TriggerEngine: cleanup incomplete, will retry", err, "plan_id", plan.ID)
	}
}

// Cleanup cancels whatever a terminal plan still has on the exchange. A plan that
// completed by reaching its step cap keeps its take-profit.
func (e *TriggerEngine) Cleanup(ctx context.Context, plan *entity.Plan) error {
	keepTP := plan.State == entity.StateCompleted && !plan.RealizedExit
	return e.orders.cancelAll(ctx, plan, keepTP)
}

// NeedsCleanup reports whether a terminal plan still owns orders it should not.
func NeedsCleanup(plan *entity.Plan) bool {
	if !plan.State.IsTerminal() {
		return false
	}
	if plan.OutstandingStep() != nil || plan.PendingStep() != nil {
		return true
	}
	return plan.ActiveTakeProfitOrderID != "" && !(plan.State == entity.StateCompleted && !plan.RealizedExit)
}
