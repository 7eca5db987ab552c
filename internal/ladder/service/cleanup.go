package service

import (
	"context"
	"errors"
	"fmt"

	"laddertrade/internal/exchange"
	"laddertrade/internal/ladder/entity"
	"laddertrade/internal/logger"
)

// orderCanceller cancels every order a plan still has on the exchange.
type orderCanceller struct {
	gateway exchange.OrderGateway
	retry   RetryPolicy
}

// cancelAll cancels the outstanding step and, unless keepTP is set, the take-profit.
// A scheduled step may have reached the exchange before its placement timed out,
// so it is looked up by client id first. A step order that turns out to be filled
// keeps its fill.
func (c *orderCanceller) cancelAll(ctx context.Context, plan *entity.Plan, keepTP bool) error {
	var errs []error

	for i := range plan.Steps {
		step := &plan.Steps[i]
		switch step.Status {
		case entity.StepScheduled:
			if err := c.resolveScheduled(ctx, plan, step); err != nil {
				errs = append(errs, err)
			}
		case entity.StepSubmitted:
			if err := c.cancelStep(ctx, plan, step); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if !keepTP && plan.ActiveTakeProfitOrderID != "" {
		id := plan.ActiveTakeProfitOrderID
		err := c.cancel(ctx, plan.Symbol, id)
		switch {
		case err == nil, errors.Is(err, exchange.ErrOrderNotOpen):
			logger.Info(ctx, "Cleanup: take-profit removed", "plan_id", plan.ID, "order_id", id)
			plan.ActiveTakeProfitOrderID = ""
			plan.Touch()
		default:
			errs = append(errs, fmt.Errorf("cancel take-profit %s: %w", id, err))
		}
	}

	return errors.Join(errs...)
}

// resolveScheduled settles a step whose placement never got an answer.
func (c *orderCanceller) resolveScheduled(ctx context.Context, plan *entity.Plan, step *entity.Step) error {
	var orderID string
	err := c.retry.Do(ctx, "find_order", func(ctx context.Context) error {
		var err error
		orderID, err = c.gateway.FindOrder(ctx, plan.Symbol, step.ClientOrderID)
		return err
	})
	switch {
	case errors.Is(err, exchange.ErrOrderNotFound):
		step.Status = entity.StepCancelled
		plan.Touch()
		step.UpdatedAt = plan.UpdatedAt
		return nil
	case err != nil:
		return fmt.Errorf("look up step %d: %w", step.Index, err)
	}

	logger.Warn(ctx, "Cleanup: scheduled step was accepted by the exchange",
		"plan_id", plan.ID, "step", step.Index, "order_id", orderID, "client_id", step.ClientOrderID)
	step.OrderID = orderID
	step.Status = entity.StepSubmitted
	plan.Touch()
	return c.cancelStep(ctx, plan, step)
}

// cancelStep cancels a SUBMITTED step and settles it from a fresh status read, so
// a partial fill made before the cancel is kept. The step stays SUBMITTED when
// the exchange cannot confirm the order is closed.
func (c *orderCanceller) cancelStep(ctx context.Context, plan *entity.Plan, step *entity.Step) error {
	cerr := c.cancel(ctx, plan.Symbol, step.OrderID)
	if cerr != nil && !errors.Is(cerr, exchange.ErrOrderNotOpen) {
		return fmt.Errorf("cancel step %d: %w", step.Index, cerr)
	}

	status, err := c.status(ctx, plan.Symbol, step.OrderID)
	switch {
	case err == nil:
	case cerr != nil && errors.Is(err, exchange.ErrOrderNotFound):
		// neither cancel nor status know the order
		status = exchange.OrderStatus{State: exchange.OrderCancelled}
	default:
		return fmt.Errorf("status of step %d: %w", step.Index, err)
	}
	if cerr == nil && status.State.IsOpen() {
		// cancel was acknowledged, the status read lags behind
		status.State = exchange.OrderCancelled
	}
	if !applyTerminalStatus(plan, step, status) && step.Status == entity.StepSubmitted {
		return fmt.Errorf("step %d order %s still open", step.Index, step.OrderID)
	}
	logger.Info(ctx, "Cleanup: step order closed", "plan_id", plan.ID, "step", step.Index,
		"order_id", step.OrderID, "status", string(step.Status), "filled_qty", step.FilledQuantity.String())
	return nil
}

func (c *orderCanceller) status(ctx context.Context, symbol, orderID string) (exchange.OrderStatus, error) {
	var status exchange.OrderStatus
	err := c.retry.Do(ctx, "get_order_status", func(ctx context.Context) error {
		var err error
		status, err = c.gateway.GetOrderStatus(ctx, symbol, orderID)
		return err
	})
	return status, err
}

func (c *orderCanceller) cancel(ctx context.Context, symbol, orderID string) error {
	return c.retry.Do(ctx, "cancel_order", func(ctx context.Context) error {
		return c.gateway.CancelOrder(ctx, symbol, orderID)
	})
}

// applyTerminalStatus moves a SUBMITTED step to the state reported by the exchange.
// It returns true when the step ended up filled, fully or partially.
func applyTerminalStatus(plan *entity.Plan, step *entity.Step, status exchange.OrderStatus) bool {
	switch {
	case status.State == exchange.OrderFilled || (!status.State.IsOpen() && status.FilledQty.IsPositive()):
		step.Status = entity.StepFilled
		step.FilledQuantity = status.FilledQty
		if !step.FilledQuantity.IsPositive() {
			step.FilledQuantity = step.Quantity
		}
		step.FilledPrice = status.FilledPrice
		if !step.FilledPrice.IsPositive() {
			step.FilledPrice = step.PlannedPrice
		}
	case status.State == exchange.OrderRejected:
		step.Status = entity.StepRejected
	case status.State.IsOpen():
		return false
	default:
		step.Status = entity.StepCancelled
	}
	plan.Touch()
	step.UpdatedAt = plan.UpdatedAt
	return step.Status == entity.StepFilled
}
