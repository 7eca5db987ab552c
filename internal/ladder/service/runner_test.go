package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laddertrade/internal/exchange"
	"laddertrade/internal/ladder/entity"
	"laddertrade/internal/ladder/repository"
	"laddertrade/internal/paper"
)

const symbol = "BTCUSDT"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var testRetry = RetryPolicy{
	CallTimeout: time.Second,
	MaxRetries:  0,
	MinBackoff:  time.Millisecond,
	MaxBackoff:  2 * time.Millisecond,
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	sim    *paper.Exchange
	repo   *repository.MemoryPlanRepo
	runner *Runner
}

func newHarness(t *testing.T, params entity.PlanParams) *harness {
	return newHarnessWith(t, params, nil)
}

// newHarnessWith lets wrap put a gateway in front of the paper exchange.
func newHarnessWith(t *testing.T, params entity.PlanParams, wrap func(*paper.Exchange) exchange.OrderGateway) *harness {
	t.Helper()
	plan, err := entity.NewPlan(params)
	require.NoError(t, err)

	sim := paper.New(nil)
	repo := repository.NewMemoryPlanRepo()
	require.NoError(t, repo.Save(context.Background(), plan))

	var gw exchange.OrderGateway = sim
	if wrap != nil {
		gw = wrap(sim)
	}
	r := newRunner(plan, NewTriggerEngine(gw, testRetry), NewTakeProfitManager(gw, testRetry),
		sim, repo, testRetry, time.Second)
	return &harness{t: t, ctx: context.Background(), sim: sim, repo: repo, runner: r}
}

// tick moves the market and runs one cycle.
func (h *harness) tick(price string) bool {
	h.sim.SetPrice(symbol, dec(price))
	return h.runner.Cycle(h.ctx)
}

func (h *harness) plan() *entity.Plan {
	return h.runner.Snapshot()
}

// cancel marks the plan cancelled and runs the cleanup cycle.
func (h *harness) cancel() bool {
	_, err := h.runner.command(h.ctx, func(p *entity.Plan) error {
		p.State = entity.StateCancelled
		p.Touch()
		return nil
	})
	require.NoError(h.t, err)
	return h.runner.Cycle(h.ctx)
}

func plannedPrices(p *entity.Plan) []string {
	out := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, s.PlannedPrice.String())
	}
	return out
}

func longPlan() entity.PlanParams {
	return entity.PlanParams{
		Symbol:       symbol,
		Direction:    entity.Long,
		StepPercent:  dec("0.05"),
		StepQuantity: dec("1"),
		EntryPrice:   dec("100"),
		MaxSteps:     3,
	}
}

func TestLongLadderRunsToCap(t *testing.T) {
	h := newHarness(t, longPlan())

	assert.False(t, h.tick("100"))
	p := h.plan()
	assert.Equal(t, entity.StateActive, p.State)
	assert.Equal(t, 0, p.LastTriggeredIndex)
	assert.Equal(t, "95", p.CurrentTriggerPrice.String())

	assert.False(t, h.tick("99"))
	assert.Equal(t, entity.StepFilled, h.plan().Steps[0].Status)
	assert.Len(t, h.plan().Steps, 1)

	assert.False(t, h.tick("95"))
	assert.Equal(t, "90.25", h.plan().CurrentTriggerPrice.String())

	assert.False(t, h.tick("90"))
	assert.Equal(t, entity.StateActive, h.plan().State, "last step still working")

	assert.True(t, h.tick("90"))
	p = h.plan()
	assert.Equal(t, entity.StateCompleted, p.State)
	assert.Equal(t, []string{"100", "95", "90.25"}, plannedPrices(p))
	for _, s := range p.Steps {
		assert.Equal(t, entity.StepFilled, s.Status)
	}

	avg, qty := p.FilledPosition()
	assert.Equal(t, "3", qty.String())
	assert.Equal(t, "95.0833", avg.Round(4).String())

	stored, err := h.repo.Get(h.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateCompleted, stored.State)
}

func TestOneStepPerCycleOnGap(t *testing.T) {
	params := longPlan()
	params.MaxSteps = 0
	h := newHarness(t, params)

	h.tick("100")
	h.tick("80")
	p := h.plan()
	require.Len(t, p.Steps, 2)
	assert.Equal(t, "95", p.Steps[1].PlannedPrice.String(), "step uses the trigger, not the gap price")
	assert.Equal(t, 1, p.LastTriggeredIndex)

	h.tick("80")
	assert.Len(t, h.plan().Steps, 3)
	assert.Equal(t, "90.25", h.plan().Steps[2].PlannedPrice.String())
}

func TestShortLadderRequotesAndHitsTakeProfit(t *testing.T) {
	h := newHarness(t, entity.PlanParams{
		Symbol:            symbol,
		Direction:         entity.Short,
		StepPercent:       dec("0.1"),
		StepQuantity:      dec("1"),
		EntryPrice:        dec("50"),
		AutoTakeProfit:    true,
		TakeProfitPercent: dec("0.05"),
	})

	h.tick("50")
	h.tick("50")
	p := h.plan()
	require.NotEmpty(t, p.ActiveTakeProfitOrderID)
	assert.Equal(t, "47.5", p.TakeProfitPrice.String())
	assert.Equal(t, "1", p.TakeProfitQuantity.String())
	firstTP := p.ActiveTakeProfitOrderID

	h.tick("55")
	h.tick("55")
	p = h.plan()
	assert.Equal(t, "49.875", p.TakeProfitPrice.String())
	assert.Equal(t, "2", p.TakeProfitQuantity.String())
	assert.NotEqual(t, firstTP, p.ActiveTakeProfitOrderID)

	old, ok := h.sim.Order(firstTP)
	require.True(t, ok)
	assert.Equal(t, exchange.OrderCancelled, old.State)
	tp, ok := h.sim.Order(p.ActiveTakeProfitOrderID)
	require.True(t, ok)
	assert.True(t, tp.IsTakeProfit())
	assert.Equal(t, exchange.SideBuy, tp.Side)

	assert.True(t, h.tick("49"))
	p = h.plan()
	assert.Equal(t, entity.StateCompleted, p.State)
	assert.True(t, p.RealizedExit)
	assert.Empty(t, p.ActiveTakeProfitOrderID)
	assert.Empty(t, h.sim.OpenOrders(symbol))
}

func TestTransientPlacementKeepsStepScheduled(t *testing.T) {
	params := longPlan()
	params.MaxSteps = 0
	h := newHarness(t, params)

	h.tick("100")
	h.sim.FailNext(paper.OpPlaceLimit, exchange.Transient("place_limit_order", errors.New("i/o timeout")))

	h.tick("95")
	p := h.plan()
	require.Len(t, p.Steps, 2)
	assert.Equal(t, entity.StepScheduled, p.Steps[1].Status)
	assert.Equal(t, 0, p.LastTriggeredIndex)
	assert.Equal(t, "95", p.CurrentTriggerPrice.String())
	assert.Contains(t, p.LastError, "will retry")
	clientID := p.Steps[1].ClientOrderID

	h.tick("95")
	p = h.plan()
	require.Len(t, p.Steps, 2, "retry reuses the scheduled step")
	assert.Equal(t, entity.StepSubmitted, p.Steps[1].Status)
	assert.Equal(t, clientID, p.Steps[1].ClientOrderID)
	assert.Equal(t, 1, p.LastTriggeredIndex)
	assert.Empty(t, p.LastError)
	assert.Equal(t, 3, h.sim.Calls(paper.OpPlaceLimit))
}

func TestPermanentRejectionFailsPlan(t *testing.T) {
	h := newHarness(t, entity.PlanParams{
		Symbol:            symbol,
		Direction:         entity.Long,
		StepPercent:       dec("0.05"),
		StepQuantity:      dec("1"),
		EntryPrice:        dec("100"),
		AutoTakeProfit:    true,
		TakeProfitPercent: dec("0.1"),
	})

	h.tick("100")
	h.tick("100")
	h.tick("95")
	h.tick("95")
	require.NotEmpty(t, h.plan().ActiveTakeProfitOrderID)

	h.sim.FailNext(paper.OpPlaceLimit, exchange.Permanent("place_limit_order", -2019, errors.New("margin is insufficient")))
	assert.True(t, h.tick("90"))

	p := h.plan()
	assert.Equal(t, entity.StateFailed, p.State)
	require.Len(t, p.Steps, 3)
	assert.Equal(t, entity.StepRejected, p.Steps[2].Status)
	assert.Contains(t, p.LastError, "step 2 rejected")
	assert.Empty(t, p.ActiveTakeProfitOrderID)
	assert.Empty(t, h.sim.OpenOrders(symbol))
	assert.False(t, NeedsCleanup(p))
}

func TestTakeProfitFailureIsRetried(t *testing.T) {
	h := newHarness(t, entity.PlanParams{
		Symbol:            symbol,
		Direction:         entity.Long,
		StepPercent:       dec("0.05"),
		StepQuantity:      dec("1"),
		EntryPrice:        dec("100"),
		AutoTakeProfit:    true,
		TakeProfitPercent: dec("0.1"),
	})

	h.tick("100")
	h.sim.FailNext(paper.OpPlaceTP, exchange.Transient("place_take_profit", errors.New("502 bad gateway")))
	h.tick("100")

	p := h.plan()
	assert.True(t, p.TPInconsistent)
	assert.Empty(t, p.ActiveTakeProfitOrderID)
	assert.Contains(t, p.LastError, "position uncovered")

	h.tick("100")
	p = h.plan()
	assert.False(t, p.TPInconsistent)
	assert.NotEmpty(t, p.ActiveTakeProfitOrderID)
	assert.Equal(t, "110", p.TakeProfitPrice.String())
}

func TestStepClosedByExchange(t *testing.T) {
	h := newHarness(t, longPlan())

	h.tick("101")
	p := h.plan()
	require.Len(t, p.Steps, 1)
	require.Equal(t, entity.StepSubmitted, p.Steps[0].Status)

	require.NoError(t, h.sim.CancelOrder(h.ctx, symbol, p.Steps[0].OrderID))
	h.tick("101")

	p = h.plan()
	assert.Equal(t, entity.StepCancelled, p.Steps[0].Status)
	assert.Equal(t, entity.StateActive, p.State)
	assert.Contains(t, p.LastError, "inconsistent")
	assert.Equal(t, "95", p.CurrentTriggerPrice.String(), "trigger is not rolled back")
}

func TestPausedPlanIgnoresPrice(t *testing.T) {
	h := newHarness(t, longPlan())
	h.tick("100")

	_, err := h.runner.command(h.ctx, func(p *entity.Plan) error {
		p.State = entity.StatePaused
		return nil
	})
	require.NoError(t, err)

	h.tick("80")
	p := h.plan()
	assert.Len(t, p.Steps, 1)
	assert.Equal(t, entity.StepFilled, p.Steps[0].Status, "fills are still synced while paused")
	assert.Equal(t, 1, h.sim.Calls(paper.OpPrice), "no price sample while paused")
}

func TestNoPriceSampleSkipsCycle(t *testing.T) {
	h := newHarness(t, longPlan())
	h.sim.FailNext(paper.OpPrice, exchange.Transient("get_price", errors.New("timeout")))

	assert.False(t, h.tick("100"))
	p := h.plan()
	assert.Equal(t, entity.StatePending, p.State)
	assert.Empty(t, p.Steps)
}

func TestEntryOffsetWithoutEntryPrice(t *testing.T) {
	params := longPlan()
	params.EntryPrice = decimal.Zero
	params.EntryOffsetPercent = dec("0.01")
	h := newHarness(t, params)

	h.tick("200")
	p := h.plan()
	require.Len(t, p.Steps, 1)
	assert.Equal(t, "198", p.Steps[0].PlannedPrice.String())
	assert.Equal(t, entity.StepSubmitted, p.Steps[0].Status)
	assert.Equal(t, "188.1", p.CurrentTriggerPrice.String())
}
