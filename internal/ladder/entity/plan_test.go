package entity

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func longParams() PlanParams {
	return PlanParams{
		Symbol:       "btcusdt",
		Direction:    Long,
		StepPercent:  d("0.05"),
		StepQuantity: d("1"),
		EntryPrice:   d("100"),
	}
}

func TestNewPlan(t *testing.T) {
	p, err := NewPlan(longParams())
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", p.Symbol)
	assert.Equal(t, StatePending, p.State)
	assert.Equal(t, -1, p.LastTriggeredIndex)
	assert.Equal(t, DefaultTagPrefix, p.TagPrefix)
	assert.True(t, p.CurrentTriggerPrice.Equal(d("100")))
	assert.Empty(t, p.Steps)
	assert.NotEmpty(t, p.ID)
}

func TestPlanParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *PlanParams)
		field  string
	}{
		{"empty symbol", func(p *PlanParams) { p.Symbol = " " }, "symbol"},
		{"bad direction", func(p *PlanParams) { p.Direction = "UP" }, "direction"},
		{"zero step percent", func(p *PlanParams) { p.StepPercent = decimal.Zero }, "step_percent"},
		{"step percent as whole number", func(p *PlanParams) { p.StepPercent = d("5") }, "step_percent"},
		{"negative quantity", func(p *PlanParams) { p.StepQuantity = d("-1") }, "step_quantity"},
		{"negative entry", func(p *PlanParams) { p.EntryPrice = d("-1") }, "entry_price"},
		{"offset too large", func(p *PlanParams) { p.EntryOffsetPercent = d("1") }, "entry_offset_percent"},
		{"negative max steps", func(p *PlanParams) { p.MaxSteps = -1 }, "max_steps"},
		{"max quantity below one step", func(p *PlanParams) { p.MaxQuantity = d("0.5") }, "max_quantity"},
		{"auto tp without percent", func(p *PlanParams) { p.AutoTakeProfit = true }, "take_profit_percent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := longParams()
			tt.mutate(&p)

			_, err := NewPlan(p)
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestNextTrigger(t *testing.T) {
	p, err := NewPlan(longParams())
	require.NoError(t, err)

	first := p.NextTrigger(d("100"))
	assert.Equal(t, "95", first.String())
	assert.Equal(t, "90.25", p.NextTrigger(first).String())

	p.Direction = Short
	assert.Equal(t, "105", p.NextTrigger(d("100")).String())
}

func TestCrossed(t *testing.T) {
	p, err := NewPlan(longParams())
	require.NoError(t, err)

	assert.True(t, p.Crossed(d("95"), d("95")))
	assert.True(t, p.Crossed(d("94"), d("95")))
	assert.False(t, p.Crossed(d("95.01"), d("95")))

	p.Direction = Short
	assert.True(t, p.Crossed(d("55"), d("55")))
	assert.False(t, p.Crossed(d("54.99"), d("55")))
}

func TestEntryLimitPrice(t *testing.T) {
	params := longParams()
	params.EntryPrice = decimal.Zero
	params.EntryOffsetPercent = d("0.001")
	p, err := NewPlan(params)
	require.NoError(t, err)

	assert.Equal(t, "99.9", p.EntryLimitPrice(d("100")).String())

	p.Direction = Short
	assert.Equal(t, "100.1", p.EntryLimitPrice(d("100")).String())

	p.EntryPrice = d("98")
	assert.Equal(t, "98", p.EntryLimitPrice(d("100")).String())
}

func TestTakeProfitAndAverage(t *testing.T) {
	params := longParams()
	params.Direction = Short
	params.EntryPrice = d("50")
	params.AutoTakeProfit = true
	params.TakeProfitPercent = d("0.05")
	p, err := NewPlan(params)
	require.NoError(t, err)

	p.Steps = []Step{
		{Index: 0, Status: StepFilled, FilledQuantity: d("1"), FilledPrice: d("50")},
		{Index: 1, Status: StepFilled, FilledQuantity: d("1"), FilledPrice: d("55")},
		{Index: 2, Status: StepSubmitted, Quantity: d("1"), PlannedPrice: d("60.5")},
	}
	avg, qty := p.FilledPosition()
	assert.Equal(t, "52.5", avg.String())
	assert.Equal(t, "2", qty.String())
	assert.Equal(t, "49.875", p.TakeProfitPriceFor(avg).String())

	p.Direction = Long
	assert.Equal(t, "105", p.TakeProfitPriceFor(d("100")).String())
}

func TestFilledPositionEmpty(t *testing.T) {
	p, err := NewPlan(longParams())
	require.NoError(t, err)

	avg, qty := p.FilledPosition()
	assert.True(t, avg.IsZero())
	assert.True(t, qty.IsZero())
}

func TestStepCap(t *testing.T) {
	params := longParams()
	p, err := NewPlan(params)
	require.NoError(t, err)
	assert.Equal(t, 0, p.StepCap())
	assert.False(t, p.CapReached())

	p.MaxSteps = 5
	p.MaxQuantity = d("3.5")
	assert.Equal(t, 3, p.StepCap())

	p.LastTriggeredIndex = 2
	assert.True(t, p.CapReached())
}

func TestAppendStepAndClientOrderID(t *testing.T) {
	params := longParams()
	params.TagPrefix = "GRIDBOT"
	p, err := NewPlan(params)
	require.NoError(t, err)

	entry := p.AppendStep(d("100"))
	add := p.AppendStep(d("95"))

	assert.Equal(t, 0, entry.Index)
	assert.Equal(t, 1, add.Index)
	assert.Equal(t, StepScheduled, add.Status)
	assert.Contains(t, entry.ClientOrderID, "GRIDBOT_ENTRY_")
	assert.Contains(t, add.ClientOrderID, "GRIDBOT_ADD_")
	assert.NotEqual(t, entry.ClientOrderID, add.ClientOrderID)
	assert.LessOrEqual(t, len(p.ClientOrderID("TP", 12345)), 36)

	// PendingStep is the appended step until the gateway accepts it
	assert.Equal(t, 1, p.PendingStep().Index)
	p.LastTriggeredIndex = 1
	assert.Nil(t, p.PendingStep())
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	p, err := NewPlan(longParams())
	require.NoError(t, err)
	p.AppendStep(d("100"))

	snap := p.Snapshot()
	snap.Steps[0].Status = StepFilled
	snap.State = StateFailed

	assert.Equal(t, StepScheduled, p.Steps[0].Status)
	assert.Equal(t, StatePending, p.State)
}
