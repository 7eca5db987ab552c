package dto

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laddertrade/internal/ladder/entity"
)

func TestParamsDefaults(t *testing.T) {
	var req CreateLadderRequest
	require.NoError(t, json.Unmarshal([]byte(`{"symbol":"ethusdt","direction":"short","step_percent":0.03,"step_quantity":"0.5"}`), &req))
	require.NoError(t, Validate.Struct(req))

	p := req.Params(decimal.RequireFromString("0.001"), "LADDER")
	assert.Equal(t, "ETHUSDT", p.Symbol)
	assert.Equal(t, entity.Short, p.Direction)
	assert.Equal(t, "0.03", p.StepPercent.String())
	assert.Equal(t, "0.001", p.EntryOffsetPercent.String(), "no entry price: default offset applies")
	assert.Equal(t, "LADDER", p.TagPrefix)

	req.EntryPrice = decimal.NewFromInt(3000)
	req.TagPrefix = "DESK"
	p = req.Params(decimal.RequireFromString("0.001"), "LADDER")
	assert.True(t, p.EntryOffsetPercent.IsZero())
	assert.Equal(t, "DESK", p.TagPrefix)
}

func TestValidateReportsJSONNames(t *testing.T) {
	err := Validate.Struct(CreateLadderRequest{Symbol: "BTC-USDT", Direction: "LONG"})
	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "symbol", verrs[0].Field())
}

func TestLadderResponseWarning(t *testing.T) {
	p, err := entity.NewPlan(entity.PlanParams{
		Symbol:       "BTCUSDT",
		Direction:    entity.Long,
		StepPercent:  decimal.RequireFromString("0.05"),
		StepQuantity: decimal.NewFromInt(1),
		EntryPrice:   decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	assert.Empty(t, NewLadderResponse(p).Warning)
	p.TPInconsistent = true
	assert.NotEmpty(t, NewLadderResponse(p).Warning)
}
