package dto

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"laddertrade/internal/ladder/entity"
)

// CreateLadderRequest is the body of POST /api/ladders. Fractions: 0.05 = 5%.
// Numeric ranges are checked by entity.PlanParams.Validate.
type CreateLadderRequest struct {
	Symbol             string          `json:"symbol" validate:"required,alphanum,min=5,max=20"`
	Direction          string          `json:"direction" validate:"required,oneof=LONG SHORT long short"`
	StepPercent        decimal.Decimal `json:"step_percent"`
	StepQuantity       decimal.Decimal `json:"step_quantity"`
	EntryPrice         decimal.Decimal `json:"entry_price"`
	EntryOffsetPercent decimal.Decimal `json:"entry_offset_percent"`
	MaxSteps           int             `json:"max_steps" validate:"gte=0,lte=1000"`
	MaxQuantity        decimal.Decimal `json:"max_quantity"`
	AutoTakeProfit     bool            `json:"auto_take_profit"`
	TakeProfitPercent  decimal.Decimal `json:"take_profit_percent"`
	TagPrefix          string          `json:"tag_prefix" validate:"omitempty,alphanum,max=12"`
}

// Params converts the request; defaults fill the fields the caller left out.
func (r CreateLadderRequest) Params(defaultOffset decimal.Decimal, defaultPrefix string) entity.PlanParams {
	p := entity.PlanParams{
		Symbol:             strings.ToUpper(r.Symbol),
		Direction:          entity.Direction(strings.ToUpper(r.Direction)),
		StepPercent:        r.StepPercent,
		StepQuantity:       r.StepQuantity,
		EntryPrice:         r.EntryPrice,
		EntryOffsetPercent: r.EntryOffsetPercent,
		MaxSteps:           r.MaxSteps,
		MaxQuantity:        r.MaxQuantity,
		AutoTakeProfit:     r.AutoTakeProfit,
		TakeProfitPercent:  r.TakeProfitPercent,
		TagPrefix:          r.TagPrefix,
	}
	if p.EntryOffsetPercent.IsZero() && !p.EntryPrice.IsPositive() {
		p.EntryOffsetPercent = defaultOffset
	}
	if p.TagPrefix == "" {
		p.TagPrefix = defaultPrefix
	}
	return p
}

// LadderResponse is the operator view of a plan.
type LadderResponse struct {
	*entity.Plan
	AveragePrice   decimal.Decimal `json:"average_price"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	Warning        string          `json:"warning,omitempty"`
	ServerTime     time.Time       `json:"server_time"`
}

func NewLadderResponse(p *entity.Plan) LadderResponse {
	avg, qty := p.FilledPosition()
	resp := LadderResponse{
		Plan:           p,
		AveragePrice:   avg,
		FilledQuantity: qty,
		ServerTime:     time.Now().UTC(),
	}
	if p.TPInconsistent {
		resp.Warning = "take-profit is out of sync with the position, repair pending"
	}
	return resp
}

var Validate = newValidator()

// newValidator reports json field names instead of Go field names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
