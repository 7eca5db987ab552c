// internal/ladder/entity/plan.go
package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

type State string

const (
	StatePending   State = "PENDING"
	StateActive    State = "ACTIVE"
	StatePaused    State = "PAUSED"
	StateCompleted State = "COMPLETED"
	StateCancelled State = "CANCELLED"
	StateFailed    State = "FAILED"
)

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

type StepStatus string

const (
	StepScheduled StepStatus = "SCHEDULED"
	StepSubmitted StepStatus = "SUBMITTED"
	StepFilled    StepStatus = "FILLED"
	StepCancelled StepStatus = "CANCELLED"
	StepRejected  StepStatus = "REJECTED"
)

const DefaultTagPrefix = "LADDER"

// Step is one staged order of a ladder.
type Step struct {
	Index          int             `json:"index"`
	PlannedPrice   decimal.Decimal `json:"planned_price"`
	Quantity       decimal.Decimal `json:"quantity"`
	ClientOrderID  string          `json:"client_order_id"`
	OrderID        string          `json:"order_id,omitempty"`
	Status         StepStatus      `json:"status"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	FilledPrice    decimal.Decimal `json:"filled_price"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Plan is the persistent state of one laddering session.
type Plan struct {
	ID                 string          `json:"id"`
	Symbol             string          `json:"symbol"`
	Direction          Direction       `json:"direction"`
	StepPercent        decimal.Decimal `json:"step_percent"`
	StepQuantity       decimal.Decimal `json:"step_quantity"`
	EntryPrice         decimal.Decimal `json:"entry_price"`
	EntryOffsetPercent decimal.Decimal `json:"entry_offset_percent"`
	MaxSteps           int             `json:"max_steps"`
	MaxQuantity        decimal.Decimal `json:"max_quantity"`
	AutoTakeProfit     bool            `json:"auto_take_profit"`
	TakeProfitPercent  decimal.Decimal `json:"take_profit_percent"`
	TagPrefix          string          `json:"tag_prefix"`

	State                   State           `json:"state"`
	Steps                   []Step          `json:"steps"`
	CurrentTriggerPrice     decimal.Decimal `json:"current_trigger_price"`
	LastTriggeredIndex      int             `json:"last_triggered_index"`
	ActiveTakeProfitOrderID string          `json:"active_take_profit_order_id,omitempty"`
	TakeProfitPrice         decimal.Decimal `json:"take_profit_price"`
	TakeProfitQuantity      decimal.Decimal `json:"take_profit_quantity"`
	TakeProfitSeq           int             `json:"take_profit_seq"`
	TPInconsistent          bool            `json:"tp_inconsistent"`
	RealizedExit            bool            `json:"realized_exit"`
	LastError               string          `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PlanParams is what the operator submits when creating a ladder.
type PlanParams struct {
	Symbol             string
	Direction          Direction
	StepPercent        decimal.Decimal
	StepQuantity       decimal.Decimal
	EntryPrice         decimal.Decimal
	EntryOffsetPercent decimal.Decimal
	MaxSteps           int
	MaxQuantity        decimal.Decimal
	AutoTakeProfit     bool
	TakeProfitPercent  decimal.Decimal
	TagPrefix          string
}

// NewPlan validates params and returns a PENDING plan. No orders are involved yet.
func NewPlan(p PlanParams) (*Plan, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	prefix := p.TagPrefix
	if prefix == "" {
		prefix = DefaultTagPrefix
	}
	now := time.Now().UTC()
	return &Plan{
		ID:                  uuid.NewString(),
		Symbol:              strings.ToUpper(strings.TrimSpace(p.Symbol)),
		Direction:           p.Direction,
		StepPercent:         p.StepPercent,
		StepQuantity:        p.StepQuantity,
		EntryPrice:          p.EntryPrice,
		EntryOffsetPercent:  p.EntryOffsetPercent,
		MaxSteps:            p.MaxSteps,
		MaxQuantity:         p.MaxQuantity,
		AutoTakeProfit:      p.AutoTakeProfit,
		TakeProfitPercent:   p.TakeProfitPercent,
		TagPrefix:           prefix,
		State:               StatePending,
		CurrentTriggerPrice: p.EntryPrice,
		LastTriggeredIndex:  -1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

func (p PlanParams) Validate() error {
	switch {
	case strings.TrimSpace(p.Symbol) == "":
		return &ConfigurationError{Field: "symbol", Reason: "is required"}
	case p.Direction != Long && p.Direction != Short:
		return &ConfigurationError{Field: "direction", Reason: fmt.Sprintf("must be LONG or SHORT, got %q", p.Direction)}
	case !p.StepPercent.IsPositive():
		return &ConfigurationError{Field: "step_percent", Reason: "must be positive"}
	case p.StepPercent.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return &ConfigurationError{Field: "step_percent", Reason: "must be below 1 (fraction, 0.05 = 5%)"}
	case !p.StepQuantity.IsPositive():
		return &ConfigurationError{Field: "step_quantity", Reason: "must be positive"}
	case p.EntryPrice.IsNegative():
		return &ConfigurationError{Field: "entry_price", Reason: "must not be negative"}
	case p.EntryOffsetPercent.IsNegative() || p.EntryOffsetPercent.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return &ConfigurationError{Field: "entry_offset_percent", Reason: "must be in [0, 1)"}
	case p.MaxSteps < 0:
		return &ConfigurationError{Field: "max_steps", Reason: "must not be negative"}
	case p.MaxQuantity.IsNegative():
		return &ConfigurationError{Field: "max_quantity", Reason: "must not be negative"}
	case p.MaxQuantity.IsPositive() && p.MaxQuantity.LessThan(p.StepQuantity):
		return &ConfigurationError{Field: "max_quantity", Reason: "is smaller than one step"}
	}
	if p.AutoTakeProfit && !p.TakeProfitPercent.IsPositive() {
		return &ConfigurationError{Field: "take_profit_percent", Reason: "is required when auto_take_profit is set"}
	}
	return nil
}

// Side is the order side that adds to the position.
func (p *Plan) Side() string {
	if p.Direction == Short {
		return "SELL"
	}
	return "BUY"
}

// ExitSide is the side of the take-profit order.
func (p *Plan) ExitSide() string {
	if p.Direction == Short {
		return "BUY"
	}
	return "SELL"
}

// NextTrigger moves price by StepPercent in the adverse direction.
func (p *Plan) NextTrigger(price decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if p.Direction == Short {
		return price.Mul(one.Add(p.StepPercent))
	}
	return price.Mul(one.Sub(p.StepPercent))
}

// Crossed reports whether price reached level in the adverse direction.
func (p *Plan) Crossed(price, level decimal.Decimal) bool {
	if p.Direction == Short {
		return price.GreaterThanOrEqual(level)
	}
	return price.LessThanOrEqual(level)
}

// EntryLimitPrice is the initial limit price for a sample when no entry price was given.
func (p *Plan) EntryLimitPrice(sample decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsPositive() {
		return p.EntryPrice
	}
	one := decimal.NewFromInt(1)
	if p.Direction == Short {
		return sample.Mul(one.Add(p.EntryOffsetPercent))
	}
	return sample.Mul(one.Sub(p.EntryOffsetPercent))
}

// TakeProfitPriceFor moves avg by TakeProfitPercent in the favorable direction.
func (p *Plan) TakeProfitPriceFor(avg decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if p.Direction == Short {
		return avg.Mul(one.Sub(p.TakeProfitPercent))
	}
	return avg.Mul(one.Add(p.TakeProfitPercent))
}

// FilledPosition returns the volume-weighted average entry and total quantity of FILLED steps.
func (p *Plan) FilledPosition() (avg, qty decimal.Decimal) {
	notional := decimal.Zero
	for _, s := range p.Steps {
		if s.Status != StepFilled {
			continue
		}
		qty = qty.Add(s.FilledQuantity)
		notional = notional.Add(s.FilledQuantity.Mul(s.FilledPrice))
	}
	if qty.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	return notional.Div(qty), qty
}

// StepCap is the maximum number of steps, 0 when unbounded.
func (p *Plan) StepCap() int {
	limit := p.MaxSteps
	if p.MaxQuantity.IsPositive() {
		byQty := int(p.MaxQuantity.Div(p.StepQuantity).IntPart())
		if limit == 0 || byQty < limit {
			limit = byQty
		}
	}
	return limit
}

// CapReached reports whether every allowed step has been accepted by the gateway.
func (p *Plan) CapReached() bool {
	limit := p.StepCap()
	return limit > 0 && p.LastTriggeredIndex+1 >= limit
}

// OutstandingStep returns the SUBMITTED step, if any.
func (p *Plan) OutstandingStep() *Step {
	for i := range p.Steps {
		if p.Steps[i].Status == StepSubmitted {
			return &p.Steps[i]
		}
	}
	return nil
}

// PendingStep returns the step appended but never accepted by the gateway.
func (p *Plan) PendingStep() *Step {
	if n := len(p.Steps); n > 0 && p.Steps[n-1].Index > p.LastTriggeredIndex && p.Steps[n-1].Status == StepScheduled {
		return &p.Steps[n-1]
	}
	return nil
}

// AppendStep schedules a new step at price.
func (p *Plan) AppendStep(price decimal.Decimal) *Step {
	idx := len(p.Steps)
	kind := "ADD"
	if idx == 0 {
		kind = "ENTRY"
	}
	p.Steps = append(p.Steps, Step{
		Index:         idx,
		PlannedPrice:  price,
		Quantity:      p.StepQuantity,
		ClientOrderID: p.ClientOrderID(kind, idx),
		Status:        StepScheduled,
		UpdatedAt:     time.Now().UTC(),
	})
	return &p.Steps[idx]
}

// ClientOrderID builds a tag like LADDER_ADD_1f2e3d4c_3 (Binance allows 36 chars).
func (p *Plan) ClientOrderID(kind string, n int) string {
	short := strings.ReplaceAll(p.ID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	id := fmt.Sprintf("%s_%s_%s_%d", p.TagPrefix, kind, short, n)
	if len(id) > 36 {
		id = id[len(id)-36:]
	}
	return id
}

// LastStep returns the most recently appended step.
func (p *Plan) LastStep() *Step {
	if len(p.Steps) == 0 {
		return nil
	}
	return &p.Steps[len(p.Steps)-1]
}

func (p *Plan) Touch() {
	p.UpdatedAt = time.Now().UTC()
}

// Snapshot returns a deep copy safe to hand to readers.
func (p *Plan) Snapshot() *Plan {
	cp := *p
	cp.Steps = make([]Step, len(p.Steps))
	copy(cp.Steps, p.Steps)
	return &cp
}
