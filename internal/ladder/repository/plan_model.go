package repository

import (
	"time"

	"github.com/shopspring/decimal"

	"laddertrade/internal/ladder/entity"
)

type PlanDB struct {
	ID                  string          `db:"id"`
	Symbol              string          `db:"symbol"`
	Direction           string          `db:"direction"`
	StepPercent         decimal.Decimal `db:"step_percent"`
	StepQuantity        decimal.Decimal `db:"step_quantity"`
	EntryPrice          decimal.Decimal `db:"entry_price"`
	EntryOffsetPercent  decimal.Decimal `db:"entry_offset_percent"`
	MaxSteps            int             `db:"max_steps"`
	MaxQuantity         decimal.Decimal `db:"max_quantity"`
	AutoTakeProfit      bool            `db:"auto_take_profit"`
	TakeProfitPercent   decimal.Decimal `db:"take_profit_percent"`
	TagPrefix           string          `db:"tag_prefix"`
	State               string          `db:"state"`
	CurrentTriggerPrice decimal.Decimal `db:"current_trigger_price"`
	LastTriggeredIndex  int             `db:"last_triggered_index"`
	TPOrderID           string          `db:"tp_order_id"`
	TPPrice             decimal.Decimal `db:"tp_price"`
	TPQuantity          decimal.Decimal `db:"tp_quantity"`
	TPSeq               int             `db:"tp_seq"`
	TPInconsistent      bool            `db:"tp_inconsistent"`
	RealizedExit        bool            `db:"realized_exit"`
	LastError           string          `db:"last_error"`
	CreatedAt           time.Time       `db:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

type StepDB struct {
	PlanID         string          `db:"plan_id"`
	Idx            int             `db:"idx"`
	PlannedPrice   decimal.Decimal `db:"planned_price"`
	Quantity       decimal.Decimal `db:"quantity"`
	ClientOrderID  string          `db:"client_order_id"`
	OrderID        string          `db:"order_id"`
	Status         string          `db:"status"`
	FilledQuantity decimal.Decimal `db:"filled_quantity"`
	FilledPrice    decimal.Decimal `db:"filled_price"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

func toPlanDB(p *entity.Plan) *PlanDB {
	return &PlanDB{
		ID:                  p.ID,
		Symbol:              p.Symbol,
		Direction:           string(p.Direction),
		StepPercent:         p.StepPercent,
		StepQuantity:        p.StepQuantity,
		EntryPrice:          p.EntryPrice,
		EntryOffsetPercent:  p.EntryOffsetPercent,
		MaxSteps:            p.MaxSteps,
		MaxQuantity:         p.MaxQuantity,
		AutoTakeProfit:      p.AutoTakeProfit,
		TakeProfitPercent:   p.TakeProfitPercent,
		TagPrefix:           p.TagPrefix,
		State:               string(p.State),
		CurrentTriggerPrice: p.CurrentTriggerPrice,
		LastTriggeredIndex:  p.LastTriggeredIndex,
		TPOrderID:           p.ActiveTakeProfitOrderID,
		TPPrice:             p.TakeProfitPrice,
		TPQuantity:          p.TakeProfitQuantity,
		TPSeq:               p.TakeProfitSeq,
		TPInconsistent:      p.TPInconsistent,
		RealizedExit:        p.RealizedExit,
		LastError:           p.LastError,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

func toStepsDB(p *entity.Plan) []*StepDB {
	out := make([]*StepDB, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, &StepDB{
			PlanID:         p.ID,
			Idx:            s.Index,
			PlannedPrice:   s.PlannedPrice,
			Quantity:       s.Quantity,
			ClientOrderID:  s.ClientOrderID,
			OrderID:        s.OrderID,
			Status:         string(s.Status),
			FilledQuantity: s.FilledQuantity,
			FilledPrice:    s.FilledPrice,
			UpdatedAt:      s.UpdatedAt,
		})
	}
	return out
}

func (r *PlanDB) toEntity(steps []*StepDB) *entity.Plan {
	p := &entity.Plan{
		ID:                      r.ID,
		Symbol:                  r.Symbol,
		Direction:               entity.Direction(r.Direction),
		StepPercent:             r.StepPercent,
		StepQuantity:            r.StepQuantity,
		EntryPrice:              r.EntryPrice,
		EntryOffsetPercent:      r.EntryOffsetPercent,
		MaxSteps:                r.MaxSteps,
		MaxQuantity:             r.MaxQuantity,
		AutoTakeProfit:          r.AutoTakeProfit,
		TakeProfitPercent:       r.TakeProfitPercent,
		TagPrefix:               r.TagPrefix,
		State:                   entity.State(r.State),
		CurrentTriggerPrice:     r.CurrentTriggerPrice,
		LastTriggeredIndex:      r.LastTriggeredIndex,
		ActiveTakeProfitOrderID: r.TPOrderID,
		TakeProfitPrice:         r.TPPrice,
		TakeProfitQuantity:      r.TPQuantity,
		TakeProfitSeq:           r.TPSeq,
		TPInconsistent:          r.TPInconsistent,
		RealizedExit:            r.RealizedExit,
		LastError:               r.LastError,
		CreatedAt:               r.CreatedAt,
		UpdatedAt:               r.UpdatedAt,
		Steps:                   make([]entity.Step, 0, len(steps)),
	}
	for _, s := range steps {
		p.Steps = append(p.Steps, entity.Step{
			Index:          s.Idx,
			PlannedPrice:   s.PlannedPrice,
			Quantity:       s.Quantity,
			ClientOrderID:  s.ClientOrderID,
			OrderID:        s.OrderID,
			Status:         entity.StepStatus(s.Status),
			FilledQuantity: s.FilledQuantity,
			FilledPrice:    s.FilledPrice,
			UpdatedAt:      s.UpdatedAt,
		})
	}
	return p
}
