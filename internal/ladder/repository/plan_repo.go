package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"laddertrade/internal/ladder/entity"
)

var ErrNotFound = errors.New("plan not found")

// PlanRepository interface that PostgresPlanRepo and MemoryPlanRepo implement
type PlanRepository interface {
	Save(ctx context.Context, plan *entity.Plan) error
	Get(ctx context.Context, id string) (*entity.Plan, error)
	ListActive(ctx context.Context) ([]*entity.Plan, error)
	List(ctx context.Context) ([]*entity.Plan, error)
}

type PostgresPlanRepo struct {
	DB *sqlx.DB
}

func NewPostgresPlanRepo(db *sqlx.DB) *PostgresPlanRepo {
	return &PostgresPlanRepo{DB: db}
}

const upsertPlanQuery = `
	INSERT INTO ladder_plans (
		id, symbol, direction, step_percent, step_quantity, entry_price, entry_offset_percent,
		max_steps, max_quantity, auto_take_profit, take_profit_percent, tag_prefix, state,
		current_trigger_price, last_triggered_index, tp_order_id, tp_price, tp_quantity, tp_seq,
		tp_inconsistent, realized_exit, last_error, created_at, updated_at
	) VALUES (
		:id, :symbol, :direction, :step_percent, :step_quantity, :entry_price, :entry_offset_percent,
		:max_steps, :max_quantity, :auto_take_profit, :take_profit_percent, :tag_prefix, :state,
		:current_trigger_price, :last_triggered_index, :tp_order_id, :tp_price, :tp_quantity, :tp_seq,
		:tp_inconsistent, :realized_exit, :last_error, :created_at, :updated_at
	)
	ON CONFLICT (id) DO UPDATE SET
		state = EXCLUDED.state,
		current_trigger_price = EXCLUDED.current_trigger_price,
		last_triggered_index = EXCLUDED.last_triggered_index,
		tp_order_id = EXCLUDED.tp_order_id,
		tp_price = EXCLUDED.tp_price,
		tp_quantity = EXCLUDED.tp_quantity,
		tp_seq = EXCLUDED.tp_seq,
		tp_inconsistent = EXCLUDED.tp_inconsistent,
		realized_exit = EXCLUDED.realized_exit,
		last_error = EXCLUDED.last_error,
		updated_at = EXCLUDED.updated_at
`

const upsertStepQuery = `
	INSERT INTO ladder_steps (
		plan_id, idx, planned_price, quantity, client_order_id, order_id, status,
		filled_quantity, filled_price, updated_at
	) VALUES (
		:plan_id, :idx, :planned_price, :quantity, :client_order_id, :order_id, :status,
		:filled_quantity, :filled_price, :updated_at
	)
	ON CONFLICT (plan_id, idx) DO UPDATE SET
		order_id = EXCLUDED.order_id,
		status = EXCLUDED.status,
		filled_quantity = EXCLUDED.filled_quantity,
		filled_price = EXCLUDED.filled_price,
		updated_at = EXCLUDED.updated_at
`

const selectPlanColumns = `
	SELECT id, symbol, direction, step_percent, step_quantity, entry_price, entry_offset_percent,
	       max_steps, max_quantity, auto_take_profit, take_profit_percent, tag_prefix, state,
	       current_trigger_price, last_triggered_index, tp_order_id, tp_price, tp_quantity, tp_seq,
	       tp_inconsistent, realized_exit, last_error, created_at, updated_at
	FROM ladder_plans
`

// Save upserts the plan row and all of its steps in one transaction
func (r *PostgresPlanRepo) Save(ctx context.Context, plan *entity.Plan) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, upsertPlanQuery, toPlanDB(plan)); err != nil {
		return fmt.Errorf("upsert plan %s: %w", plan.ID, err)
	}
	for _, step := range toStepsDB(plan) {
		if _, err := tx.NamedExecContext(ctx, upsertStepQuery, step); err != nil {
			return fmt.Errorf("upsert step %d of plan %s: %w", step.Idx, plan.ID, err)
		}
	}
	return tx.Commit()
}

// Get loads one plan with its steps
func (r *PostgresPlanRepo) Get(ctx context.Context, id string) (*entity.Plan, error) {
	var row PlanDB
	if err := r.DB.GetContext(ctx, &row, selectPlanColumns+` WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	steps, err := r.steps(ctx, id)
	if err != nil {
		return nil, err
	}
	return row.toEntity(steps), nil
}

// ListActive returns plans that still need a runner, including terminal plans
// whose orders were not cleaned up yet
func (r *PostgresPlanRepo) ListActive(ctx context.Context) ([]*entity.Plan, error) {
	return r.list(ctx, selectPlanColumns+`
		WHERE state IN ('PENDING', 'ACTIVE', 'PAUSED')
		   OR (state IN ('CANCELLED', 'FAILED') AND tp_order_id <> '')
		   OR id IN (SELECT plan_id FROM ladder_steps WHERE status IN ('SUBMITTED', 'SCHEDULED'))
		ORDER BY created_at`)
}

// List returns every plan, newest first
func (r *PostgresPlanRepo) List(ctx context.Context) ([]*entity.Plan, error) {
	return r.list(ctx, selectPlanColumns+` ORDER BY created_at DESC`)
}

func (r *PostgresPlanRepo) list(ctx context.Context, query string) ([]*entity.Plan, error) {
	var rows []PlanDB
	if err := r.DB.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	plans := make([]*entity.Plan, 0, len(rows))
	for i := range rows {
		steps, err := r.steps(ctx, rows[i].ID)
		if err != nil {
			return nil, err
		}
		plans = append(plans, rows[i].toEntity(steps))
	}
	return plans, nil
}

func (r *PostgresPlanRepo) steps(ctx context.Context, planID string) ([]*StepDB, error) {
	var steps []*StepDB
	err := r.DB.SelectContext(ctx, &steps, `
		SELECT plan_id, idx, planned_price, quantity, client_order_id, order_id, status,
		       filled_quantity, filled_price, updated_at
		FROM ladder_steps
		WHERE plan_id = $1
		ORDER BY idx`, planID)
	if err != nil {
		return nil, fmt.Errorf("load steps of plan %s: %w", planID, err)
	}
	return steps, nil
}
