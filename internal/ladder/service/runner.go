// internal/ladder/service/runner.go
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"laddertrade/internal/exchange"
	"laddertrade/internal/ladder/entity"
	"laddertrade/internal/ladder/repository"
	"laddertrade/internal/logger"
	"laddertrade/internal/metrics"
)

// Runner drives one plan. mu serializes polling cycles and operator commands,
// so at most one of them touches the plan at any time.
type Runner struct {
	mu     sync.Mutex
	plan   *entity.Plan
	latest atomic.Pointer[entity.Plan]
	halt   atomic.Bool

	engine   *TriggerEngine
	tp       *TakeProfitManager
	feed     exchange.MarketFeed
	repo     repository.PlanRepository
	retry    RetryPolicy
	interval time.Duration

	doneC chan struct{}
}

func newRunner(plan *entity.Plan, engine *TriggerEngine, tp *TakeProfitManager, feed exchange.MarketFeed,
	repo repository.PlanRepository, retry RetryPolicy, interval time.Duration) *Runner {
	r := &Runner{
		plan:     plan,
		engine:   engine,
		tp:       tp,
		feed:     feed,
		repo:     repo,
		retry:    retry,
		interval: interval,
		doneC:    make(chan struct{}),
	}
	r.latest.Store(plan.Snapshot())
	return r
}

// Snapshot returns the state published by the last cycle or command without
// waiting for a cycle in flight.
func (r *Runner) Snapshot() *entity.Plan {
	return r.latest.Load().Snapshot()
}

// Done is closed when the polling loop exits.
func (r *Runner) Done() <-chan struct{} {
	return r.doneC
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.doneC)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if r.Cycle(ctx) {
			logger.Info(ctx, "Runner: plan finished, stopping", "plan_id", r.plan.ID)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Cycle runs one polling cycle and reports whether the plan needs no more cycles.
func (r *Runner) Cycle(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	plan := r.plan
	ctx, span := logger.StartSpan(ctx, "ladder.cycle",
		attribute.String("plan_id", plan.ID), attribute.String("symbol", plan.Symbol))
	defer span.End()

	start := time.Now()
	before := plan.UpdatedAt
	defer func() {
		metrics.LadderCycleDuration.Observe(time.Since(start).Seconds())
		if !plan.UpdatedAt.Equal(before) {
			r.persist(ctx)
		}
		r.latest.Store(plan.Snapshot())
	}()

	if plan.State.IsTerminal() {
		if !NeedsCleanup(plan) {
			return true
		}
		if err := r.engine.Cleanup(ctx, plan); err != nil {
			metrics.LadderCyclesTotal.WithLabelValues("cleanup_failed").Inc()
			logger.ErrorWithErr(ctx, "Runner: cleanup incomplete", err, "plan_id", plan.ID)
			return false
		}
		metrics.LadderCyclesTotal.WithLabelValues("cleanup").Inc()
		return !NeedsCleanup(plan)
	}

	price := r.sample(ctx, plan)
	if r.halted() {
		return false
	}

	if plan.AutoTakeProfit {
		r.tp.Watch(ctx, plan)
	}
	out := r.engine.Advance(ctx, plan, price, r.halted)
	if plan.AutoTakeProfit && !r.halted() && (out.Filled || plan.TPInconsistent) {
		r.tp.Reconcile(ctx, plan)
	}
	r.engine.CheckCompletion(ctx, plan)

	switch {
	case out.Submitted:
		metrics.LadderCyclesTotal.WithLabelValues("submitted").Inc()
	case out.Filled:
		metrics.LadderCyclesTotal.WithLabelValues("filled").Inc()
	default:
		metrics.LadderCyclesTotal.WithLabelValues("idle").Inc()
	}
	return plan.State.IsTerminal() && !NeedsCleanup(plan)
}

// sample fetches one price. Zero means no sample this cycle.
func (r *Runner) sample(ctx context.Context, plan *entity.Plan) decimal.Decimal {
	if plan.State == entity.StatePaused {
		return decimal.Zero
	}
	var price decimal.Decimal
	err := r.retry.Do(ctx, "get_price", func(ctx context.Context) error {
		var err error
		price, err = r.feed.GetPrice(ctx, plan.Symbol)
		return err
	})
	if err != nil {
		logger.Warn(ctx, "Runner: no price sample this cycle", "plan_id", plan.ID, "symbol", plan.Symbol, "error", err)
		return decimal.Zero
	}
	logger.Debug(ctx, "Runner: price sample", "plan_id", plan.ID, "price", price.String(),
		"trigger", plan.CurrentTriggerPrice.String(), "state", string(plan.State))
	return price
}

func (r *Runner) halted() bool {
	return r.halt.Load()
}

// command applies fn under the plan lock. The halt flag makes a cycle in flight
// stop after its current gateway call instead of starting new ones.
func (r *Runner) command(ctx context.Context, fn func(plan *entity.Plan) error) (*entity.Plan, error) {
	r.halt.Store(true)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.halt.Store(false)

	if err := fn(r.plan); err != nil {
		return r.plan.Snapshot(), err
	}
	r.persist(ctx)
	snap := r.plan.Snapshot()
	r.latest.Store(snap)
	return snap.Snapshot(), nil
}

func (r *Runner) persist(ctx context.Context) {
	if err := r.repo.Save(context.WithoutCancel(ctx), r.plan); err != nil {
		logger.ErrorWithErr(ctx, "Runner: failed to persist plan", err, "plan_id", r.plan.ID)
	}
}
