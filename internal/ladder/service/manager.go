// internal/ladder/service/manager.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"laddertrade/internal/exchange"
	"laddertrade/internal/ladder/entity"
	"laddertrade/internal/ladder/repository"
	"laddertrade/internal/logger"
	"laddertrade/internal/metrics"
)

var (
	ErrPlanNotFound      = errors.New("plan not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrSymbolBusy        = errors.New("symbol already has a running ladder")
)

type ManagerConfig struct {
	TickInterval time.Duration
	Retry        RetryPolicy
}

// Manager owns the runners and is the operator control surface.
type Manager struct {
	mu      sync.RWMutex
	runners map[string]*Runner

	engine *TriggerEngine
	tp     *TakeProfitManager
	feed   exchange.MarketFeed
	repo   repository.PlanRepository
	cfg    ManagerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(ctx context.Context, gateway exchange.OrderGateway, feed exchange.MarketFeed,
	repo repository.PlanRepository, cfg ManagerConfig) *Manager {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Retry.CallTimeout <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		runners: make(map[string]*Runner),
		engine:  NewTriggerEngine(gateway, cfg.Retry),
		tp:      NewTakeProfitManager(gateway, cfg.Retry),
		feed:    feed,
		repo:    repo,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Create validates params, stores a PENDING plan and starts its runner.
func (m *Manager) Create(ctx context.Context, params entity.PlanParams) (*entity.Plan, error) {
	plan, err := entity.NewPlan(params)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	for _, r := range m.runners {
		if s := r.Snapshot(); s.Symbol == plan.Symbol && !s.State.IsTerminal() {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s (plan %s)", ErrSymbolBusy, plan.Symbol, s.ID)
		}
	}
	if err := m.repo.Save(ctx, plan); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("save plan: %w", err)
	}
	r := m.startLocked(plan)
	m.mu.Unlock()

	logger.Info(ctx, "Manager: ladder created",
		"plan_id", plan.ID, "symbol", plan.Symbol, "direction", string(plan.Direction),
		"step_percent", plan.StepPercent.String(), "step_qty", plan.StepQuantity.String(),
		"auto_tp", plan.AutoTakeProfit, "max_steps", plan.StepCap())
	m.refreshGauge()
	return r.Snapshot(), nil
}

// Restore starts runners for every stored plan that is not finished yet.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	plans, err := m.repo.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active plans: %w", err)
	}
	m.mu.Lock()
	for _, p := range plans {
		if _, ok := m.runners[p.ID]; ok {
			continue
		}
		m.startLocked(p)
		logger.Info(ctx, "Manager: ladder restored", "plan_id", p.ID, "symbol", p.Symbol, "state", string(p.State))
	}
	m.mu.Unlock()
	m.refreshGauge()
	return len(plans), nil
}

func (m *Manager) startLocked(plan *entity.Plan) *Runner {
	r := newRunner(plan, m.engine, m.tp, m.feed, m.repo, m.cfg.Retry, m.cfg.TickInterval)
	m.runners[plan.ID] = r
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		r.run(m.ctx)
		m.refreshGauge()
	}()
	return r
}

func (m *Manager) runner(id string) (*Runner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runners[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return r, nil
}

// Pause freezes trigger evaluation. Working orders stay on the book.
func (m *Manager) Pause(ctx context.Context, id string) (*entity.Plan, error) {
	r, err := m.runner(id)
	if err != nil {
		return nil, err
	}
	plan, err := r.command(ctx, func(p *entity.Plan) error {
		if p.State != entity.StateActive && p.State != entity.StatePending {
			return fmt.Errorf("%w: cannot pause %s plan", ErrInvalidTransition, p.State)
		}
		p.State = entity.StatePaused
		p.Touch()
		return nil
	})
	if err == nil {
		logger.Info(ctx, "Manager: ladder paused", "plan_id", id)
		m.refreshGauge()
	}
	return plan, err
}

// Resume continues a paused plan where it stopped.
func (m *Manager) Resume(ctx context.Context, id string) (*entity.Plan, error) {
	r, err := m.runner(id)
	if err != nil {
		return nil, err
	}
	plan, err := r.command(ctx, func(p *entity.Plan) error {
		if p.State != entity.StatePaused {
			return fmt.Errorf("%w: cannot resume %s plan", ErrInvalidTransition, p.State)
		}
		if p.LastTriggeredIndex < 0 {
			p.State = entity.StatePending
		} else {
			p.State = entity.StateActive
		}
		p.Touch()
		return nil
	})
	if err == nil {
		logger.Info(ctx, "Manager: ladder resumed", "plan_id", id, "state", string(plan.State))
		m.refreshGauge()
	}
	return plan, err
}

// Cancel aborts the plan and cancels every order it still has open. If the
// exchange refuses part of the cleanup the runner keeps retrying it.
func (m *Manager) Cancel(ctx context.Context, id string) (*entity.Plan, error) {
	r, err := m.runner(id)
	if err != nil {
		return nil, err
	}
	plan, err := r.command(ctx, func(p *entity.Plan) error {
		if p.State.IsTerminal() {
			return fmt.Errorf("%w: plan already %s", ErrInvalidTransition, p.State)
		}
		p.State = entity.StateCancelled
		p.Touch()
		if err := m.engine.Cleanup(ctx, p); err != nil {
			p.LastError = fmt.Sprintf("cleanup incomplete, retrying: %v", err)
			logger.ErrorWithErr(ctx, "Manager: cancel cleanup incomplete", err, "plan_id", id)
		}
		return nil
	})
	if err == nil {
		logger.Info(ctx, "Manager: ladder cancelled", "plan_id", id, "open_orders_left", NeedsCleanup(plan))
		m.refreshGauge()
	}
	return plan, err
}

// Status returns the latest published state of a plan.
func (m *Manager) Status(ctx context.Context, id string) (*entity.Plan, error) {
	if r, err := m.runner(id); err == nil {
		return r.Snapshot(), nil
	}
	plan, err := m.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPlanNotFound
	}
	return plan, err
}

// List returns every known plan, newest first.
func (m *Manager) List(ctx context.Context) ([]*entity.Plan, error) {
	stored, err := m.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i, p := range stored {
		if r, ok := m.runners[p.ID]; ok {
			stored[i] = r.Snapshot()
		}
	}
	sort.SliceStable(stored, func(i, j int) bool { return stored[i].CreatedAt.After(stored[j].CreatedAt) })
	return stored, nil
}

// Shutdown stops every runner and waits for cycles in flight.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info(ctx, "Manager: all runners stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) refreshGauge() {
	counts := map[entity.State]int{}
	m.mu.RLock()
	for _, r := range m.runners {
		counts[r.Snapshot().State]++
	}
	m.mu.RUnlock()
	for _, s := range []entity.State{entity.StatePending, entity.StateActive, entity.StatePaused,
		entity.StateCompleted, entity.StateCancelled, entity.StateFailed} {
		metrics.LadderPlans.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}
