package repository

import (
	"context"
	"sort"
	"sync"

	"laddertrade/internal/ladder/entity"
)

// MemoryPlanRepo keeps plans in process memory, used when no database is configured.
type MemoryPlanRepo struct {
	mu    sync.RWMutex
	plans map[string]*entity.Plan
}

func NewMemoryPlanRepo() *MemoryPlanRepo {
	return &MemoryPlanRepo{plans: make(map[string]*entity.Plan)}
}

func (r *MemoryPlanRepo) Save(_ context.Context, plan *entity.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[plan.ID] = plan.Snapshot()
	return nil
}

func (r *MemoryPlanRepo) Get(_ context.Context, id string) (*entity.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Snapshot(), nil
}

func (r *MemoryPlanRepo) ListActive(ctx context.Context) ([]*entity.Plan, error) {
	all, _ := r.List(ctx)
	out := all[:0]
	for _, p := range all {
		if !p.State.IsTerminal() || p.OutstandingStep() != nil || p.PendingStep() != nil ||
			(p.ActiveTakeProfitOrderID != "" && p.State != entity.StateCompleted) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryPlanRepo) List(_ context.Context) ([]*entity.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.Plan, 0, len(r.plans))
	for _, p := range r.plans {
		out = append(out, p.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
