package repository

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laddertrade/internal/ladder/entity"
)

func TestMemoryRepoStoresCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPlanRepo()
	plan := samplePlan(t)
	require.NoError(t, repo.Save(ctx, plan))

	plan.State = entity.StateFailed
	got, err := repo.Get(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatePending, got.State)

	_, err = repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepoListActive(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPlanRepo()

	running := samplePlan(t)
	running.State = entity.StateActive

	finished := samplePlan(t)
	finished.State = entity.StateCancelled

	// cancelled but the step order could not be removed yet
	dirty := samplePlan(t)
	dirty.AppendStep(decimal.RequireFromString("2000"))
	dirty.Steps[0].Status = entity.StepSubmitted
	dirty.LastTriggeredIndex = 0
	dirty.State = entity.StateCancelled

	// completed by cap keeps its take-profit on purpose
	capped := samplePlan(t)
	capped.State = entity.StateCompleted
	capped.ActiveTakeProfitOrderID = "tp-1"

	for _, p := range []*entity.Plan{running, finished, dirty, capped} {
		require.NoError(t, repo.Save(ctx, p))
	}

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(active))
	for _, p := range active {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{running.ID, dirty.ID}, ids)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}
