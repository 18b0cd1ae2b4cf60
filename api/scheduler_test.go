package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/policy-installments/draft"
	"github.com/warp/policy-installments/draft/store"
	"github.com/warp/policy-installments/observability"
)

func TestDraftSweeper_DeletesIdleDrafts(t *testing.T) {
	// GIVEN: One draft idle for two days and one touched an hour ago
	ctx := context.Background()
	now := time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)
	drafts := store.NewMemory()
	stale := draft.New(now.Add(-48 * time.Hour))
	fresh := draft.New(now.Add(-time.Hour))
	require.NoError(t, drafts.Create(ctx, stale))
	require.NoError(t, drafts.Create(ctx, fresh))

	metrics := observability.NewMetrics()
	sweeper, err := NewDraftSweeper(drafts, SweeperConfig{
		TTL:     24 * time.Hour,
		Metrics: metrics,
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)

	// WHEN: Sweeping
	n := sweeper.Sweep(ctx)

	// THEN: Only the idle one is gone
	assert.Equal(t, 1, n)
	_, err = drafts.Get(ctx, stale.ID)
	assert.ErrorIs(t, err, draft.ErrDraftNotFound)
	_, err = drafts.Get(ctx, fresh.ID)
	assert.NoError(t, err)

	assert.Equal(t, 1.0, sweptCount(t, metrics))

	// A second sweep finds nothing.
	assert.Zero(t, sweeper.Sweep(ctx))
}

func TestNewDraftSweeper_Validation(t *testing.T) {
	drafts := store.NewMemory()

	_, err := NewDraftSweeper(drafts, SweeperConfig{TTL: 0})
	assert.Error(t, err)

	_, err = NewDraftSweeper(drafts, SweeperConfig{TTL: time.Hour, Schedule: "every now and then"})
	assert.ErrorContains(t, err, "invalid sweep schedule")

	_, err = NewDraftSweeper(drafts, SweeperConfig{TTL: time.Hour, Schedule: "*/5 * * * *"})
	assert.NoError(t, err)
}

func TestDraftSweeper_StartStop(t *testing.T) {
	sweeper, err := NewDraftSweeper(store.NewMemory(), SweeperConfig{TTL: time.Hour, Schedule: "@every 1h"})
	require.NoError(t, err)

	sweeper.Start()
	sweeper.Start()

	select {
	case <-sweeper.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func sweptCount(t *testing.T, m *observability.Metrics) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "installments_drafts_swept_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}
