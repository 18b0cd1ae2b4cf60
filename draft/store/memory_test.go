package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/policy-installments/draft"
	"github.com/warp/policy-installments/installment"
)

func TestMemory_CRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	t0 := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)

	d := draft.New(t0)
	require.NoError(t, m.Create(ctx, d))
	assert.ErrorIs(t, m.Create(ctx, d), draft.ErrDuplicate)

	got, err := m.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)

	require.NoError(t, m.Delete(ctx, d.ID))
	_, err = m.Get(ctx, d.ID)
	assert.ErrorIs(t, err, draft.ErrDraftNotFound)
	assert.ErrorIs(t, m.Delete(ctx, d.ID), draft.ErrDraftNotFound)
	assert.ErrorIs(t, m.Update(ctx, d, 1), draft.ErrDraftNotFound)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	// GIVEN: A stored draft with one paid installment
	// WHEN: The caller mutates what it got back
	// THEN: The stored draft is unchanged

	ctx := context.Background()
	m := NewMemory()
	paid := installment.NewDate(2025, time.January, 2)

	d := draft.New(time.Now())
	d.Installments = []installment.Installment{{
		LocalID: "a", SequenceNumber: 1, DueDate: paid, Amount: decimal.NewFromInt(5), PaymentDate: &paid,
	}}
	require.NoError(t, m.Create(ctx, d))

	got, err := m.Get(ctx, d.ID)
	require.NoError(t, err)
	got.Installments[0].SequenceNumber = 99
	*got.Installments[0].PaymentDate = installment.NewDate(2030, time.January, 1)

	again, err := m.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Installments[0].SequenceNumber)
	assert.Equal(t, "2025-01-02", again.Installments[0].PaymentDate.String())
}

func TestMemory_ListAndDeleteStale(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)

	old := draft.New(base)
	recent := draft.New(base.Add(48 * time.Hour))
	require.NoError(t, m.Create(ctx, old))
	require.NoError(t, m.Create(ctx, recent))

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, recent.ID, list[0].ID, "most recently updated first")

	n, err := m.DeleteStale(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err = m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, recent.ID, list[0].ID)
}
