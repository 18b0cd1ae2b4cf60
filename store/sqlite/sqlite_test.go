package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/policy-installments/draft"
	"github.com/warp/policy-installments/installment"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleDraft(t *testing.T, updated time.Time) draft.Draft {
	t.Helper()
	d := draft.New(updated)
	d, err := draft.Reduce(d, draft.Generate{
		Total:        decimal.RequireFromString("100.00"),
		Count:        3,
		FirstDueDate: installment.NewDate(2025, time.January, 31),
	}, nil)
	require.NoError(t, err)
	return d
}

func TestStore_RoundTrip(t *testing.T) {
	// GIVEN: A draft with a generated schedule and one paid persisted entry
	ctx := context.Background()
	store := newTestStore(t)
	created := time.Date(2025, time.February, 3, 10, 11, 12, 13, time.UTC)

	d := sampleDraft(t, created)
	paidOn := installment.NewDate(2025, time.January, 2)
	d.PolicyID = "42"
	d.Editing = true
	d.Installments = append(d.Installments, installment.Installment{
		LocalID:          installment.LocalIDFor("900"),
		SequenceNumber:   9,
		DueDate:          installment.NewDate(2024, time.December, 1),
		Amount:           decimal.RequireFromString("12.50"),
		PaymentDate:      &paidOn,
		PersistedID:      "900",
		MarkedForRemoval: true,
	})

	// WHEN: Saving and loading it back
	require.NoError(t, store.Create(ctx, d))
	got, err := store.Get(ctx, d.ID)
	require.NoError(t, err)

	// THEN: Every field survives
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, d.PolicyID, got.PolicyID)
	assert.True(t, got.Editing)
	assert.True(t, got.Total.Equal(d.Total))
	assert.Equal(t, 3, got.Count)
	assert.True(t, got.FirstDueDate.Equal(d.FirstDueDate))
	assert.Equal(t, d.Version, got.Version)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.UpdatedAt.Equal(created))

	require.Len(t, got.Installments, 4)
	for i := range d.Installments {
		want, have := d.Installments[i], got.Installments[i]
		assert.Equal(t, want.LocalID, have.LocalID)
		assert.Equal(t, want.SequenceNumber, have.SequenceNumber)
		assert.True(t, want.DueDate.Equal(have.DueDate))
		assert.True(t, want.Amount.Equal(have.Amount))
		assert.Equal(t, want.PersistedID, have.PersistedID)
		assert.Equal(t, want.MarkedForRemoval, have.MarkedForRemoval)
	}
	require.NotNil(t, got.Installments[3].PaymentDate)
	assert.Equal(t, "2025-01-02", got.Installments[3].PaymentDate.String())
	assert.Nil(t, got.Installments[0].PaymentDate)
}

func TestStore_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	d := draft.New(time.Now())

	require.NoError(t, store.Create(ctx, d))
	assert.ErrorIs(t, store.Create(ctx, d), draft.ErrDuplicate)
}

func TestStore_UpdateOptimisticLock(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	d := sampleDraft(t, time.Now())
	require.NoError(t, store.Create(ctx, d))

	// GIVEN: Two readers load the same version
	a, err := store.Get(ctx, d.ID)
	require.NoError(t, err)
	b, err := store.Get(ctx, d.ID)
	require.NoError(t, err)

	// WHEN: Both write
	nextA, err := draft.Reduce(a, draft.Reset{}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, nextA, a.Version))

	nextB, err := draft.Reduce(b, draft.Reset{}, nil)
	require.NoError(t, err)
	err = store.Update(ctx, nextB, b.Version)

	// THEN: The second writer is rejected
	assert.ErrorIs(t, err, draft.ErrConcurrentModification)

	got, err := store.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, nextA.Version, got.Version)
	assert.Empty(t, got.Installments)
}

func TestStore_ClaimIsStored(t *testing.T) {
	// GIVEN: A stored draft
	ctx := context.Background()
	store := newTestStore(t)
	d := sampleDraft(t, time.Now())
	require.NoError(t, store.Create(ctx, d))

	// WHEN: Claiming it for submission
	_, err := draft.Claim(ctx, store, d.ID, time.Now())
	require.NoError(t, err)

	// THEN: The flag survives a reload and a second claim is refused
	got, err := store.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, got.Submitting)

	_, err = draft.Claim(ctx, store, d.ID, time.Now())
	assert.ErrorIs(t, err, draft.ErrSubmissionInProgress)

	released, err := draft.Release(ctx, store, d.ID, time.Now())
	require.NoError(t, err)
	got, err = store.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, got.Submitting)
	assert.Equal(t, released.Version, got.Version)
}

func TestNew_AddsSubmittingColumnToOlderDatabase(t *testing.T) {
	// GIVEN: A database created before drafts could be claimed
	path := filepath.Join(t.TempDir(), "drafts.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE drafts (
			id TEXT PRIMARY KEY,
			policy_id TEXT NOT NULL DEFAULT '',
			editing BOOLEAN NOT NULL DEFAULT FALSE,
			total TEXT NOT NULL,
			installment_count INTEGER NOT NULL DEFAULT 0,
			first_due_date TEXT,
			installments_json TEXT NOT NULL,
			version INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		INSERT INTO drafts (id, total, installments_json, version, created_at, updated_at)
		VALUES ('old', '0', '[]', 1, '2025-01-01T00:00:00.000000000Z', '2025-01-01T00:00:00.000000000Z');
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// WHEN: Opening it
	store, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// THEN: Existing rows load unclaimed and can be claimed
	got, err := store.Get(context.Background(), "old")
	require.NoError(t, err)
	assert.False(t, got.Submitting)

	_, err = draft.Claim(context.Background(), store, "old", time.Now())
	assert.NoError(t, err)

	// Opening again is a no-op.
	again, err := New(path)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, draft.ErrDraftNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "missing"), draft.ErrDraftNotFound)
	assert.ErrorIs(t, store.Update(ctx, draft.Draft{ID: "missing", Version: 2}, 1), draft.ErrDraftNotFound)
}

func TestStore_ListAndDeleteStale(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)

	old := draft.New(base)
	mid := draft.New(base.Add(time.Hour))
	recent := draft.New(base.Add(48 * time.Hour))
	for _, d := range []draft.Draft{old, mid, recent} {
		require.NoError(t, store.Create(ctx, d))
	}

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []draft.ID{recent.ID, mid.ID, old.ID}, []draft.ID{list[0].ID, list[1].ID, list[2].ID})

	n, err := store.DeleteStale(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = store.Get(ctx, old.ID)
	assert.ErrorIs(t, err, draft.ErrDraftNotFound)
	_, err = store.Get(ctx, recent.ID)
	assert.NoError(t, err)

	require.NoError(t, store.Delete(ctx, recent.ID))
	list, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_Ping(t *testing.T) {
	assert.NoError(t, newTestStore(t).Ping(context.Background()))
}
