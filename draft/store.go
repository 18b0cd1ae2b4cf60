package draft

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Persistence of edit sessions
// =============================================================================

// Store persists drafts. Implementations must return copies: a Draft read
// from a Store never aliases stored state.
type Store interface {
	// Create persists a new draft. ErrDuplicate if the id exists.
	Create(ctx context.Context, d Draft) error

	// Get returns the draft or ErrDraftNotFound.
	Get(ctx context.Context, id ID) (Draft, error)

	// Update replaces the draft if its stored version is still prevVersion,
	// otherwise ErrConcurrentModification.
	Update(ctx context.Context, d Draft, prevVersion int) error

	// Delete removes the draft. ErrDraftNotFound if missing.
	Delete(ctx context.Context, id ID) error

	// List returns all drafts, most recently updated first.
	List(ctx context.Context) ([]Draft, error)

	// DeleteStale removes drafts not updated since before and reports how
	// many were removed.
	DeleteStale(ctx context.Context, before time.Time) (int, error)
}
