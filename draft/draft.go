/*
Package draft holds the edit state of an installment schedule between requests.

PURPOSE:
  The console edits a schedule in several steps (load, generate, remove or
  correct single installments, submit). A Draft is the complete, serializable state of one such session.
  It changes only through Reduce, which applies one Action and returns the
  next Draft. Nothing else mutates a Draft.

FLOW:
  Draft (v1) --Generate--> Draft (v2) --Remove--> Draft (v3) --> submit
     ^
  LoadPolicy (persisted installments from the Policy API)

MODES:
  New policy:   Generate replaces the whole schedule.
  Editing:      Generate marks every persisted installment for removal and
                appends the fresh schedule (installment.MergeForEdit).

VERSIONING:
  Every successful action bumps Version. Stores use it for optimistic
  locking so two tabs editing the same draft cannot overwrite each other.

SUBMISSION:
  Claim flags a draft as being submitted (one compare-and-swap), so a second
  submit of the same draft is refused instead of creating the installments
  twice. While the flag is set every action is refused. Release clears it
  when the submission did not go through.

SEE ALSO:
  - installment/reconcile.go: merge and removal rules
  - store.go: persistence contract
*/
package draft

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/policy-installments/installment"
)

// ID identifies a draft.
type ID string

// NewID returns a random draft id.
func NewID() ID { return ID(uuid.NewString()) }

// Draft is the edit state of one schedule.
type Draft struct {
	ID       ID                   `json:"id"`
	PolicyID installment.PolicyID `json:"policy_id,omitempty"`
	Editing  bool                 `json:"editing"`

	// Parameters of the last Generate.
	Total        decimal.Decimal  `json:"total"`
	Count        int              `json:"count"`
	FirstDueDate installment.Date `json:"first_due_date"`

	Installments []installment.Installment `json:"installments"`

	// Submitting is set between Claim and Release.
	Submitting bool `json:"submitting"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an empty draft for a new policy.
func New(now time.Time) Draft {
	return Draft{
		ID:        NewID(),
		Total:     decimal.Zero,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Plan is the edit plan of the draft's current schedule.
func (d Draft) Plan() installment.EditPlan {
	return installment.Plan(d.Installments)
}

// =============================================================================
// ACTIONS
// =============================================================================

// Action is one step of the edit session. The set is closed.
type Action interface {
	action()
}

// LoadPolicy switches the draft to editing the given policy.
type LoadPolicy struct {
	PolicyID     installment.PolicyID
	Installments []installment.Installment
}

// Generate computes a fresh schedule.
type Generate struct {
	Total        decimal.Decimal
	Count        int
	FirstDueDate installment.Date
}

// Remove drops or marks one installment.
type Remove struct {
	LocalID installment.LocalID
}

// Edit corrects the due date and/or amount of one active installment.
type Edit struct {
	LocalID installment.LocalID
	DueDate *installment.Date
	Amount  *decimal.Decimal
}

// Reset discards unsaved edits: local installments are dropped and
// persisted ones are unmarked. Corrections made with Edit stay; loading the
// policy again discards them.
type Reset struct{}

func (LoadPolicy) action() {}
func (Generate) action()   {}
func (Remove) action()     {}
func (Edit) action()       {}
func (Reset) action()      {}

// =============================================================================
// REDUCER
// =============================================================================

// Reduce applies a to d and returns the next draft. On error d is returned
// unchanged alongside the error. g may be nil (default generator).
func Reduce(d Draft, a Action, g *installment.Generator) (Draft, error) {
	if d.Submitting {
		return d, ErrSubmissionInProgress
	}
	if g == nil {
		g = installment.DefaultGenerator
	}

	next := d
	switch a := a.(type) {
	case LoadPolicy:
		next.PolicyID = a.PolicyID
		next.Editing = true
		next.Installments = append([]installment.Installment(nil), a.Installments...)
		next.Total = decimal.Zero
		next.Count = 0
		next.FirstDueDate = installment.Date{}

	case Generate:
		fresh, err := g.Generate(a.Total, a.Count, a.FirstDueDate)
		if err != nil {
			return d, err
		}
		if d.Editing {
			fresh, err = installment.MergeForEdit(d.Installments, fresh)
			if err != nil {
				return d, err
			}
		}
		next.Installments = fresh
		next.Total = a.Total
		next.Count = a.Count
		next.FirstDueDate = a.FirstDueDate

	case Remove:
		out, err := installment.RemoveInstallment(d.Installments, a.LocalID)
		if err != nil {
			return d, err
		}
		next.Installments = installment.Resequence(out)

	case Edit:
		out, err := installment.EditInstallment(d.Installments, a.LocalID, installment.Change{
			DueDate: a.DueDate,
			Amount:  a.Amount,
		})
		if err != nil {
			return d, err
		}
		next.Installments = out

	case Reset:
		var kept []installment.Installment
		for _, inst := range d.Installments {
			if !inst.IsPersisted() {
				continue
			}
			inst.MarkedForRemoval = false
			kept = append(kept, inst)
		}
		next.Installments = kept
		next.Total = decimal.Zero
		next.Count = 0
		next.FirstDueDate = installment.Date{}

	default:
		return d, fmt.Errorf("%w: %T", ErrUnknownAction, a)
	}

	next.Version = d.Version + 1
	return next, nil
}

// =============================================================================
// APPLY - Load, reduce, save
// =============================================================================

// Apply loads a draft, reduces a over it and saves the result guarded by the
// version that was loaded.
func Apply(ctx context.Context, s Store, id ID, a Action, g *installment.Generator, now time.Time) (Draft, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return Draft{}, err
	}

	next, err := Reduce(current, a, g)
	if err != nil {
		return current, err
	}
	next.UpdatedAt = now

	if err := s.Update(ctx, next, current.Version); err != nil {
		return current, err
	}
	return next, nil
}

// =============================================================================
// CLAIM / RELEASE - Exclusive submission
// =============================================================================

// Claim flags the draft as being submitted and returns it. A draft that is
// already claimed yields ErrSubmissionInProgress.
func Claim(ctx context.Context, s Store, id ID, now time.Time) (Draft, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return Draft{}, err
	}
	if current.Submitting {
		return current, ErrSubmissionInProgress
	}

	next := current
	next.Submitting = true
	next.Version = current.Version + 1
	next.UpdatedAt = now
	if err := s.Update(ctx, next, current.Version); err != nil {
		return current, err
	}
	return next, nil
}

// Release clears the submission flag so the draft can be edited and
// submitted again. Releasing an unclaimed draft is a no-op.
func Release(ctx context.Context, s Store, id ID, now time.Time) (Draft, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return Draft{}, err
	}
	if !current.Submitting {
		return current, nil
	}

	next := current
	next.Submitting = false
	next.Version = current.Version + 1
	next.UpdatedAt = now
	if err := s.Update(ctx, next, current.Version); err != nil {
		return current, err
	}
	return next, nil
}
