/*
reconcile.go - Merging regenerated schedules with persisted installments

PURPOSE:
  Editing a policy regenerates its whole schedule. The installments the Policy
  API already stores are not edited in place: they are marked for removal and
  the fresh schedule is appended. Plan() later turns the merged edit set into
  create / keep / delete operations.

RULES:
  - Persisted + active   -> copied with MarkedForRemoval = true
  - Persisted + marked   -> copied unchanged (still marked)
  - Local only           -> dropped (never submitted, superseded)
  - Paid                 -> rejected, a paid installment is never removed
  - Output order: every marked persisted entry first, then the fresh schedule

  Single installments can also be corrected in place (EditInstallment). The
  new date or amount travels to the API with the next submission.

SEE ALSO:
  - schedule.go: produces the fresh schedule
  - submit/submit.go: executes the EditPlan against the Policy API
*/
package installment

import (
	"sort"

	"github.com/shopspring/decimal"
)

// MergeForEdit supersedes the persisted installments of existing with fresh.
func MergeForEdit(existing, fresh []Installment) ([]Installment, error) {
	if err := checkPersisted(existing); err != nil {
		return nil, err
	}

	merged := make([]Installment, 0, len(existing)+len(fresh))
	for _, inst := range existing {
		if !inst.IsPersisted() {
			continue
		}
		inst.MarkedForRemoval = true
		merged = append(merged, inst)
	}
	return append(merged, fresh...), nil
}

// checkPersisted rejects active persisted records that cannot be superseded
// safely. Entries already marked by an earlier merge are not re-checked.
func checkPersisted(existing []Installment) error {
	seqs := make(map[int]PersistedID)
	ids := make(map[PersistedID]bool)

	for _, inst := range existing {
		if !inst.IsPersisted() {
			continue
		}
		if ids[inst.PersistedID] {
			return reconcileErr(inst, ErrMalformedRecord, "duplicate persisted id")
		}
		ids[inst.PersistedID] = true

		if !inst.IsActive() {
			continue
		}
		if inst.SequenceNumber < 1 {
			return reconcileErr(inst, ErrMalformedRecord, "sequence number must be positive")
		}
		if other, dup := seqs[inst.SequenceNumber]; dup {
			return reconcileErr(inst, ErrMalformedRecord, "sequence number already used by "+string(other))
		}
		seqs[inst.SequenceNumber] = inst.PersistedID

		if inst.IsPaid() {
			return reconcileErr(inst, ErrInstallmentPaid, "paid on "+inst.PaymentDate.String())
		}
	}
	return nil
}

func reconcileErr(inst Installment, sentinel error, reason string) *ReconciliationError {
	return &ReconciliationError{
		LocalID:        inst.LocalID,
		PersistedID:    inst.PersistedID,
		SequenceNumber: inst.SequenceNumber,
		Reason:         reason,
		Err:            sentinel,
	}
}

// RemoveInstallment removes target from the schedule. A persisted installment
// stays in the result, marked for removal; a local-only one is dropped.
func RemoveInstallment(schedule []Installment, target LocalID) ([]Installment, error) {
	idx := -1
	for i, inst := range schedule {
		if inst.LocalID == target {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrInstallmentNotFound
	}

	inst := schedule[idx]
	if inst.MarkedForRemoval {
		return clone(schedule), nil
	}
	if inst.IsPaid() {
		return nil, reconcileErr(inst, ErrInstallmentPaid, "paid on "+inst.PaymentDate.String())
	}

	if inst.IsPersisted() {
		out := clone(schedule)
		out[idx].MarkedForRemoval = true
		return out, nil
	}

	out := make([]Installment, 0, len(schedule)-1)
	out = append(out, schedule[:idx]...)
	return append(out, schedule[idx+1:]...), nil
}

// Change is an in-place correction of one installment. Nil fields are left
// as they are.
type Change struct {
	DueDate *Date
	Amount  *decimal.Decimal
}

// EditInstallment applies change to target. Marked installments count as
// removed and cannot be edited; paid ones are final.
func EditInstallment(schedule []Installment, target LocalID, change Change) ([]Installment, error) {
	if change.DueDate == nil && change.Amount == nil {
		return nil, invalid("change", ErrEmptyEdit, "a due date or an amount is required")
	}
	if change.DueDate != nil && change.DueDate.IsZero() {
		return nil, invalid("due_date", ErrInvalidDate, "due date is required")
	}
	if change.Amount != nil {
		switch {
		case !change.Amount.IsPositive():
			return nil, invalid("amount", ErrInvalidTotal, "amount must be positive, got %s", change.Amount)
		case !IsCentPrecise(*change.Amount):
			return nil, invalid("amount", ErrInvalidTotal, "amount %s has sub-cent digits", change.Amount)
		}
	}

	idx := -1
	for i, inst := range schedule {
		if inst.LocalID == target && inst.IsActive() {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrInstallmentNotFound
	}
	if inst := schedule[idx]; inst.IsPaid() {
		return nil, reconcileErr(inst, ErrInstallmentPaid, "paid on "+inst.PaymentDate.String())
	}

	out := clone(schedule)
	if change.DueDate != nil {
		out[idx].DueDate = *change.DueDate
	}
	if change.Amount != nil {
		out[idx].Amount = *change.Amount
	}
	return out, nil
}

// Resequence renumbers the active local-only installments so they follow the
// highest active persisted sequence number without gaps. Persisted numbers
// are owned by the Policy API and left alone.
func Resequence(schedule []Installment) []Installment {
	out := clone(schedule)

	next := 1
	var locals []int
	for i, inst := range out {
		if !inst.IsActive() {
			continue
		}
		if inst.IsPersisted() {
			if inst.SequenceNumber >= next {
				next = inst.SequenceNumber + 1
			}
			continue
		}
		locals = append(locals, i)
	}

	sort.SliceStable(locals, func(a, b int) bool {
		return out[locals[a]].SequenceNumber < out[locals[b]].SequenceNumber
	})
	for _, i := range locals {
		out[i].SequenceNumber = next
		next++
	}
	return out
}

// =============================================================================
// EDIT PLAN - Diff of an edit set into API operations
// =============================================================================

// EditPlan is what has to happen server-side for a merged edit set.
type EditPlan struct {
	Create []Installment // active, not persisted; ordered by sequence number
	Keep   []Installment // active, persisted
	Delete []Installment // marked for removal, persisted
}

func (p EditPlan) IsEmpty() bool { return len(p.Create) == 0 && len(p.Delete) == 0 }

// Plan splits schedule into create / keep / delete operations. Marked
// installments that were never persisted need no operation and are skipped.
func Plan(schedule []Installment) EditPlan {
	var plan EditPlan
	for _, inst := range schedule {
		switch {
		case inst.IsActive() && !inst.IsPersisted():
			plan.Create = append(plan.Create, inst)
		case inst.IsActive():
			plan.Keep = append(plan.Keep, inst)
		case inst.IsPersisted():
			plan.Delete = append(plan.Delete, inst)
		}
	}
	sort.SliceStable(plan.Create, func(a, b int) bool {
		return plan.Create[a].SequenceNumber < plan.Create[b].SequenceNumber
	})
	return plan
}

// ValidateForSubmit checks that the active part of a schedule can be sent to
// the Policy API.
func ValidateForSubmit(schedule []Installment) error {
	active := Active(schedule)
	if len(active) == 0 {
		return invalid("installments", ErrInvalidSchedule, "at least one active installment is required")
	}

	seen := make(map[int]bool, len(active))
	for _, inst := range active {
		switch {
		case inst.DueDate.IsZero():
			return invalid("installments", ErrInvalidSchedule, "installment #%d has no due date", inst.SequenceNumber)
		case !inst.Amount.IsPositive():
			return invalid("installments", ErrInvalidSchedule, "installment #%d must have a positive amount", inst.SequenceNumber)
		case !IsCentPrecise(inst.Amount):
			return invalid("installments", ErrInvalidSchedule, "installment #%d has sub-cent digits", inst.SequenceNumber)
		case inst.SequenceNumber < 1:
			return invalid("installments", ErrInvalidSchedule, "sequence number %d is not positive", inst.SequenceNumber)
		case seen[inst.SequenceNumber]:
			return invalid("installments", ErrInvalidSchedule, "sequence number %d is used twice", inst.SequenceNumber)
		}
		seen[inst.SequenceNumber] = true
	}
	return nil
}
