/*
Package installment generates and reconciles insurance policy installment
schedules.

PURPOSE:
  A policy's total value is paid in monthly installments. This package builds
  the schedule for a (total, count, first due date) triple, merges a freshly
  generated schedule with installments the Policy API already persisted, and
  derives each installment's payment status.

KEY CONCEPTS IN THIS FILE (types.go):
  - Installment: one scheduled payment (sequence number, due date, amount)
  - LocalID / PersistedID: client-side vs. server-side identity
  - Money: decimal.Decimal with exactly two fractional digits

DESIGN PRINCIPLES:
  1. Precision: money math is done in integer cents, never float64
  2. Purity: every operation is a function of its arguments (no I/O, no clock)
  3. Non-destructive edits: persisted installments are marked for removal,
     never dropped, so their deletion can be submitted later

USAGE:
  schedule, err := installment.GenerateSchedule(
      decimal.RequireFromString("100.00"), 3, installment.NewDate(2024, time.January, 15))
  // 33.33, 33.33, 33.34

SEE ALSO:
  - schedule.go: Schedule generator
  - reconcile.go: Merge / remove / plan
  - status.go: Status derivation and summaries
*/
package installment

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// LocalID identifies an installment inside an edit session, whether or not
// it was ever submitted.
type LocalID string

// PersistedID is the identifier assigned by the Policy API. Empty means the
// installment exists only locally.
type PersistedID string

type PolicyID string

// =============================================================================
// MONEY
// =============================================================================

// CentScale is the number of fractional digits of every amount.
const CentScale = 2

// Cents converts an amount to integer minor units. The amount must already
// be cent-precise (see IsCentPrecise).
func Cents(amount decimal.Decimal) int64 {
	return amount.Shift(CentScale).IntPart()
}

// FromCents builds an amount from integer minor units.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -CentScale)
}

// IsCentPrecise reports whether amount has no digits below the cent.
func IsCentPrecise(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(CentScale))
}

// =============================================================================
// INSTALLMENT
// =============================================================================

// Installment is one scheduled payment of a policy.
type Installment struct {
	LocalID          LocalID         `json:"local_id"`
	SequenceNumber   int             `json:"sequence_number"`
	DueDate          Date            `json:"due_date"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentDate      *Date           `json:"payment_date,omitempty"`
	PersistedID      PersistedID     `json:"persisted_id,omitempty"`
	MarkedForRemoval bool            `json:"marked_for_removal"`
}

func (i Installment) IsPersisted() bool { return i.PersistedID != "" }
func (i Installment) IsPaid() bool      { return i.PaymentDate != nil && !i.PaymentDate.IsZero() }
func (i Installment) IsActive() bool    { return !i.MarkedForRemoval }

// LocalIDFor is the stable local identity of an installment loaded from the
// Policy API.
func LocalIDFor(id PersistedID) LocalID {
	return LocalID("persisted-" + string(id))
}

// Active returns the installments that are not marked for removal, ordered by
// sequence number.
func Active(schedule []Installment) []Installment {
	out := make([]Installment, 0, len(schedule))
	for _, inst := range schedule {
		if inst.IsActive() {
			out = append(out, inst)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].SequenceNumber < out[b].SequenceNumber
	})
	return out
}

// Total sums the amounts of the active installments.
func Total(schedule []Installment) decimal.Decimal {
	sum := decimal.Zero
	for _, inst := range schedule {
		if inst.IsActive() {
			sum = sum.Add(inst.Amount)
		}
	}
	return sum
}

func clone(schedule []Installment) []Installment {
	out := make([]Installment, len(schedule))
	copy(out, schedule)
	return out
}
