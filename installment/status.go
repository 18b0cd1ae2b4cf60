package installment

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS - Derived, never stored
// =============================================================================

type Status string

const (
	StatusPaid    Status = "PAID"
	StatusOpen    Status = "OPEN"
	StatusOverdue Status = "OVERDUE"
)

// DeriveStatus computes the payment status of inst on the calendar day today.
// A payment date always wins: a late payment is PAID, not OVERDUE. A due date
// equal to today is still OPEN.
func DeriveStatus(inst Installment, today Date) Status {
	if inst.IsPaid() {
		return StatusPaid
	}
	if inst.DueDate.AfterOrEqual(today) {
		return StatusOpen
	}
	return StatusOverdue
}

// =============================================================================
// CLOCK - Source of "today"
// =============================================================================

// Clock supplies the current calendar date. Status must be re-derived on
// every query, so callers hold a Clock rather than a Date.
type Clock interface {
	Today() Date
}

// SystemClock reads the wall clock in Location (UTC when nil). The calendar
// day, and so whether an installment is overdue, depends on Location.
type SystemClock struct {
	Location *time.Location
	Now      func() time.Time // time.Now when nil
}

func (c SystemClock) Today() Date {
	now := time.Now().UTC()
	if c.Now != nil {
		now = c.Now()
	}
	if c.Location != nil {
		now = now.In(c.Location)
	}
	return DateOf(now)
}

// FixedClock always returns the same day.
type FixedClock Date

func (c FixedClock) Today() Date { return Date(c) }

// =============================================================================
// SUMMARY
// =============================================================================

// Bucket aggregates installments of one status.
type Bucket struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

func (b Bucket) add(amount decimal.Decimal) Bucket {
	return Bucket{Count: b.Count + 1, Amount: b.Amount.Add(amount)}
}

// Summary totals the active installments of a schedule by status.
type Summary struct {
	AsOf    Date         `json:"as_of"`
	Total   Bucket       `json:"total"`
	Paid    Bucket       `json:"paid"`
	Open    Bucket       `json:"open"`
	Overdue Bucket       `json:"overdue"`
	NextDue *Installment `json:"next_due,omitempty"`
}

// Summarize derives the status of every active installment as of today.
func Summarize(schedule []Installment, today Date) Summary {
	s := Summary{
		AsOf:    today,
		Total:   Bucket{Amount: decimal.Zero},
		Paid:    Bucket{Amount: decimal.Zero},
		Open:    Bucket{Amount: decimal.Zero},
		Overdue: Bucket{Amount: decimal.Zero},
	}

	for _, inst := range Active(schedule) {
		s.Total = s.Total.add(inst.Amount)
		switch DeriveStatus(inst, today) {
		case StatusPaid:
			s.Paid = s.Paid.add(inst.Amount)
		case StatusOpen:
			s.Open = s.Open.add(inst.Amount)
			if s.NextDue == nil || inst.DueDate.Before(s.NextDue.DueDate) {
				next := inst
				s.NextDue = &next
			}
		case StatusOverdue:
			s.Overdue = s.Overdue.add(inst.Amount)
		}
	}
	return s
}
