/*
schedule.go - Installment schedule generator

PURPOSE:
  Splits a policy total into N monthly installments whose amounts add up to
  the total exactly, to the cent.

ALGORITHM:
  1. Convert the total to integer cents.
  2. base = floor(totalCents / count)
  3. Installments 1..N-1 get base; installment N gets totalCents - base*(N-1).
     The whole remainder lands on the last installment, it is never spread.
  4. dueDate[i] = firstDueDate + i months, always counted from firstDueDate so
     a clamped Jan 31 does not drift to the 28th for the rest of the schedule.

EXAMPLE:
  total=100.00, count=3, first=2024-01-15
    #1 2024-01-15 33.33
    #2 2024-02-15 33.33
    #3 2024-03-15 33.34

FAILURE:
  Invalid input returns a *ValidationError and a nil schedule. There is no
  partial result.
*/
package installment

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultMaxInstallments caps the installment count (30 years of monthly
// payments).
const DefaultMaxInstallments = 360

// maxTotal keeps cent arithmetic well inside int64.
var maxTotal = decimal.New(1, 15)

// Generator builds installment schedules.
type Generator struct {
	// Overflow resolves due dates whose day does not exist in the target month.
	Overflow MonthOverflow

	// MaxInstallments bounds count. Zero means DefaultMaxInstallments.
	MaxInstallments int

	// NewID assigns local identities. Nil means random UUIDs.
	NewID func() LocalID
}

// DefaultGenerator clamps month overflow and uses random local ids.
var DefaultGenerator = &Generator{Overflow: OverflowClamp}

// GenerateSchedule builds a schedule with the default generator.
func GenerateSchedule(total decimal.Decimal, count int, firstDueDate Date) ([]Installment, error) {
	return DefaultGenerator.Generate(total, count, firstDueDate)
}

// Generate builds count installments summing exactly to total.
func (g *Generator) Generate(total decimal.Decimal, count int, firstDueDate Date) ([]Installment, error) {
	if err := g.validate(total, count, firstDueDate); err != nil {
		return nil, err
	}

	totalCents := Cents(total)
	base := totalCents / int64(count)
	last := totalCents - base*int64(count-1)

	schedule := make([]Installment, count)
	for i := 0; i < count; i++ {
		cents := base
		if i == count-1 {
			cents = last
		}
		schedule[i] = Installment{
			LocalID:        g.newID(),
			SequenceNumber: i + 1,
			DueDate:        firstDueDate.AddMonths(i, g.Overflow),
			Amount:         FromCents(cents),
		}
	}
	return schedule, nil
}

func (g *Generator) validate(total decimal.Decimal, count int, firstDueDate Date) error {
	max := g.MaxInstallments
	if max <= 0 {
		max = DefaultMaxInstallments
	}
	switch {
	case count < 1:
		return invalid("count", ErrInvalidCount, "must be at least 1, got %d", count)
	case count > max:
		return invalid("count", ErrInvalidCount, "must be at most %d, got %d", max, count)
	case !total.IsPositive():
		return invalid("total", ErrInvalidTotal, "must be positive, got %s", total)
	case total.GreaterThan(maxTotal):
		return invalid("total", ErrInvalidTotal, "must be below %s", maxTotal)
	case !IsCentPrecise(total):
		return invalid("total", ErrInvalidTotal, "must not have sub-cent digits, got %s", total)
	case Cents(total) < int64(count):
		return invalid("total", ErrInvalidTotal,
			"%s cannot be split into %d installments of at least 0.01", total.StringFixed(CentScale), count)
	case firstDueDate.IsZero():
		return invalid("first_due_date", ErrInvalidDate, "is required")
	}
	return nil
}

func (g *Generator) newID() LocalID {
	if g.NewID != nil {
		return g.NewID()
	}
	return LocalID(uuid.NewString())
}
