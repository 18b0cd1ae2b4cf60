package installment_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/policy-installments/installment"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sequentialIDs() func() installment.LocalID {
	n := 0
	return func() installment.LocalID {
		n++
		return installment.LocalID(fmt.Sprintf("local-%d", n))
	}
}

func amounts(schedule []installment.Installment) []string {
	out := make([]string, len(schedule))
	for i, inst := range schedule {
		out[i] = inst.Amount.StringFixed(2)
	}
	return out
}

func dueDates(schedule []installment.Installment) []string {
	out := make([]string, len(schedule))
	for i, inst := range schedule {
		out[i] = inst.DueDate.String()
	}
	return out
}

// =============================================================================
// GENERATOR
// =============================================================================

func TestGenerateSchedule_RemainderOnLastInstallment(t *testing.T) {
	// GIVEN: 100.00 split in 3, first due on Jan 15
	// WHEN: Generating the schedule
	// THEN: 33.33, 33.33, 33.34 on the 15th of consecutive months

	schedule, err := installment.GenerateSchedule(money("100.00"), 3, installment.NewDate(2024, time.January, 15))
	require.NoError(t, err)
	require.Len(t, schedule, 3)

	assert.Equal(t, []string{"33.33", "33.33", "33.34"}, amounts(schedule))
	assert.Equal(t, []string{"2024-01-15", "2024-02-15", "2024-03-15"}, dueDates(schedule))
	for i, inst := range schedule {
		assert.Equal(t, i+1, inst.SequenceNumber)
		assert.False(t, inst.IsPersisted(), "generated installments have no persisted id")
		assert.False(t, inst.MarkedForRemoval)
		assert.Nil(t, inst.PaymentDate)
		assert.NotEmpty(t, inst.LocalID)
	}
}

func TestGenerateSchedule_SingleInstallmentIsTheTotal(t *testing.T) {
	first := installment.NewDate(2025, time.June, 3)

	schedule, err := installment.GenerateSchedule(money("500.00"), 1, first)
	require.NoError(t, err)
	require.Len(t, schedule, 1)

	assert.True(t, schedule[0].Amount.Equal(money("500.00")))
	assert.True(t, schedule[0].DueDate.Equal(first))
	assert.Equal(t, 1, schedule[0].SequenceNumber)
}

func TestGenerateSchedule_Invariants(t *testing.T) {
	// Sum, count and monotonic due dates over a grid of awkward inputs.
	totals := []string{"0.07", "1.00", "10.01", "99.99", "100.00", "1234.57", "1000000.01", "7777777.77"}
	counts := []int{1, 2, 3, 6, 7, 11, 12, 24, 36}
	firsts := []installment.Date{
		installment.NewDate(2024, time.January, 31),
		installment.NewDate(2024, time.February, 29),
		installment.NewDate(2025, time.August, 30),
		installment.NewDate(2025, time.December, 15),
	}

	for _, total := range totals {
		for _, count := range counts {
			if installment.Cents(money(total)) < int64(count) {
				continue
			}
			for _, first := range firsts {
				name := fmt.Sprintf("%s/%d/%s", total, count, first)
				t.Run(name, func(t *testing.T) {
					schedule, err := installment.GenerateSchedule(money(total), count, first)
					require.NoError(t, err)
					require.Len(t, schedule, count)

					assert.True(t, installment.Total(schedule).Equal(money(total)),
						"sum %s != total %s", installment.Total(schedule), total)
					assert.True(t, schedule[0].DueDate.Equal(first))

					for i := 1; i < len(schedule); i++ {
						assert.True(t, schedule[i].DueDate.After(schedule[i-1].DueDate),
							"due date %d (%s) not after %s", i, schedule[i].DueDate, schedule[i-1].DueDate)
						assert.True(t, schedule[i-1].Amount.Equal(schedule[0].Amount),
							"only the last installment may differ")
					}
					for _, inst := range schedule {
						assert.True(t, inst.Amount.IsPositive())
					}
				})
			}
		}
	}
}

func TestGenerateSchedule_RemainderNeverSpread(t *testing.T) {
	// 0.11 / 6 = 0.01 each, the last gets 0.06
	schedule, err := installment.GenerateSchedule(money("0.11"), 6, installment.NewDate(2025, time.March, 1))
	require.NoError(t, err)

	assert.Equal(t, []string{"0.01", "0.01", "0.01", "0.01", "0.01", "0.06"}, amounts(schedule))
}

func TestGenerateSchedule_EndOfMonthClamps(t *testing.T) {
	// GIVEN: First due date on Jan 31 of a leap year
	// WHEN: Generating with the default (clamp) policy
	// THEN: Feb clamps to the 29th, later months return to the 31st/30th

	schedule, err := installment.GenerateSchedule(money("400.00"), 4, installment.NewDate(2024, time.January, 31))
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-01-31", "2024-02-29", "2024-03-31", "2024-04-30"}, dueDates(schedule))
}

func TestGenerator_RollOverflow(t *testing.T) {
	g := &installment.Generator{Overflow: installment.OverflowRoll}

	schedule, err := g.Generate(money("300.00"), 3, installment.NewDate(2023, time.January, 31))
	require.NoError(t, err)

	assert.Equal(t, []string{"2023-01-31", "2023-03-03", "2023-03-31"}, dueDates(schedule))
}

func TestGenerator_CustomIDs(t *testing.T) {
	g := &installment.Generator{NewID: sequentialIDs()}

	schedule, err := g.Generate(money("90.00"), 3, installment.NewDate(2025, time.May, 10))
	require.NoError(t, err)

	assert.Equal(t, installment.LocalID("local-1"), schedule[0].LocalID)
	assert.Equal(t, installment.LocalID("local-3"), schedule[2].LocalID)
}

func TestGenerateSchedule_RejectsInvalidInput(t *testing.T) {
	first := installment.NewDate(2025, time.January, 10)

	tests := []struct {
		name     string
		total    decimal.Decimal
		count    int
		first    installment.Date
		sentinel error
		field    string
	}{
		{"zero count", money("100"), 0, first, installment.ErrInvalidCount, "count"},
		{"negative count", money("100"), -2, first, installment.ErrInvalidCount, "count"},
		{"too many installments", money("100000"), 361, first, installment.ErrInvalidCount, "count"},
		{"zero total", decimal.Zero, 3, first, installment.ErrInvalidTotal, "total"},
		{"negative total", money("-10.00"), 3, first, installment.ErrInvalidTotal, "total"},
		{"sub-cent total", money("10.005"), 3, first, installment.ErrInvalidTotal, "total"},
		{"total smaller than count cents", money("0.02"), 3, first, installment.ErrInvalidTotal, "total"},
		{"huge total", money("1000000000000000.01"), 3, first, installment.ErrInvalidTotal, "total"},
		{"missing first due date", money("100"), 3, installment.Date{}, installment.ErrInvalidDate, "first_due_date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schedule, err := installment.GenerateSchedule(tt.total, tt.count, tt.first)

			assert.Nil(t, schedule, "no partial result on failure")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel), "expected %v, got %v", tt.sentinel, err)

			var verr *installment.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.True(t, installment.IsClientError(err))
		})
	}
}

func TestGenerator_MaxInstallmentsOverride(t *testing.T) {
	g := &installment.Generator{MaxInstallments: 12}

	_, err := g.Generate(money("1300.00"), 13, installment.NewDate(2025, time.January, 1))
	assert.ErrorIs(t, err, installment.ErrInvalidCount)

	schedule, err := g.Generate(money("1200.00"), 12, installment.NewDate(2025, time.January, 1))
	require.NoError(t, err)
	assert.Len(t, schedule, 12)
}
