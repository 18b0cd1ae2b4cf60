package installment_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/policy-installments/installment"
)

func TestDeriveStatus(t *testing.T) {
	today := installment.NewDate(2025, time.October, 15)
	paidOn := installment.NewDate(2025, time.October, 1)

	tests := []struct {
		name string
		due  installment.Date
		paid *installment.Date
		want installment.Status
	}{
		{"due today is open", today, nil, installment.StatusOpen},
		{"due tomorrow is open", today.AddDays(1), nil, installment.StatusOpen},
		{"due yesterday is overdue", today.AddDays(-1), nil, installment.StatusOverdue},
		{"paid before due", today.AddDays(10), &paidOn, installment.StatusPaid},
		{"paid late is still paid", today.AddDays(-30), &paidOn, installment.StatusPaid},
		{"zero payment date is ignored", today.AddDays(-1), &installment.Date{}, installment.StatusOverdue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := installment.Installment{DueDate: tt.due, PaymentDate: tt.paid, Amount: money("10.00")}
			assert.Equal(t, tt.want, installment.DeriveStatus(inst, today))
		})
	}
}

func TestDeriveStatus_IgnoresTimeOfDay(t *testing.T) {
	// GIVEN: "now" late in the evening of the due date, in a non-UTC zone
	sp := time.FixedZone("BRT", -3*60*60)
	lateEvening := time.Date(2025, time.March, 10, 23, 59, 0, 0, sp)

	inst := installment.Installment{DueDate: installment.NewDate(2025, time.March, 10), Amount: money("1.00")}

	// THEN: the calendar day is what counts
	assert.Equal(t, installment.StatusOpen, installment.DeriveStatus(inst, installment.DateOf(lateEvening)))
	assert.Equal(t, installment.StatusOverdue,
		installment.DeriveStatus(inst, installment.DateOf(lateEvening.Add(time.Minute))))
}

func TestFixedClock(t *testing.T) {
	day := installment.NewDate(2024, time.February, 29)
	var clock installment.Clock = installment.FixedClock(day)

	assert.True(t, clock.Today().Equal(day))
}

func TestSystemClock_ReturnsCalendarDay(t *testing.T) {
	today := installment.SystemClock{}.Today()
	now := time.Now().UTC()

	// Tolerate a midnight crossing between the two reads.
	assert.True(t, today.Equal(installment.DateOf(now)) || today.Equal(installment.DateOf(now).AddDays(-1)))
	assert.Zero(t, today.Time().Hour())
}

func TestSystemClock_UsesLocationCalendarDay(t *testing.T) {
	// GIVEN: 01:30 UTC on March 15th, which is still March 14th in Brasília
	instant := time.Date(2025, time.March, 15, 1, 30, 0, 0, time.UTC)
	brasilia := time.FixedZone("BRT", -3*60*60)
	fixed := func() time.Time { return instant }

	// WHEN / THEN: The day follows the configured location
	assert.Equal(t, installment.NewDate(2025, time.March, 14), installment.SystemClock{Location: brasilia, Now: fixed}.Today())
	assert.Equal(t, installment.NewDate(2025, time.March, 15), installment.SystemClock{Now: fixed}.Today())

	// An installment due on the 14th is not overdue yet in Brasília.
	due := installment.Installment{
		LocalID: "a", SequenceNumber: 1, DueDate: installment.NewDate(2025, time.March, 14), Amount: money("10.00"),
	}
	local := installment.SystemClock{Location: brasilia, Now: fixed}.Today()
	assert.Equal(t, installment.StatusOpen, installment.DeriveStatus(due, local))
}

func TestSummarize(t *testing.T) {
	// GIVEN: 4 installments of 25.00: one paid, one overdue, two open,
	//        plus one marked for removal that must not count
	today := installment.NewDate(2025, time.April, 10)
	paidOn := installment.NewDate(2025, time.January, 9)

	schedule := []installment.Installment{
		persisted("1", 1, installment.NewDate(2025, time.January, 10), "25.00"),
		persisted("2", 2, installment.NewDate(2025, time.March, 10), "25.00"),
		persisted("3", 3, installment.NewDate(2025, time.April, 10), "25.00"),
		persisted("4", 4, installment.NewDate(2025, time.May, 10), "25.00"),
		persisted("5", 5, installment.NewDate(2025, time.February, 10), "99.00"),
	}
	schedule[0].PaymentDate = &paidOn
	schedule[4].MarkedForRemoval = true

	// WHEN: Summarizing
	s := installment.Summarize(schedule, today)

	// THEN
	assert.Equal(t, 4, s.Total.Count)
	assert.Equal(t, "100.00", s.Total.Amount.StringFixed(2))
	assert.Equal(t, 1, s.Paid.Count)
	assert.Equal(t, 1, s.Overdue.Count)
	assert.Equal(t, 2, s.Open.Count)
	assert.Equal(t, "50.00", s.Open.Amount.StringFixed(2))
	require.NotNil(t, s.NextDue)
	assert.Equal(t, 3, s.NextDue.SequenceNumber)
	assert.True(t, s.AsOf.Equal(today))
}

func TestSummarize_StatusFollowsToday(t *testing.T) {
	schedule := []installment.Installment{
		persisted("1", 1, installment.NewDate(2025, time.April, 10), "25.00"),
	}

	before := installment.Summarize(schedule, installment.NewDate(2025, time.April, 10))
	after := installment.Summarize(schedule, installment.NewDate(2025, time.April, 11))

	assert.Equal(t, 1, before.Open.Count)
	assert.Equal(t, 1, after.Overdue.Count)
	assert.Nil(t, after.NextDue)
}
