package installment

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// DATE - Calendar date (no time of day)
// =============================================================================

// DateLayout is the wire and storage format for dates.
const DateLayout = "2006-01-02"

// Date is a calendar date. The zero value means "no date".
// The wrapped time is always UTC midnight, so == and Equal agree.
type Date struct {
	t time.Time
}

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf strips the time of day from t, using t's own location for the
// year/month/day fields.
func DateOf(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses an ISO date (YYYY-MM-DD).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// MustParseDate is ParseDate for literals in tests and fixtures.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(other Date) bool        { return d.t.Before(other.t) }
func (d Date) After(other Date) bool         { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool         { return d.t.Equal(other.t) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

// Properties
func (d Date) Year() int         { return d.t.Year() }
func (d Date) Month() time.Month { return d.t.Month() }
func (d Date) Day() int          { return d.t.Day() }
func (d Date) IsZero() bool      { return d.t.IsZero() }
func (d Date) Time() time.Time   { return d.t }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// =============================================================================
// ARITHMETIC
// =============================================================================

// MonthOverflow decides what AddMonths does when the day of month does not
// exist in the target month (e.g. Jan 31 + 1 month).
type MonthOverflow int

const (
	// OverflowClamp moves the date back to the last day of the target month:
	// Jan 31 + 1 month = Feb 28 (Feb 29 in leap years).
	OverflowClamp MonthOverflow = iota

	// OverflowRoll keeps time.AddDate semantics: Jan 31 + 1 month = Mar 3.
	OverflowRoll
)

// ParseMonthOverflow maps a config value ("clamp", "roll") to a policy.
func ParseMonthOverflow(s string) (MonthOverflow, error) {
	switch s {
	case "", "clamp":
		return OverflowClamp, nil
	case "roll":
		return OverflowRoll, nil
	default:
		return OverflowClamp, fmt.Errorf("unknown month overflow policy %q", s)
	}
}

func (o MonthOverflow) String() string {
	if o == OverflowRoll {
		return "roll"
	}
	return "clamp"
}

func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// AddMonths adds n calendar months, resolving missing days with overflow.
func (d Date) AddMonths(n int, overflow MonthOverflow) Date {
	if overflow == OverflowRoll {
		return Date{t: d.t.AddDate(0, n, 0)}
	}
	first := NewDate(d.Year(), d.Month(), 1).t.AddDate(0, n, 0)
	last := daysIn(first.Year(), first.Month())
	day := d.Day()
	if day > last {
		day = last
	}
	return NewDate(first.Year(), first.Month(), day)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// =============================================================================
// JSON
// =============================================================================

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	// The Policy API sometimes sends full timestamps.
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
