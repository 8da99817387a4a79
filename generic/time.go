package generic

import (
	"time"
)

// =============================================================================
// PAYROLL WEEKS - Dates are day-granular and anchored to UTC
// =============================================================================

// DateLayout is the wire format for dates and week starts.
const DateLayout = "2006-01-02"

// Clock returns the current time. Ledgers take one so tests can pin "now".
type Clock func() time.Time

// SystemClock is the wall clock.
func SystemClock() time.Time { return time.Now().UTC() }

// Date builds a UTC midnight date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Day truncates t to UTC midnight.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return Date(t.Year(), t.Month(), t.Day())
}

// Today is the current UTC date.
func Today() time.Time {
	return Day(time.Now())
}

// WeekStart returns the Monday of the payroll week containing t.
func WeekStart(t time.Time) time.Time {
	d := Day(t)
	offset := (int(d.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	return d.AddDate(0, 0, -offset)
}

// SameDay compares two instants at day granularity.
func SameDay(a, b time.Time) bool {
	return Day(a).Equal(Day(b))
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// FormatDate renders t as YYYY-MM-DD, or "" for the zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(DateLayout)
}
