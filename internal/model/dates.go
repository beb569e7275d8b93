package model

import "time"

// DateOf truncates t to midnight UTC of its calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of calendar days from the date of a to the
// date of b. It is negative when b precedes a.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}

// DaysSince returns the calendar days elapsed between t and now, or ok=false
// when t is unknown.
func DaysSince(t *time.Time, now time.Time) (days int, ok bool) {
	if t == nil || t.IsZero() {
		return 0, false
	}
	return DaysBetween(*t, now), true
}

// EndOfDay returns the last instant of t's calendar date in UTC.
func EndOfDay(t time.Time) time.Time {
	return DateOf(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// ClockAt returns the instant a view of asOf is evaluated at: now when it
// falls on or before asOf's date, otherwise the end of that date. Views of a
// past date are therefore reproducible regardless of when they are asked.
func ClockAt(asOf, now time.Time) time.Time {
	if end := EndOfDay(asOf); now.After(end) {
		return end
	}
	return now
}
