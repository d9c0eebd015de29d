// Package analytics attributes monthly passive income by subtracting
// external cash contributions from portfolio value deltas.
package analytics

import (
	"time"
)

// ParseBoundary parses a period boundary given as "2006-01" or
// "2006-01-02". A malformed value yields nil so the caller can fall back.
func ParseBoundary(value string) *time.Time {
	if value == "" {
		return nil
	}
	if len(value) == 7 {
		value += "-01"
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil
	}
	parsed = parsed.UTC()
	return &parsed
}

// StartOfMonth truncates an instant to the first of its month, UTC.
func StartOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// EndOfMonth returns the last stored instant of the month, UTC. Timestamps
// persist at second precision, so the boundary is one second before the
// next month starts.
func EndOfMonth(t time.Time) time.Time {
	return StartOfMonth(t).AddDate(0, 1, 0).Add(-time.Second)
}

// ResolvePeriod normalizes raw query boundaries to whole months. Missing or
// malformed boundaries default to the current month; an inverted range is
// swapped rather than rejected.
func ResolvePeriod(startRaw, endRaw string, now time.Time) (time.Time, time.Time) {
	start := StartOfMonth(now)
	end := EndOfMonth(now)

	if parsed := ParseBoundary(startRaw); parsed != nil {
		start = StartOfMonth(*parsed)
	}
	if parsed := ParseBoundary(endRaw); parsed != nil {
		end = EndOfMonth(*parsed)
	}

	if start.After(end) {
		start, end = StartOfMonth(end), EndOfMonth(start)
	}
	return start, end
}

// EnumerateMonths lists the first-of-month instants from from through to,
// inclusive.
func EnumerateMonths(from, to time.Time) []time.Time {
	months := make([]time.Time, 0, 12)
	for cursor := StartOfMonth(from); !cursor.After(to); cursor = cursor.AddDate(0, 1, 0) {
		months = append(months, cursor)
	}
	return months
}

// MonthKey formats a month bucket identifier, e.g. "2024-03".
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
