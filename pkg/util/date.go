package util

import (
	"strconv"
	"time"
)

const daysPerYear = 365.0

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", time.DateOnly}

// ParseTime tries RFC3339 (with or without fraction), a zone-less timestamp read as
// UTC, a plain date and unix seconds. Returns (t, true) in UTC if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0).UTC(), true
	}
	return time.Time{}, false
}

// YearFraction is the ACT/365 time between two instants. Negative when to is before from.
func YearFraction(from, to time.Time) float64 {
	return to.Sub(from).Hours() / 24 / daysPerYear
}

// DaysBetween counts calendar days between the UTC dates of two instants.
func DaysBetween(from, to time.Time) int {
	f := from.UTC().Truncate(24 * time.Hour)
	t := to.UTC().Truncate(24 * time.Hour)
	return int(t.Sub(f).Hours() / 24)
}
