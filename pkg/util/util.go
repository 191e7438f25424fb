package util

import (
	"strconv"
	"time"
)

// BarTimeLayout is the timestamp format used in reports and metric records.
const BarTimeLayout = "2006-01-02 15:04:05"

// FormatBarTime renders a bar timestamp in UTC using BarTimeLayout.
func FormatBarTime(t time.Time) string {
	return t.UTC().Format(BarTimeLayout)
}

// ParseTime accepts RFC3339 with or without fractional seconds, the bar
// layout read as UTC, and unix seconds. Returns (t, true) on success.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation(BarTimeLayout, s, time.UTC); err == nil {
		return t, true
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC(), true
	}
	return time.Time{}, false
}

// ParseTimeDefault falls back to def when s is empty or unparseable.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// AlignRange truncates both ends of a time range to multiples of step.
func AlignRange(from, to time.Time, step time.Duration) (time.Time, time.Time) {
	if step <= 0 {
		return from, to
	}
	return from.Truncate(step), to.Truncate(step)
}

// ParseIntDefault falls back to def when s is empty or not an integer.
func ParseIntDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}
