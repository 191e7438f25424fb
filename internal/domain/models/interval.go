package models

import "time"

// Interval represents the bar resolution of a series.
type Interval string

const (
	IV1m  Interval = "1m"
	IV5m  Interval = "5m"
	IV15m Interval = "15m"
	IV30m Interval = "30m"
	IV1h  Interval = "1h"
	IV4h  Interval = "4h"
	IV1d  Interval = "1d"
)

var intervalSeconds = map[Interval]int64{
	IV1m:  60,
	IV5m:  5 * 60,
	IV15m: 15 * 60,
	IV30m: 30 * 60,
	IV1h:  60 * 60,
	IV4h:  4 * 60 * 60,
	IV1d:  24 * 60 * 60,
}

// IsValidInterval returns true if iv is a supported interval.
func IsValidInterval(iv Interval) bool {
	_, ok := intervalSeconds[iv]
	return ok
}

// DefaultInterval returns the default interval.
func DefaultInterval() Interval { return IV1h }

// NormalizeInterval converts a raw string to a valid interval (or default).
func NormalizeInterval(s string) Interval {
	if s == "" {
		return DefaultInterval()
	}
	iv := Interval(s)
	if IsValidInterval(iv) {
		return iv
	}
	return DefaultInterval()
}

// Seconds returns the interval length in seconds (0 for unknown intervals).
func (iv Interval) Seconds() int64 { return intervalSeconds[iv] }

// Duration returns the interval length as a time.Duration.
func (iv Interval) Duration() time.Duration {
	return time.Duration(iv.Seconds()) * time.Second
}

// BarsPerYear returns the annualization constant for the interval: the
// number of bars in a 365-day year. It is fixed per interval, never derived
// from observed timestamps.
func (iv Interval) BarsPerYear() float64 {
	s := iv.Seconds()
	if s <= 0 {
		return 0
	}
	return float64(365*24*3600) / float64(s)
}

// Truncate aligns t down to the interval boundary in UTC.
func (iv Interval) Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(iv.Duration())
}
