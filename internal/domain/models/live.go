package models

import "time"

// SignalKind classifies a live position transition.
type SignalKind string

const (
	SignalNone       SignalKind = "none"
	SignalEntryLong  SignalKind = "entry_long"
	SignalEntryShort SignalKind = "entry_short"
	SignalExitLong   SignalKind = "exit_long"
	SignalExitShort  SignalKind = "exit_short"
)

// SignalKindFor derives the kind purely from the old/new position pair,
// independent of which rule fired. A direct flip reports the entered side.
func SignalKindFor(old, next Position) SignalKind {
	if old == next {
		return SignalNone
	}
	switch next {
	case PositionLong:
		return SignalEntryLong
	case PositionShort:
		return SignalEntryShort
	}
	// next is flat: an exit of the old side
	if old == PositionLong {
		return SignalExitLong
	}
	return SignalExitShort
}

// LiveState is the mutable state of one monitoring session, owned by the
// monitor loop and reset on start/stop. A zero LastProcessedBar means no
// bar has been processed yet.
type LiveState struct {
	LastProcessedBar time.Time
	Position         Position
}

// SignalEvent is published on every live position transition.
type SignalEvent struct {
	Symbol   string     `json:"symbol"`
	Interval string     `json:"interval"`
	Kind     SignalKind `json:"kind"`
	From     Position   `json:"from"`
	To       Position   `json:"to"`
	BarTime  time.Time  `json:"bar_time"`
	Close    float64    `json:"close"`
	ZScore   float64    `json:"zscore"`
	At       time.Time  `json:"at"`
}

// MonitorStatus is the session snapshot returned by the status endpoint.
type MonitorStatus struct {
	Running     bool       `json:"running"`
	Symbol      string     `json:"symbol,omitempty"`
	Interval    string     `json:"interval,omitempty"`
	Position    string     `json:"position"`
	LastBar     *time.Time `json:"last_bar,omitempty"`
	LastZ       float64    `json:"last_z"`
	LastClose   float64    `json:"last_close"`
	LivePrice   float64    `json:"live_price"`
	Ticks       int64      `json:"ticks"`
	Transitions int64      `json:"transitions"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
}
