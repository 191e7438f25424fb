package models

import "time"

// Position is the realized target position held during a bar.
type Position int8

const (
	PositionShort Position = -1
	PositionFlat  Position = 0
	PositionLong  Position = 1
)

func (p Position) String() string {
	switch p {
	case PositionLong:
		return "long"
	case PositionShort:
		return "short"
	default:
		return "none"
	}
}

// Bar is one closed price bar. Series are ordered by timestamp ascending
// with unique timestamps before they reach the engine.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Close     float64   `json:"close"`
}

// ScoredBar is a Bar extended with rolling statistics. Scored is false for
// the first window-1 bars of a series; the statistic fields carry no
// meaning until it flips to true.
type ScoredBar struct {
	Bar
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	ZScore float64 `json:"zscore"`
	Scored bool    `json:"scored"`
}

// PositionedBar is a ScoredBar extended with the forward-filled target
// position produced by the signal rules. The position takes effect during
// the bar that follows the one whose z-score produced it.
type PositionedBar struct {
	ScoredBar
	Position Position `json:"position"`
}

// SimulatedBar is a PositionedBar extended with trade and PnL accounting.
// CumulativePnl is the exact running sum of Pnl in time order, RunningPeak
// its running maximum seeded at 0, and Drawdown = CumulativePnl-RunningPeak
// is never positive.
type SimulatedBar struct {
	PositionedBar
	PrevPosition   Position `json:"prev_position"`
	PriceChangePct float64  `json:"price_change_pct"`
	Trades         float64  `json:"trades"`
	Pnl            float64  `json:"pnl"`
	CumulativePnl  float64  `json:"cumulative_pnl"`
	RunningPeak    float64  `json:"running_peak"`
	Drawdown       float64  `json:"drawdown"`
}
