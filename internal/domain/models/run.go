package models

import "time"

// Logic selects how z-score thresholds map to positions.
type Logic string

const (
	LogicTrend Logic = "trend"
	LogicFast  Logic = "fast"
)

// Side restricts which directions the strategy may take.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
	SideBoth  Side = "both"
)

// StrategyParams are the engine inputs for one backtest run or monitor
// session. Threshold validation happens at the request boundary; the engine
// trusts these values.
type StrategyParams struct {
	Symbol         string  `json:"symbol"`
	Interval       string  `json:"interval"`
	Window         int     `json:"window"`
	EntryThreshold float64 `json:"entry_threshold"`
	ExitThreshold  float64 `json:"exit_threshold"`
	Logic          Logic   `json:"logic"`
	Side           Side    `json:"side"`
}

// RunStatus tracks the lifecycle of a stored backtest run.
type RunStatus string

const (
	RunQueued RunStatus = "queued"
	RunDone   RunStatus = "done"
	RunFailed RunStatus = "failed"
)

// BacktestRun ties parameters, outcome and verdict to a stored run.
type BacktestRun struct {
	ID        string         `json:"run_id"`
	Params    StrategyParams `json:"params"`
	Status    RunStatus      `json:"status"`
	Metrics   Metrics        `json:"metrics"`
	Verdict   Verdict        `json:"verdict"`
	Bars      int            `json:"bars"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	CreatedAt time.Time      `json:"created_at"`
	Error     string         `json:"error,omitempty"`
}
