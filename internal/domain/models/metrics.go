package models

import (
	"encoding/json"
	"math"
)

// Ratio is a float64 ratio metric that may legitimately be NaN (degenerate
// variance, zero drawdown). NaN is preserved through the pipeline and
// rendered as JSON null rather than coerced to 0.
type Ratio float64

func (r Ratio) IsNaN() bool { return math.IsNaN(float64(r)) }

func (r Ratio) MarshalJSON() ([]byte, error) {
	if math.IsNaN(float64(r)) || math.IsInf(float64(r), 0) {
		return []byte("null"), nil
	}
	return json.Marshal(float64(r))
}

func (r *Ratio) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = Ratio(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*r = Ratio(f)
	return nil
}

// Metrics is the fixed performance record derived from a simulated series.
// Field names and rounding (ratios to 4 decimal places, win rate to 2) are
// a stable contract consumed by the evaluator and report surfaces. Dates
// are "N/A" when the valid set is empty.
type Metrics struct {
	Sharpe            Ratio   `json:"sharpe"`
	Calmar            Ratio   `json:"calmar"`
	MaxDrawdown       float64 `json:"max_drawdown"`
	TotalReturn       float64 `json:"total_return"`
	AnnualizedReturn  float64 `json:"annualized_return"`
	NumTrades         int     `json:"num_trades"`
	TradeFrequencyPct float64 `json:"trade_frequency_pct"`
	WinRate           float64 `json:"win_rate"`
	StartDate         string  `json:"start_date"`
	EndDate           string  `json:"end_date"`
	PeriodDays        int     `json:"period_days"`
}

// CheckResult is one evaluator rule outcome.
type CheckResult struct {
	Passed bool   `json:"passed"`
	Text   string `json:"text"`
}

// Verdict gates a strategy recommendation. Reasons always holds the four
// checks in fixed order (Sharpe, Calmar, MaxDrawdown, Trades) regardless of
// how many passed.
type Verdict struct {
	Recommended bool          `json:"recommended"`
	Reasons     []CheckResult `json:"reasons"`
}
