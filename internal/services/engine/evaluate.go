package engine

import (
	"fmt"
	"math"

	"ZWatch/internal/domain/models"
)

// Criteria are the acceptance thresholds a strategy must clear before it is
// recommended for live monitoring.
type Criteria struct {
	MinSharpe        float64
	MinCalmar        float64
	MaxDrawdownFloor float64
	MinTrades        int
}

func DefaultCriteria() Criteria {
	return Criteria{
		MinSharpe:        1.0,
		MinCalmar:        1.0,
		MaxDrawdownFloor: -0.3,
		MinTrades:        10,
	}
}

// Evaluate runs the four acceptance checks in fixed order and reports every
// reason, pass or fail. NaN metrics fail their check. There is no early
// exit: a caller always receives all four lines.
func Evaluate(m models.Metrics, c Criteria) models.Verdict {
	checks := []models.CheckResult{
		check("Sharpe ratio", float64(m.Sharpe), c.MinSharpe),
		check("Calmar ratio", float64(m.Calmar), c.MinCalmar),
		check("Max drawdown", m.MaxDrawdown, c.MaxDrawdownFloor),
		checkCount("Trade count", m.NumTrades, c.MinTrades),
	}
	recommended := true
	for _, ch := range checks {
		if !ch.Passed {
			recommended = false
		}
	}
	return models.Verdict{Recommended: recommended, Reasons: checks}
}

func check(name string, value, min float64) models.CheckResult {
	passed := !math.IsNaN(value) && value >= min
	verdict, op := "PASS", ">="
	if !passed {
		verdict, op = "FAIL", "<"
	}
	return models.CheckResult{
		Passed: passed,
		Text:   fmt.Sprintf("%s: %s %.4f %s %.2f", verdict, name, value, op, min),
	}
}

func checkCount(name string, value, min int) models.CheckResult {
	passed := value >= min
	verdict, op := "PASS", ">="
	if !passed {
		verdict, op = "FAIL", "<"
	}
	return models.CheckResult{
		Passed: passed,
		Text:   fmt.Sprintf("%s: %s %d %s %d", verdict, name, value, op, min),
	}
}
