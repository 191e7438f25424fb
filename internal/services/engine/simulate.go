package engine

import (
	"math"

	"ZWatch/internal/domain/models"
)

// Simulate walks a positioned series and accrues per-bar trading results.
// The first bar carries a zero price change and a flat prior position. Pnl
// is the prior bar's position applied to the close-to-close price change,
// so entries earn nothing on their own bar. Trades counts position-unit
// turnover per bar: 0 for a hold, 1 for an entry or exit, 2 for a flip.
// The running peak starts at zero and never decreases, which keeps the
// drawdown non-positive even when the strategy never makes money.
func Simulate(bars []models.PositionedBar) []models.SimulatedBar {
	out := make([]models.SimulatedBar, len(bars))
	var cum, peak float64
	for i, b := range bars {
		row := models.SimulatedBar{PositionedBar: b}
		if i > 0 {
			prev := bars[i-1]
			if prev.Close != 0 {
				row.PriceChangePct = (b.Close - prev.Close) / prev.Close
			}
			row.PrevPosition = prev.Position
		}
		row.Pnl = float64(row.PrevPosition) * row.PriceChangePct
		row.Trades = math.Abs(float64(b.Position) - float64(row.PrevPosition))
		cum += row.Pnl
		if cum > peak {
			peak = cum
		}
		row.CumulativePnl = cum
		row.RunningPeak = peak
		row.Drawdown = cum - peak
		out[i] = row
	}
	return out
}
