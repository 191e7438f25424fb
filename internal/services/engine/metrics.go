package engine

import (
	"math"

	"ZWatch/internal/domain/models"
	"ZWatch/pkg/util"
)

// Summarize condenses a simulated series into headline performance metrics.
// Only scored bars — those with a full lookback window behind them — enter
// the aggregation; warmup rows hold no position and would dilute the stats.
// The annualizer is the number of bars per year for the series interval and
// is supplied by the caller, never inferred from the data.
func Summarize(bars []models.SimulatedBar, window int, annualizer float64) models.Metrics {
	valid := make([]models.SimulatedBar, 0, len(bars))
	for _, b := range bars {
		if b.Scored {
			valid = append(valid, b)
		}
	}
	if len(valid) == 0 {
		return EmptyMetrics()
	}

	mean, std := pnlStats(valid)
	sharpe := math.NaN()
	if std != 0 && len(valid) > 1 {
		sharpe = mean / std * math.Sqrt(annualizer)
	}

	maxDD := 0.0
	totalTrades := 0.0
	for _, b := range valid {
		if b.Drawdown < maxDD {
			maxDD = b.Drawdown
		}
		totalTrades += b.Trades
	}

	annRet := mean * annualizer
	calmar := math.NaN()
	if maxDD != 0 {
		calmar = annRet / math.Abs(maxDD)
	}

	numTrades := int(math.Floor(totalTrades))
	freq := 0.0
	if span := len(valid) - window; span > 0 {
		freq = float64(numTrades) / float64(span) * 100
	}

	wins, closes := closingEvents(bars)
	winRate := 0.0
	if closes > 0 {
		winRate = float64(wins) / float64(closes) * 100
	}

	first := valid[0]
	last := valid[len(valid)-1]
	return models.Metrics{
		Sharpe:            models.Ratio(round4(sharpe)),
		Calmar:            models.Ratio(round4(calmar)),
		MaxDrawdown:       round4(maxDD),
		TotalReturn:       round4(last.CumulativePnl),
		AnnualizedReturn:  round4(annRet),
		NumTrades:         numTrades,
		TradeFrequencyPct: round4(freq),
		WinRate:           round2(winRate),
		StartDate:         util.FormatBarTime(first.Timestamp),
		EndDate:           util.FormatBarTime(last.Timestamp),
		PeriodDays:        int(last.Timestamp.Sub(first.Timestamp).Hours() / 24),
	}
}

// EmptyMetrics is the record returned when no bar carries a defined pnl.
// Ratios are NaN rather than zero so callers cannot mistake "no data" for
// "flat performance".
func EmptyMetrics() models.Metrics {
	return models.Metrics{
		Sharpe:    models.Ratio(math.NaN()),
		Calmar:    models.Ratio(math.NaN()),
		StartDate: "N/A",
		EndDate:   "N/A",
	}
}

// pnlStats returns the population mean and std of per-bar pnl.
func pnlStats(bars []models.SimulatedBar) (float64, float64) {
	n := float64(len(bars))
	var sum float64
	for _, b := range bars {
		sum += b.Pnl
	}
	mean := sum / n
	var sq float64
	for _, b := range bars {
		d := b.Pnl - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}

// closingEvents counts round trips that return the position to flat and how
// many of them closed with a profit. A bar closes a trade when the previous
// bar held a position and the current bar is flat; the trade's entry is
// found by scanning back through the contiguous run of that position. A
// direct long-to-short flip never passes through flat and is therefore not
// counted on either side of the ratio.
func closingEvents(bars []models.SimulatedBar) (wins, total int) {
	for e := 1; e < len(bars); e++ {
		held := bars[e-1].Position
		if held == models.PositionFlat || bars[e].Position != models.PositionFlat {
			continue
		}
		s := e - 1
		for s > 0 && bars[s-1].Position == held {
			s--
		}
		total++
		if bars[e].CumulativePnl-bars[s].CumulativePnl > 0 {
			wins++
		}
	}
	return wins, total
}

func round4(v float64) float64 { return roundTo(v, 4) }

func round2(v float64) float64 { return roundTo(v, 2) }

// roundTo rounds half away from zero, passing NaN and Inf through untouched.
func roundTo(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
