package engine

import (
	"math"

	"ZWatch/internal/domain/models"
)

// Score computes the rolling mean, population standard deviation
// (denominator = window) and z-score of closes for every bar. Bars before
// index window-1 stay unscored. A zero-variance window yields z = 0, never
// NaN or a division fault.
func Score(bars []models.Bar, window int) []models.ScoredBar {
	out := make([]models.ScoredBar, 0, len(bars))
	for i, b := range bars {
		sb := models.ScoredBar{Bar: b}
		if window >= 1 && i >= window-1 {
			mean, std := windowStats(bars, i, window)
			sb.Mean = mean
			sb.Std = std
			sb.Scored = true
			if std != 0 {
				sb.ZScore = (b.Close - mean) / std
			}
		}
		out = append(out, sb)
	}
	return out
}

// ScoreLast computes the statistics for the final bar of a trailing window,
// bit-identical to what Score produces for that bar over the same data. It
// returns false when the series is shorter than the window.
func ScoreLast(bars []models.Bar, window int) (models.ScoredBar, bool) {
	if window < 1 || len(bars) < window {
		return models.ScoredBar{}, false
	}
	i := len(bars) - 1
	mean, std := windowStats(bars, i, window)
	sb := models.ScoredBar{Bar: bars[i], Mean: mean, Std: std, Scored: true}
	if std != 0 {
		sb.ZScore = (bars[i].Close - mean) / std
	}
	return sb, true
}

func windowStats(bars []models.Bar, i, window int) (mean, std float64) {
	sum := 0.0
	for j := i - window + 1; j <= i; j++ {
		sum += bars[j].Close
	}
	mean = sum / float64(window)
	ss := 0.0
	for j := i - window + 1; j <= i; j++ {
		d := bars[j].Close - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(window))
}
