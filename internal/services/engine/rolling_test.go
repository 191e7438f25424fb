package engine

import (
	"math"
	"testing"
	"time"

	"ZWatch/internal/domain/models"
)

func makeBars(closes []float64) []models.Bar {
	base := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]models.Bar, len(closes))
	for i, c := range closes {
		bars[i] = models.Bar{Timestamp: base.Add(time.Duration(i) * time.Hour), Close: c}
	}
	return bars
}

func TestScoreWarmupAndExactStats(t *testing.T) {
	scored := Score(makeBars([]float64{100, 102, 101, 105, 99}), 3)
	if len(scored) != 5 {
		t.Fatalf("expected 5 bars, got %d", len(scored))
	}
	for i := 0; i < 2; i++ {
		if scored[i].Scored {
			t.Fatalf("bar %d should be unscored", i)
		}
	}
	b := scored[2]
	if !b.Scored {
		t.Fatalf("bar 2 should be scored")
	}
	if b.Mean != 101 {
		t.Fatalf("mean = %v, want 101", b.Mean)
	}
	if math.Abs(b.Std-0.8165) > 1e-4 {
		t.Fatalf("std = %v, want 0.8165", b.Std)
	}
	if b.ZScore != 0 {
		t.Fatalf("zscore = %v, want 0", b.ZScore)
	}
}

func TestScoreConstantSeries(t *testing.T) {
	scored := Score(makeBars([]float64{50, 50, 50, 50, 50, 50}), 4)
	for i, b := range scored {
		if i < 3 {
			if b.Scored {
				t.Fatalf("bar %d should be unscored", i)
			}
			continue
		}
		if !b.Scored {
			t.Fatalf("bar %d should be scored", i)
		}
		if b.Std != 0 || b.ZScore != 0 {
			t.Fatalf("bar %d: std=%v zscore=%v, want zeros", i, b.Std, b.ZScore)
		}
		if math.IsNaN(b.ZScore) {
			t.Fatalf("bar %d: zscore is NaN", i)
		}
	}
}

func TestScoreWindowOne(t *testing.T) {
	scored := Score(makeBars([]float64{100, 102, 99}), 1)
	for i, b := range scored {
		if !b.Scored {
			t.Fatalf("bar %d should be scored with window=1", i)
		}
		if b.Mean != b.Close || b.Std != 0 || b.ZScore != 0 {
			t.Fatalf("bar %d: mean=%v std=%v z=%v", i, b.Mean, b.Std, b.ZScore)
		}
	}
}

func TestScoreLastMatchesScore(t *testing.T) {
	bars := makeBars([]float64{100, 102, 101, 105, 99, 103, 97, 104})
	for window := 1; window <= len(bars); window++ {
		full := Score(bars, window)
		last, ok := ScoreLast(bars, window)
		if !ok {
			t.Fatalf("window %d: expected ok", window)
		}
		want := full[len(full)-1]
		if last.Mean != want.Mean || last.Std != want.Std || last.ZScore != want.ZScore {
			t.Fatalf("window %d: ScoreLast %+v != Score tail %+v", window, last, want)
		}
	}
}

func TestScoreLastShortSeries(t *testing.T) {
	if _, ok := ScoreLast(makeBars([]float64{100, 101}), 3); ok {
		t.Fatalf("expected ok=false for series shorter than window")
	}
}
