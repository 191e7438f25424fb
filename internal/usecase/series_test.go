package usecase

import (
	"context"
	"testing"
	"time"

	"ZWatch/internal/domain/models"
)

func TestSeriesFetchCachesResult(t *testing.T) {
	bars := demoBars()
	market := &fakeMarket{bars: bars}
	metrics := newFakeMetrics()
	uc := NewSeriesUseCase(market, newFakeCache(), metrics, time.Minute, 10000)

	start := bars[0].Timestamp
	end := bars[len(bars)-1].Timestamp.Add(time.Hour)

	first, err := uc.Fetch(context.Background(), "BTCUSDT", models.IV1h, start, end)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(first) != len(bars) {
		t.Fatalf("bars = %d, want %d", len(first), len(bars))
	}
	second, err := uc.Fetch(context.Background(), "BTCUSDT", models.IV1h, start, end)
	if err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if market.fetchCount() != 1 {
		t.Fatalf("exchange hit %d times, want 1", market.fetchCount())
	}
	if len(second) != len(first) {
		t.Fatalf("cached series length %d, want %d", len(second), len(first))
	}
	for i := range first {
		if !second[i].Timestamp.Equal(first[i].Timestamp) || second[i].Close != first[i].Close {
			t.Fatalf("cached bar %d diverges: %+v vs %+v", i, second[i], first[i])
		}
	}
}

func TestSeriesFetchDistinctRangesMissCache(t *testing.T) {
	bars := demoBars()
	market := &fakeMarket{bars: bars}
	uc := NewSeriesUseCase(market, newFakeCache(), newFakeMetrics(), time.Minute, 10000)

	start := bars[0].Timestamp
	if _, err := uc.Fetch(context.Background(), "BTCUSDT", models.IV1h, start, start.Add(10*time.Hour)); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, err := uc.Fetch(context.Background(), "BTCUSDT", models.IV1h, start, start.Add(20*time.Hour)); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if market.fetchCount() != 2 {
		t.Fatalf("exchange hits = %d, want 2", market.fetchCount())
	}
}

func TestSeriesFetchClampsToMaxBars(t *testing.T) {
	bars := demoBars()
	market := &fakeMarket{bars: bars}
	uc := NewSeriesUseCase(market, nil, newFakeMetrics(), time.Minute, 5)

	start := bars[0].Timestamp
	end := bars[len(bars)-1].Timestamp.Add(time.Hour)
	got, err := uc.Fetch(context.Background(), "BTCUSDT", models.IV1h, start, end)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("bars = %d, want 5", len(got))
	}
	// the most recent bars survive the clamp
	if !got[len(got)-1].Timestamp.Equal(bars[len(bars)-1].Timestamp) {
		t.Fatalf("clamp dropped the newest bars")
	}
}

func TestResolveRange(t *testing.T) {
	now := time.Date(2024, 10, 2, 6, 30, 0, 0, time.UTC)

	start, end, err := ResolveRange("", "", 2, models.IV1h, now)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !end.Equal(time.Date(2024, 10, 2, 6, 0, 0, 0, time.UTC)) {
		t.Fatalf("end = %s, want aligned now", end)
	}
	if !start.Equal(end.AddDate(0, 0, -2)) {
		t.Fatalf("start = %s", start)
	}

	start, end, err = ResolveRange("2024-10-01T00:00:00Z", "2024-10-01T12:00:00Z", 30, models.IV1h, now)
	if err != nil {
		t.Fatalf("resolve explicit: %v", err)
	}
	if !start.Equal(time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)) || !end.Equal(time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("explicit range = %s..%s", start, end)
	}

	if _, _, err := ResolveRange("2024-10-02T00:00:00Z", "2024-10-01T00:00:00Z", 30, models.IV1h, now); err == nil {
		t.Fatalf("inverted range accepted")
	}
}
