package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ZWatch/internal/domain/models"
	domrepo "ZWatch/internal/domain/repository"
	domsvc "ZWatch/internal/domain/service"
	"ZWatch/internal/service/cache"
	pkgcache "ZWatch/pkg/cache"
	"ZWatch/pkg/util"
)

// SeriesUseCase fetches closed-bar series from the exchange with a cache in
// front. Cached entries are keyed by symbol, interval and the aligned range,
// so repeated backtests over the same window hit the cache instead of the
// exchange.
type SeriesUseCase struct {
	market  domsvc.MarketData
	cache   cache.BytesCache
	metrics domrepo.Metrics
	ttl     time.Duration
	maxBars int
}

func NewSeriesUseCase(market domsvc.MarketData, c cache.BytesCache, metrics domrepo.Metrics, ttl time.Duration, maxBars int) *SeriesUseCase {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxBars <= 0 {
		maxBars = 50000
	}
	return &SeriesUseCase{market: market, cache: c, metrics: metrics, ttl: ttl, maxBars: maxBars}
}

// ResolveRange turns the request's from/to/days fields into an aligned
// [start, end) range. Explicit from/to win over days; the end defaults to
// the current interval boundary so the still-open bar is excluded.
func ResolveRange(fromStr, toStr string, days int, iv models.Interval, now time.Time) (time.Time, time.Time, error) {
	if days <= 0 {
		days = 30
	}
	end := util.ParseTimeDefault(toStr, now)
	start := util.ParseTimeDefault(fromStr, end.AddDate(0, 0, -days))
	start, end = util.AlignRange(start, end, iv.Duration())
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("empty range: from %s to %s", start, end)
	}
	return start, end, nil
}

// Fetch returns the bar series for [start, end), serving from cache when a
// fresh entry exists.
func (uc *SeriesUseCase) Fetch(ctx context.Context, symbol string, iv models.Interval, start, end time.Time) ([]models.Bar, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	key := seriesKey(symbol, iv, start, end)

	if uc.cache != nil {
		if b, ok, err := uc.cache.GetBytes(key); err == nil && ok {
			var bars []models.Bar
			if err := json.Unmarshal(b, &bars); err == nil && len(bars) > 0 {
				return bars, nil
			}
		}
	}

	bars, err := uc.market.FetchSeries(ctx, symbol, start, end, iv)
	if err != nil {
		return nil, err
	}
	if len(bars) > uc.maxBars {
		bars = bars[len(bars)-uc.maxBars:]
	}
	uc.metrics.RecordBarsFetched(symbol, len(bars))

	if uc.cache != nil {
		if b, err := json.Marshal(bars); err == nil {
			_ = uc.cache.SetBytes(key, b, uc.ttl)
		}
	}
	return bars, nil
}

func seriesKey(symbol string, iv models.Interval, start, end time.Time) string {
	return pkgcache.GenerateKeyWithParams("series", symbol, iv, start.Unix(), end.Unix())
}
