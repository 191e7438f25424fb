package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"ZWatch/internal/domain/models"
	domsvc "ZWatch/internal/domain/service"
	xhttp "ZWatch/pkg/http"
)

// Client fetches closed bars from a Binance-style klines REST endpoint.
// Ranges are paged backward from the end timestamp, which most gateways
// tolerate better than large forward limits.
type Client struct {
	http      *xhttp.Client
	baseURL   string
	apiKey    string
	pageLimit int
	retryMax  int
	backoff   time.Duration
}

type Option func(*Client)

// WithPageLimit caps the number of bars requested per page.
func WithPageLimit(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageLimit = n
		}
	}
}

// WithRetry sets the per-page retry budget and base backoff.
func WithRetry(max int, backoff time.Duration) Option {
	return func(c *Client) {
		if max > 0 {
			c.retryMax = max
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithAPIKey sets an API key header for gateways that require one.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// New creates a market data client.
func New(httpClient *xhttp.Client, baseURL string, opts ...Option) *Client {
	c := &Client{
		http:      httpClient,
		baseURL:   baseURL,
		pageLimit: 500,
		retryMax:  3,
		backoff:   500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchSeries returns closed bars inside [start, end), ascending with
// unique timestamps. It returns ErrDataUnavailable when the exchange has
// nothing for the range.
func (c *Client) FetchSeries(ctx context.Context, symbol string, start, end time.Time, iv models.Interval) ([]models.Bar, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if !end.After(start) {
		return nil, fmt.Errorf("end must be after start")
	}

	step := iv.Duration()
	cursor := end
	seen := make(map[int64]struct{})
	var bars []models.Bar

	for cursor.After(start) {
		raw, err := c.fetchPage(ctx, symbol, iv, cursor)
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			break
		}
		var first time.Time
		for _, row := range raw {
			bar, ok := rowToBar(row)
			if !ok {
				continue
			}
			if first.IsZero() || bar.Timestamp.Before(first) {
				first = bar.Timestamp
			}
			if bar.Timestamp.Before(start) || !bar.Timestamp.Before(end) {
				continue
			}
			if _, dup := seen[bar.Timestamp.Unix()]; dup {
				continue
			}
			seen[bar.Timestamp.Unix()] = struct{}{}
			bars = append(bars, bar)
		}
		// Advance past the oldest row of the page even when everything in
		// it fell outside the range, or the loop would never terminate.
		prev := cursor.Add(-step * time.Duration(c.pageLimit))
		if !first.IsZero() {
			p := first.Add(-step)
			if p.Before(cursor) {
				prev = p
			}
		}
		cursor = prev
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s %s [%s, %s)", domsvc.ErrDataUnavailable,
			symbol, iv, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// FetchLatestClosedBar returns the most recent fully closed bar for the
// interval. The exchange includes the in-progress bar in its tail, so the
// last row whose close time has passed wins.
func (c *Client) FetchLatestClosedBar(ctx context.Context, symbol string, iv models.Interval) (models.Bar, error) {
	raw, err := c.fetchTail(ctx, symbol, iv, 3)
	if err != nil {
		return models.Bar{}, err
	}
	now := time.Now().UTC()
	var latest models.Bar
	found := false
	for _, row := range raw {
		bar, ok := rowToBar(row)
		if !ok {
			continue
		}
		if bar.Timestamp.Add(iv.Duration()).After(now) {
			continue // still open
		}
		if !found || bar.Timestamp.After(latest.Timestamp) {
			latest = bar
			found = true
		}
	}
	if !found {
		return models.Bar{}, fmt.Errorf("%w: no closed bar for %s %s", domsvc.ErrDataUnavailable, symbol, iv)
	}
	return latest, nil
}

func (c *Client) fetchPage(ctx context.Context, symbol string, iv models.Interval, end time.Time) ([][]interface{}, error) {
	params := map[string][]string{
		"symbol":   {symbol},
		"interval": {string(iv)},
		"endTime":  {strconv.FormatInt(end.UnixMilli(), 10)},
		"limit":    {strconv.Itoa(c.pageLimit)},
	}
	return c.fetchKlines(ctx, params)
}

func (c *Client) fetchTail(ctx context.Context, symbol string, iv models.Interval, n int) ([][]interface{}, error) {
	params := map[string][]string{
		"symbol":   {symbol},
		"interval": {string(iv)},
		"limit":    {strconv.Itoa(n)},
	}
	return c.fetchKlines(ctx, params)
}

func (c *Client) fetchKlines(ctx context.Context, params map[string][]string) ([][]interface{}, error) {
	opts := &xhttp.RequestOptions{
		Method:      http.MethodGet,
		URL:         c.baseURL + "/klines",
		QueryParams: params,
	}
	if c.apiKey != "" {
		opts.Headers = map[string]string{"X-API-KEY": c.apiKey}
	}

	var raw [][]interface{}
	var err error
	backoff := c.backoff
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		raw = raw[:0]
		if err = c.http.SendAndParse(ctx, opts, &raw); err == nil {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("fetch klines: %w", err)
}

// rowToBar reads a Binance-style kline row: open time (ms) at index 0,
// close price at index 4.
func rowToBar(row []interface{}) (models.Bar, bool) {
	if len(row) < 5 {
		return models.Bar{}, false
	}
	ms, ok := toInt64(row[0])
	if !ok {
		return models.Bar{}, false
	}
	cl, ok := toFloat(row[4])
	if !ok {
		return models.Bar{}, false
	}
	return models.Bar{Timestamp: time.UnixMilli(ms).UTC(), Close: cl}, true
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

var _ domsvc.MarketData = (*Client)(nil)
