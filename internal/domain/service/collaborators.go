package service

import (
	"context"
	"time"

	"ZWatch/internal/domain/models"
)

// MarketData supplies closed bars from the exchange. FetchSeries returns
// bars ordered ascending with unique timestamps inside [start, end); it
// fails with a data-unavailable error when the exchange returns nothing.
type MarketData interface {
	FetchSeries(ctx context.Context, symbol string, start, end time.Time, iv models.Interval) ([]models.Bar, error)
	FetchLatestClosedBar(ctx context.Context, symbol string, iv models.Interval) (models.Bar, error)
}

// Notifier delivers operator-facing status text. Send reports whether the
// message was delivered; it never fails the caller.
type Notifier interface {
	Send(ctx context.Context, text string) bool
}

// TickStream is a live trade/price feed used for observability alongside
// the closed-bar polling path.
type TickStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Tick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}
