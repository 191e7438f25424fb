package repository

import (
	"context"

	"ZWatch/internal/domain/models"
)

// EventPublisher publishes backtest rows and live signal events to the
// message bus.
type EventPublisher interface {
	PublishRows(ctx context.Context, runID string, rows []models.SimulatedBar) error
	PublishEvent(ctx context.Context, ev *models.SignalEvent) error
	Close() error
}
