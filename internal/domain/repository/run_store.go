package repository

import (
	"context"

	"ZWatch/internal/domain/models"
)

// RunStore persists backtest runs and their per-bar rows. SaveRun appends a
// new version of the run record; GetRun resolves the latest version.
type RunStore interface {
	Init(ctx context.Context) error // ensure tables exist
	SaveRun(ctx context.Context, run *models.BacktestRun) error
	GetRun(ctx context.Context, id string) (*models.BacktestRun, error)
	SaveRows(ctx context.Context, runID string, rows []models.SimulatedBar) error
	GetRows(ctx context.Context, runID string) ([]models.SimulatedBar, error)
	Health(ctx context.Context) error
	Close() error
}
