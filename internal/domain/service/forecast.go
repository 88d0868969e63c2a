package service

import (
	"context"

	"CreditChain/internal/domain/models"
)

// Forecaster runs the full default-probability pipeline for one entity.
type Forecaster interface {
	ComprehensiveAnalysis(ctx context.Context, req models.ForecastRequest) (*models.ForecastRecord, error)
}

// MatrixBuilder produces calibrated transition matrices.
type MatrixBuilder interface {
	BuildMatrix(ctx context.Context, sector string, postEvent bool, source models.DataSource) (models.TransitionMatrix, error)
}
