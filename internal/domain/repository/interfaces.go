package repository

import (
	"context"

	"CreditChain/internal/domain/models"
)

// CalibrationFeed returns raw migration rates keyed "{from}_to_{to}" for a sector.
// An empty sector asks for the market-wide calibration.
type CalibrationFeed interface {
	Fetch(ctx context.Context, sector string) (map[string]float64, error)
}

// RecordSink persists finished forecasts.
type RecordSink interface {
	Init(ctx context.Context) error
	Store(ctx context.Context, rec *models.ForecastRecord) error
	Health(ctx context.Context) error
	Close() error
}

// RecordPublisher announces finished forecasts to downstream consumers.
type RecordPublisher interface {
	Publish(ctx context.Context, rec *models.ForecastRecord) error
	Close() error
}

type Metrics interface {
	RecordForecast(state, source string)
	RecordFallback(stage string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordSimulation(runs int)
}
