//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"CreditChain/pkg/config"
	"CreditChain/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Engine
		ProvideReferenceTables,
		ProvideSectorDeltas,
		ProvideClassifier,
		ProvideCalibrationFeed,
		ProvideRedisCache,
		ProvideMatrixCache,
		ProvideMatrixBuilder,
		ProvideSimulator,

		// Infrastructure clients and repositories
		ProvideClickHouseClient,
		ProvideRecordSink,
		ProvideKafkaProducer,
		ProvideRecordPublisher,
		ProvideKafkaConsumer,

		// Use cases and transport
		ProvideForecastOrchestrator,
		ProvideKafkaRequestsHandler,
		ProvideForecastHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return nil, nil, nil
}
