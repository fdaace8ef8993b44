//go:build wireinject
// +build wireinject

package di

import (
	"SignalCore/pkg/config"
	"SignalCore/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideRegisterer,
		ProvideMetrics,

		// Infrastructure clients
		ProvideStore,
		ProvideEventLog,
		ProvideKafkaProducer,
		ProvideBreaker,
		ProvidePublisher,
		ProvideKafkaConsumer,

		// Domain services
		ProvideMarketCache,
		ProvideDecayMonitor,
		ProvideCapacityMonitor,
		ProvideAnomalyDetector,
		ProvideRegimeDetector,
		ProvideCorrelationEngine,
		ProvideEstimator,
		ProvideOptimizer,

		// Use cases
		ProvideEmitter,
		ProvideProjector,
		ProvideAggregator,
		ProvideTickProcessor,
		ProvideMessageHandlers,
		ProvideJobs,
		ProvideScheduler,

		// Application server
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
