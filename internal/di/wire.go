//go:build wireinject
// +build wireinject

package di

import (
	"QuotePull/pkg/config"
	"QuotePull/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideRedisClient,
		ProvideEventPublisher,

		// Repositories
		ProvideIngestionWriter,
		ProvideRunLedger,

		// Fetch pipeline
		ProvideProxyPool,
		ProvideRateController,
		ProvideUpstreamClient,
		ProvideFetchExecutor,

		// Orchestration
		ProvideOrchestrator,
		ProvideUniverse,
		ProvideScheduler,

		// HTTP and application server
		ProvideAPIHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
