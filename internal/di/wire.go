//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	domrepo "AlphaDesk/internal/domain/repository"
	"AlphaDesk/pkg/config"
	"AlphaDesk/pkg/metrics"
	"AlphaDesk/pkg/server"
)

var infraSet = wire.NewSet(
	ProvideLogger,
	ProvideRegisterer,
	ProvideMetrics,
	wire.Bind(new(domrepo.Metrics), new(*metrics.Recorder)),
	ProvideClickHouseClient,
	ProvideKafkaProducer,
	ProvideCache,
)

var repositorySet = wire.NewSet(
	ProvideEventPublisher,
	ProvideStateStore,
	ProvideAuditStore,
	ProvideFeatureStore,
	ProvideMarketData,
)

var tradingSet = wire.NewSet(
	ProvidePods,
	ProvideAllocator,
	ProvideAlphaEngine,
	ProvideBook,
	ProvideRiskManager,
	ProvidePaperVenue,
	ProvideExecutionEngine,
	ProvidePipeline,
	ProvideTickProcessor,
	ProvideSource,
	ProvideScheduler,
)

var apiSet = wire.NewSet(
	ProvideCandles,
	ProvideOpsHandler,
	ProvideHTTPServer,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(infraSet, repositorySet, tradingSet, apiSet, ProvideApp)
	return nil, nil, nil
}
