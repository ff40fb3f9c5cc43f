package di

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	domrepo "AlphaDesk/internal/domain/repository"
	domsvc "AlphaDesk/internal/domain/service"
	"AlphaDesk/internal/handler/api"
	mid "AlphaDesk/internal/middleware"
	internalrepo "AlphaDesk/internal/repository"
	svccache "AlphaDesk/internal/service/cache"
	"AlphaDesk/internal/service/finnhub"
	"AlphaDesk/internal/service/venue"
	"AlphaDesk/internal/services/analytics"
	"AlphaDesk/internal/services/pods"
	"AlphaDesk/internal/usecase"
	"AlphaDesk/internal/usecase/alpha"
	"AlphaDesk/internal/usecase/execution"
	"AlphaDesk/internal/usecase/ingest"
	"AlphaDesk/internal/usecase/portfolio"
	"AlphaDesk/internal/usecase/risk"
	"AlphaDesk/internal/usecase/trading"
	"AlphaDesk/pkg/cache"
	pkgch "AlphaDesk/pkg/clickhouse"
	"AlphaDesk/pkg/config"
	xhttp "AlphaDesk/pkg/http"
	httpmw "AlphaDesk/pkg/http/middleware"
	pkgkafka "AlphaDesk/pkg/kafka"
	"AlphaDesk/pkg/logger"
	"AlphaDesk/pkg/metrics"
	"AlphaDesk/pkg/scheduler"
	"AlphaDesk/pkg/server"
)

const (
	orderTTL        = 7 * 24 * time.Hour
	tickBatchSize   = 500
	schemaTimeout   = 10 * time.Second
	jobTimeout      = 30 * time.Second
	pipelineMaxRPS  = 50
	pipelineBuffer  = 2000
	serviceName     = "alphadesk"
	errorFlushEvery = 30 * time.Second
)

// ProvideLogger builds the root logger from config.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("service", serviceName), logger.String("env", cfg.Environment)), nil
}

// ProvideRegisterer returns the process-wide Prometheus registerer.
func ProvideRegisterer() prometheus.Registerer {
	return prometheus.DefaultRegisterer
}

// ProvideMetrics creates the Prometheus recorder shared by all components.
func ProvideMetrics(reg prometheus.Registerer) *metrics.Recorder {
	return metrics.New(reg)
}

// ProvideClickHouseClient connects to ClickHouse and applies the schema.
func ProvideClickHouseClient(cfg *config.Config, l *logger.Logger) (*pkgch.Client, func(), error) {
	client, err := pkgch.NewClient(
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database, cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithPool(10, 5, 5*time.Minute),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()
	if err := client.InitSchema(ctx, pkgch.Schema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	l.Info("clickhouse ready", logger.String("database", cfg.ClickHouse.Database))

	cleanup := func() {
		if err := client.Close(); err != nil {
			l.Warn("clickhouse close failed", logger.Error(err))
		}
	}
	return client, cleanup, nil
}

// ProvideKafkaProducer creates the event producer. It returns nil when no
// brokers are configured. With logging.error_topic set, error logs are
// aggregated and shipped through the same producer.
func ProvideKafkaProducer(cfg *config.Config, reg prometheus.Registerer, l *logger.Logger) (*pkgkafka.Producer, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerMetrics(reg),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}

	if cfg.Logging.ErrorTopic != "" {
		l.AddCollector(&logger.CollectionConfig{
			Service:      serviceName,
			TimeInterval: errorFlushEvery,
			Topic:        cfg.Logging.ErrorTopic,
			Publisher:    producer,
		})
	}
	l.Info("kafka producer ready", logger.Strings("brokers", cfg.Kafka.Brokers))

	cleanup := func() {
		l.RemoveCollector()
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close failed", logger.Error(err))
		}
	}
	return producer, cleanup, nil
}

// ProvideEventPublisher publishes domain events to Kafka, or drops them
// when there is no producer.
func ProvideEventPublisher(p *pkgkafka.Producer, cfg *config.Config) domrepo.EventPublisher {
	if p == nil {
		return internalrepo.NopPublisher{}
	}
	return internalrepo.NewKafkaPublisher(p, cfg.Kafka.Topics.Events)
}

// ProvideCache returns Redis when enabled, otherwise an in-process cache.
func ProvideCache(cfg *config.Config, l *logger.Logger) (cache.Service, func(), error) {
	var (
		c   cache.Service
		err error
	)
	if cfg.Redis.Enabled {
		c, err = cache.NewRedisCache(
			cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
			cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
			cache.WithRedisPrefix(cfg.Redis.Prefix),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
	} else {
		c = cache.NewMemoryCache()
		l.Warn("redis disabled, state will not survive restarts")
	}
	cleanup := func() {
		if err := c.Close(); err != nil {
			l.Warn("cache close failed", logger.Error(err))
		}
	}
	return c, cleanup, nil
}

func ProvideStateStore(c cache.Service) domrepo.StateStore {
	return internalrepo.NewCacheStateStore(c, orderTTL)
}

func ProvideAuditStore(ch *pkgch.Client, cfg *config.Config) domrepo.AuditStore {
	return internalrepo.NewCHAuditStore(ch.DB(), cfg.ClickHouse.Database)
}

func ProvideFeatureStore(ch *pkgch.Client, cfg *config.Config) domrepo.FeatureStore {
	return internalrepo.NewCHFeatureStore(ch.DB(), cfg.ClickHouse.Database)
}

// ProvideMarketData serves candle history through a short-lived cache.
func ProvideMarketData(fs domrepo.FeatureStore, cfg *config.Config) domrepo.MarketData {
	tf := domrepo.NormalizeTimeframe(cfg.History.Timeframe)
	return internalrepo.NewHistoryStore(fs, tf, svccache.NewTTLCache(0), cfg.History.CacheTTL)
}

// ProvidePods builds the enabled pods. The model client is only created
// when a model service is configured.
func ProvidePods(cfg *config.Config) ([]domsvc.Pod, error) {
	var deps pods.Deps
	if cfg.ModelService.URL != "" {
		deps.Predictor = analytics.NewHTTPPredictor(cfg.ModelService.URL, cfg.ModelService.Timeout, cfg.ModelService.Retries)
	}
	out, err := pods.NewRegistry().Build(cfg.Alpha.Pods, deps)
	if err != nil {
		return nil, fmt.Errorf("build pods: %w", err)
	}
	return out, nil
}

func ProvideAllocator(cfg *config.Config, ps []domsvc.Pod, store domrepo.StateStore, m domrepo.Metrics, l *logger.Logger) (*alpha.Allocator, error) {
	return alpha.NewAllocator(cfg.Alpha.Allocator, ps,
		alpha.WithStateStore(store),
		alpha.WithAllocatorMetrics(m),
		alpha.WithAllocatorLogger(l),
	)
}

func ProvideAlphaEngine(
	cfg *config.Config,
	ps []domsvc.Pod,
	alloc *alpha.Allocator,
	md domrepo.MarketData,
	pub domrepo.EventPublisher,
	m domrepo.Metrics,
	l *logger.Logger,
) *alpha.Engine {
	return alpha.NewEngine(cfg.Alpha, ps, alloc, md, cfg.History.Window,
		alpha.WithMetrics(m),
		alpha.WithPublisher(pub),
		alpha.WithLogger(l),
	)
}

func ProvideBook(cfg *config.Config) *portfolio.Book {
	return portfolio.NewBook(cfg.Execution.InitialEquity)
}

func ProvideRiskManager(
	cfg *config.Config,
	book *portfolio.Book,
	md domrepo.MarketData,
	store domrepo.StateStore,
	audit domrepo.AuditStore,
	m domrepo.Metrics,
	l *logger.Logger,
) (*risk.Manager, error) {
	return risk.NewManager(cfg.Risk, book, md,
		risk.WithStateStore(store),
		risk.WithAuditStore(audit),
		risk.WithMetrics(m),
		risk.WithLogger(l),
	)
}

func ProvidePaperVenue() *venue.Paper {
	return venue.NewPaper()
}

// ProvideExecutionEngine registers the paper venue and, when configured,
// the live REST venue. Closed trades feed the allocator and the sizing
// statistics, and the risk manager liquidates through the engine.
func ProvideExecutionEngine(
	cfg *config.Config,
	rm *risk.Manager,
	book *portfolio.Book,
	paper *venue.Paper,
	alloc *alpha.Allocator,
	ps []domsvc.Pod,
	store domrepo.StateStore,
	audit domrepo.AuditStore,
	pub domrepo.EventPublisher,
	m domrepo.Metrics,
	l *logger.Logger,
) (*execution.Engine, error) {
	opts := []execution.Option{
		execution.WithVenue(paper.Name(), paper),
		execution.WithStateStore(store),
		execution.WithAuditStore(audit),
		execution.WithPublisher(pub),
		execution.WithMetrics(m),
		execution.WithLogger(l),
		execution.WithTradeListener(trading.OutcomeListener(alloc, rm, ps)),
	}
	if cfg.Execution.Venue.BaseURL != "" {
		live := venue.NewREST(cfg.Execution.Venue, venue.WithLogger(l))
		opts = append(opts, execution.WithVenue(live.Name(), live))
	}
	engine, err := execution.NewEngine(cfg.Execution, rm, book, opts...)
	if err != nil {
		return nil, fmt.Errorf("execution engine: %w", err)
	}
	rm.SetLiquidator(engine)
	return engine, nil
}

func ProvidePipeline(
	cfg *config.Config,
	a *alpha.Engine,
	rm *risk.Manager,
	engine *execution.Engine,
	paper *venue.Paper,
	m domrepo.Metrics,
	l *logger.Logger,
) *trading.Pipeline {
	return trading.NewPipeline(a, rm, engine,
		trading.WithObserver(paper),
		trading.WithMetrics(m),
		trading.WithLogger(l),
		trading.WithMinInterval(cfg.Source.MinInterval),
		trading.WithBuffer(cfg.Source.BufferSize),
	)
}

// ProvideTickProcessor routes pushed ticks into the pipeline and, when
// source.store_ticks is set, batches them into ClickHouse.
func ProvideTickProcessor(cfg *config.Config, pipe *trading.Pipeline, ch *pkgch.Client, m domrepo.Metrics, l *logger.Logger) *ingest.TickProcessor {
	opts := []ingest.ProcessorOption{
		ingest.WithProcessorMetrics(m),
		ingest.WithProcessorLogger(l),
	}
	if cfg.Source.StoreTicks {
		store := internalrepo.NewCHTickStorage(ch.DB(), cfg.ClickHouse.Database)
		opts = append(opts, ingest.WithStorage(store, tickBatchSize, cfg.Source.StoreInterval))
	}
	return ingest.NewTickProcessor(pipe, opts...)
}

// ProvideSource picks the push data source. It returns nil for "none".
func ProvideSource(cfg *config.Config, proc *ingest.TickProcessor, reg prometheus.Registerer, m domrepo.Metrics, l *logger.Logger) (server.Source, error) {
	switch cfg.Source.Type {
	case "kafka":
		consumer, err := pkgkafka.NewConsumer(
			pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
			pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
			pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
			pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
			pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
			pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
			pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
			pkgkafka.WithConsumerMetrics(reg),
			pkgkafka.WithConsumerLogger(l),
		)
		if err != nil {
			return nil, fmt.Errorf("kafka consumer: %w", err)
		}
		consumer.WithConsumerHook(pkgkafka.TraceHook())
		return ingest.NewKafkaSource(consumer, ingest.NewKafkaTicksHandler(cfg.Kafka.Topics.Ticks, proc, m)), nil
	case "finnhub":
		symbols := cfg.Finnhub.Symbols
		if len(symbols) == 0 {
			symbols = cfg.Symbols
		}
		stream := finnhub.New(cfg.Finnhub.APIKey, cfg.Finnhub.WebSocketURL, symbols,
			cfg.Finnhub.ReconnectDelay, cfg.Finnhub.PingInterval, finnhub.WithLogger(l))
		pipe := mid.NewRealtimePipeline(proc,
			mid.WithMaxRPS(pipelineMaxRPS),
			mid.WithBufferSize(pipelineBuffer),
			mid.WithPipelineMetrics(m),
			mid.WithPipelineLogger(l),
		)
		return ingest.NewTickCollector(stream, proc,
			ingest.WithPipeline(pipe),
			ingest.WithCollectorMetrics(m),
			ingest.WithCollectorLogger(l),
		), nil
	default:
		l.Warn("no push source configured, scheduled scans only")
		return nil, nil
	}
}

func ProvideCandles(fs domrepo.FeatureStore) *usecase.CandlesUseCase {
	return usecase.NewCandlesUseCase(fs)
}

func ProvideOpsHandler(
	a *alpha.Engine,
	alloc *alpha.Allocator,
	rm *risk.Manager,
	engine *execution.Engine,
	pipe *trading.Pipeline,
	candles *usecase.CandlesUseCase,
	l *logger.Logger,
) *api.OpsHandler {
	return api.NewOpsHandler(l, api.Deps{
		Alpha:     a,
		Weights:   alloc,
		Risk:      rm,
		Execution: engine,
		Router:    pipe,
		Candles:   candles,
	})
}

// ProvideHTTPServer serves the ops API and, when enabled, /metrics.
func ProvideHTTPServer(cfg *config.Config, h *api.OpsHandler, reg prometheus.Registerer, l *logger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, promhttp.Handler(), httpmw.NewHTTPMetrics(reg)))
	}
	return xhttp.NewServer(h, opts...)
}

// ProvideScheduler registers the periodic jobs. Jobs are not started here.
func ProvideScheduler(
	cfg *config.Config,
	alloc *alpha.Allocator,
	engine *execution.Engine,
	pipe *trading.Pipeline,
	l *logger.Logger,
) (*scheduler.Scheduler, error) {
	s := scheduler.New(scheduler.WithLogger(l), scheduler.WithJobTimeout(jobTimeout))
	if err := trading.RegisterJobs(s, cfg.Scheduler, alloc, engine, pipe, cfg.Symbols, l); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	return s, nil
}

// ProvideApp assembles the lifecycle. Restore order matters: pod weights,
// then the risk config, then open positions.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	alloc *alpha.Allocator,
	a *alpha.Engine,
	rm *risk.Manager,
	engine *execution.Engine,
	pipe *trading.Pipeline,
	proc *ingest.TickProcessor,
	src server.Source,
	sched *scheduler.Scheduler,
	srv *xhttp.Server,
) *server.App {
	return server.New(server.Components{
		Symbols:   cfg.Symbols,
		Restorers: []server.Restorer{alloc, rm, engine},
		Warmer:    a,
		Executor:  engine,
		Runners:   []server.Runner{pipe, proc},
		Source:    src,
		Scheduler: sched,
		HTTP:      srv,
		Persister: alloc,
		Closers:   []io.Closer{proc},
	}, l, cfg.Server.ShutdownTimeout)
}
