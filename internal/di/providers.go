package di

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"

	"SignalCore/internal/domain/models"
	"SignalCore/internal/domain/repository"
	"SignalCore/internal/handler/api"
	mid "SignalCore/internal/middleware"
	internalrepo "SignalCore/internal/repository"
	"SignalCore/internal/scheduler"
	svcmetrics "SignalCore/internal/service/metrics"
	"SignalCore/internal/service/ratelimit"
	"SignalCore/internal/services/analytics"
	"SignalCore/internal/services/costmodel"
	"SignalCore/internal/services/marketstate"
	"SignalCore/internal/services/monitor"
	"SignalCore/internal/services/portfolio"
	"SignalCore/internal/usecase"
	"SignalCore/pkg/breaker"
	"SignalCore/pkg/cache"
	pkgch "SignalCore/pkg/clickhouse"
	"SignalCore/pkg/config"
	xhttp "SignalCore/pkg/http"
	pkgkafka "SignalCore/pkg/kafka"
	applogger "SignalCore/pkg/logger"
	"SignalCore/pkg/metrics"
	"SignalCore/pkg/server"
	pkgsqlite "SignalCore/pkg/sqlite"
)

const serviceName = "signalcore"

// ProvideLogger creates the structured application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	lg, err := applogger.New(&applogger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: serviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return lg, nil
}

// ProvideRegisterer returns the registry scraped by the metrics endpoint.
func ProvideRegisterer() prometheus.Registerer {
	return prometheus.DefaultRegisterer
}

// ProvideMetrics creates a Prometheus metrics recorder and registers the
// domain collectors.
func ProvideMetrics(reg prometheus.Registerer) repository.Metrics {
	svcmetrics.Register(reg)
	return metrics.New(reg)
}

// ProvideStore creates the Redis-backed projection store.
func ProvideStore(cfg *config.Config) (cache.Store, func(), error) {
	store, err := cache.NewRedisStore(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.PoolSize/4),
		cache.WithRedisTimeouts(cfg.Redis.DialTimeout, cfg.Redis.ReadTimeout, cfg.Redis.WriteTimeout),
		cache.WithRedisPrefix(cfg.Redis.KeyPrefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis store: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

// ProvideClickHouseClient creates a ClickHouse client.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideEventLog selects the event log backend. The schema is created by
// EventLog.Init when the app starts.
func ProvideEventLog(cfg *config.Config, lg *applogger.Logger) (repository.EventLog, func(), error) {
	switch cfg.EventLog.Backend {
	case "sqlite":
		client, err := pkgsqlite.NewClient(
			pkgsqlite.WithPath(cfg.SQLite.Path),
			pkgsqlite.WithBusyTimeout(cfg.SQLite.BusyTimeout),
			pkgsqlite.WithWAL(true),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite client: %w", err)
		}
		log := internalrepo.NewSQLiteEventLog(client, cfg.EventLog.Table)
		log.SetLogger(lg)
		return log, func() { _ = client.Close() }, nil
	default:
		client, err := ProvideClickHouseClient(cfg)
		if err != nil {
			return nil, nil, err
		}
		log := internalrepo.NewClickHouseEventLog(client, cfg.EventLog.Table)
		log.SetLogger(lg)
		return log, func() { _ = client.Close() }, nil
	}
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithKeyPartitioning(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideBreaker guards the producer. Transitions are counted as errors.
func ProvideBreaker(cfg *config.Config, m repository.Metrics) *breaker.Breaker {
	return breaker.New("kafka-publisher",
		breaker.WithRetries(cfg.Kafka.Producer.PublishRetry, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		breaker.WithStateChange(func(_ string, _, to gobreaker.State) {
			m.RecordError("publisher_breaker_" + to.String())
		}),
	)
}

// ProvidePublisher creates the Kafka publisher and routes aggregated error
// logs through it to the alerts topic.
func ProvidePublisher(producer *pkgkafka.Producer, br *breaker.Breaker, cfg *config.Config, lg *applogger.Logger) (*internalrepo.KafkaPublisher, func()) {
	pub := internalrepo.NewKafkaPublisher(producer, br)
	lg.AddCollector(&applogger.CollectionConfig{
		TimeInterval:   cfg.Alerts.FlushInterval,
		CountThreshold: cfg.Alerts.CountThreshold,
		Topic:          models.TopicAlerts,
		Service:        serviceName,
		Publisher:      pub,
	})
	return pub, func() {
		lg.RemoveCollector()
		_ = pub.Close()
	}
}

func ProvideEmitter(pub *internalrepo.KafkaPublisher, m repository.Metrics) *usecase.Emitter {
	return usecase.NewEmitter(pub, m)
}

func ProvideMarketCache(cfg *config.Config) *marketstate.Cache {
	return marketstate.NewCache(cfg.Signal.MarketState)
}

func ProvideDecayMonitor(cfg *config.Config) *monitor.DecayMonitor {
	return monitor.NewDecayMonitor(cfg.Signal.Decay)
}

func ProvideCapacityMonitor(cfg *config.Config) *monitor.CapacityMonitor {
	return monitor.NewCapacityMonitor(cfg.Signal.Capacity, cfg.Signal.Cost)
}

func ProvideProjector(
	store cache.Store,
	log repository.EventLog,
	cfg *config.Config,
	decay *monitor.DecayMonitor,
	capacity *monitor.CapacityMonitor,
	lg *applogger.Logger,
) *usecase.Projector {
	return usecase.NewProjector(store, log, cfg.Signal.Consensus, decay, capacity, cfg.Redis.CASRetries, lg)
}

func ProvideEstimator(cfg *config.Config, market *marketstate.Cache) *costmodel.Estimator {
	return costmodel.NewEstimator(cfg.Signal.Cost, cfg.Signal.Portfolio.MaxPositionWeight, market)
}

func ProvideOptimizer(cfg *config.Config, market *marketstate.Cache, projector *usecase.Projector) *portfolio.Optimizer {
	return portfolio.NewOptimizer(cfg.Signal.Portfolio, market, projector)
}

func ProvideAnomalyDetector(cfg *config.Config, market *marketstate.Cache) *analytics.AnomalyDetector {
	return analytics.NewAnomalyDetector(cfg.Signal.Anomaly, market)
}

func ProvideRegimeDetector(cfg *config.Config, market *marketstate.Cache) *analytics.RegimeDetector {
	return analytics.NewRegimeDetector(cfg.Signal.Regime, market)
}

func ProvideCorrelationEngine(cfg *config.Config, market *marketstate.Cache) *analytics.CorrelationEngine {
	return analytics.NewCorrelationEngine(cfg.Signal.Correlation, market)
}

// ProvideAggregator reads weights and lifecycle status from the projection.
func ProvideAggregator(cfg *config.Config, projector *usecase.Projector, emit *usecase.Emitter, lg *applogger.Logger) *usecase.SignalAggregator {
	return usecase.NewSignalAggregator(cfg.Signal.Consensus, projector, projector,
		usecase.NewConsensusPublisher(emit, lg),
		usecase.WithAggregatorLogger(lg),
	)
}

func ProvideTickProcessor(
	market *marketstate.Cache,
	anomaly *analytics.AnomalyDetector,
	regime *analytics.RegimeDetector,
	emit *usecase.Emitter,
	m repository.Metrics,
	lg *applogger.Logger,
) *usecase.TickProcessor {
	return usecase.NewTickProcessor(market, anomaly, regime, emit, m, lg)
}

// ProvideMessageHandlers builds one handler per consumed topic.
func ProvideMessageHandlers(
	cfg *config.Config,
	proc *usecase.TickProcessor,
	aggregator *usecase.SignalAggregator,
	estimator *costmodel.Estimator,
	optimizer *portfolio.Optimizer,
	projector *usecase.Projector,
	emit *usecase.Emitter,
	m repository.Metrics,
	lg *applogger.Logger,
) []pkgkafka.MessageHandler {
	// per-instrument throttle between the ticks topic and the processor
	pipe := mid.NewRealtimePipeline(proc, m,
		mid.WithLimiter(ratelimit.New(cfg.Signal.Intake.RatePerInstrument, cfg.Signal.Intake.Burst)),
	)

	handlers := []pkgkafka.MessageHandler{usecase.NewKafkaTicksHandler(pipe, m)}
	for _, topic := range usecase.SignalTopics {
		handlers = append(handlers, usecase.NewSignalHandler(topic, aggregator, m))
	}
	handlers = append(handlers,
		usecase.NewDecisionHandler(estimator, emit, m, lg),
		usecase.NewVerdictHandler(optimizer),
	)
	for _, topic := range usecase.ProjectionTopics {
		handlers = append(handlers, usecase.NewProjectionHandler(topic, projector, estimator, emit, lg))
	}
	return handlers
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML.
func ProvideKafkaConsumer(cfg *config.Config, m repository.Metrics, lg *applogger.Logger) (*pkgkafka.Consumer, error) {
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerStartOffset(cfg.Kafka.Consumer.StartOffset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(lg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(
		pkgkafka.TimingHook(func(topic string, d time.Duration, err error) {
			m.RecordLatency("consume:"+topic, d.Seconds())
			if err != nil {
				m.RecordError("consume:" + topic)
			}
		}),
	))
	return consumer, nil
}

func ProvideJobs(
	cfg *config.Config,
	corr *analytics.CorrelationEngine,
	regime *analytics.RegimeDetector,
	estimator *costmodel.Estimator,
	optimizer *portfolio.Optimizer,
	projector *usecase.Projector,
	decay *monitor.DecayMonitor,
	log repository.EventLog,
	emit *usecase.Emitter,
	lg *applogger.Logger,
) *usecase.Jobs {
	return usecase.NewJobs(corr, regime, estimator, optimizer, projector, decay, log, emit, lg, cfg.Signal.Cost.CalibrationWindow)
}

// ProvideScheduler registers the periodic jobs. Locks live in the projection
// store so replicas share them.
func ProvideScheduler(cfg *config.Config, store cache.Store, jobs *usecase.Jobs, lg *applogger.Logger) (*scheduler.Scheduler, error) {
	s := scheduler.New(store, cfg.Schedule.LockTTL, lg)
	err := s.Register(
		scheduler.Job{Name: "correlation", Spec: cfg.Schedule.Correlation, Run: jobs.Correlation},
		scheduler.Job{Name: "recalibration", Spec: cfg.Schedule.Recalibration, Run: jobs.Recalibrate},
		scheduler.Job{Name: "decay", Spec: cfg.Schedule.Decay, Run: jobs.EvaluateDecay},
		scheduler.Job{Name: "rebalance", Spec: cfg.Schedule.Rebalance, Run: jobs.Rebalance},
	)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	return s, nil
}

// ProvideHTTPServer serves the projection read API and metrics.
func ProvideHTTPServer(cfg *config.Config, lg *applogger.Logger, projector *usecase.Projector) *xhttp.Server {
	path := ""
	if cfg.Metrics.Enabled {
		path = cfg.Metrics.Path
	}
	return xhttp.NewServer(lg, []xhttp.Handler{api.NewStateEchoHandler(lg, projector)},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		xhttp.WithMetrics(path, nil),
	)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	lg *applogger.Logger,
	log repository.EventLog,
	consumer *pkgkafka.Consumer,
	handlers []pkgkafka.MessageHandler,
	sched *scheduler.Scheduler,
	jobs *usecase.Jobs,
	aggregator *usecase.SignalAggregator,
	projector *usecase.Projector,
	srv *xhttp.Server,
) *server.App {
	return server.New(cfg, lg, log, consumer, handlers, sched, jobs, aggregator, projector, srv)
}
