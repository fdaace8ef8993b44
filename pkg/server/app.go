package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	drepo "SignalCore/internal/domain/repository"
	"SignalCore/internal/scheduler"
	"SignalCore/internal/usecase"
	"SignalCore/pkg/config"
	xhttp "SignalCore/pkg/http"
	pkgkafka "SignalCore/pkg/kafka"
	applogger "SignalCore/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	eventLog   drepo.EventLog
	consumer   *pkgkafka.Consumer
	handlers   []pkgkafka.MessageHandler
	scheduler  *scheduler.Scheduler
	jobs       *usecase.Jobs
	aggregator *usecase.SignalAggregator
	projector  *usecase.Projector
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies. Infrastructure
// clients are released by the cleanup returned from the injector.
func New(
	cfg *config.Config,
	lg *applogger.Logger,
	eventLog drepo.EventLog,
	consumer *pkgkafka.Consumer,
	handlers []pkgkafka.MessageHandler,
	sched *scheduler.Scheduler,
	jobs *usecase.Jobs,
	aggregator *usecase.SignalAggregator,
	projector *usecase.Projector,
	httpServer *xhttp.Server,
) *App {
	return &App{
		cfg:        cfg,
		logger:     lg,
		eventLog:   eventLog,
		consumer:   consumer,
		handlers:   handlers,
		scheduler:  sched,
		jobs:       jobs,
		aggregator: aggregator,
		projector:  projector,
		httpServer: httpServer,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		a.shutdown()
		return err
	}

	<-ctx.Done()
	a.logger.Info("shutdown signal received")
	a.shutdown()
	return nil
}

// Start prepares state and launches every worker without blocking.
func (a *App) Start(ctx context.Context) error {
	if err := a.eventLog.Init(ctx); err != nil {
		return fmt.Errorf("event log init: %w", err)
	}
	if err := a.jobs.Warmup(ctx); err != nil {
		return fmt.Errorf("warmup: %w", err)
	}

	for _, h := range a.handlers {
		a.consumer.RegisterHandler(h)
	}
	if err := a.consumer.Start(); err != nil {
		return fmt.Errorf("kafka consumer: %w", err)
	}
	a.logger.Info("kafka consumer started", applogger.Int("handlers", len(a.handlers)))

	a.scheduler.Start()

	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Replay rebuilds the projection from the event log. With reset the
// projection is cleared first.
func (a *App) Replay(ctx context.Context, since time.Time, reset bool) (int, error) {
	if err := a.eventLog.Init(ctx); err != nil {
		return 0, fmt.Errorf("event log init: %w", err)
	}
	if reset {
		n, err := a.projector.Reset(ctx)
		if err != nil {
			return 0, err
		}
		a.logger.Info("projection cleared", applogger.Int("keys", n))
	}
	n, err := a.projector.Replay(ctx, since)
	if err != nil {
		return n, err
	}
	a.logger.Info("replay complete", applogger.Int("events", n), applogger.Time("since", since))
	return n, nil
}

// shutdown gracefully stops all services.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	a.logger.Info("shutting down...")

	if err := a.consumer.Stop(ctx); err != nil {
		a.logger.Warn("kafka consumer stop error", applogger.Error(err))
	}
	if err := a.scheduler.Stop(ctx); err != nil {
		a.logger.Warn("scheduler stop error", applogger.Error(err))
	}

	// open windows are evaluated now rather than lost
	a.aggregator.Flush()

	if err := a.httpServer.Stop(ctx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
	}

	a.logger.Info("shutdown complete")
}
