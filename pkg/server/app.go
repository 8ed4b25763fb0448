package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"QuotePull/internal/domain/repository"
	"QuotePull/internal/scheduler"
	pkgch "QuotePull/pkg/clickhouse"
	"QuotePull/pkg/config"
	xhttp "QuotePull/pkg/http"
	applogger "QuotePull/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	logger      *applogger.Logger
	sched       *scheduler.Scheduler
	httpHandler xhttp.Handler
	chClient    *pkgch.Client
	redisClient *redis.Client
	events      repository.EventPublisher
	httpServer  *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	lgr *applogger.Logger,
	sched *scheduler.Scheduler,
	handler xhttp.Handler,
	chClient *pkgch.Client,
	redisClient *redis.Client,
	events repository.EventPublisher,
) *App {
	return &App{
		cfg:         cfg,
		logger:      lgr,
		sched:       sched,
		httpHandler: handler,
		chClient:    chClient,
		redisClient: redisClient,
		events:      events,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)

	// Timer and dispatch loops stop when ctx is cancelled.
	a.sched.Start(ctx)
	a.logger.Info("scheduler started",
		applogger.String("trigger_at", a.cfg.Schedule.TriggerAt),
		applogger.String("timezone", a.cfg.Schedule.Timezone))

	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutdown signal received")
	cancel()
	return a.shutdown()
}

// shutdown gracefully stops all services.
func (a *App) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
	}

	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.logger.Warn("event publisher close error", applogger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.logger.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis close error", applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	return nil
}
