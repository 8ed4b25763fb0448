package di

import (
	"context"
	"fmt"
	"time"

	"QuotePull/internal/domain/models"
	"QuotePull/internal/domain/repository"
	"QuotePull/internal/fetch"
	"QuotePull/internal/handler/api"
	"QuotePull/internal/ingest"
	"QuotePull/internal/job"
	"QuotePull/internal/proxy"
	"QuotePull/internal/ratelimit"
	"QuotePull/internal/scheduler"
	"QuotePull/internal/universe"
	"QuotePull/internal/upstream"
	pkgch "QuotePull/pkg/clickhouse"
	"QuotePull/pkg/config"
	pkgkafka "QuotePull/pkg/kafka"
	"QuotePull/pkg/logger"
	"QuotePull/pkg/metrics"
	"QuotePull/pkg/server"

	"github.com/redis/go-redis/v9"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideClickHouseClient creates a ClickHouse client and ensures the bar
// table exists.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(pkgch.Config{
		Host:         cfg.ClickHouse.Host,
		Port:         cfg.ClickHouse.Port,
		Database:     cfg.ClickHouse.Database,
		User:         cfg.ClickHouse.User,
		Password:     cfg.ClickHouse.Password,
		UseHTTP:      cfg.ClickHouse.UseHTTP,
		AsyncInsert:  cfg.ClickHouse.AsyncInsert,
		WaitForAsync: cfg.ClickHouse.WaitForAsync,
		DialTimeout:  cfg.ClickHouse.DialTimeout,
		ReadTimeout:  cfg.ClickHouse.ReadTimeout,
		MaxExecTime:  cfg.ClickHouse.MaxExecutionTime,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, ingest.Schema(cfg.ClickHouse.Database, cfg.ClickHouse.Table)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideIngestionWriter creates the ClickHouse bar writer.
func ProvideIngestionWriter(client *pkgch.Client, cfg *config.Config) repository.IngestionWriter {
	return ingest.NewClickHouseWriter(client.DB(), cfg.ClickHouse.Database+"."+cfg.ClickHouse.Table)
}

// ProvideRedisClient creates and pings the Redis client backing the run
// ledger.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// ProvideRunLedger creates the Redis-backed daily run ledger.
func ProvideRunLedger(client *redis.Client) repository.RunLedger {
	return scheduler.NewRedisLedger(client, "")
}

// ProvideEventPublisher creates the Kafka job-event publisher when event
// publishing is enabled; a nil publisher disables it.
func ProvideEventPublisher(cfg *config.Config) (repository.EventPublisher, error) {
	if !cfg.Events.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Events.Brokers),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return ingest.NewKafkaEvents(producer, cfg.Events.Topic), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideProxyPool creates the health-scored proxy pool.
func ProvideProxyPool(cfg *config.Config, lgr *logger.Logger) (*proxy.Pool, error) {
	return proxy.New(proxy.Config{
		Endpoints:        cfg.Proxy.Endpoints,
		MaxInFlight:      cfg.Proxy.MaxInFlight,
		CheckoutTimeout:  cfg.Proxy.CheckoutTimeout,
		FailureThreshold: cfg.Proxy.FailureThreshold,
		SoftCooldown:     cfg.Proxy.SoftCooldown,
		SoftCooldownMax:  cfg.Proxy.SoftCooldownMax,
		BanCooldown:      cfg.Proxy.BanCooldown,
	}, lgr)
}

// ProvideRateController creates the per-scope request spacing controller.
func ProvideRateController(cfg *config.Config, lgr *logger.Logger) *ratelimit.Controller {
	return ratelimit.New(ratelimit.Config{
		Baseline:   cfg.Rate.BaselineInterval,
		Max:        cfg.Rate.MaxInterval,
		DecayAfter: cfg.Rate.DecayAfter,
	}, lgr)
}

// ProvideUpstreamClient creates the kline HTTP client.
func ProvideUpstreamClient(cfg *config.Config) *upstream.Client {
	return upstream.NewClient(upstream.ClientConfig{
		BaseURL:        cfg.Fetch.BaseURL,
		RequestTimeout: cfg.Fetch.RequestTimeout,
		Adjust:         models.Adjust(cfg.Fetch.Adjust),
		Classifier: upstream.ClassifierConfig{
			BanStatusCodes: cfg.Fetch.BanStatusCodes,
			BanBodyMarkers: cfg.Fetch.BanBodyMarkers,
		},
	})
}

// ProvideFetchExecutor creates the retry-with-rotation fetch executor.
func ProvideFetchExecutor(
	pool *proxy.Pool,
	rate *ratelimit.Controller,
	client *upstream.Client,
	cfg *config.Config,
	lgr *logger.Logger,
	m repository.Metrics,
) *fetch.Executor {
	return fetch.NewExecutor(pool, rate, client, fetch.Config{MaxRetries: cfg.Fetch.MaxRetries}, lgr, m)
}

// ProvideOrchestrator creates the job orchestrator.
func ProvideOrchestrator(
	ex *fetch.Executor,
	writer repository.IngestionWriter,
	events repository.EventPublisher,
	m repository.Metrics,
	lgr *logger.Logger,
	cfg *config.Config,
	pool *proxy.Pool,
) *job.Orchestrator {
	if capacity := pool.Size() * pool.MaxInFlight(); cfg.Job.Workers > capacity {
		lgr.Warn("workers exceed proxy capacity, some will idle on checkout",
			logger.Int("workers", cfg.Job.Workers),
			logger.Int("proxy_capacity", capacity))
	}
	return job.NewOrchestrator(ex, writer, events, m, lgr, job.Config{Workers: cfg.Job.Workers})
}

// ProvideUniverse creates the stock universe provider.
func ProvideUniverse(cfg *config.Config) universe.Provider {
	return universe.FromConfig(cfg.Universe.File, cfg.Universe.Codes)
}

// ProvideScheduler creates the daily trigger scheduler.
func ProvideScheduler(
	orch *job.Orchestrator,
	ledger repository.RunLedger,
	uni universe.Provider,
	cfg *config.Config,
	lgr *logger.Logger,
) (*scheduler.Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule timezone: %w", err)
	}
	return scheduler.New(orch, ledger, uni, scheduler.NewRealClock(), scheduler.Config{
		TriggerAt:     cfg.Schedule.TriggerAt,
		Location:      loc,
		Backfill:      cfg.Schedule.Backfill,
		BackfillGrace: cfg.Schedule.BackfillGrace,
	}, lgr)
}

// ProvideAPIHandler creates the Echo API handler.
func ProvideAPIHandler(lgr *logger.Logger, orch *job.Orchestrator, sched *scheduler.Scheduler, pool *proxy.Pool) *api.IngestEchoHandler {
	return api.NewIngestEchoHandler(lgr, orch, sched, pool)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	lgr *logger.Logger,
	sched *scheduler.Scheduler,
	handler *api.IngestEchoHandler,
	chClient *pkgch.Client,
	redisClient *redis.Client,
	events repository.EventPublisher,
) *server.App {
	return server.New(cfg, lgr, sched, handler, chClient, redisClient, events)
}
